package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"strconv"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver

	"github.com/semmidev/vigil/internal/domain"
)

type PostgreSQLDatabase struct {
	target domain.DatabaseTarget
}

func NewPostgreSQL(target domain.DatabaseTarget) *PostgreSQLDatabase {
	return &PostgreSQLDatabase{target: target}
}

func (p *PostgreSQLDatabase) dumpArgs(database, outputPath string) []string {
	return []string{
		fmt.Sprintf("--host=%s", p.target.Host),
		fmt.Sprintf("--port=%d", p.target.Port),
		fmt.Sprintf("--username=%s", p.target.Username),
		"--format=custom",
		"--compress=9",
		"--no-password",
		fmt.Sprintf("--file=%s", outputPath),
		database,
	}
}

func (p *PostgreSQLDatabase) Dump(ctx context.Context, database, outputPath string) error {
	cmd := exec.CommandContext(ctx, "pg_dump", p.dumpArgs(database, outputPath)...)
	cmd.Env = append(os.Environ(), fmt.Sprintf("PGPASSWORD=%s", p.target.Password))
	if p.target.SSLMode != "" {
		cmd.Env = append(cmd.Env, "PGSSLMODE="+p.target.SSLMode)
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("pg_dump failed: %w, output: %s", err, string(output))
	}
	return nil
}

func (p *PostgreSQLDatabase) Name() string {
	return p.target.Name
}

func (p *PostgreSQLDatabase) Engine() domain.Engine {
	return domain.EnginePostgreSQL
}

// dsn points at the maintenance database; Ping only checks the server.
func (p *PostgreSQLDatabase) dsn() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.target.Username, p.target.Password),
		Host:   net.JoinHostPort(p.target.Host, strconv.Itoa(p.target.Port)),
		Path:   "/postgres",
	}
	q := url.Values{}
	sslMode := p.target.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}
	q.Set("sslmode", sslMode)
	q.Set("connect_timeout", "10")
	u.RawQuery = q.Encode()
	return u.String()
}

func (p *PostgreSQLDatabase) Ping(ctx context.Context) error {
	db, err := sql.Open("pgx", p.dsn())
	if err != nil {
		return fmt.Errorf("postgresql open failed: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgresql ping failed: %w", err)
	}
	return nil
}
