package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/semmidev/vigil/internal/domain"
)

type MySQLDatabase struct {
	target domain.DatabaseTarget
}

func NewMySQL(target domain.DatabaseTarget) *MySQLDatabase {
	return &MySQLDatabase{target: target}
}

func (m *MySQLDatabase) dumpArgs(database, outputPath string) []string {
	return []string{
		fmt.Sprintf("--host=%s", m.target.Host),
		fmt.Sprintf("--port=%d", m.target.Port),
		fmt.Sprintf("--user=%s", m.target.Username),
		"--single-transaction",
		"--quick",
		"--lock-tables=false",
		"--routines",
		"--triggers",
		"--events",
		fmt.Sprintf("--result-file=%s", outputPath),
		database,
	}
}

func (m *MySQLDatabase) Dump(ctx context.Context, database, outputPath string) error {
	cmd := exec.CommandContext(ctx, "mysqldump", m.dumpArgs(database, outputPath)...)
	// MYSQL_PWD keeps the password out of the process list.
	cmd.Env = append(os.Environ(), "MYSQL_PWD="+m.target.Password)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("mysqldump failed: %w, output: %s", err, string(output))
	}
	return nil
}

func (m *MySQLDatabase) Name() string {
	return m.target.Name
}

func (m *MySQLDatabase) Engine() domain.Engine {
	return domain.EngineMySQL
}

func (m *MySQLDatabase) dsn() string {
	cfg := mysql.NewConfig()
	cfg.User = m.target.Username
	cfg.Passwd = m.target.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(m.target.Host, strconv.Itoa(m.target.Port))
	cfg.Timeout = 10 * time.Second
	return cfg.FormatDSN()
}

func (m *MySQLDatabase) Ping(ctx context.Context) error {
	db, err := sql.Open("mysql", m.dsn())
	if err != nil {
		return fmt.Errorf("mysql open failed: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("mysql ping failed: %w", err)
	}
	return nil
}
