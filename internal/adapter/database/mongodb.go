package database

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os/exec"
	"strconv"

	"github.com/semmidev/vigil/internal/domain"
)

type MongoDBDatabase struct {
	target domain.DatabaseTarget
}

func NewMongoDB(target domain.DatabaseTarget) *MongoDBDatabase {
	return &MongoDBDatabase{target: target}
}

func (m *MongoDBDatabase) uri(database string) string {
	u := url.URL{
		Scheme: "mongodb",
		Host:   net.JoinHostPort(m.target.Host, strconv.Itoa(m.target.Port)),
		Path:   "/" + database,
	}
	if m.target.Username != "" {
		u.User = url.UserPassword(m.target.Username, m.target.Password)
	}
	if m.target.AuthDatabase != "" {
		u.RawQuery = url.Values{"authSource": {m.target.AuthDatabase}}.Encode()
	}
	return u.String()
}

func (m *MongoDBDatabase) Dump(ctx context.Context, database, outputPath string) error {
	args := []string{
		fmt.Sprintf("--uri=%s", m.uri(database)),
		fmt.Sprintf("--archive=%s", outputPath),
		"--gzip",
	}

	cmd := exec.CommandContext(ctx, "mongodump", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("mongodump failed: %w, output: %s", err, string(output))
	}
	return nil
}

func (m *MongoDBDatabase) Name() string {
	return m.target.Name
}

func (m *MongoDBDatabase) Engine() domain.Engine {
	return domain.EngineMongoDB
}

func (m *MongoDBDatabase) Ping(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "mongosh", m.uri("admin"), "--quiet", "--eval", "db.runCommand({ ping: 1 })")
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("mongodb ping failed: %w, output: %s", err, string(output))
	}
	return nil
}
