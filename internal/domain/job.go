package domain

import "time"

type Engine string

const (
	EngineMySQL      Engine = "mysql"
	EnginePostgreSQL Engine = "postgresql"
	EngineMongoDB    Engine = "mongodb"
)

// DumpExtension is the file extension of a single database dump.
func (e Engine) DumpExtension() string {
	switch e {
	case EngineMySQL:
		return ".sql"
	case EnginePostgreSQL:
		return ".dump"
	case EngineMongoDB:
		return ".archive"
	default:
		return ".backup"
	}
}

// DatabaseTarget is a named connection profile.
type DatabaseTarget struct {
	Name     string
	Engine   Engine
	Host     string
	Port     int
	Username string
	Password string

	// PostgreSQL specific
	SSLMode string

	// MongoDB specific
	AuthDatabase string
}

// JobSpec is a configured backup unit over one target.
type JobSpec struct {
	Name      string
	Target    DatabaseTarget
	Databases []string
	Schedule  Schedule
	// Timeout bounds a single run. Zero means no limit.
	Timeout time.Duration
}
