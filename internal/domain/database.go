package domain

import "context"

// Database dumps databases of one target. Dump writes a single database to
// outputPath and blocks until the dump tool exits.
type Database interface {
	Dump(ctx context.Context, database, outputPath string) error
	Ping(ctx context.Context) error
	Name() string
	Engine() Engine
}

// DatabaseFactory builds the Database adapter for a target.
type DatabaseFactory func(target DatabaseTarget) (Database, error)
