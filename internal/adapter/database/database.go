// Package database holds the per-engine dump and connectivity adapters.
package database

import (
	"fmt"

	"github.com/semmidev/vigil/internal/domain"
)

var (
	_ domain.Database = (*MySQLDatabase)(nil)
	_ domain.Database = (*PostgreSQLDatabase)(nil)
	_ domain.Database = (*MongoDBDatabase)(nil)
)

// New is the default domain.DatabaseFactory.
func New(target domain.DatabaseTarget) (domain.Database, error) {
	switch target.Engine {
	case domain.EngineMySQL:
		return NewMySQL(target), nil
	case domain.EnginePostgreSQL:
		return NewPostgreSQL(target), nil
	case domain.EngineMongoDB:
		return NewMongoDB(target), nil
	default:
		return nil, fmt.Errorf("unsupported database engine %q for %s", target.Engine, target.Name)
	}
}
