package database

import (
	"github.com/semmidev/dbkeeper/internal/domain"
)

type constructor func(runner CommandRunner, logger domain.Logger) domain.Connector

var connectors = map[domain.Engine]constructor{
	domain.EnginePostgres: func(r CommandRunner, l domain.Logger) domain.Connector { return NewPostgreSQL(r, l) },
	domain.EngineMySQL:    func(r CommandRunner, l domain.Logger) domain.Connector { return NewMySQL(r, l) },
	domain.EngineMongoDB:  func(r CommandRunner, l domain.Logger) domain.Connector { return NewMongoDB(r, l) },
	domain.EngineSQLite:   func(_ CommandRunner, l domain.Logger) domain.Connector { return NewSQLite(l) },
}

// New returns a fresh connector for the engine. A nil runner uses os/exec.
func New(engine domain.Engine, runner CommandRunner, logger domain.Logger) (domain.Connector, error) {
	build, ok := connectors[engine]
	if !ok {
		return nil, &domain.UnsupportedEngineError{Engine: string(engine)}
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return build(runner, logger), nil
}
