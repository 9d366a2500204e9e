package domain

import (
	"context"
	"strings"
)

type Engine string

const (
	EnginePostgres Engine = "postgres"
	EngineMySQL    Engine = "mysql"
	EngineMongoDB  Engine = "mongodb"
	EngineSQLite   Engine = "sqlite"
)

var engineAliases = map[string]Engine{
	"postgres":   EnginePostgres,
	"postgresql": EnginePostgres,
	"mysql":      EngineMySQL,
	"mongodb":    EngineMongoDB,
	"mongo":      EngineMongoDB,
	"sqlite":     EngineSQLite,
	"sqlite3":    EngineSQLite,
}

// ParseEngine maps a user supplied selector onto the closed set of engines.
func ParseEngine(s string) (Engine, error) {
	if e, ok := engineAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return e, nil
	}
	return "", &UnsupportedEngineError{Engine: s}
}

func Engines() []Engine {
	return []Engine{EnginePostgres, EngineMySQL, EngineMongoDB, EngineSQLite}
}

type BackupKind string

const (
	BackupFull         BackupKind = "full"
	BackupIncremental  BackupKind = "incremental"
	BackupDifferential BackupKind = "differential"
)

func ParseBackupKind(s string) (BackupKind, error) {
	switch k := BackupKind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return BackupFull, nil
	case BackupFull, BackupIncremental, BackupDifferential:
		return k, nil
	default:
		return "", &ValidationError{Field: "backup-type", Reason: "must be one of full, incremental, differential"}
	}
}

// ConnectionConfig identifies one database. For sqlite, Database is the file path.
type ConnectionConfig struct {
	Engine       Engine `yaml:"engine"`
	Host         string `yaml:"host,omitempty"`
	Port         int    `yaml:"port,omitempty"`
	User         string `yaml:"user,omitempty"`
	Password     string `yaml:"password,omitempty"`
	Database     string `yaml:"database"`
	AuthDatabase string `yaml:"auth_database,omitempty"`
}

// Target is the identity used for advisory locking.
func (c ConnectionConfig) Target() string {
	if c.Engine == EngineSQLite {
		return string(c.Engine) + "://" + c.Database
	}
	return strings.Join([]string{string(c.Engine), "://", c.Host, ":", itoa(c.Port), "/", c.Database}, "")
}

type Connector interface {
	Engine() Engine
	Connect(ctx context.Context, cfg ConnectionConfig) error
	TestConnection(ctx context.Context) error
	Backup(ctx context.Context, outputPath string, kind BackupKind) (string, error)
	Restore(ctx context.Context, inputPath string, tables []string) error
	Disconnect(ctx context.Context) error
	FileExtension() string
}
