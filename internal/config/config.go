package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/semmidev/dbkeeper/internal/domain"
)

const EnvPrefix = "DBKEEPER"

type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Database      DatabaseConfig     `mapstructure:"database"`
	Databases     []DatabaseConfig   `mapstructure:"databases"`
	Storage       StorageConfig      `mapstructure:"storage"`
	Backup        BackupConfig       `mapstructure:"backup"`
	Notifications NotificationConfig `mapstructure:"notifications"`
}

type AppConfig struct {
	LogLevel     string        `mapstructure:"log_level"`
	LogFile      string        `mapstructure:"log_file"`
	StepTimeout  time.Duration `mapstructure:"step_timeout"`
	ScheduleFile string        `mapstructure:"schedule_file"`
}

// DatabaseConfig describes one database. The top-level database section
// supplies flag defaults; entries under databases are backed up by serve on
// their own schedule.
type DatabaseConfig struct {
	Name         string `mapstructure:"name"`
	Type         string `mapstructure:"type"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	AuthDatabase string `mapstructure:"auth_database"`
	Enabled      bool   `mapstructure:"enabled"`
	Schedule     string `mapstructure:"schedule"`
	BackupType   string `mapstructure:"backup_type"`
}

type StorageConfig struct {
	Type            string `mapstructure:"type"`
	LocalPath       string `mapstructure:"local_path"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKey       string `mapstructure:"access_key"`
	SecretKey       string `mapstructure:"secret_key"`
	ProjectID       string `mapstructure:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
	TokenFile       string `mapstructure:"token_file"`
	FolderID        string `mapstructure:"folder_id"`
}

type BackupConfig struct {
	OutputDir        string `mapstructure:"output_dir"`
	Compress         bool   `mapstructure:"compress"`
	CompressionLevel int    `mapstructure:"compression_level"`
	RetentionDays    int    `mapstructure:"retention_days"`
}

type NotificationConfig struct {
	SlackWebhookURL string         `mapstructure:"slack_webhook_url"`
	Telegram        TelegramConfig `mapstructure:"telegram"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
	SendFile bool   `mapstructure:"send_file"`
}

// DefaultPath is ~/.dbkeeper.yaml, or the working directory when no home
// directory is known.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".dbkeeper.yaml"
	}
	return filepath.Join(home, ".dbkeeper.yaml")
}

func defaultScheduleFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".dbkeeper", "schedules.yaml")
	}
	return filepath.Join(home, ".dbkeeper", "schedules.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_file", "")
	v.SetDefault("app.step_timeout", 2*time.Hour)
	v.SetDefault("app.schedule_file", defaultScheduleFile())

	v.SetDefault("database.type", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 0)
	v.SetDefault("database.username", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "")
	v.SetDefault("database.auth_database", "")

	v.SetDefault("storage.type", string(domain.BackendLocal))
	v.SetDefault("storage.local_path", "")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", domain.DefaultPrefix)
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.project_id", "")
	v.SetDefault("storage.credentials_file", "")
	v.SetDefault("storage.token_file", "")
	v.SetDefault("storage.folder_id", "")

	v.SetDefault("backup.output_dir", "./backups")
	v.SetDefault("backup.compress", true)
	v.SetDefault("backup.compression_level", 9)
	v.SetDefault("backup.retention_days", 7)

	v.SetDefault("notifications.slack_webhook_url", "")
	v.SetDefault("notifications.telegram.bot_token", "")
	v.SetDefault("notifications.telegram.chat_id", 0)
	v.SetDefault("notifications.telegram.send_file", false)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load reads the settings file at path, falling back to DefaultPath. A missing
// default file is not an error; a missing explicit one is. Environment
// variables such as DBKEEPER_STORAGE_BUCKET override file values.
func Load(path string) (*Config, error) {
	v := newViper()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !(errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.App.LogLevel); err != nil {
		return fmt.Errorf("app.log_level: %w", err)
	}
	if c.App.StepTimeout < 0 {
		return fmt.Errorf("app.step_timeout must not be negative")
	}
	if _, err := domain.ParseBackend(c.Storage.Type); err != nil {
		return fmt.Errorf("storage.type: %w", err)
	}
	if c.Database.Type != "" {
		if _, err := domain.ParseEngine(c.Database.Type); err != nil {
			return fmt.Errorf("database.type: %w", err)
		}
	}
	if c.Backup.CompressionLevel < -2 || c.Backup.CompressionLevel > 9 {
		return fmt.Errorf("backup.compression_level must be between -2 and 9")
	}
	if c.Backup.RetentionDays < 0 {
		return fmt.Errorf("backup.retention_days must not be negative")
	}

	for i, db := range c.Databases {
		if db.Name == "" {
			return fmt.Errorf("databases[%d]: name is required", i)
		}
		if _, err := domain.ParseEngine(db.Type); err != nil {
			return fmt.Errorf("databases[%d]: %w", i, err)
		}
		if db.Database == "" {
			return fmt.Errorf("databases[%d]: database is required", i)
		}
		if db.Enabled && db.Schedule == "" {
			return fmt.Errorf("databases[%d]: schedule is required when enabled", i)
		}
		if _, err := domain.ParseBackupKind(db.BackupType); err != nil {
			return fmt.Errorf("databases[%d]: %w", i, err)
		}
	}

	return nil
}

func (c *Config) GetEnabledDatabases() []DatabaseConfig {
	var enabled []DatabaseConfig
	for _, db := range c.Databases {
		if db.Enabled {
			enabled = append(enabled, db)
		}
	}
	return enabled
}

// Connection converts the entry into a connector configuration. The type
// must already have been validated.
func (d DatabaseConfig) Connection() domain.ConnectionConfig {
	engine, _ := domain.ParseEngine(d.Type)
	return domain.ConnectionConfig{
		Engine:       engine,
		Host:         d.Host,
		Port:         d.Port,
		User:         d.Username,
		Password:     d.Password,
		Database:     d.Database,
		AuthDatabase: d.AuthDatabase,
	}
}

// Storage returns the storage target. Local storage without its own
// local_path keeps artifacts next to the dumps in outputDir.
func (s StorageConfig) Storage(outputDir string) domain.StorageConfig {
	backend, _ := domain.ParseBackend(s.Type)
	basePath := s.LocalPath
	if backend == domain.BackendLocal && basePath == "" {
		basePath = outputDir
	}
	return domain.StorageConfig{
		Backend:         backend,
		Bucket:          s.Bucket,
		Prefix:          s.Prefix,
		Region:          s.Region,
		Endpoint:        s.Endpoint,
		Key:             s.AccessKey,
		Secret:          s.SecretKey,
		BasePath:        basePath,
		ProjectID:       s.ProjectID,
		CredentialsFile: s.CredentialsFile,
		TokenFile:       s.TokenFile,
		FolderID:        s.FolderID,
	}
}

// StorageTarget is the configured storage with the output directory fallback
// applied.
func (c *Config) StorageTarget() domain.StorageConfig {
	return c.Storage.Storage(c.Backup.OutputDir)
}

// Save writes the settings file through viper. The file holds credentials, so
// it is created with owner-only permissions.
func Save(path string, c *Config) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	for key, value := range c.settings() {
		v.Set(key, value)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return os.Chmod(path, 0600)
}

func (c *Config) settings() map[string]interface{} {
	databases := make([]map[string]interface{}, 0, len(c.Databases))
	for _, db := range c.Databases {
		databases = append(databases, db.settings())
	}

	return map[string]interface{}{
		"app.log_level":     c.App.LogLevel,
		"app.log_file":      c.App.LogFile,
		"app.step_timeout":  c.App.StepTimeout.String(),
		"app.schedule_file": c.App.ScheduleFile,

		"database":  c.Database.settings(),
		"databases": databases,

		"storage.type":             c.Storage.Type,
		"storage.local_path":       c.Storage.LocalPath,
		"storage.bucket":           c.Storage.Bucket,
		"storage.prefix":           c.Storage.Prefix,
		"storage.region":           c.Storage.Region,
		"storage.endpoint":         c.Storage.Endpoint,
		"storage.access_key":       c.Storage.AccessKey,
		"storage.secret_key":       c.Storage.SecretKey,
		"storage.project_id":       c.Storage.ProjectID,
		"storage.credentials_file": c.Storage.CredentialsFile,
		"storage.token_file":       c.Storage.TokenFile,
		"storage.folder_id":        c.Storage.FolderID,

		"backup.output_dir":        c.Backup.OutputDir,
		"backup.compress":          c.Backup.Compress,
		"backup.compression_level": c.Backup.CompressionLevel,
		"backup.retention_days":    c.Backup.RetentionDays,

		"notifications.slack_webhook_url":  c.Notifications.SlackWebhookURL,
		"notifications.telegram.bot_token": c.Notifications.Telegram.BotToken,
		"notifications.telegram.chat_id":   c.Notifications.Telegram.ChatID,
		"notifications.telegram.send_file": c.Notifications.Telegram.SendFile,
	}
}

func (d DatabaseConfig) settings() map[string]interface{} {
	m := map[string]interface{}{
		"type":          d.Type,
		"host":          d.Host,
		"port":          d.Port,
		"username":      d.Username,
		"password":      d.Password,
		"database":      d.Database,
		"auth_database": d.AuthDatabase,
	}
	if d.Name != "" {
		m["name"] = d.Name
		m["enabled"] = d.Enabled
		m["schedule"] = d.Schedule
		m["backup_type"] = d.BackupType
	}
	return m
}
