package main

import (
	"github.com/spf13/pflag"

	"github.com/semmidev/dbkeeper/internal/config"
	"github.com/semmidev/dbkeeper/internal/domain"
)

// pick returns the flag value when it was set on the command line and the
// configured default otherwise.
func pick[T any](fs *pflag.FlagSet, name string, flag, fallback T) T {
	if fs.Changed(name) {
		return flag
	}
	return fallback
}

type connectionFlags struct {
	engine       string
	host         string
	port         int
	user         string
	password     string
	database     string
	authDatabase string
}

func (f *connectionFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.engine, "type", "t", "", "database type (postgres, mysql, mongodb, sqlite)")
	fs.StringVar(&f.host, "host", "", "database host")
	fs.IntVarP(&f.port, "port", "p", 0, "database port")
	fs.StringVarP(&f.user, "user", "u", "", "database user")
	fs.StringVar(&f.password, "password", "", "database password")
	fs.StringVarP(&f.database, "database", "d", "", "database name, or file path for sqlite")
	fs.StringVar(&f.authDatabase, "auth-database", "", "authentication database (mongodb)")
}

func (f *connectionFlags) merge(fs *pflag.FlagSet, d config.DatabaseConfig) config.DatabaseConfig {
	d.Type = pick(fs, "type", f.engine, d.Type)
	d.Host = pick(fs, "host", f.host, d.Host)
	d.Port = pick(fs, "port", f.port, d.Port)
	d.Username = pick(fs, "user", f.user, d.Username)
	d.Password = pick(fs, "password", f.password, d.Password)
	d.Database = pick(fs, "database", f.database, d.Database)
	d.AuthDatabase = pick(fs, "auth-database", f.authDatabase, d.AuthDatabase)
	return d
}

// resolve merges the flags over the configured defaults and validates the
// result before any connector is built.
func (f *connectionFlags) resolve(fs *pflag.FlagSet, defaults config.DatabaseConfig) (domain.ConnectionConfig, error) {
	d := f.merge(fs, defaults)
	if _, err := domain.ParseEngine(d.Type); err != nil {
		return domain.ConnectionConfig{}, err
	}
	if d.Database == "" {
		return domain.ConnectionConfig{}, &domain.ValidationError{Field: "database", Reason: "is required"}
	}
	return d.Connection(), nil
}

type storageFlags struct {
	backend     string
	localPath   string
	key         string
	secret      string
	bucket      string
	region      string
	endpoint    string
	prefix      string
	project     string
	credentials string
	token       string
	folder      string
}

func (f *storageFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.backend, "storage", "s", "", "storage backend (local, s3, gcs, azure, gdrive)")
	fs.StringVar(&f.localPath, "local-path", "", "base directory for local storage")
	fs.StringVar(&f.key, "cloud-key", "", "access key or account name")
	fs.StringVar(&f.secret, "cloud-secret", "", "secret key or account key")
	fs.StringVar(&f.bucket, "cloud-bucket", "", "bucket or container")
	fs.StringVar(&f.region, "cloud-region", "", "region")
	fs.StringVar(&f.endpoint, "cloud-endpoint", "", "custom endpoint")
	fs.StringVar(&f.prefix, "cloud-prefix", "", "object key prefix")
	fs.StringVar(&f.project, "cloud-project", "", "project id (gcs)")
	fs.StringVar(&f.credentials, "cloud-credentials", "", "credentials file (gcs, gdrive)")
	fs.StringVar(&f.token, "cloud-token", "", "OAuth token file (gdrive)")
	fs.StringVar(&f.folder, "cloud-folder", "", "folder id (gdrive)")
}

func (f *storageFlags) merge(fs *pflag.FlagSet, s config.StorageConfig) config.StorageConfig {
	s.Type = pick(fs, "storage", f.backend, s.Type)
	s.LocalPath = pick(fs, "local-path", f.localPath, s.LocalPath)
	s.AccessKey = pick(fs, "cloud-key", f.key, s.AccessKey)
	s.SecretKey = pick(fs, "cloud-secret", f.secret, s.SecretKey)
	s.Bucket = pick(fs, "cloud-bucket", f.bucket, s.Bucket)
	s.Region = pick(fs, "cloud-region", f.region, s.Region)
	s.Endpoint = pick(fs, "cloud-endpoint", f.endpoint, s.Endpoint)
	s.Prefix = pick(fs, "cloud-prefix", f.prefix, s.Prefix)
	s.ProjectID = pick(fs, "cloud-project", f.project, s.ProjectID)
	s.CredentialsFile = pick(fs, "cloud-credentials", f.credentials, s.CredentialsFile)
	s.TokenFile = pick(fs, "cloud-token", f.token, s.TokenFile)
	s.FolderID = pick(fs, "cloud-folder", f.folder, s.FolderID)
	return s
}

// resolve merges the storage flags over defaults. Local storage without a
// --local-path lands in outputDir.
func (f *storageFlags) resolve(fs *pflag.FlagSet, defaults config.StorageConfig, outputDir string) (domain.StorageConfig, error) {
	s := f.merge(fs, defaults)
	if _, err := domain.ParseBackend(s.Type); err != nil {
		return domain.StorageConfig{}, err
	}
	return s.Storage(outputDir), nil
}

type backupFlags struct {
	output   string
	kind     string
	compress bool
	notify   bool
}

func (f *backupFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.output, "output", "o", "", "local directory for the dump")
	fs.StringVarP(&f.kind, "backup-type", "b", "full", "backup type (full, incremental, differential)")
	fs.BoolVarP(&f.compress, "compress", "c", false, "gzip the dump")
	fs.BoolVarP(&f.notify, "notify", "n", false, "send a notification when done")
}

func (f *backupFlags) outputDir(fs *pflag.FlagSet, cfg *config.Config) string {
	return pick(fs, "output", f.output, cfg.Backup.OutputDir)
}

// request builds a backup request from the flags and the settings file.
func (f *backupFlags) request(fs *pflag.FlagSet, cfg *config.Config, conn domain.ConnectionConfig, store domain.StorageConfig) (domain.BackupRequest, error) {
	kind, err := domain.ParseBackupKind(f.kind)
	if err != nil {
		return domain.BackupRequest{}, err
	}
	return domain.BackupRequest{
		Connection: conn,
		Storage:    store,
		OutputDir:  f.outputDir(fs, cfg),
		Kind:       kind,
		Compress:   pick(fs, "compress", f.compress, cfg.Backup.Compress),
		Notify:     f.notify,
	}, nil
}
