package database

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/semmidev/dbkeeper/internal/domain"
)

// mongoURIEnv carries the shell's connection string, password included.
const mongoURIEnv = "DBKEEPER_MONGO_URI"

type MongoDBDatabase struct {
	session
	runner CommandRunner
}

func NewMongoDB(runner CommandRunner, logger domain.Logger) *MongoDBDatabase {
	return &MongoDBDatabase{
		session: session{engine: domain.EngineMongoDB, logger: logger},
		runner:  runner,
	}
}

func (m *MongoDBDatabase) FileExtension() string {
	return "archive"
}

func (m *MongoDBDatabase) Connect(_ context.Context, cfg domain.ConnectionConfig) error {
	return m.bind(cfg)
}

func (m *MongoDBDatabase) Disconnect(_ context.Context) error {
	m.release()
	return nil
}

func (m *MongoDBDatabase) TestConnection(ctx context.Context) error {
	cfg, err := m.config()
	if err != nil {
		return &domain.ConnectionError{Engine: m.engine, Err: err}
	}

	u := mongoURL(cfg, true)
	if cfg.User != "" && cfg.Password != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}
	res, err := m.runner.Run(ctx, Command{
		Name: "mongosh",
		Args: []string{"--nodb", "--quiet", "--eval", "connect(process.env." + mongoURIEnv + ").runCommand({ ping: 1 }).ok"},
		Env:  []string{mongoURIEnv + "=" + u.String()},
	})
	if err != nil {
		return &domain.ConnectionError{Engine: m.engine, Output: res.Output(), Err: err}
	}

	out := strings.TrimSpace(res.Stdout)
	if out != "1" && !strings.Contains(out, "ok: 1") {
		return &domain.ConnectionError{Engine: m.engine, Output: res.Output(), Err: fmt.Errorf("unexpected ping reply")}
	}
	return nil
}

func (m *MongoDBDatabase) Backup(ctx context.Context, outputPath string, kind domain.BackupKind) (string, error) {
	cfg, err := m.config()
	if err != nil {
		return "", &domain.BackupError{Engine: m.engine, Err: err}
	}
	m.effectiveKind(kind)

	if err := ensureParentDir(outputPath); err != nil {
		return "", &domain.BackupError{Engine: m.engine, Err: fmt.Errorf("failed to create output directory: %w", err)}
	}

	toolConfig, cleanup, err := writeToolConfig(cfg)
	if err != nil {
		return "", &domain.BackupError{Engine: m.engine, Err: err}
	}
	defer cleanup()

	args := []string{
		"--uri=" + mongoURL(cfg, false).String(),
		"--db=" + cfg.Database,
		"--archive=" + outputPath,
		"--gzip",
	}
	if toolConfig != "" {
		args = append(args, "--config="+toolConfig)
	}
	res, err := m.runner.Run(ctx, Command{Name: "mongodump", Args: args})
	if err != nil {
		return "", &domain.BackupError{Engine: m.engine, Output: res.Output(), Err: err}
	}

	m.logger.Infof("MongoDB backup written to %s", outputPath)
	return outputPath, nil
}

func (m *MongoDBDatabase) Restore(ctx context.Context, inputPath string, collections []string) error {
	cfg, err := m.config()
	if err != nil {
		return &domain.RestoreError{Engine: m.engine, Err: err}
	}

	args := []string{
		"--uri=" + mongoURL(cfg, false).String(),
		"--archive=" + inputPath,
		"--drop",
	}
	if gzipped, err := isGzipFile(inputPath); err != nil {
		return &domain.RestoreError{Engine: m.engine, Err: err}
	} else if gzipped {
		args = append(args, "--gzip")
	}

	prelude, err := readArchivePrelude(inputPath)
	if err != nil {
		if len(collections) > 0 {
			return &domain.RestoreError{Engine: m.engine, Err: fmt.Errorf("failed to read archive catalogue: %w", err)}
		}
		m.logger.Warnf("Could not read archive catalogue, restoring as is: %v", err)
	}

	source := cfg.Database
	if prelude != nil {
		if dbs := prelude.databases(); len(dbs) == 1 {
			source = dbs[0]
		}
		if source != cfg.Database {
			args = append(args, "--nsFrom="+source+".*", "--nsTo="+cfg.Database+".*")
		}
	}

	if len(collections) > 0 {
		var missing []string
		for _, c := range collections {
			ns, ok := prelude.find(c, source)
			if !ok {
				missing = append(missing, c)
				continue
			}
			args = append(args, "--nsInclude="+ns.Database+"."+ns.Collection)
		}
		if len(missing) > 0 {
			return &domain.RestoreError{
				Engine: m.engine,
				Err:    fmt.Errorf("collections not found in backup: %s", strings.Join(missing, ", ")),
			}
		}
	}

	toolConfig, cleanup, err := writeToolConfig(cfg)
	if err != nil {
		return &domain.RestoreError{Engine: m.engine, Err: err}
	}
	defer cleanup()
	if toolConfig != "" {
		args = append(args, "--config="+toolConfig)
	}

	res, err := m.runner.Run(ctx, Command{Name: "mongorestore", Args: args})
	if err != nil {
		if res.ExitCode > 0 && !hasMongoError(res.Stderr) {
			m.logger.Warnf("mongorestore finished with warnings: %s", strings.TrimSpace(res.Stderr))
			return nil
		}
		return &domain.RestoreError{Engine: m.engine, Output: res.Output(), Err: err}
	}
	return nil
}

// mongoURL builds the connection string without the password. The database
// path is only set for the shell; the dump tools take the database as a flag.
func mongoURL(cfg domain.ConnectionConfig, withDB bool) *url.URL {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	if cfg.Port != 0 {
		host = net.JoinHostPort(host, strconv.Itoa(cfg.Port))
	}

	u := &url.URL{Scheme: "mongodb", Host: host, Path: "/"}
	if withDB {
		u.Path += cfg.Database
	}
	if cfg.User != "" {
		u.User = url.User(cfg.User)
	}
	if cfg.AuthDatabase != "" {
		u.RawQuery = url.Values{"authSource": {cfg.AuthDatabase}}.Encode()
	}
	return u
}

// writeToolConfig puts the password in an owner-only --config file for
// mongodump and mongorestore. It returns an empty path when there is no
// password.
func writeToolConfig(cfg domain.ConnectionConfig) (string, func(), error) {
	if cfg.Password == "" {
		return "", func() {}, nil
	}

	data, err := yaml.Marshal(map[string]string{"password": cfg.Password})
	if err != nil {
		return "", nil, err
	}
	f, err := os.CreateTemp("", "dbkeeper-mongo-*.yaml")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create tool config: %w", err)
	}
	cleanup := func() { os.Remove(f.Name()) }
	if _, err := f.Write(data); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("failed to write tool config: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return f.Name(), cleanup, nil
}

// hasMongoError looks at the message part of each log line, after the
// tab separated timestamp.
func hasMongoError(stderr string) bool {
	for _, line := range strings.Split(stderr, "\n") {
		msg := line
		if i := strings.LastIndex(line, "\t"); i >= 0 {
			msg = line[i+1:]
		}
		msg = strings.TrimSpace(msg)
		if strings.HasPrefix(msg, "Failed:") || strings.HasPrefix(strings.ToLower(msg), "error") {
			return true
		}
	}
	return false
}

func isGzipFile(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	sig, err := bufio.NewReader(f).Peek(2)
	if err != nil {
		return false, nil
	}
	return sig[0] == 0x1f && sig[1] == 0x8b, nil
}
