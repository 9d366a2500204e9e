package database

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/semmidev/dbkeeper/internal/domain"
)

type MySQLDatabase struct {
	session
	runner CommandRunner
}

func NewMySQL(runner CommandRunner, logger domain.Logger) *MySQLDatabase {
	return &MySQLDatabase{
		session: session{engine: domain.EngineMySQL, logger: logger},
		runner:  runner,
	}
}

func (m *MySQLDatabase) FileExtension() string {
	return "sql"
}

func (m *MySQLDatabase) Connect(_ context.Context, cfg domain.ConnectionConfig) error {
	return m.bind(cfg)
}

func (m *MySQLDatabase) Disconnect(_ context.Context) error {
	m.release()
	return nil
}

func (m *MySQLDatabase) TestConnection(ctx context.Context) error {
	cfg, err := m.config()
	if err != nil {
		return &domain.ConnectionError{Engine: m.engine, Err: err}
	}

	res, err := m.runner.Run(ctx, m.command(cfg, "mysql", "-e", "SELECT 1", cfg.Database))
	if err != nil {
		return &domain.ConnectionError{Engine: m.engine, Output: res.Output(), Err: err}
	}
	return nil
}

func (m *MySQLDatabase) Backup(ctx context.Context, outputPath string, kind domain.BackupKind) (string, error) {
	cfg, err := m.config()
	if err != nil {
		return "", &domain.BackupError{Engine: m.engine, Err: err}
	}
	m.effectiveKind(kind)

	if err := ensureParentDir(outputPath); err != nil {
		return "", &domain.BackupError{Engine: m.engine, Err: fmt.Errorf("failed to create output directory: %w", err)}
	}

	res, err := m.runner.Run(ctx, m.command(cfg, "mysqldump",
		"--single-transaction",
		"--quick",
		"--lock-tables=false",
		"--routines",
		"--triggers",
		"--events",
		"--add-drop-table",
		"--result-file="+outputPath,
		cfg.Database,
	))
	if err != nil {
		return "", &domain.BackupError{Engine: m.engine, Output: res.Output(), Err: err}
	}

	m.logger.Infof("MySQL backup written to %s", outputPath)
	return outputPath, nil
}

func (m *MySQLDatabase) Restore(ctx context.Context, inputPath string, tables []string) error {
	cfg, err := m.config()
	if err != nil {
		return &domain.RestoreError{Engine: m.engine, Err: err}
	}

	source := inputPath
	if len(tables) > 0 {
		filtered, err := m.filterDump(inputPath, tables)
		if err != nil {
			return err
		}
		defer os.Remove(filtered)
		source = filtered
	}

	f, err := os.Open(source)
	if err != nil {
		return &domain.RestoreError{Engine: m.engine, Err: err}
	}
	defer f.Close()

	cmd := m.command(cfg, "mysql", cfg.Database)
	cmd.Stdin = bufio.NewReader(f)

	res, err := m.runner.Run(ctx, cmd)
	if err != nil {
		if res.ExitCode > 0 && !hasMySQLError(res.Stderr) {
			m.logger.Warnf("mysql finished with warnings: %s", strings.TrimSpace(res.Stderr))
			return nil
		}
		return &domain.RestoreError{Engine: m.engine, Output: res.Output(), Err: err}
	}
	return nil
}

func (m *MySQLDatabase) filterDump(inputPath string, tables []string) (string, error) {
	content, err := os.ReadFile(inputPath)
	if err != nil {
		return "", &domain.RestoreError{Engine: m.engine, Err: err}
	}

	dump := parseDump(string(content))
	var missing []string
	for _, t := range tables {
		if !dump.hasTable(t) {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return "", &domain.RestoreError{
			Engine: m.engine,
			Err:    fmt.Errorf("tables not found in backup: %s", strings.Join(missing, ", ")),
		}
	}

	f, err := os.CreateTemp("", "dbkeeper-mysql-*.sql")
	if err != nil {
		return "", &domain.RestoreError{Engine: m.engine, Err: err}
	}
	defer f.Close()

	if _, err := f.WriteString(dump.only(tables)); err != nil {
		os.Remove(f.Name())
		return "", &domain.RestoreError{Engine: m.engine, Err: err}
	}
	return f.Name(), nil
}

func (m *MySQLDatabase) command(cfg domain.ConnectionConfig, name string, args ...string) Command {
	var conn []string
	if cfg.Host != "" {
		conn = append(conn, "--host="+cfg.Host)
	}
	if cfg.Port != 0 {
		conn = append(conn, "--port="+strconv.Itoa(cfg.Port))
	}
	if cfg.User != "" {
		conn = append(conn, "--user="+cfg.User)
	}

	cmd := Command{Name: name, Args: append(conn, args...)}
	if cfg.Password != "" {
		cmd.Env = []string{"MYSQL_PWD=" + cfg.Password}
	}
	return cmd
}

// hasMySQLError reports whether the client printed a statement failure.
// Lines like "mysql: [Warning] Using a password..." are not fatal.
func hasMySQLError(stderr string) bool {
	for _, line := range strings.Split(stderr, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "ERROR") {
			return true
		}
	}
	return false
}
