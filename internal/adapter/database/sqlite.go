package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/semmidev/dbkeeper/internal/domain"
)

// SQLiteDatabase works on the database file directly through the sqlite3
// driver, so no client binary is required.
type SQLiteDatabase struct {
	session

	dbMu sync.Mutex
	db   *sql.DB
}

func NewSQLite(logger domain.Logger) *SQLiteDatabase {
	return &SQLiteDatabase{session: session{engine: domain.EngineSQLite, logger: logger}}
}

func (s *SQLiteDatabase) FileExtension() string {
	return "db"
}

func (s *SQLiteDatabase) Connect(_ context.Context, cfg domain.ConnectionConfig) error {
	if _, err := os.Stat(cfg.Database); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &domain.NotFoundError{Path: cfg.Database}
		}
		return &domain.ConnectionError{Engine: s.engine, Err: err}
	}
	if err := s.bind(cfg); err != nil {
		return err
	}
	if _, err := s.handle(); err != nil {
		return &domain.ConnectionError{Engine: s.engine, Err: err}
	}
	return nil
}

func (s *SQLiteDatabase) Disconnect(_ context.Context) error {
	s.release()
	return s.closeHandle()
}

func (s *SQLiteDatabase) TestConnection(ctx context.Context) error {
	db, err := s.handle()
	if err != nil {
		return &domain.ConnectionError{Engine: s.engine, Err: err}
	}

	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return &domain.ConnectionError{Engine: s.engine, Err: err}
	}

	var status string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&status); err != nil {
		return &domain.ConnectionError{Engine: s.engine, Err: err}
	}
	if status != "ok" {
		return &domain.ConnectionError{Engine: s.engine, Output: status, Err: errors.New("integrity check failed")}
	}
	return nil
}

func (s *SQLiteDatabase) Backup(ctx context.Context, outputPath string, kind domain.BackupKind) (string, error) {
	db, err := s.handle()
	if err != nil {
		return "", &domain.BackupError{Engine: s.engine, Err: err}
	}
	s.effectiveKind(kind)

	if err := ensureParentDir(outputPath); err != nil {
		return "", &domain.BackupError{Engine: s.engine, Err: fmt.Errorf("failed to create output directory: %w", err)}
	}
	if _, err := os.Stat(outputPath); err == nil {
		return "", &domain.BackupError{Engine: s.engine, Err: fmt.Errorf("output file already exists: %s", outputPath)}
	}

	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", outputPath); err != nil {
		os.Remove(outputPath)
		return "", &domain.BackupError{Engine: s.engine, Err: err}
	}

	s.logger.Infof("SQLite backup written to %s", outputPath)
	return outputPath, nil
}

func (s *SQLiteDatabase) Restore(ctx context.Context, inputPath string, tables []string) error {
	cfg, err := s.config()
	if err != nil {
		return &domain.RestoreError{Engine: s.engine, Err: err}
	}
	if len(tables) == 0 {
		return s.restoreFile(cfg.Database, inputPath)
	}
	return s.restoreTables(ctx, cfg.Database, inputPath, tables)
}

// restoreFile swaps the database file for the backup. The copy is staged in
// the target directory so the final rename stays on one filesystem.
func (s *SQLiteDatabase) restoreFile(target, inputPath string) error {
	staged, err := copyToTemp(inputPath, filepath.Dir(target), filepath.Base(target)+".restore-*")
	if err != nil {
		return &domain.RestoreError{Engine: s.engine, Err: err}
	}

	if err := s.closeHandle(); err != nil {
		os.Remove(staged)
		return &domain.RestoreError{Engine: s.engine, Err: err}
	}
	for _, suffix := range []string{"-wal", "-shm", "-journal"} {
		os.Remove(target + suffix)
	}
	if err := os.Rename(staged, target); err != nil {
		os.Remove(staged)
		return &domain.RestoreError{Engine: s.engine, Err: err}
	}

	s.logger.Infof("SQLite database %s replaced from %s", target, inputPath)
	if _, err := s.handle(); err != nil {
		return &domain.RestoreError{Engine: s.engine, Err: err}
	}
	return nil
}

type tableDefinition struct {
	name   string
	create string
	extras []string
}

func (s *SQLiteDatabase) restoreTables(ctx context.Context, target, inputPath string, tables []string) error {
	db, err := s.handle()
	if err != nil {
		return &domain.RestoreError{Engine: s.engine, Err: err}
	}

	staged, err := copyToTemp(inputPath, filepath.Dir(target), filepath.Base(target)+".staging-*")
	if err != nil {
		return &domain.RestoreError{Engine: s.engine, Err: err}
	}
	defer os.Remove(staged)

	// ATTACH is per connection, so everything runs on one.
	conn, err := db.Conn(ctx)
	if err != nil {
		return &domain.RestoreError{Engine: s.engine, Err: err}
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "ATTACH DATABASE ? AS staging", staged); err != nil {
		return &domain.RestoreError{Engine: s.engine, Err: fmt.Errorf("failed to attach backup: %w", err)}
	}
	defer conn.ExecContext(context.Background(), "DETACH DATABASE staging")

	defs, missing, err := loadDefinitions(ctx, conn, tables)
	if err != nil {
		return &domain.RestoreError{Engine: s.engine, Err: err}
	}
	if len(missing) > 0 {
		return &domain.RestoreError{
			Engine: s.engine,
			Err:    fmt.Errorf("tables not found in backup: %s", strings.Join(missing, ", ")),
		}
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return &domain.RestoreError{Engine: s.engine, Err: err}
	}
	defer tx.Rollback()

	for _, def := range defs {
		name := quoteIdent(def.name)
		steps := []string{
			"DROP TABLE IF EXISTS main." + name,
			def.create,
			"INSERT INTO main." + name + " SELECT * FROM staging." + name,
		}
		steps = append(steps, def.extras...)

		for _, stmt := range steps {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return &domain.RestoreError{Engine: s.engine, Err: fmt.Errorf("table %s: %w", def.name, err)}
			}
		}
		s.logger.Debugf("Restored table %s", def.name)
	}

	if err := tx.Commit(); err != nil {
		return &domain.RestoreError{Engine: s.engine, Err: err}
	}
	s.logger.Infof("Restored %d tables into %s", len(defs), target)
	return nil
}

// loadDefinitions reads the CREATE statements of the requested tables and
// their indexes and triggers from the attached backup.
func loadDefinitions(ctx context.Context, conn *sql.Conn, tables []string) ([]tableDefinition, []string, error) {
	var defs []tableDefinition
	var missing []string
	seen := map[string]bool{}

	for _, t := range tables {
		if seen[t] {
			continue
		}
		seen[t] = true

		var create string
		err := conn.QueryRowContext(ctx,
			"SELECT sql FROM staging.sqlite_master WHERE type = 'table' AND name = ?", t).Scan(&create)
		if errors.Is(err, sql.ErrNoRows) {
			missing = append(missing, t)
			continue
		}
		if err != nil {
			return nil, nil, err
		}

		rows, err := conn.QueryContext(ctx,
			"SELECT sql FROM staging.sqlite_master WHERE type IN ('index', 'trigger') AND tbl_name = ? AND sql IS NOT NULL ORDER BY type, name", t)
		if err != nil {
			return nil, nil, err
		}
		def := tableDefinition{name: t, create: create}
		for rows.Next() {
			var stmt string
			if err := rows.Scan(&stmt); err != nil {
				rows.Close()
				return nil, nil, err
			}
			def.extras = append(def.extras, stmt)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, nil, err
		}
		defs = append(defs, def)
	}
	return defs, missing, nil
}

func (s *SQLiteDatabase) handle() (*sql.DB, error) {
	cfg, err := s.config()
	if err != nil {
		return nil, err
	}

	s.dbMu.Lock()
	defer s.dbMu.Unlock()
	if s.db != nil {
		return s.db, nil
	}

	db, err := sql.Open("sqlite3", "file:"+cfg.Database+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	s.db = db
	return db, nil
}

func (s *SQLiteDatabase) closeHandle() error {
	s.dbMu.Lock()
	defer s.dbMu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func copyToTemp(src, dir, pattern string) (path string, err error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(out.Name())
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return "", err
	}
	return out.Name(), nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
