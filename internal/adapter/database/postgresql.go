package database

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/semmidev/dbkeeper/internal/domain"
)

type PostgreSQLDatabase struct {
	session
	runner CommandRunner
}

func NewPostgreSQL(runner CommandRunner, logger domain.Logger) *PostgreSQLDatabase {
	return &PostgreSQLDatabase{
		session: session{engine: domain.EnginePostgres, logger: logger},
		runner:  runner,
	}
}

func (p *PostgreSQLDatabase) FileExtension() string {
	return "dump"
}

func (p *PostgreSQLDatabase) Connect(_ context.Context, cfg domain.ConnectionConfig) error {
	return p.bind(cfg)
}

func (p *PostgreSQLDatabase) Disconnect(_ context.Context) error {
	p.release()
	return nil
}

func (p *PostgreSQLDatabase) TestConnection(ctx context.Context) error {
	cfg, err := p.config()
	if err != nil {
		return &domain.ConnectionError{Engine: p.engine, Err: err}
	}

	res, err := p.runner.Run(ctx, p.command(cfg, "pg_isready", "--dbname="+cfg.Database))
	if err != nil {
		return &domain.ConnectionError{Engine: p.engine, Output: res.Output(), Err: err}
	}
	return nil
}

func (p *PostgreSQLDatabase) Backup(ctx context.Context, outputPath string, kind domain.BackupKind) (string, error) {
	cfg, err := p.config()
	if err != nil {
		return "", &domain.BackupError{Engine: p.engine, Err: err}
	}
	p.effectiveKind(kind)

	if err := ensureParentDir(outputPath); err != nil {
		return "", &domain.BackupError{Engine: p.engine, Err: fmt.Errorf("failed to create output directory: %w", err)}
	}

	res, err := p.runner.Run(ctx, p.command(cfg, "pg_dump",
		"--format=custom",
		"--no-password",
		"--file="+outputPath,
		cfg.Database,
	))
	if err != nil {
		return "", &domain.BackupError{Engine: p.engine, Output: res.Output(), Err: err}
	}

	p.logger.Infof("PostgreSQL backup written to %s", outputPath)
	return outputPath, nil
}

func (p *PostgreSQLDatabase) Restore(ctx context.Context, inputPath string, tables []string) error {
	cfg, err := p.config()
	if err != nil {
		return &domain.RestoreError{Engine: p.engine, Err: err}
	}

	args := []string{
		"--dbname=" + cfg.Database,
		"--no-owner",
		"--no-password",
		"--clean",
		"--if-exists",
	}

	if len(tables) > 0 {
		listFile, err := p.selectEntries(ctx, cfg, inputPath, tables)
		if err != nil {
			return err
		}
		defer os.Remove(listFile)
		args = append(args, "--use-list="+listFile)
	}
	args = append(args, inputPath)

	res, err := p.runner.Run(ctx, p.command(cfg, "pg_restore", args...))
	if err != nil {
		if res.ExitCode > 0 && !hasPostgresError(res.Stderr) {
			p.logger.Warnf("pg_restore finished with warnings: %s", strings.TrimSpace(res.Stderr))
			return nil
		}
		return &domain.RestoreError{Engine: p.engine, Output: res.Output(), Err: err}
	}
	return nil
}

// selectEntries writes a pg_restore list file that keeps only the requested
// tables and the entries hanging off them.
func (p *PostgreSQLDatabase) selectEntries(ctx context.Context, cfg domain.ConnectionConfig, inputPath string, tables []string) (string, error) {
	res, err := p.runner.Run(ctx, p.command(cfg, "pg_restore", "--list", inputPath))
	if err != nil {
		return "", &domain.RestoreError{Engine: p.engine, Output: res.Output(), Err: fmt.Errorf("failed to read archive contents: %w", err)}
	}

	toc := parseTOC(res.Stdout)
	selected, missing := toc.selectTables(tables)
	if len(missing) > 0 {
		return "", &domain.RestoreError{
			Engine: p.engine,
			Err:    fmt.Errorf("tables not found in backup: %s", strings.Join(missing, ", ")),
		}
	}

	f, err := os.CreateTemp("", "dbkeeper-toc-*.list")
	if err != nil {
		return "", &domain.RestoreError{Engine: p.engine, Err: err}
	}
	defer f.Close()

	for _, e := range selected {
		if _, err := fmt.Fprintln(f, e.line); err != nil {
			os.Remove(f.Name())
			return "", &domain.RestoreError{Engine: p.engine, Err: err}
		}
	}

	p.logger.Debugf("Selected %d archive entries for %d tables", len(selected), len(tables))
	return f.Name(), nil
}

func (p *PostgreSQLDatabase) command(cfg domain.ConnectionConfig, name string, args ...string) Command {
	var conn []string
	if cfg.Host != "" {
		conn = append(conn, "--host="+cfg.Host)
	}
	if cfg.Port != 0 {
		conn = append(conn, "--port="+strconv.Itoa(cfg.Port))
	}
	if cfg.User != "" {
		conn = append(conn, "--username="+cfg.User)
	}

	cmd := Command{Name: name, Args: append(conn, args...)}
	if cfg.Password != "" {
		cmd.Env = []string{"PGPASSWORD=" + cfg.Password}
	}
	return cmd
}

func hasPostgresError(stderr string) bool {
	for _, marker := range []string{"ERROR:", "FATAL:", "error:"} {
		if strings.Contains(stderr, marker) {
			return true
		}
	}
	return false
}

type tocEntry struct {
	line   string
	desc   string
	schema string
	tag    string
}

type tableOfContents []tocEntry

// parseTOC reads the output of pg_restore --list. Entry lines look like
// "215; 1259 16386 TABLE public users postgres".
func parseTOC(listing string) tableOfContents {
	var toc tableOfContents
	for _, line := range strings.Split(listing, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		semi := strings.Index(line, ";")
		if semi < 0 {
			continue
		}
		fields := strings.Fields(line[semi+1:])
		// tableoid, oid, description words, schema, tag words, owner
		if len(fields) < 5 {
			continue
		}
		rest := fields[2:]

		desc, n := matchDescription(rest)
		if n == 0 || len(rest) < n+2 {
			continue
		}
		entry := tocEntry{line: line, desc: desc, schema: rest[n]}
		tagWords := rest[n+1:]
		if len(tagWords) > 1 {
			tagWords = tagWords[:len(tagWords)-1]
		}
		entry.tag = strings.Join(tagWords, " ")
		toc = append(toc, entry)
	}
	return toc
}

var tocDescriptions = []string{
	"SEQUENCE OWNED BY",
	"MATERIALIZED VIEW DATA",
	"MATERIALIZED VIEW",
	"FK CONSTRAINT",
	"SEQUENCE SET",
	"TABLE DATA",
	"ROW SECURITY",
	"TABLE",
	"CONSTRAINT",
	"DEFAULT",
	"INDEX",
	"SEQUENCE",
	"TRIGGER",
	"POLICY",
	"COMMENT",
	"ACL",
}

func matchDescription(words []string) (string, int) {
	for _, d := range tocDescriptions {
		parts := strings.Fields(d)
		if len(words) < len(parts) {
			continue
		}
		ok := true
		for i, p := range parts {
			if words[i] != p {
				ok = false
				break
			}
		}
		if ok {
			return d, len(parts)
		}
	}
	if len(words) > 0 {
		return words[0], 1
	}
	return "", 0
}

func (t tocEntry) inSchema(schema string) bool {
	return schema == "" || t.schema == schema
}

// selectTables keeps table definitions and data plus constraints, defaults,
// triggers and owned sequences of the requested tables. Names may be bare or
// schema qualified.
func (toc tableOfContents) selectTables(tables []string) (tableOfContents, []string) {
	type ref struct{ schema, name string }

	var refs []ref
	var missing []string
	for _, t := range tables {
		r := ref{name: t}
		if i := strings.Index(t, "."); i > 0 {
			r = ref{schema: t[:i], name: t[i+1:]}
		}
		found := false
		for _, e := range toc {
			if e.desc == "TABLE" && e.tag == r.name && e.inSchema(r.schema) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, t)
			continue
		}
		refs = append(refs, r)
	}
	if len(missing) > 0 {
		return nil, missing
	}

	sequences := map[string]bool{}
	for _, e := range toc {
		if e.desc != "DEFAULT" {
			continue
		}
		for _, r := range refs {
			table, column, ok := strings.Cut(e.tag, " ")
			if ok && table == r.name && e.inSchema(r.schema) {
				sequences[table+"_"+column+"_seq"] = true
			}
		}
	}

	var selected tableOfContents
	for _, e := range toc {
		for _, r := range refs {
			if !e.inSchema(r.schema) {
				continue
			}
			if belongsTo(e, r.name, sequences) {
				selected = append(selected, e)
				break
			}
		}
	}
	return selected, nil
}

func belongsTo(e tocEntry, table string, sequences map[string]bool) bool {
	switch e.desc {
	case "TABLE", "TABLE DATA":
		return e.tag == table
	case "CONSTRAINT", "FK CONSTRAINT", "DEFAULT", "TRIGGER", "POLICY", "ROW SECURITY":
		return e.tag == table || strings.HasPrefix(e.tag, table+" ")
	case "SEQUENCE", "SEQUENCE SET", "SEQUENCE OWNED BY":
		return sequences[e.tag]
	}
	return false
}
