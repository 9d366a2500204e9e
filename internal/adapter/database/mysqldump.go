package database

import (
	"regexp"
	"strings"
)

// sqlDump is a mysqldump file split into statements, each attributed to the
// table it touches. Statements without a table (session settings, routines,
// delimiter changes) have an empty table.
type sqlDump struct {
	statements []dumpStatement
	tables     map[string]bool
}

type dumpStatement struct {
	text  string
	table string
}

const identPattern = "((?:`(?:[^`]|``)+`|\\w+)(?:\\.(?:`(?:[^`]|``)+`|\\w+))?)"

var (
	tableVerbs = []*regexp.Regexp{
		regexp.MustCompile(`(?is)^DROP\s+TABLE\s+(?:IF\s+EXISTS\s+)?` + identPattern),
		regexp.MustCompile(`(?is)^(?:INSERT|REPLACE)\s+(?:(?:LOW_PRIORITY|DELAYED|HIGH_PRIORITY|IGNORE)\s+)*INTO\s+` + identPattern),
		regexp.MustCompile(`(?is)^LOCK\s+TABLES\s+` + identPattern),
		regexp.MustCompile(`(?is)^ALTER\s+TABLE\s+` + identPattern),
		regexp.MustCompile(`(?is)^DROP\s+VIEW\s+(?:IF\s+EXISTS\s+)?` + identPattern),
	}
	createTable = regexp.MustCompile(`(?is)^CREATE\s+(?:TEMPORARY\s+)?TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?` + identPattern)
	createView  = regexp.MustCompile(`(?is)^CREATE\b[^;(]*?\bVIEW\s+` + identPattern)
	trigger     = regexp.MustCompile(`(?is)\bTRIGGER\s+` + identPattern + `\s+(?:BEFORE|AFTER)\s+(?:INSERT|UPDATE|DELETE)\s+ON\s+` + identPattern)
	unlock      = regexp.MustCompile(`(?is)^UNLOCK\s+TABLES\b`)
	versioned   = regexp.MustCompile(`^/\*!\d*\s*`)
)

func parseDump(content string) *sqlDump {
	d := &sqlDump{tables: map[string]bool{}}

	var locked string
	for _, text := range splitStatements(content) {
		st := dumpStatement{text: text}
		head := statementHead(text)

		switch {
		case createTable.MatchString(head):
			st.table = unquoteIdent(createTable.FindStringSubmatch(head)[1])
			d.tables[st.table] = true
		case trigger.MatchString(text):
			st.table = unquoteIdent(trigger.FindStringSubmatch(text)[2])
		case createView.MatchString(head):
			st.table = unquoteIdent(createView.FindStringSubmatch(head)[1])
			d.tables[st.table] = true
		case unlock.MatchString(head):
			st.table = locked
			locked = ""
		default:
			for _, re := range tableVerbs {
				if m := re.FindStringSubmatch(head); m != nil {
					st.table = unquoteIdent(m[1])
					break
				}
			}
			if strings.HasPrefix(strings.ToUpper(head), "LOCK") {
				locked = st.table
			}
		}
		d.statements = append(d.statements, st)
	}
	return d
}

func (d *sqlDump) hasTable(name string) bool {
	return d.tables[bareName(name)]
}

// only returns the dump text with statements of every other table removed.
func (d *sqlDump) only(tables []string) string {
	keep := map[string]bool{}
	for _, t := range tables {
		keep[bareName(t)] = true
	}

	var b strings.Builder
	for _, st := range d.statements {
		if st.table == "" || keep[st.table] {
			b.WriteString(st.text)
		}
	}
	return b.String()
}

// splitStatements cuts SQL text at statement delimiters that are outside
// quotes and comments. DELIMITER lines change the delimiter and become
// statements of their own. Concatenating the result yields the input.
func splitStatements(content string) []string {
	const (
		normal = iota
		singleQuote
		doubleQuote
		backtick
		lineComment
		blockComment
	)

	var out []string
	delim := ";"
	state := normal
	start := 0

	for i := 0; i < len(content); {
		c := content[i]
		switch state {
		case normal:
			lineStart := i == 0 || content[i-1] == '\n'
			switch {
			case lineStart && hasPrefixFold(content[i:], "DELIMITER "):
				end := strings.IndexByte(content[i:], '\n')
				if end < 0 {
					end = len(content) - i
				} else {
					end++
				}
				if d := strings.TrimSpace(content[i+len("DELIMITER ") : i+end]); d != "" {
					delim = d
				}
				i += end
				out = append(out, content[start:i])
				start = i
				continue
			case c == '\'':
				state = singleQuote
			case c == '"':
				state = doubleQuote
			case c == '`':
				state = backtick
			case c == '#':
				state = lineComment
			case strings.HasPrefix(content[i:], "--") && (i+2 == len(content) || isSpace(content[i+2])):
				state = lineComment
			case strings.HasPrefix(content[i:], "/*"):
				state = blockComment
				i += 2
				continue
			case strings.HasPrefix(content[i:], delim):
				i += len(delim)
				out = append(out, content[start:i])
				start = i
				continue
			}
		case singleQuote, doubleQuote:
			quote := byte('\'')
			if state == doubleQuote {
				quote = '"'
			}
			switch {
			case c == '\\':
				i += 2
				continue
			case c == quote && i+1 < len(content) && content[i+1] == quote:
				i += 2
				continue
			case c == quote:
				state = normal
			}
		case backtick:
			if c == '`' {
				if i+1 < len(content) && content[i+1] == '`' {
					i += 2
					continue
				}
				state = normal
			}
		case lineComment:
			if c == '\n' {
				state = normal
			}
		case blockComment:
			if strings.HasPrefix(content[i:], "*/") {
				state = normal
				i += 2
				continue
			}
		}
		i++
	}

	if start < len(content) {
		out = append(out, content[start:])
	}
	return out
}

// statementHead strips leading whitespace, plain comments and version
// comment markers so the statement verb comes first.
func statementHead(text string) string {
	s := text
	for {
		s = strings.TrimLeft(s, " \t\r\n")
		switch {
		case strings.HasPrefix(s, "--"), strings.HasPrefix(s, "#"):
			nl := strings.IndexByte(s, '\n')
			if nl < 0 {
				return ""
			}
			s = s[nl+1:]
		case versioned.MatchString(s):
			s = versioned.ReplaceAllString(s, "")
		case strings.HasPrefix(s, "/*"):
			end := strings.Index(s, "*/")
			if end < 0 {
				return ""
			}
			s = s[end+2:]
		default:
			return s
		}
	}
}

func unquoteIdent(ident string) string {
	parts := splitQualified(ident)
	name := parts[len(parts)-1]
	if strings.HasPrefix(name, "`") && strings.HasSuffix(name, "`") && len(name) >= 2 {
		name = strings.ReplaceAll(name[1:len(name)-1], "``", "`")
	}
	return name
}

func splitQualified(ident string) []string {
	var parts []string
	inQuote := false
	last := 0
	for i := 0; i < len(ident); i++ {
		switch ident[i] {
		case '`':
			inQuote = !inQuote
		case '.':
			if !inQuote {
				parts = append(parts, ident[last:i])
				last = i + 1
			}
		}
	}
	return append(parts, ident[last:])
}

func bareName(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
