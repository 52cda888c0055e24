package synth

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/querygate/querygate/pkg/models"
	"github.com/querygate/querygate/pkg/sqlsafe"
)

var (
	fencePattern      = regexp.MustCompile("(?s)```(?:sql)?\\s*(.*?)```")
	sqlLabelPattern   = regexp.MustCompile(`(?im)^\s*sql\s*:\s*`)
	sqlStartPattern   = regexp.MustCompile(`(?im)^\s*(select|with|insert|update|delete|--)`)
	confidencePattern = regexp.MustCompile(`(?im)^\s*--\s*confidence\s*:\s*(\d+)\s*%?\s*$`)
	errorMarker       = regexp.MustCompile(`(?im)^\s*--\s*ERROR\s*:\s*(.*)$`)
	quotedIdent       = regexp.MustCompile(`"[^"]+"`)
	stringLiteral     = regexp.MustCompile(`'(?:[^']|'')*'`)
	asAliasPattern    = regexp.MustCompile(`(?i)\bAS\s+("?[A-Za-z_][A-Za-z0-9_$#]*"?)`)
	tableAliasPattern = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+[A-Za-z_][A-Za-z0-9_$#.]*\s+(?:AS\s+)?([A-Za-z_][A-Za-z0-9_$#]*)`)
)

// stripProse removes code fences, leading labels, and any prose before the
// first SQL-looking line.
func stripProse(raw string) string {
	if m := fencePattern.FindStringSubmatch(raw); m != nil {
		raw = m[1]
	}
	raw = sqlLabelPattern.ReplaceAllString(raw, "")
	if loc := sqlStartPattern.FindStringIndex(raw); loc != nil {
		raw = raw[loc[0]:]
	}
	return strings.TrimSpace(raw)
}

// clarificationText returns the message of a "-- ERROR:" marker, if the
// model answered with one instead of SQL.
func clarificationText(sql string) (string, bool) {
	m := errorMarker.FindStringSubmatch(sql)
	if m == nil {
		return "", false
	}
	msg := strings.TrimSpace(m[1])
	for _, line := range strings.Split(sql, "\n")[1:] {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "--"))
		if line != "" {
			msg += " " + line
		}
	}
	return strings.TrimSpace(msg), true
}

// extractConfidence pulls the trailing "-- CONFIDENCE: N%" line out of the
// SQL. Absent markers default to 50.
func extractConfidence(sql string) (string, int) {
	confidence := 50
	if m := confidencePattern.FindStringSubmatch(sql); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			confidence = min(max(n, 0), 100)
		}
		sql = confidencePattern.ReplaceAllString(sql, "")
	}
	return strings.TrimSpace(sql), confidence
}

// normalizeIdentifiers rewrites schema identifiers in the SQL to their
// canonical casing, adding quotes where the schema requires them. Running it
// twice yields the same output.
func normalizeIdentifiers(sql string, snapshot *models.SchemaSnapshot) string {
	if snapshot == nil {
		return sql
	}
	canonical := map[string]string{}
	record := func(c models.Column) {
		name := c.Name
		if c.RequiresQuoting {
			name = `"` + name + `"`
		}
		canonical[strings.ToUpper(c.Name)] = name
	}
	for name, t := range snapshot.Tables {
		canonical[strings.ToUpper(name)] = t.Name
		for _, c := range t.Columns {
			record(c)
		}
	}
	for name, v := range snapshot.Views {
		canonical[strings.ToUpper(name)] = v.Name
		for _, c := range v.Columns {
			record(c)
		}
	}

	// Protect already-quoted identifiers and string literals, then rewrite
	// bare identifiers only.
	var quoted []string
	protected := quotedIdent.ReplaceAllStringFunc(sql, func(m string) string {
		quoted = append(quoted, m)
		return "\x00Q" + strconv.Itoa(len(quoted)-1) + "\x00"
	})
	var literals []string
	protected = stringLiteral.ReplaceAllStringFunc(protected, func(m string) string {
		literals = append(literals, m)
		return "\x00L" + strconv.Itoa(len(literals)-1) + "\x00"
	})

	identPattern := regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_$#]*`)
	protected = identPattern.ReplaceAllStringFunc(protected, func(tok string) string {
		if repl, ok := canonical[strings.ToUpper(tok)]; ok {
			return repl
		}
		return tok
	})

	for i, l := range literals {
		protected = strings.Replace(protected, "\x00L"+strconv.Itoa(i)+"\x00", l, 1)
	}
	for i, q := range quoted {
		protected = strings.Replace(protected, "\x00Q"+strconv.Itoa(i)+"\x00", q, 1)
	}
	return protected
}

// downcaseUnquoted lowers every bare identifier for Postgres's default
// lowercase folding. Keywords lower too, which Postgres accepts.
func downcaseUnquoted(sql string) string {
	var quoted []string
	protected := quotedIdent.ReplaceAllStringFunc(sql, func(m string) string {
		quoted = append(quoted, m)
		return "\x00Q" + strconv.Itoa(len(quoted)-1) + "\x00"
	})
	var literals []string
	protected = stringLiteral.ReplaceAllStringFunc(protected, func(m string) string {
		literals = append(literals, m)
		return "\x00L" + strconv.Itoa(len(literals)-1) + "\x00"
	})

	protected = strings.ToLower(protected)

	for i, l := range literals {
		protected = strings.Replace(protected, "\x00l"+strconv.Itoa(i)+"\x00", l, 1)
	}
	for i, q := range quoted {
		protected = strings.Replace(protected, "\x00q"+strconv.Itoa(i)+"\x00", q, 1)
	}
	return protected
}

// aliasNames collects the names the statement itself defines: "expr AS name"
// projections and bare table aliases after FROM/JOIN.
func aliasNames(sql string) map[string]bool {
	stripped := sqlsafe.StripLiteralsAndComments(sql)
	aliases := map[string]bool{}
	for _, m := range asAliasPattern.FindAllStringSubmatch(stripped, -1) {
		aliases[strings.ToUpper(strings.Trim(m[1], `"`))] = true
	}
	for _, m := range tableAliasPattern.FindAllStringSubmatch(stripped, -1) {
		if name := strings.ToUpper(m[1]); !sqlsafe.IsKeyword(name) {
			aliases[name] = true
		}
	}
	return aliases
}

// invalidIdentifiers returns every identifier in the SQL that is neither a
// keyword, an allowlisted function, a schema name, nor an alias the
// statement itself defines.
func invalidIdentifiers(sql string, snapshot *models.SchemaSnapshot) []string {
	aliases := aliasNames(sql)
	var invalid []string
	for _, ident := range sqlsafe.ExtractIdentifiers(sql) {
		if sqlsafe.IsKeyword(ident) || sqlsafe.IsAllowedFunction(ident) {
			continue
		}
		if snapshot != nil && snapshot.HasIdentifier(ident) {
			continue
		}
		if aliases[strings.ToUpper(ident)] {
			continue
		}
		invalid = append(invalid, ident)
	}
	return invalid
}
