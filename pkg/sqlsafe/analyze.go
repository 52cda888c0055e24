package sqlsafe

import (
	"regexp"
	"strings"

	"github.com/querygate/querygate/pkg/models"
)

var (
	fromPattern  = regexp.MustCompile(`(?i)\bfrom\s+([A-Za-z_"][A-Za-z0-9_".]*)((?:\s*,\s*[A-Za-z_"][A-Za-z0-9_".]*)*)`)
	joinPattern  = regexp.MustCompile(`(?i)\b(?:inner\s+|left\s+(?:outer\s+)?|right\s+(?:outer\s+)?|full\s+(?:outer\s+)?|cross\s+)?join\s+([A-Za-z_"][A-Za-z0-9_".]*)`)
	joinSplitter = regexp.MustCompile(`(?i)\bjoin\b`)
)

// ClassifyQuery determines the statement class of a normalized SQL text.
func ClassifyQuery(sql string) models.QueryKind {
	head := strings.ToUpper(firstWord(StripLiteralsAndComments(sql)))
	switch head {
	case "SELECT", "WITH":
		return models.QuerySelect
	case "INSERT", "UPDATE", "DELETE", "MERGE":
		return models.QueryDML
	case "CREATE", "ALTER", "DROP", "TRUNCATE", "GRANT", "REVOKE", "COMMENT":
		return models.QueryDDL
	default:
		return models.QueryOther
	}
}

func firstWord(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// ReferencedTables extracts distinct table names from FROM and JOIN clauses.
// Heuristic keyword scan; a parser-based extraction is a known follow-up
// (see the cartesian guard below, which shares the limitation).
func ReferencedTables(sql string) []string {
	cleaned := StripLiteralsAndComments(sql)
	var tables []string
	seen := map[string]bool{}
	add := func(raw string) {
		name := strings.Trim(strings.TrimSpace(raw), `"`)
		if name == "" {
			return
		}
		// Strip schema qualifier for counting purposes.
		if i := strings.LastIndex(name, "."); i >= 0 {
			name = name[i+1:]
		}
		key := strings.ToUpper(name)
		if key == "" || seen[key] || IsKeyword(key) {
			return
		}
		seen[key] = true
		tables = append(tables, name)
	}
	for _, m := range fromPattern.FindAllStringSubmatch(cleaned, -1) {
		add(m[1])
		for _, extra := range strings.Split(m[2], ",") {
			add(extra)
		}
	}
	for _, m := range joinPattern.FindAllStringSubmatch(cleaned, -1) {
		add(m[1])
	}
	return tables
}

// CountJoins returns the number of JOIN keywords in the statement.
func CountJoins(sql string) int {
	n := len(joinSplitter.FindAllString(StripLiteralsAndComments(sql), -1))
	return n
}

// HasCartesianRisk reports whether any JOIN lacks an ON/USING predicate or a
// comma-join appears without WHERE linking. Keyword inspection, not an AST;
// over-reporting forces approval, which is the safe direction.
func HasCartesianRisk(sql string) bool {
	cleaned := StripLiteralsAndComments(sql)
	segments := joinSplitter.Split(cleaned, -1)
	for i := 1; i < len(segments); i++ {
		seg := segments[i]
		// A CROSS JOIN is cartesian by definition.
		if strings.HasSuffix(strings.ToUpper(strings.TrimSpace(segments[i-1])), "CROSS") {
			return true
		}
		// Look for ON/USING before the next clause boundary.
		upper := strings.ToUpper(seg)
		boundary := len(upper)
		for _, kw := range []string{" WHERE ", " GROUP ", " ORDER ", " HAVING ", " LIMIT ", " FETCH ", " UNION "} {
			if idx := strings.Index(upper, kw); idx >= 0 && idx < boundary {
				boundary = idx
			}
		}
		head := upper[:boundary]
		if !strings.Contains(head, " ON ") && !strings.Contains(head, " USING") {
			return true
		}
	}

	// Comma-join without WHERE linking.
	for _, m := range fromPattern.FindAllStringSubmatch(cleaned, -1) {
		if strings.TrimSpace(m[2]) != "" && !regexp.MustCompile(`(?i)\bwhere\b`).MatchString(cleaned) {
			return true
		}
	}
	return false
}
