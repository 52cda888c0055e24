// Package sqlsafe is the validator and safety net: injection scanning,
// structural and dialect checks, scope limits, row caps, RLS, cost gating,
// and the approval-gate decision.
package sqlsafe

import (
	"regexp"
	"strings"
)

// sqlKeywords is the reserved-word set recognized across the three dialects.
var sqlKeywords = map[string]bool{}

// allowedFunctions is the fixed function allowlist for identifier
// validation. Anything callable outside this set is treated as an unknown
// identifier.
var allowedFunctions = map[string]bool{}

func init() {
	for _, kw := range []string{
		"SELECT", "FROM", "WHERE", "GROUP", "BY", "ORDER", "HAVING", "LIMIT",
		"OFFSET", "FETCH", "FIRST", "NEXT", "ROWS", "ROW", "ONLY", "AS", "ON",
		"AND", "OR", "NOT", "IN", "IS", "NULL", "LIKE", "ILIKE", "BETWEEN",
		"EXISTS", "CASE", "WHEN", "THEN", "ELSE", "END", "JOIN", "INNER",
		"LEFT", "RIGHT", "FULL", "OUTER", "CROSS", "USING", "UNION", "ALL",
		"INTERSECT", "EXCEPT", "MINUS", "DISTINCT", "WITH", "RECURSIVE",
		"INSERT", "INTO", "VALUES", "UPDATE", "SET", "DELETE", "CREATE",
		"ALTER", "DROP", "TRUNCATE", "TABLE", "VIEW", "INDEX", "ASC", "DESC",
		"NULLS", "LAST", "OVER", "PARTITION", "RANGE", "PRECEDING",
		"FOLLOWING", "UNBOUNDED", "CURRENT", "INTERVAL", "DAY", "MONTH",
		"QUARTER", "YEAR", "HOUR", "MINUTE", "SECOND", "DATE", "TIMESTAMP",
		"TIME", "ZONE", "TRUE", "FALSE", "ROWNUM", "DUAL", "CAST", "ANY",
		"SOME", "GROUPING", "ROLLUP", "CUBE", "SETS", "LATERAL", "PIVOT",
		"UNPIVOT", "QUALIFY", "TOP",
	} {
		sqlKeywords[kw] = true
	}
	for _, fn := range []string{
		"SUM", "AVG", "COUNT", "MAX", "MIN", "COALESCE", "NULLIF", "NVL",
		"NVL2", "DECODE", "GREATEST", "LEAST", "ABS", "ROUND", "TRUNC",
		"FLOOR", "CEIL", "CEILING", "MOD", "POWER", "SQRT", "EXP", "LN",
		"LOG", "SIGN", "UPPER", "LOWER", "INITCAP", "TRIM", "LTRIM", "RTRIM",
		"LENGTH", "CHAR_LENGTH", "SUBSTR", "SUBSTRING", "REPLACE", "CONCAT",
		"LPAD", "RPAD", "INSTR", "POSITION", "TO_CHAR", "TO_DATE",
		"TO_NUMBER", "TO_TIMESTAMP", "EXTRACT", "DATE_TRUNC", "DATE_PART",
		"DATE_FORMAT", "DATE_ADD", "DATE_SUB", "DATEDIFF", "ADD_MONTHS",
		"MONTHS_BETWEEN", "LAST_DAY", "NOW", "CURRENT_DATE",
		"CURRENT_TIMESTAMP", "SYSDATE", "LOCALTIMESTAMP", "STDDEV",
		"VARIANCE", "MEDIAN", "PERCENTILE_CONT", "PERCENTILE_DISC",
		"ROW_NUMBER", "RANK", "DENSE_RANK", "NTILE", "LAG", "LEAD",
		"FIRST_VALUE", "LAST_VALUE", "LISTAGG", "STRING_AGG", "GROUP_CONCAT",
		"ARRAY_AGG", "CAST", "CONVERT", "IFNULL", "IF", "CASE",
	} {
		allowedFunctions[fn] = true
	}
}

// IsKeyword reports whether the upper-cased word is a SQL reserved word.
func IsKeyword(word string) bool { return sqlKeywords[strings.ToUpper(word)] }

// IsAllowedFunction reports whether the upper-cased word is in the function
// allowlist.
func IsAllowedFunction(word string) bool { return allowedFunctions[strings.ToUpper(word)] }

var (
	identifierPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_$#]*|"[^"]+"`)
	stringLiteral     = regexp.MustCompile(`'(?:[^']|'')*'`)
	lineComment       = regexp.MustCompile(`--[^\n]*`)
	blockComment      = regexp.MustCompile(`(?s)/\*.*?\*/`)
	numericLiteral    = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)
	bindPlaceholder   = regexp.MustCompile(`[:$]\d+|\?`)
)

// StripLiteralsAndComments blanks out string literals and comments so
// identifier extraction and pattern scans do not trip over quoted data.
func StripLiteralsAndComments(sql string) string {
	sql = blockComment.ReplaceAllString(sql, " ")
	sql = lineComment.ReplaceAllString(sql, " ")
	sql = stringLiteral.ReplaceAllString(sql, "''")
	return sql
}

// ExtractIdentifiers returns every identifier-shaped token in the SQL, in
// order, with duplicates removed. Quoted identifiers keep their inner
// spelling; quotes are stripped.
func ExtractIdentifiers(sql string) []string {
	cleaned := StripLiteralsAndComments(sql)
	cleaned = numericLiteral.ReplaceAllString(cleaned, " ")
	cleaned = bindPlaceholder.ReplaceAllString(cleaned, " ")

	var out []string
	seen := map[string]bool{}
	for _, tok := range identifierPattern.FindAllString(cleaned, -1) {
		name := tok
		if strings.HasPrefix(name, `"`) {
			name = strings.Trim(name, `"`)
		}
		key := strings.ToUpper(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, name)
	}
	return out
}

// SplitStatements splits on top-level semicolons, respecting string
// literals. Trailing empty statements are dropped.
func SplitStatements(sql string) []string {
	var (
		stmts   []string
		current strings.Builder
		inStr   bool
	)
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		switch {
		case ch == '\'':
			inStr = !inStr
			current.WriteByte(ch)
		case ch == ';' && !inStr:
			if s := strings.TrimSpace(current.String()); s != "" {
				stmts = append(stmts, s)
			}
			current.Reset()
		default:
			current.WriteByte(ch)
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		stmts = append(stmts, s)
	}
	return stmts
}
