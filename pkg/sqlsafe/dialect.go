package sqlsafe

import (
	"fmt"
	"regexp"

	"github.com/querygate/querygate/pkg/models"
)

var (
	limitClause     = regexp.MustCompile(`(?i)\blimit\s+(\d+)(\s+offset\s+\d+)?`)
	fetchClause     = regexp.MustCompile(`(?i)\bfetch\s+(?:first|next)\s+(\d+)\s+rows?\s+only`)
	rownumPredicate = regexp.MustCompile(`(?i)\brownum\s*<=?\s*(\d+)`)
	nvlCall         = regexp.MustCompile(`(?i)\bnvl\s*\(`)
	sysdateToken    = regexp.MustCompile(`(?i)\bsysdate\b`)
	ilikeToken      = regexp.MustCompile(`(?i)\bilike\b`)
	toCharQuarter   = regexp.MustCompile(`(?i)\bto_char\s*\(\s*([A-Za-z_][A-Za-z0-9_.]*)\s*,\s*'Q'\s*\)`)
	extractQuarter  = regexp.MustCompile(`(?i)\bextract\s*\(\s*quarter\s+from\s+([A-Za-z_][A-Za-z0-9_.]*)\s*\)`)
)

// ValidateDialect reports syntactic constructs in the SQL that do not belong
// to the target dialect. Empty result means the statement passes.
func ValidateDialect(sql string, kind models.DatabaseKind) []string {
	cleaned := StripLiteralsAndComments(sql)
	var issues []string
	switch kind {
	case models.DatabaseOracle:
		if limitClause.MatchString(cleaned) {
			issues = append(issues, "LIMIT is not valid Oracle syntax; use FETCH FIRST n ROWS ONLY")
		}
		if ilikeToken.MatchString(cleaned) {
			issues = append(issues, "ILIKE is not valid Oracle syntax")
		}
	case models.DatabasePostgres:
		if rownumPredicate.MatchString(cleaned) {
			issues = append(issues, "ROWNUM is not valid Postgres syntax")
		}
		if nvlCall.MatchString(cleaned) {
			issues = append(issues, "NVL is not a Postgres function; use COALESCE")
		}
		if sysdateToken.MatchString(cleaned) {
			issues = append(issues, "SYSDATE is not valid Postgres syntax; use NOW()")
		}
	case models.DatabaseDoris:
		if rownumPredicate.MatchString(cleaned) {
			issues = append(issues, "ROWNUM is not valid Doris syntax")
		}
		if fetchClause.MatchString(cleaned) {
			issues = append(issues, "FETCH FIRST is not valid Doris syntax; use LIMIT")
		}
		if ilikeToken.MatchString(cleaned) {
			issues = append(issues, "ILIKE is not valid Doris syntax")
		}
	}
	return issues
}

// ConvertDialect rewrites known cross-dialect constructs from one backend to
// another. Best-effort translation only; every substitution is reported as a
// warning and untranslatable constructs are left in place.
func ConvertDialect(sql string, from, to models.DatabaseKind) (string, []string) {
	if from == to {
		return sql, nil
	}
	var warnings []string
	note := func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	toOracle := to == models.DatabaseOracle
	fromOracle := from == models.DatabaseOracle

	if toOracle {
		if m := limitClause.FindStringSubmatch(sql); m != nil {
			sql = limitClause.ReplaceAllString(sql, "FETCH FIRST $1 ROWS ONLY")
			note("converted LIMIT %s to FETCH FIRST for Oracle", m[1])
		}
		if ilikeToken.MatchString(sql) {
			sql = ilikeToken.ReplaceAllString(sql, "LIKE")
			note("converted ILIKE to LIKE; Oracle matching is case-sensitive")
		}
		if extractQuarter.MatchString(sql) {
			sql = extractQuarter.ReplaceAllString(sql, "TO_CHAR($1, 'Q')")
			note("converted EXTRACT(QUARTER ...) to TO_CHAR(..., 'Q')")
		}
		sql = regexp.MustCompile(`(?i)\bnow\s*\(\s*\)`).ReplaceAllString(sql, "SYSDATE")
	}

	if fromOracle && !toOracle {
		if m := fetchClause.FindStringSubmatch(sql); m != nil {
			sql = fetchClause.ReplaceAllString(sql, "LIMIT $1")
			note("converted FETCH FIRST %s to LIMIT", m[1])
		}
		if m := rownumPredicate.FindStringSubmatch(sql); m != nil {
			sql = rownumPredicate.ReplaceAllString(sql, "1=1")
			sql = appendRowLimit(sql, to, mustAtoi(m[1]))
			note("converted ROWNUM predicate to LIMIT %s", m[1])
		}
		if nvlCall.MatchString(sql) {
			sql = nvlCall.ReplaceAllString(sql, "COALESCE(")
			note("converted NVL to COALESCE")
		}
		if sysdateToken.MatchString(sql) {
			sql = sysdateToken.ReplaceAllString(sql, "NOW()")
			note("converted SYSDATE to NOW()")
		}
		if toCharQuarter.MatchString(sql) {
			if to == models.DatabaseDoris {
				sql = toCharQuarter.ReplaceAllString(sql, "QUARTER($1)")
			} else {
				sql = toCharQuarter.ReplaceAllString(sql, "EXTRACT(QUARTER FROM $1)")
			}
			note("converted TO_CHAR(..., 'Q') to the target quarter function")
		}
	}

	if remaining := ValidateDialect(sql, to); len(remaining) > 0 {
		for _, issue := range remaining {
			note("unsupported after conversion: %s", issue)
		}
	}
	return sql, warnings
}

func mustAtoi(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}
