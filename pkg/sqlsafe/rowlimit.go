package sqlsafe

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/querygate/querygate/pkg/models"
)

// HardRowCap bounds how many rows the executor ever returns to a client,
// independent of role limits. Role caps are applied to the SQL first; the
// hard cap truncates the materialized result set afterwards.
const HardRowCap = 1000

// ExistingLimit returns the explicit row bound already present in the SQL,
// or 0 when there is none.
func ExistingLimit(sql string) int {
	cleaned := StripLiteralsAndComments(sql)
	if m := limitClause.FindStringSubmatch(cleaned); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	if m := fetchClause.FindStringSubmatch(cleaned); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	if m := rownumPredicate.FindStringSubmatch(cleaned); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	return 0
}

// EnforceRowLimit rewrites a SELECT so it returns at most maxRows rows,
// using the dialect's limiting clause. maxRows <= 0 means unlimited and the
// SQL passes through untouched. An existing bound at or under the cap is
// kept; a larger one is tightened.
func EnforceRowLimit(sql string, kind models.DatabaseKind, maxRows int) (string, bool) {
	if maxRows <= 0 {
		return sql, false
	}
	if existing := ExistingLimit(sql); existing > 0 {
		if existing <= maxRows {
			return sql, false
		}
		if kind == models.DatabaseOracle {
			sql = fetchClause.ReplaceAllString(sql, fmt.Sprintf("FETCH FIRST %d ROWS ONLY", maxRows))
		} else {
			sql = limitClause.ReplaceAllString(sql, fmt.Sprintf("LIMIT %d", maxRows))
		}
		return sql, true
	}
	return appendRowLimit(sql, kind, maxRows), true
}

func appendRowLimit(sql string, kind models.DatabaseKind, maxRows int) string {
	trimmed := strings.TrimRight(strings.TrimSpace(sql), ";")
	if kind == models.DatabaseOracle {
		return fmt.Sprintf("%s FETCH FIRST %d ROWS ONLY", trimmed, maxRows)
	}
	return fmt.Sprintf("%s LIMIT %d", trimmed, maxRows)
}
