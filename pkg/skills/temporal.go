package skills

import (
	"fmt"
	"strings"

	"github.com/querygate/querygate/pkg/models"
)

// temporalParts are the concepts that can be derived from a date column when
// no physical column matches.
var temporalParts = map[string]bool{
	"day":     true,
	"month":   true,
	"quarter": true,
	"year":    true,
}

// derivableConcepts is the allowlist of unmapped concepts that do not force a
// clarification: temporal parts and aggregation words can always be
// synthesized.
var derivableConcepts = map[string]bool{
	"day": true, "month": true, "quarter": true, "year": true,
	"total": true, "sum": true, "average": true, "count": true,
	"max": true, "min": true, "maximum": true, "minimum": true,
}

// bestDateColumn picks the column to derive temporal parts from. Priority:
// explicitly named date columns, then the first column whose type begins
// with DATE or TIMESTAMP.
func bestDateColumn(table *models.TableSchema) (models.Column, bool) {
	for _, c := range table.Columns {
		upper := strings.ToUpper(c.Name)
		if strings.Contains(upper, "DATE") || upper == "DT" || strings.HasSuffix(upper, "_DT") || strings.HasSuffix(upper, "_AT") {
			return c, true
		}
	}
	for _, c := range table.Columns {
		typ := strings.ToUpper(c.Type)
		if strings.HasPrefix(typ, "DATE") || strings.HasPrefix(typ, "TIMESTAMP") {
			return c, true
		}
	}
	return models.Column{}, false
}

// derivedTemporalExpr synthesizes the dialect-specific date-part expression.
// The source column is always table-qualified.
func derivedTemporalExpr(kind models.DatabaseKind, table string, col models.Column, part string) string {
	qualified := table + "." + col.Name
	switch kind {
	case models.DatabaseOracle:
		fmtCode := map[string]string{"day": "DD", "month": "MM", "quarter": "Q", "year": "YYYY"}[part]
		return fmt.Sprintf("TO_CHAR(%s, '%s')", qualified, fmtCode)
	case models.DatabasePostgres:
		partName := map[string]string{"day": "DAY", "month": "MONTH", "quarter": "QUARTER", "year": "YEAR"}[part]
		return fmt.Sprintf("EXTRACT(%s FROM %s)", partName, qualified)
	case models.DatabaseDoris:
		fn := map[string]string{"day": "DAY", "month": "MONTH", "quarter": "QUARTER", "year": "YEAR"}[part]
		return fmt.Sprintf("%s(%s)", fn, qualified)
	default:
		return qualified
	}
}
