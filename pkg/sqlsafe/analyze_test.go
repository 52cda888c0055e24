package sqlsafe

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/querygate/querygate/pkg/models"
)

func TestClassifyQuery(t *testing.T) {
	tests := []struct {
		sql  string
		want models.QueryKind
	}{
		{"SELECT 1", models.QuerySelect},
		{"  select * from t", models.QuerySelect},
		{"WITH cte AS (SELECT 1) SELECT * FROM cte", models.QuerySelect},
		{"INSERT INTO t VALUES (1)", models.QueryDML},
		{"UPDATE t SET a = 1", models.QueryDML},
		{"DELETE FROM t", models.QueryDML},
		{"DROP TABLE t", models.QueryDDL},
		{"CREATE TABLE t (a int)", models.QueryDDL},
		{"EXPLAIN SELECT 1", models.QueryOther},
		{"", models.QueryOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyQuery(tt.sql), tt.sql)
	}
}

func TestReferencedTables(t *testing.T) {
	tables := ReferencedTables("SELECT * FROM orders o JOIN customers c ON o.customer_id = c.id")
	assert.ElementsMatch(t, []string{"orders", "customers"}, tables)
}

func TestReferencedTables_CommaList(t *testing.T) {
	tables := ReferencedTables("SELECT * FROM a, b, c WHERE a.id = b.id AND b.id = c.id")
	assert.ElementsMatch(t, []string{"a", "b", "c"}, tables)
}

func TestReferencedTables_SchemaQualifierStripped(t *testing.T) {
	tables := ReferencedTables("SELECT * FROM sales.orders")
	assert.Equal(t, []string{"orders"}, tables)
}

func TestReferencedTables_Deduplicates(t *testing.T) {
	tables := ReferencedTables("SELECT * FROM orders WHERE id IN (SELECT order_id FROM orders)")
	assert.Equal(t, []string{"orders"}, tables)
}

func TestCountJoins(t *testing.T) {
	assert.Equal(t, 0, CountJoins("SELECT * FROM t"))
	assert.Equal(t, 2, CountJoins("SELECT * FROM a JOIN b ON a.id=b.id LEFT JOIN c ON b.id=c.id"))
}

func TestHasCartesianRisk(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want bool
	}{
		{"join with on", "SELECT * FROM a JOIN b ON a.id = b.id", false},
		{"join with using", "SELECT * FROM a JOIN b USING (id)", false},
		{"join without predicate", "SELECT * FROM a JOIN b WHERE a.x = 1", true},
		{"cross join", "SELECT * FROM a CROSS JOIN b", true},
		{"comma join without where", "SELECT * FROM a, b", true},
		{"comma join with where", "SELECT * FROM a, b WHERE a.id = b.id", false},
		{"plain select", "SELECT * FROM a WHERE x = 1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasCartesianRisk(tt.sql))
		})
	}
}
