// Package skills maps business concepts from user text onto physical
// columns or derived expressions. Resolution runs a strict priority ladder
// per concept: user clarifications, exact matches, semantic aliases and
// fuzzy matches, derived temporal synthesis, numeric-metric and aggregation
// heuristics.
package skills

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/querygate/querygate/pkg/models"
)

// Confidence scores per resolution step.
const (
	confClarification = 100
	confExact         = 95
	confDerived       = 95
	confAlias         = 85
	confPartial       = 75
	confFuzzy         = 70
	confNumericMetric = 80
	confAggregated    = 80
)

// clarificationFloor is the minimum overall confidence that proceeds without
// asking the user for more detail.
const clarificationFloor = 65

var conceptStopwords = map[string]bool{
	"show": true, "list": true, "give": true, "get": true, "find": true,
	"the": true, "a": true, "an": true, "of": true, "in": true, "on": true,
	"for": true, "from": true, "with": true, "and": true, "or": true,
	"by": true, "per": true, "each": true, "all": true, "me": true,
	"what": true, "which": true, "how": true, "many": true, "much": true,
	"is": true, "are": true, "was": true, "were": true, "top": true,
	"highest": true, "lowest": true, "last": true, "first": true,
	"between": true, "since": true, "use": true, "as": true, "calculate": true,
	"please": true, "report": true, "data": true,
}

var wordPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// Engine resolves concepts against a schema snapshot.
type Engine struct{}

// NewEngine builds a skills engine. Stateless and safe for concurrent use.
func NewEngine() *Engine { return &Engine{} }

// Resolve maps the concepts in the user text onto schema artifacts for the
// given backend dialect. If the mapping is too uncertain it returns a
// structured clarification instead.
func (e *Engine) Resolve(text string, intent models.Intent, snapshot *models.SchemaSnapshot) *models.SkillsOutput {
	out := &models.SkillsOutput{ImplicitOps: inferImplicitOps(text)}
	if snapshot == nil || len(snapshot.Tables) == 0 {
		out.Clarification = &models.Clarification{
			Message: "No schema metadata is available for this connection yet; please refresh the schema and retry.",
		}
		return out
	}

	mentioned := mentionedTables(text, snapshot)
	clarified := parseClarifications(text)
	concepts := extractConcepts(text, snapshot)

	var unmapped []string
	for _, concept := range concepts {
		mapping := e.resolveConcept(concept, text, snapshot, mentioned, clarified)
		out.Mappings = append(out.Mappings, mapping)
		if mapping.Kind == models.MappingNotFound {
			unmapped = append(unmapped, concept)
		}
	}

	out.OverallConfidence = overallConfidence(out.Mappings)

	needsClarification := out.OverallConfidence < clarificationFloor
	for _, concept := range unmapped {
		if !derivableConcepts[strings.ToLower(concept)] {
			needsClarification = true
		}
	}
	if needsClarification {
		out.Clarification = buildClarification(unmapped, mentioned, snapshot)
		return out
	}

	out.OK = true
	return out
}

// resolveConcept runs the priority ladder for one concept.
func (e *Engine) resolveConcept(concept, text string, snapshot *models.SchemaSnapshot, mentioned []string, clarified []models.ColumnMapping) models.ColumnMapping {
	lower := strings.ToLower(concept)

	// 1. User clarifications win outright.
	for _, c := range clarified {
		if c.Concept == lower {
			return c
		}
	}

	searchTables := mentioned
	if len(searchTables) == 0 {
		searchTables = snapshot.TableNames()
	}

	// 2. Exact column match, then partial substring match.
	for _, tname := range searchTables {
		table, ok := snapshot.Table(tname)
		if !ok {
			continue
		}
		if col, ok := table.Column(concept); ok {
			return physicalMapping(lower, tname, col, confExact, "exact column match")
		}
	}
	for _, tname := range searchTables {
		table, ok := snapshot.Table(tname)
		if !ok {
			continue
		}
		for _, col := range table.Columns {
			if strings.Contains(strings.ToLower(col.Name), lower) || strings.Contains(lower, strings.ToLower(col.Name)) {
				return physicalMapping(lower, tname, col, confPartial, "partial name match")
			}
		}
	}

	// 3. Semantic alias, then fuzzy similarity.
	for _, tname := range searchTables {
		table, _ := snapshot.Table(tname)
		if table == nil {
			continue
		}
		for _, col := range table.Columns {
			if aliasMatch(lower, col.Name) {
				return physicalMapping(lower, tname, col, confAlias, "semantic alias match")
			}
		}
	}
	for _, tname := range searchTables {
		table, _ := snapshot.Table(tname)
		if table == nil {
			continue
		}
		for _, col := range table.Columns {
			if ratio := similarityRatio(lower, col.Name); ratio >= similarityThreshold {
				return physicalMapping(lower, tname, col, confFuzzy,
					fmt.Sprintf("fuzzy match (similarity %.2f)", ratio))
			}
		}
	}

	// 4. Derived temporal synthesis from the best date column.
	if temporalParts[lower] {
		for _, tname := range searchTables {
			table, _ := snapshot.Table(tname)
			if table == nil {
				continue
			}
			if col, ok := bestDateColumn(table); ok {
				return models.ColumnMapping{
					Concept:    lower,
					Kind:       models.MappingDerived,
					Expression: derivedTemporalExpr(snapshot.DatabaseKind, table.Name, col, lower),
					Table:      table.Name,
					Confidence: confDerived,
					Note:       fmt.Sprintf("derived %s from %s.%s", lower, table.Name, col.Name),
				}
			}
		}
	}

	// 5. Numeric-metric heuristic: a concept appearing in a numeric
	// column's name maps to that column.
	for _, tname := range searchTables {
		table, _ := snapshot.Table(tname)
		if table == nil {
			continue
		}
		for _, col := range table.Columns {
			if isNumericType(col.Type) && strings.Contains(strings.ToLower(col.Name), lower) {
				return physicalMapping(lower, tname, col, confNumericMetric, "numeric metric heuristic")
			}
		}
	}

	// 6. Aggregation heuristic: aggregation verbs map onto the best-fit
	// numeric column as an aggregated expression.
	if fn, ok := aggregationVerbs[lower]; ok {
		if tname, col, ok := bestNumericColumn(snapshot, searchTables); ok {
			return models.ColumnMapping{
				Concept:    lower,
				Kind:       models.MappingAggregated,
				Expression: fmt.Sprintf("%s(%s.%s)", fn, tname, col.Name),
				Table:      tname,
				Confidence: confAggregated,
				Note:       "aggregation heuristic",
			}
		}
	}

	return models.ColumnMapping{Concept: lower, Kind: models.MappingNotFound}
}

func physicalMapping(concept, table string, col models.Column, confidence int, note string) models.ColumnMapping {
	return models.ColumnMapping{
		Concept:    concept,
		Kind:       models.MappingPhysical,
		Expression: col.Name,
		Table:      table,
		Confidence: confidence,
		Note:       note,
	}
}

// overallConfidence averages mapped concepts, then applies the penalties:
// 50 points when mappings span two or more tables, 20 per unmapped concept,
// 10 per mapping below 80.
func overallConfidence(mappings []models.ColumnMapping) int {
	if len(mappings) == 0 {
		return 0
	}
	sum, mapped := 0, 0
	tables := map[string]bool{}
	penalty := 0
	for _, m := range mappings {
		if m.Kind == models.MappingNotFound {
			penalty += 20
			continue
		}
		sum += m.Confidence
		mapped++
		if m.Table != "" {
			tables[strings.ToLower(m.Table)] = true
		}
		if m.Confidence < 80 {
			penalty += 10
		}
	}
	if mapped == 0 {
		return 0
	}
	confidence := sum / mapped
	if len(tables) >= 2 {
		penalty += 50
	}
	confidence -= penalty
	if confidence < 0 {
		confidence = 0
	}
	return confidence
}

// buildClarification names the unmapped concepts and lists the primary
// referenced table's columns so the user can answer precisely.
func buildClarification(unmapped, mentioned []string, snapshot *models.SchemaSnapshot) *models.Clarification {
	c := &models.Clarification{UnmappedConcepts: unmapped}

	tables := mentioned
	if len(tables) == 0 {
		tables = snapshot.TableNames()
		if len(tables) > 3 {
			tables = tables[:3]
		}
	}
	c.ReferencedTables = tables

	var b strings.Builder
	if len(unmapped) > 0 {
		fmt.Fprintf(&b, "I couldn't map these concepts to your data: %s.", strings.Join(unmapped, ", "))
	} else {
		b.WriteString("I'm not confident about how your question maps to the data.")
	}
	if len(tables) > 0 {
		if t, ok := snapshot.Table(tables[0]); ok {
			names := make([]string, 0, len(t.Columns))
			for _, col := range t.Columns {
				names = append(names, col.Name)
			}
			fmt.Fprintf(&b, " Available columns in %s: %s.", t.Name, strings.Join(names, ", "))
		}
	}
	b.WriteString(" Please point me at the right column, e.g. \"use SALES_AMT as revenue\".")
	c.Message = b.String()
	return c
}

// extractConcepts tokenizes user text into candidate business concepts:
// identifier-shaped words that are neither stopwords nor table names.
func extractConcepts(text string, snapshot *models.SchemaSnapshot) []string {
	var concepts []string
	seen := map[string]bool{}
	for _, word := range wordPattern.FindAllString(text, -1) {
		lower := strings.ToLower(word)
		if len(lower) < 3 && !temporalParts[lower] {
			continue
		}
		if conceptStopwords[lower] || seen[lower] {
			continue
		}
		if _, isTable := snapshot.Table(lower); isTable {
			continue
		}
		seen[lower] = true
		concepts = append(concepts, lower)
	}
	return concepts
}

// mentionedTables returns schema tables named in the text, sorted.
func mentionedTables(text string, snapshot *models.SchemaSnapshot) []string {
	lower := strings.ToLower(text)
	var tables []string
	for _, name := range snapshot.TableNames() {
		singular := strings.TrimSuffix(strings.ToLower(name), "s")
		if strings.Contains(lower, strings.ToLower(name)) || (singular != "" && strings.Contains(lower, singular)) {
			tables = append(tables, name)
		}
	}
	sort.Strings(tables)
	return tables
}

func isNumericType(typ string) bool {
	upper := strings.ToUpper(typ)
	for _, prefix := range []string{"NUMBER", "NUMERIC", "DECIMAL", "INT", "BIGINT", "SMALLINT", "FLOAT", "DOUBLE", "REAL", "MONEY"} {
		if strings.HasPrefix(upper, prefix) {
			return true
		}
	}
	return false
}

// bestNumericColumn picks the first numeric column whose name suggests a
// measure, falling back to any numeric column.
func bestNumericColumn(snapshot *models.SchemaSnapshot, tables []string) (string, models.Column, bool) {
	measureHints := []string{"AMOUNT", "AMT", "TOTAL", "REVENUE", "SALES", "QTY", "PRICE", "VALUE", "COST"}
	for _, tname := range tables {
		table, _ := snapshot.Table(tname)
		if table == nil {
			continue
		}
		for _, col := range table.Columns {
			if !isNumericType(col.Type) {
				continue
			}
			upper := strings.ToUpper(col.Name)
			for _, hint := range measureHints {
				if strings.Contains(upper, hint) {
					return table.Name, col, true
				}
			}
		}
	}
	for _, tname := range tables {
		table, _ := snapshot.Table(tname)
		if table == nil {
			continue
		}
		for _, col := range table.Columns {
			if isNumericType(col.Type) {
				return table.Name, col, true
			}
		}
	}
	return "", models.Column{}, false
}
