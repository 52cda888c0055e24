package synth

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/querygate/querygate/pkg/models"
)

// promptTokenBudget bounds the composed prompt. Optional sections are
// dropped lowest-value-first until the prompt fits.
const promptTokenBudget = 12000

// PastQuery is one retrieved similar query from the history collaborator.
type PastQuery struct {
	Question string
	SQL      string
}

// HistoryProvider retrieves similar past successful queries. Optional.
type HistoryProvider interface {
	SimilarQueries(ctx context.Context, text string, kind models.DatabaseKind, limit int) ([]PastQuery, error)
}

// MetricDef is one canonical business-metric definition.
type MetricDef struct {
	Name       string
	Expression string
	Note       string
}

// MetricLibrary exposes the canonical business-metric definitions. Optional.
type MetricLibrary interface {
	Metrics(ctx context.Context, kind models.DatabaseKind) ([]MetricDef, error)
}

// promptInput gathers everything the prompt composer needs.
type promptInput struct {
	Text        string
	Dialect     models.DatabaseKind
	Skills      *models.SkillsOutput
	Snapshot    *models.SchemaSnapshot
	History     []PastQuery
	Metrics     []MetricDef
	MaxTables   int
	MaxJoins    int
	MaxRows     int
	RepairError string
	RepairSQL   string
}

// section is one ordered block of the prompt. Optional sections may be
// dropped under token pressure; required ones never are.
type section struct {
	text     string
	optional bool
}

// composePrompt builds the synthesis prompt in its fixed section order, then
// trims optional sections from the end until it fits the token budget.
func composePrompt(in promptInput) string {
	sections := []section{
		{text: dialectHeader(in.Dialect)},
		{text: mappingBlock(in.Skills)},
		{text: mentionedSchemas(in)},
		{text: schemaSummary(in.Snapshot), optional: true},
		{text: implicitHints(in.Skills)},
		{text: sampleBlock(in), optional: true},
		{text: relationshipBlock(in.Snapshot), optional: true},
		{text: derivedHintBlock(in.Snapshot), optional: true},
		{text: historyBlock(in.History), optional: true},
		{text: metricBlock(in.Metrics), optional: true},
		{text: scopeBlock(in)},
		{text: outputRules()},
	}
	if in.RepairError != "" {
		sections = append([]section{{text: repairBlock(in.RepairSQL, in.RepairError)}}, sections...)
	}

	assemble := func(secs []section) string {
		var b strings.Builder
		for _, s := range secs {
			if s.text == "" {
				continue
			}
			b.WriteString(s.text)
			b.WriteString("\n\n")
		}
		b.WriteString("User question: ")
		b.WriteString(in.Text)
		return b.String()
	}

	prompt := assemble(sections)
	for countTokens(prompt) > promptTokenBudget {
		dropped := false
		for i := len(sections) - 1; i >= 0; i-- {
			if sections[i].optional && sections[i].text != "" {
				sections[i].text = ""
				dropped = true
				break
			}
		}
		if !dropped {
			break
		}
		prompt = assemble(sections)
	}
	return prompt
}

// countTokens uses the cl100k encoding; falls back to a rough byte estimate
// if the encoding cannot be loaded.
func countTokens(text string) int {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

func dialectHeader(kind models.DatabaseKind) string {
	return fmt.Sprintf(
		"You are a SQL generator for a %s database. Emit %s syntax only. "+
			"Never emit constructs from any other SQL dialect.",
		kind, kind)
}

func mappingBlock(skills *models.SkillsOutput) string {
	if skills == nil || len(skills.Mappings) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Validated concept mappings (use these expressions verbatim):")
	for _, m := range skills.Mappings {
		if m.Kind == models.MappingNotFound {
			continue
		}
		fmt.Fprintf(&b, "\n- %q maps to %s", m.Concept, m.Expression)
		if m.Table != "" {
			fmt.Fprintf(&b, " (table %s)", m.Table)
		}
		if m.Note != "" {
			fmt.Fprintf(&b, " [%s]", m.Note)
		}
	}
	return b.String()
}

// mentionedSchemas emits the full schemas of explicitly referenced tables
// with the mandatory constraints section repeating exact names and quoting
// flags.
func mentionedSchemas(in promptInput) string {
	tables := referencedTables(in.Skills)
	if len(tables) == 0 || in.Snapshot == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("Referenced table schemas:")
	for _, name := range tables {
		t, ok := in.Snapshot.Table(name)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\nTABLE %s (", t.Name)
		for i, col := range t.Columns {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s %s", col.Name, col.Type)
		}
		b.WriteString(")")
	}
	b.WriteString("\n\nMANDATORY SCHEMA CONSTRAINTS. Use exactly these column names:")
	for _, name := range tables {
		t, ok := in.Snapshot.Table(name)
		if !ok {
			continue
		}
		for _, col := range t.Columns {
			fmt.Fprintf(&b, "\n- %s.%s", t.Name, col.Name)
			if col.RequiresQuoting {
				b.WriteString(" [REQUIRES QUOTES]")
			}
		}
	}
	return b.String()
}

func schemaSummary(snapshot *models.SchemaSnapshot) string {
	if snapshot == nil || len(snapshot.Tables) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Full schema reference (compact):")
	for _, name := range snapshot.TableNames() {
		t, _ := snapshot.Table(name)
		if t == nil {
			continue
		}
		names := make([]string, 0, len(t.Columns))
		for _, col := range t.Columns {
			names = append(names, col.Name)
		}
		fmt.Fprintf(&b, "\n%s: %s", t.Name, strings.Join(names, ", "))
	}
	return b.String()
}

func implicitHints(skills *models.SkillsOutput) string {
	if skills == nil {
		return ""
	}
	ops := skills.ImplicitOps
	var parts []string
	if len(ops.GroupByHints) > 0 {
		parts = append(parts, "group by "+strings.Join(ops.GroupByHints, ", "))
	}
	if len(ops.OrderByHints) > 0 {
		parts = append(parts, "order direction "+strings.Join(ops.OrderByHints, ", "))
	}
	if ops.LimitHint > 0 {
		parts = append(parts, fmt.Sprintf("limit to %d rows", ops.LimitHint))
	}
	if len(ops.AggregationHints) > 0 {
		parts = append(parts, "aggregate with "+strings.Join(ops.AggregationHints, ", "))
	}
	if len(parts) == 0 {
		return ""
	}
	return "Implied operations detected in the question: " + strings.Join(parts, "; ") + "."
}

func sampleBlock(in promptInput) string {
	if in.Snapshot == nil || len(in.Snapshot.Samples) == 0 {
		return ""
	}
	tables := referencedTables(in.Skills)
	var b strings.Builder
	for _, name := range tables {
		rows, ok := in.Snapshot.Samples[strings.ToUpper(name)]
		if !ok || len(rows) == 0 {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("Sample data (first rows):")
		}
		limit := min(len(rows), 2)
		for _, row := range rows[:limit] {
			fmt.Fprintf(&b, "\n%s: %s", name, strings.Join(row, " | "))
		}
	}
	return b.String()
}

func relationshipBlock(snapshot *models.SchemaSnapshot) string {
	if snapshot == nil || len(snapshot.Relations) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Table relationships (preferred join paths, best first):")
	for _, rel := range snapshot.Relations {
		fmt.Fprintf(&b, "\n- %s.%s = %s.%s", rel.FromTable, rel.FromColumn, rel.ToTable, rel.ToColumn)
	}
	return b.String()
}

func derivedHintBlock(snapshot *models.SchemaSnapshot) string {
	if snapshot == nil || len(snapshot.DerivedHints) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Derived-column hints:")
	for table, hints := range snapshot.DerivedHints {
		for _, h := range hints {
			fmt.Fprintf(&b, "\n- %s: %s = %s", table, h.Concept, h.Expression)
			if h.Note != "" {
				fmt.Fprintf(&b, " (%s)", h.Note)
			}
		}
	}
	return b.String()
}

func historyBlock(history []PastQuery) string {
	if len(history) == 0 {
		return ""
	}
	limit := min(len(history), 3)
	var b strings.Builder
	b.WriteString("Similar past queries that succeeded:")
	for _, h := range history[:limit] {
		fmt.Fprintf(&b, "\nQ: %s\nSQL: %s", h.Question, h.SQL)
	}
	return b.String()
}

func metricBlock(metrics []MetricDef) string {
	if len(metrics) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Canonical business metrics:")
	for _, m := range metrics {
		fmt.Fprintf(&b, "\n- %s = %s", m.Name, m.Expression)
		if m.Note != "" {
			fmt.Fprintf(&b, " (%s)", m.Note)
		}
	}
	return b.String()
}

func scopeBlock(in promptInput) string {
	return fmt.Sprintf(
		"Constraints: at most %d tables, %d joins. SELECT statements only.",
		in.MaxTables, in.MaxJoins)
}

func outputRules() string {
	return strings.Join([]string{
		"Output rules:",
		"- Return SQL only. No code fences, no explanations, no prose.",
		"- Add a final line: -- CONFIDENCE: N% (your confidence 0-100).",
		"- If the question cannot be answered from the schema, return only a",
		"  comment block starting with -- ERROR: describing what is missing.",
	}, "\n")
}

func repairBlock(sql, errMsg string) string {
	return fmt.Sprintf(
		"The previous attempt failed. Fix the statement.\nPrevious SQL:\n%s\nError:\n%s",
		sql, errMsg)
}

func referencedTables(skills *models.SkillsOutput) []string {
	if skills == nil {
		return nil
	}
	var tables []string
	seen := map[string]bool{}
	for _, m := range skills.Mappings {
		if m.Table == "" {
			continue
		}
		key := strings.ToUpper(m.Table)
		if seen[key] {
			continue
		}
		seen[key] = true
		tables = append(tables, m.Table)
	}
	return tables
}
