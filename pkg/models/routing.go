package models

// Intent is the router's classification of user input.
type Intent string

const (
	IntentConversational Intent = "conversational"
	IntentMetadataQuery  Intent = "metadata_query"
	IntentDataQuery      Intent = "data_query"
	IntentAmbiguous      Intent = "ambiguous"
)

// RoutingDecision is the intent router's output. Conversational and
// ambiguous intents short-circuit with CannedReply and RequiresSQL=false.
type RoutingDecision struct {
	Intent         Intent  `json:"intent"`
	RequiresSQL    bool    `json:"requires_sql"`
	CannedReply    string  `json:"canned_reply,omitempty"`
	EnhancedIntent string  `json:"enhanced_intent,omitempty"`
	Confidence     float64 `json:"confidence"` // 0..1
}

// MappingKind classifies how a business concept was resolved.
type MappingKind string

const (
	MappingPhysical   MappingKind = "physical"
	MappingDerived    MappingKind = "derived"
	MappingAggregated MappingKind = "aggregated"
	MappingNotFound   MappingKind = "not_found"
)

// ColumnMapping is the result of resolving one business concept. Expression
// is substitutable verbatim into SQL; for derived mappings it is a computed
// expression including the table-qualified source column, never a bare
// identifier.
type ColumnMapping struct {
	Concept    string      `json:"concept"`
	Kind       MappingKind `json:"kind"`
	Expression string      `json:"expression"`
	Table      string      `json:"table,omitempty"`
	Confidence int         `json:"confidence"` // 0..100
	Note       string      `json:"note,omitempty"`
}

// ImplicitOps are grouping/sorting/limit cues inferred independently from
// the user text and passed through to the synthesizer.
type ImplicitOps struct {
	GroupByHints     []string `json:"group_by_hints,omitempty"`
	OrderByHints     []string `json:"order_by_hints,omitempty"`
	LimitHint        int      `json:"limit_hint,omitempty"`
	AggregationHints []string `json:"aggregation_hints,omitempty"`
}

// Clarification is a structured request for more information from the user.
// It is a first-class recoverable state, not an error.
type Clarification struct {
	Message          string   `json:"message"`
	ReferencedTables []string `json:"referenced_tables,omitempty"`
	UnmappedConcepts []string `json:"unmapped_concepts,omitempty"`
}

// SkillsOutput is the skills engine's result: concept mappings plus inferred
// implicit operations, or a clarification request. If Clarification is set,
// Mappings may be empty.
type SkillsOutput struct {
	Mappings          []ColumnMapping `json:"mappings"`
	OverallConfidence int             `json:"overall_confidence"`
	Clarification     *Clarification  `json:"clarification,omitempty"`
	ImplicitOps       ImplicitOps     `json:"implicit_ops"`
	OK                bool            `json:"ok"`
}
