// Package router classifies user input before any SQL work happens.
// Pattern matching runs first; an LLM fallback is consulted only when
// explicitly enabled and the patterns are inconclusive.
package router

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/querygate/querygate/pkg/llm"
	"github.com/querygate/querygate/pkg/models"
)

var (
	greetingPattern = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|good (morning|afternoon|evening)|你好)[\s!,.?]*$`)
	thanksPattern   = regexp.MustCompile(`(?i)^\s*(thanks|thank you|thx|cheers)[\s!,.?]*$`)
	identityPattern = regexp.MustCompile(`(?i)\b(who are you|what are you|what can you do|help me understand what)\b`)

	metadataPattern = regexp.MustCompile(`(?i)\b(what tables|which tables|list (the )?tables|show (me )?(the )?tables|describe|table structure|what columns|schema of)\b`)

	// Verbs and cue words that indicate a data question.
	dataCuePattern = regexp.MustCompile(`(?i)\b(show|list|count|total|sum|average|avg|max|min|top|trend|compare|how many|how much|revenue|sales|orders|by|per|group|filter|between|since|last|report)\b`)
)

const (
	greetingReply = "Hello! Ask me a question about your data and I'll translate it into a query for you."
	thanksReply   = "You're welcome. Anything else you'd like to look up?"
	identityReply = "I'm a query assistant: I turn plain-language business questions into SQL, run them safely, and explain the results."
	ambiguousReply = "I couldn't tell what data you're after. Try naming the metric and the table or time range, e.g. \"total sales by region for 2024\"."
	errorReply     = "Sorry, I couldn't process that request. Please try rephrasing your question."
)

// Router classifies input into conversational / metadata / data / ambiguous.
type Router struct {
	provider    llm.Provider // nil disables the fallback entirely
	useFallback bool
}

// New builds a Router. provider may be nil when the LLM fallback is disabled.
func New(provider llm.Provider, useFallback bool) *Router {
	return &Router{provider: provider, useFallback: useFallback}
}

// Classify returns the routing decision for user text. It never returns an
// error: classification failures degrade to a conversational apology and the
// orchestrator surfaces status error from there.
func (r *Router) Classify(ctx context.Context, text string, history []models.ConversationTurn, snapshot *models.SchemaSnapshot) models.RoutingDecision {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return models.RoutingDecision{
			Intent:      models.IntentAmbiguous,
			RequiresSQL: false,
			CannedReply: ambiguousReply,
			Confidence:  1.0,
		}
	}

	switch {
	case greetingPattern.MatchString(trimmed):
		return canned(models.IntentConversational, greetingReply)
	case thanksPattern.MatchString(trimmed):
		return canned(models.IntentConversational, thanksReply)
	case identityPattern.MatchString(trimmed):
		return canned(models.IntentConversational, identityReply)
	case metadataPattern.MatchString(trimmed):
		return models.RoutingDecision{
			Intent:      models.IntentMetadataQuery,
			RequiresSQL: false,
			Confidence:  0.9,
		}
	}

	hasDataCue := dataCuePattern.MatchString(trimmed)
	mentionsSchema := mentionsSchemaObject(trimmed, snapshot)

	if hasDataCue || mentionsSchema {
		confidence := 0.75
		if hasDataCue && mentionsSchema {
			confidence = 0.95
		}
		return models.RoutingDecision{
			Intent:         models.IntentDataQuery,
			RequiresSQL:    true,
			EnhancedIntent: enhanceIntent(trimmed),
			Confidence:     confidence,
		}
	}

	// Inconclusive. Ask the LLM only when enabled; failures degrade
	// silently back to the pattern verdict.
	if r.useFallback && r.provider != nil {
		if decision, ok := r.classifyWithLLM(ctx, trimmed); ok {
			return decision
		}
	}

	return models.RoutingDecision{
		Intent:      models.IntentAmbiguous,
		RequiresSQL: false,
		CannedReply: ambiguousReply,
		Confidence:  0.5,
	}
}

func canned(intent models.Intent, reply string) models.RoutingDecision {
	return models.RoutingDecision{
		Intent:      intent,
		RequiresSQL: false,
		CannedReply: reply,
		Confidence:  1.0,
	}
}

// mentionsSchemaObject reports whether any word of the text names a table or
// column in the snapshot.
func mentionsSchemaObject(text string, snapshot *models.SchemaSnapshot) bool {
	if snapshot == nil {
		return false
	}
	for _, word := range strings.FieldsFunc(text, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_')
	}) {
		if len(word) < 3 {
			continue
		}
		if snapshot.HasIdentifier(word) {
			return true
		}
	}
	return false
}

// enhanceIntent produces a short restatement passed to the synthesizer as a
// prompting hint.
func enhanceIntent(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "trend") || strings.Contains(lower, "over time"):
		return "time-series aggregation"
	case regexp.MustCompile(`\btop\s+\d+`).MatchString(lower):
		return "ranked top-N selection"
	case strings.Contains(lower, "compare"):
		return "comparative aggregation"
	case strings.Contains(lower, "count") || strings.Contains(lower, "how many"):
		return "count aggregation"
	case strings.Contains(lower, "total") || strings.Contains(lower, "sum"):
		return "sum aggregation"
	default:
		return ""
	}
}

// classifyWithLLM asks the provider for a one-word intent. Any failure or
// unparseable answer returns ok=false so the caller keeps the pattern
// verdict.
func (r *Router) classifyWithLLM(ctx context.Context, text string) (models.RoutingDecision, bool) {
	resp, err := r.provider.Invoke(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: "Classify the user's message as exactly one word: conversational, metadata, data, or ambiguous. Answer with the word only."},
		{Role: llm.RoleUser, Content: text},
	}, llm.Options{MaxTokens: 8})
	if err != nil {
		slog.Debug("Router LLM fallback failed, using pattern verdict", "error", err)
		return models.RoutingDecision{}, false
	}
	switch strings.ToLower(strings.TrimSpace(resp.Content)) {
	case "data":
		return models.RoutingDecision{Intent: models.IntentDataQuery, RequiresSQL: true, Confidence: 0.6}, true
	case "metadata":
		return models.RoutingDecision{Intent: models.IntentMetadataQuery, Confidence: 0.6}, true
	case "conversational":
		return canned(models.IntentConversational, identityReply), true
	case "ambiguous":
		return models.RoutingDecision{Intent: models.IntentAmbiguous, CannedReply: ambiguousReply, Confidence: 0.6}, true
	default:
		return models.RoutingDecision{}, false
	}
}

// ErrorReply is the canned apology used when classification itself fails.
func ErrorReply() string { return errorReply }
