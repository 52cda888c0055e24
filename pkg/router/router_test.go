package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/querygate/querygate/pkg/llm"
	"github.com/querygate/querygate/pkg/models"
)

func testSnapshot() *models.SchemaSnapshot {
	return &models.SchemaSnapshot{
		DatabaseKind: models.DatabasePostgres,
		Tables: map[string]*models.TableSchema{
			"shipments": {Name: "shipments", Columns: []models.Column{
				{Name: "id", Type: "integer"},
				{Name: "carrier", Type: "text"},
			}},
		},
	}
}

func TestClassify_Greeting(t *testing.T) {
	r := New(nil, false)
	for _, text := range []string{"hi", "Hello!", "hey", "good morning"} {
		d := r.Classify(context.Background(), text, nil, nil)
		assert.Equal(t, models.IntentConversational, d.Intent, text)
		assert.False(t, d.RequiresSQL, text)
		assert.NotEmpty(t, d.CannedReply, text)
	}
}

func TestClassify_Thanks(t *testing.T) {
	r := New(nil, false)
	d := r.Classify(context.Background(), "thanks!", nil, nil)
	assert.Equal(t, models.IntentConversational, d.Intent)
}

func TestClassify_Identity(t *testing.T) {
	r := New(nil, false)
	d := r.Classify(context.Background(), "who are you?", nil, nil)
	assert.Equal(t, models.IntentConversational, d.Intent)
	assert.Contains(t, d.CannedReply, "query assistant")
}

func TestClassify_Metadata(t *testing.T) {
	r := New(nil, false)
	for _, text := range []string{
		"what tables are available?",
		"describe shipments",
		"show me the tables",
	} {
		d := r.Classify(context.Background(), text, nil, nil)
		assert.Equal(t, models.IntentMetadataQuery, d.Intent, text)
		assert.False(t, d.RequiresSQL, text)
	}
}

func TestClassify_DataCue(t *testing.T) {
	r := New(nil, false)
	d := r.Classify(context.Background(), "total revenue by month since January", nil, nil)
	assert.Equal(t, models.IntentDataQuery, d.Intent)
	assert.True(t, d.RequiresSQL)
	assert.Equal(t, "sum aggregation", d.EnhancedIntent)
}

func TestClassify_SchemaMentionWithoutCue(t *testing.T) {
	r := New(nil, false)
	d := r.Classify(context.Background(), "shipments delayed past their ETA", nil, testSnapshot())
	assert.Equal(t, models.IntentDataQuery, d.Intent)
	assert.True(t, d.RequiresSQL)
	assert.InDelta(t, 0.75, d.Confidence, 0.001)
}

func TestClassify_CueAndSchemaMentionRaisesConfidence(t *testing.T) {
	r := New(nil, false)
	d := r.Classify(context.Background(), "count shipments per carrier", nil, testSnapshot())
	assert.Equal(t, models.IntentDataQuery, d.Intent)
	assert.InDelta(t, 0.95, d.Confidence, 0.001)
}

func TestClassify_EmptyText(t *testing.T) {
	r := New(nil, false)
	d := r.Classify(context.Background(), "   ", nil, nil)
	assert.Equal(t, models.IntentAmbiguous, d.Intent)
	assert.NotEmpty(t, d.CannedReply)
}

func TestClassify_AmbiguousWithoutFallback(t *testing.T) {
	r := New(nil, false)
	d := r.Classify(context.Background(), "the thing from before", nil, nil)
	assert.Equal(t, models.IntentAmbiguous, d.Intent)
	assert.False(t, d.RequiresSQL)
}

func TestClassify_LLMFallbackOnInconclusive(t *testing.T) {
	provider := llm.NewFakeProvider("data")
	r := New(provider, true)
	d := r.Classify(context.Background(), "the usual numbers please", nil, nil)
	assert.Equal(t, models.IntentDataQuery, d.Intent)
	assert.True(t, d.RequiresSQL)
}

func TestClassify_LLMFallbackFailureDegrades(t *testing.T) {
	provider := llm.NewFakeProvider("")
	r := New(provider, true)
	d := r.Classify(context.Background(), "the usual numbers please", nil, nil)
	assert.Equal(t, models.IntentAmbiguous, d.Intent)
}

func TestClassify_FallbackNotConsultedWhenPatternsDecide(t *testing.T) {
	provider := llm.NewFakeProvider("data")
	r := New(provider, true)
	r.Classify(context.Background(), "hello", nil, nil)
	assert.Empty(t, provider.Calls())
}

func TestEnhanceIntent(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"sales trend over time", "time-series aggregation"},
		{"top 10 customers", "ranked top-N selection"},
		{"compare regions", "comparative aggregation"},
		{"how many orders", "count aggregation"},
		{"total spend", "sum aggregation"},
		{"orders in march", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, enhanceIntent(tt.text), tt.text)
	}
}
