package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultItem_Validate(t *testing.T) {
	lead := &LeadPayload{
		Candidate: Candidate{ID: "p1", Subreddit: "saas", Title: "looking for a tool"},
		Score:     7.5,
	}
	content := &ContentPayload{Subreddit: "saas", Title: "Show r/saas", Body: "body"}

	tests := []struct {
		name    string
		item    ResultItem
		wantErr bool
	}{
		{"valid lead", ResultItem{JobID: "j1", Sequence: 1, Kind: JobKindSearch, Lead: lead}, false},
		{"valid content", ResultItem{JobID: "j1", Sequence: 2, Kind: JobKindGenerate, Content: content}, false},
		{"missing job id", ResultItem{Sequence: 1, Kind: JobKindSearch, Lead: lead}, true},
		{"zero sequence", ResultItem{JobID: "j1", Sequence: 0, Kind: JobKindSearch, Lead: lead}, true},
		{"lead missing", ResultItem{JobID: "j1", Sequence: 1, Kind: JobKindSearch}, true},
		{"wrong variant", ResultItem{JobID: "j1", Sequence: 1, Kind: JobKindSearch, Content: content}, true},
		{"both variants", ResultItem{JobID: "j1", Sequence: 1, Kind: JobKindGenerate, Lead: lead, Content: content}, true},
		{"bad kind", ResultItem{JobID: "j1", Sequence: 1, Kind: JobKind("x"), Lead: lead}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.item.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResultItem_PayloadRoundTrip(t *testing.T) {
	item := &ResultItem{
		JobID:    "j1",
		Sequence: 1,
		Kind:     JobKindSearch,
		Lead: &LeadPayload{
			Candidate: Candidate{ID: "p9", Subreddit: "startups", Title: "need advice"},
			Score:     8.2,
			Reasons:   []string{"explicit ask", "budget mentioned"},
			Reply:     "You might like...",
		},
	}

	raw, err := item.MarshalPayload()
	require.NoError(t, err)

	decoded := &ResultItem{Kind: JobKindSearch}
	require.NoError(t, decoded.UnmarshalPayload(raw))
	require.NotNil(t, decoded.Lead)
	assert.Equal(t, item.Lead.Candidate.ID, decoded.Lead.Candidate.ID)
	assert.InDelta(t, item.Lead.Score, decoded.Lead.Score, 0.001)
	assert.Equal(t, item.Lead.Reasons, decoded.Lead.Reasons)

	bad := &ResultItem{Kind: JobKind("x")}
	assert.Error(t, bad.UnmarshalPayload(raw))
}
