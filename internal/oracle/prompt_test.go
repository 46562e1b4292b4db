package oracle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/portal-resolver/internal/model"
)

func TestParseAnswer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		text    string
		url     string
		conf    float64
		wantErr bool
	}{
		{"plain", `{"url":"https://permits.a.gov","confidence":0.8,"notes":"x"}`, "https://permits.a.gov", 0.8, false},
		{"fenced", "```json\n{\"url\":\"https://b.gov\",\"confidence\":0.5}\n```", "https://b.gov", 0.5, false},
		{"prose around", `Here you go: {"url": "https://c.gov", "confidence": 0.9} hope it helps`, "https://c.gov", 0.9, false},
		{"null url", `{"url": null, "confidence": 0.1, "notes": "paper only"}`, "", 0.1, false},
		{"confidence clamped high", `{"url":"https://d.gov","confidence":1.7}`, "https://d.gov", 1, false},
		{"confidence clamped low", `{"url":"https://d.gov","confidence":-2}`, "https://d.gov", 0, false},
		{"missing confidence", `{"url":" https://e.gov "}`, "https://e.gov", 0, false},
		{"not json", "I don't know", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a, err := ParseAnswer(tt.text)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.url, a.URL)
			assert.InDelta(t, tt.conf, a.Confidence, 1e-9)
			assert.Equal(t, tt.text, a.Raw)
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	t.Parallel()

	j := model.Jurisdiction{GeoID: "0667000", Name: "San Francisco", Level: model.LevelPlace, Homepage: "https://sf.gov"}

	sys, user := BuildPrompt(Query{Jurisdiction: j, Tier: TierCheap})
	assert.Equal(t, cheapSystem, sys)
	assert.Contains(t, user, "San Francisco")
	assert.Contains(t, user, "https://sf.gov")
	assert.NotContains(t, user, "rejected")

	sys, user = BuildPrompt(Query{
		Jurisdiction: j,
		Tier:         TierExpensive,
		Previous:     &Answer{URL: "https://sf.gov/about", Confidence: 0.4},
	})
	assert.Equal(t, expensiveSystem, sys)
	assert.Contains(t, user, "https://sf.gov/about")
	assert.Contains(t, user, "rejected")
}

func TestTier_SourceTier(t *testing.T) {
	t.Parallel()

	assert.Equal(t, model.SourceAIMini, TierCheap.SourceTier())
	assert.Equal(t, model.SourceAIFull, TierExpensive.SourceTier())
}
