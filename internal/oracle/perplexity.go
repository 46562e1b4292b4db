package oracle

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/portal-resolver/internal/metrics"
	"github.com/sells-group/portal-resolver/pkg/perplexity"
)

// PerplexityOracle queries Perplexity's web-grounded models: sonar for the
// cheap tier, sonar-pro for the expensive tier.
type PerplexityOracle struct {
	client         perplexity.Client
	cheapModel     string
	expensiveModel string
	metrics        *metrics.Metrics
}

// NewPerplexity creates a PerplexityOracle.
func NewPerplexity(client perplexity.Client, cheapModel, expensiveModel string, m *metrics.Metrics) *PerplexityOracle {
	if cheapModel == "" {
		cheapModel = perplexity.ModelSonar
	}
	if expensiveModel == "" {
		expensiveModel = perplexity.ModelSonarPro
	}
	return &PerplexityOracle{
		client:         client,
		cheapModel:     cheapModel,
		expensiveModel: expensiveModel,
		metrics:        m,
	}
}

// Query implements Oracle. Citations are appended to the notes and never
// substituted for an empty URL.
func (o *PerplexityOracle) Query(ctx context.Context, q Query) (*Answer, error) {
	model := o.cheapModel
	if q.Tier == TierExpensive {
		model = o.expensiveModel
	}
	system, user := BuildPrompt(q)
	temp := 0.0

	start := time.Now()
	resp, err := o.client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Model: model,
		Messages: []perplexity.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: &temp,
	})
	if err != nil {
		if errors.Is(err, perplexity.ErrRateLimited) {
			o.metrics.ObserveOracle(string(q.Tier), "rate_limited", time.Since(start))
			return nil, eris.Wrapf(ErrRateLimited, "oracle: perplexity %s", model)
		}
		o.metrics.ObserveOracle(string(q.Tier), "error", time.Since(start))
		return nil, eris.Wrapf(err, "oracle: perplexity %s", model)
	}
	o.metrics.ObserveOracle(string(q.Tier), "ok", time.Since(start))

	ans, err := ParseAnswer(resp.Content())
	if err != nil {
		return nil, err
	}
	ans.Model = model
	if len(resp.Citations) > 0 {
		if ans.Notes != "" {
			ans.Notes += " "
		}
		cites := resp.Citations
		if len(cites) > 3 {
			cites = cites[:3]
		}
		ans.Notes += "sources: " + strings.Join(cites, ", ")
	}
	return ans, nil
}
