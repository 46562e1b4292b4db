package oracle

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/portal-resolver/internal/metrics"
	"github.com/sells-group/portal-resolver/pkg/anthropic"
)

// AnthropicOracle queries Claude: the cheap tier on Haiku, the expensive
// tier on Sonnet.
type AnthropicOracle struct {
	client         anthropic.Client
	cheapModel     string
	expensiveModel string
	metrics        *metrics.Metrics
}

// NewAnthropic creates an AnthropicOracle. Empty model names use the
// package defaults.
func NewAnthropic(client anthropic.Client, cheapModel, expensiveModel string, m *metrics.Metrics) *AnthropicOracle {
	if cheapModel == "" {
		cheapModel = anthropic.DefaultCheapModel
	}
	if expensiveModel == "" {
		expensiveModel = anthropic.DefaultExpensiveModel
	}
	return &AnthropicOracle{
		client:         client,
		cheapModel:     cheapModel,
		expensiveModel: expensiveModel,
		metrics:        m,
	}
}

// Query implements Oracle.
func (o *AnthropicOracle) Query(ctx context.Context, q Query) (*Answer, error) {
	model := o.cheapModel
	maxTokens := int64(512)
	if q.Tier == TierExpensive {
		model = o.expensiveModel
		maxTokens = 1024
	}
	system, user := BuildPrompt(q)
	temp := 0.0

	start := time.Now()
	resp, err := o.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		System:      []anthropic.SystemBlock{{Text: system, CacheControl: &anthropic.CacheControl{TTL: "1h"}}},
		Messages:    []anthropic.Message{{Role: "user", Content: user}},
		Temperature: &temp,
	})
	if err != nil {
		if anthropic.IsRateLimited(err) {
			o.metrics.ObserveOracle(string(q.Tier), "rate_limited", time.Since(start))
			return nil, eris.Wrapf(ErrRateLimited, "oracle: anthropic %s", model)
		}
		o.metrics.ObserveOracle(string(q.Tier), "error", time.Since(start))
		return nil, eris.Wrapf(err, "oracle: anthropic %s", model)
	}
	o.metrics.ObserveOracle(string(q.Tier), "ok", time.Since(start))
	resp.Usage.LogCost(model, "oracle_"+string(q.Tier))

	ans, err := ParseAnswer(resp.Text())
	if err != nil {
		return nil, err
	}
	ans.Model = model
	zap.L().Debug("oracle: answer",
		zap.String("jurisdiction", describe(q.Jurisdiction)),
		zap.String("tier", string(q.Tier)),
		zap.String("url", ans.URL),
		zap.Float64("confidence", ans.Confidence),
	)
	return ans, nil
}
