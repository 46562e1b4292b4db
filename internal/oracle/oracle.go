// Package oracle asks a language model where a jurisdiction's permit portal
// lives. Two tiers trade cost for care; the provider is injected.
package oracle

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/portal-resolver/internal/model"
)

// Tier selects the cost/quality level of a query.
type Tier string

const (
	TierCheap     Tier = "cheap"
	TierExpensive Tier = "expensive"
)

// SourceTier maps an oracle tier onto the candidate provenance tag.
func (t Tier) SourceTier() model.SourceTier {
	if t == TierExpensive {
		return model.SourceAIFull
	}
	return model.SourceAIMini
}

// ErrRateLimited is returned (wrapped) when the provider refuses a call for
// quota or rate reasons. Callers test for it with errors.Is.
var ErrRateLimited = eris.New("oracle: rate limited")

// Query is one portal-identification request.
type Query struct {
	Jurisdiction model.Jurisdiction
	Tier         Tier
	// Previous is the rejected cheap-tier answer, shown to the expensive
	// tier so it does not repeat it.
	Previous *Answer
}

// Answer is the oracle's reply. URL is empty when the model found nothing.
type Answer struct {
	URL        string  `json:"url"`
	Confidence float64 `json:"confidence"`
	Notes      string  `json:"notes"`
	Model      string  `json:"-"`
	Raw        string  `json:"-"`
}

// Oracle answers portal-identification queries.
type Oracle interface {
	Query(ctx context.Context, q Query) (*Answer, error)
}
