// Package extract turns permit-page text into structured collections with a
// fixed output schema.
package extract

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/portal-resolver/internal/oracle"
	"github.com/sells-group/portal-resolver/pkg/anthropic"
)

// Collections in the extraction schema, in output order.
const (
	PermitTypes  = "permit_types"
	Forms        = "forms"
	Fees         = "fees"
	Requirements = "requirements"
	Contacts     = "contacts"
	Links        = "links"
	Inspections  = "inspections"
	Notes        = "notes"
)

// CollectionNames lists every collection the schema defines.
var CollectionNames = []string{PermitTypes, Forms, Fees, Requirements, Contacts, Links, Inspections, Notes}

// maxInputChars bounds the page text sent to the model.
const maxInputChars = 60000

const schemaPrompt = `You extract building-permit information for contractors from a government or permitting-vendor page.
Return a single JSON object with exactly these keys, each an array (use [] when nothing applies):
{
  "permit_types": [{"name": string, "description": string}],
  "forms":        [{"name": string, "url": string, "format": "pdf"|"online"|"other"}],
  "fees":         [{"name": string, "amount": string, "basis": string}],
  "requirements": [{"permit_type": string, "requirement": string}],
  "contacts":     [{"name": string, "role": string, "phone": string, "email": string, "address": string}],
  "links":        [{"label": string, "url": string}],
  "inspections":  [{"name": string, "scheduling": string}],
  "notes":        [string]
}
Only report what the page states. Do not invent amounts or URLs.`

// Result is a decoded extraction: collection name to raw items.
type Result map[string][]json.RawMessage

// Count returns the total number of items across all collections.
func (r Result) Count() int {
	n := 0
	for _, items := range r {
		n += len(items)
	}
	return n
}

// Extractor runs structured extraction over page text.
type Extractor interface {
	Extract(ctx context.Context, sourceURL, text string) (Result, error)
}

// AnthropicExtractor uses a Claude model for extraction.
type AnthropicExtractor struct {
	client anthropic.Client
	model  string
}

// NewAnthropic creates an AnthropicExtractor. An empty model uses the
// expensive-tier default.
func NewAnthropic(client anthropic.Client, model string) *AnthropicExtractor {
	if model == "" {
		model = anthropic.DefaultExpensiveModel
	}
	return &AnthropicExtractor{client: client, model: model}
}

// Extract implements Extractor.
func (e *AnthropicExtractor) Extract(ctx context.Context, sourceURL, text string) (Result, error) {
	if len(text) > maxInputChars {
		text = text[:maxInputChars]
	}
	temp := 0.0
	resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     e.model,
		MaxTokens: 4096,
		System:    []anthropic.SystemBlock{{Text: schemaPrompt, CacheControl: &anthropic.CacheControl{TTL: "1h"}}},
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: fmt.Sprintf("Page URL: %s\nPage content:\n%s", sourceURL, text),
		}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "extract: %s", sourceURL)
	}
	resp.Usage.LogCost(e.model, "extract")

	res, err := Parse(resp.Text())
	if err != nil {
		return nil, eris.Wrapf(err, "extract: %s", sourceURL)
	}
	zap.L().Debug("extract: parsed",
		zap.String("url", sourceURL),
		zap.Int("items", res.Count()),
	)
	return res, nil
}

// Parse decodes a model reply against the schema. Unknown keys are dropped
// and missing collections come back empty; a collection that is not an array
// is an error.
func Parse(text string) (Result, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(oracle.CleanJSON(text)), &raw); err != nil {
		return nil, eris.Wrap(err, "extract: decode reply")
	}

	res := make(Result, len(CollectionNames))
	for _, name := range CollectionNames {
		body, ok := raw[name]
		if !ok || string(body) == "null" {
			res[name] = nil
			continue
		}
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, eris.Wrapf(err, "extract: collection %s is not an array", name)
		}
		res[name] = items
	}
	return res, nil
}
