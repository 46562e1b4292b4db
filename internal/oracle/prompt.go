package oracle

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/portal-resolver/internal/model"
)

const cheapSystem = `You identify the online building-permit application portal for a US jurisdiction.
Reply with JSON only: {"url": string|null, "confidence": number between 0 and 1, "notes": string}.
Use null when you do not know. Prefer the vendor portal (Accela, EnerGov, eTRAKiT, OpenGov, CitizenServe and similar) over informational pages.`

const expensiveSystem = `You identify the online building-permit application portal for a US jurisdiction.
Be strict. Only return a URL you are confident a contractor can use to submit a permit application online.
Never return an identity-provider login or OAuth authorize URL; return the portal it redirects to.
Government (.gov) or known permitting-vendor hosts only. If the jurisdiction accepts paper or PDF applications only, return null and say so in notes.
Reply with JSON only: {"url": string|null, "confidence": number between 0 and 1, "notes": string}.`

// BuildPrompt returns the system and user prompt for q.
func BuildPrompt(q Query) (system, user string) {
	j := q.Jurisdiction
	var b strings.Builder
	fmt.Fprintf(&b, "Jurisdiction: %s (%s, geoid %s)\n", j.Name, j.Level, j.GeoID)
	if j.Homepage != "" {
		fmt.Fprintf(&b, "Official homepage: %s\n", j.Homepage)
	}
	if j.PermitsURL != "" {
		fmt.Fprintf(&b, "Known permits page: %s\n", j.PermitsURL)
	}
	if j.CodesURL != "" {
		fmt.Fprintf(&b, "Known codes page: %s\n", j.CodesURL)
	}

	if q.Tier == TierExpensive {
		if q.Previous != nil && q.Previous.URL != "" {
			fmt.Fprintf(&b, "A previous answer (%s, confidence %.2f) was rejected; verify independently.\n",
				q.Previous.URL, q.Previous.Confidence)
		}
		b.WriteString("Where do contractors apply for building permits online?")
		return expensiveSystem, b.String()
	}
	b.WriteString("What is the URL of the online building-permit portal?")
	return cheapSystem, b.String()
}

// ParseAnswer decodes a model reply. A null or missing URL yields an Answer
// with an empty URL; confidence is clamped to [0,1].
func ParseAnswer(text string) (*Answer, error) {
	cleaned := CleanJSON(text)
	var raw struct {
		URL        *string  `json:"url"`
		Confidence *float64 `json:"confidence"`
		Notes      string   `json:"notes"`
	}
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, eris.Wrapf(err, "oracle: parse answer %q", truncate(text, 200))
	}

	a := &Answer{Notes: raw.Notes, Raw: text}
	if raw.URL != nil {
		a.URL = strings.TrimSpace(*raw.URL)
	}
	if raw.Confidence != nil && !math.IsNaN(*raw.Confidence) {
		a.Confidence = math.Max(0, math.Min(1, *raw.Confidence))
	}
	return a, nil
}

// CleanJSON strips markdown fences and surrounding prose from a model reply.
func CleanJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// describe is used in log fields.
func describe(j model.Jurisdiction) string {
	return j.GeoID + " " + j.Name
}
