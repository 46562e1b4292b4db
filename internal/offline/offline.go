// Package offline scores a jurisdiction homepage to decide whether permits
// are handled through a paper or PDF process instead of an online portal.
package offline

import (
	"math"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sells-group/portal-resolver/internal/classify"
)

// Link is an outbound link with its anchor text.
type Link struct {
	URL  string `json:"url"`
	Text string `json:"text,omitempty"`
}

// Verdict is the detector's output.
type Verdict struct {
	Offline     bool    `json:"offline"`
	Confidence  float64 `json:"confidence"`
	PDFRatio    float64 `json:"pdf_ratio"`
	OfflineHits int     `json:"offline_hits"`
	// Reason names the rule that decided a negative verdict early.
	Reason string `json:"reason,omitempty"`
}

// Detect scores page text and links. A vendor-system link or an online
// submission phrase returns a zero-confidence online verdict immediately.
func Detect(text string, links []Link) Verdict {
	var pdfLinks, otherLinks int
	for _, l := range links {
		if IsPDFLink(l.URL) {
			pdfLinks++
			continue
		}
		otherLinks++
		if classify.DetectVendor(l.URL).Known() {
			return Verdict{Reason: "vendor link " + l.URL}
		}
	}

	lower := strings.ToLower(text)
	for _, p := range onlinePhrases {
		if strings.Contains(lower, p) {
			return Verdict{Reason: "online phrase " + p}
		}
	}

	v := Verdict{}
	if len(links) > 0 {
		v.PDFRatio = float64(pdfLinks) / float64(len(links))
	}
	for _, p := range offlinePhrases {
		if containsWord(lower, p) {
			v.OfflineHits++
		}
	}

	var score float64
	if v.PDFRatio > 0.5 {
		score += weightPDFMajority
	}
	if v.OfflineHits > minOfflineHits {
		score += weightOfflineText
	}
	if v.PDFRatio == 1 {
		score += weightAllPDF
	}
	if otherLinks == 0 {
		score += weightNoHTMLLinks
	}

	v.Confidence = math.Min(score, 1)
	v.Offline = score >= Threshold
	return v
}

// containsWord reports whether phrase occurs in s as a whole word, so
// "mail" does not match "email" or "e-mail".
func containsWord(s, phrase string) bool {
	for i := 0; i <= len(s); {
		j := strings.Index(s[i:], phrase)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(phrase)
		before, _ := utf8.DecodeLastRuneInString(s[:start])
		after, _ := utf8.DecodeRuneInString(s[end:])
		if !wordRune(before) && !wordRune(after) {
			return true
		}
		i = start + 1
	}
	return false
}

func wordRune(r rune) bool {
	return r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// IsPDFLink reports whether the URL path ends in .pdf.
func IsPDFLink(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.HasSuffix(strings.ToLower(raw), ".pdf")
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".pdf")
}
