package offline

// PhraseTableVersion identifies the revision of the phrase tables below.
const PhraseTableVersion = "2026.10"

// onlinePhrases in page text mean the jurisdiction accepts online
// submissions, whatever else the page says.
var onlinePhrases = []string{
	"apply online",
	"submit online",
	"/login",
	"/account",
	"/application",
	"portal",
}

// offlinePhrases signal a paper or PDF process.
var offlinePhrases = []string{
	"pdf",
	"print",
	"mail",
	"fee schedule",
	"forms",
	"applications",
	"permit packet",
	"return completed",
	"in person",
	"download",
}

const (
	weightPDFMajority = 0.4
	weightOfflineText = 0.4
	weightAllPDF      = 0.2
	weightNoHTMLLinks = 0.2

	// Threshold is the minimum score for an offline verdict.
	Threshold = 0.5

	// minOfflineHits is exclusive: more than this many phrases must match.
	minOfflineHits = 2
)
