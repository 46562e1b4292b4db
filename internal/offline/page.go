package offline

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

// Page is the text and outbound links of an HTML document.
type Page struct {
	Title string
	Text  string
	Links []Link
}

// ExtractPage parses HTML and returns its visible text and absolute links.
// Relative hrefs are resolved against base; fragments, mailto, tel and
// javascript links are dropped, as are duplicates.
func ExtractPage(html, base string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, eris.Wrap(err, "offline: parse html")
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, eris.Wrapf(err, "offline: parse base url %q", base)
	}

	doc.Find("script,style,noscript,template").Remove()

	page := &Page{
		Title: normalizeText(doc.Find("title").First().Text()),
		Text:  normalizeText(doc.Find("body").Text()),
	}
	if page.Text == "" {
		page.Text = normalizeText(doc.Text())
	}

	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		abs, ok := resolveLink(baseURL, href)
		if !ok || seen[abs] {
			return
		}
		seen[abs] = true
		page.Links = append(page.Links, Link{URL: abs, Text: normalizeText(s.Text())})
	})
	return page, nil
}

func resolveLink(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	lower := strings.ToLower(href)
	for _, p := range []string{"mailto:", "tel:", "javascript:", "data:"} {
		if strings.HasPrefix(lower, p) {
			return "", false
		}
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	abs.Fragment = ""
	return abs.String(), true
}

// normalizeText collapses runs of whitespace into single spaces.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
