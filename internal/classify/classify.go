package classify

import (
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/portal-resolver/internal/model"
)

// ErrInvalidURL is returned when a URL is neither a .gov address nor hosted by
// a recognised vendor.
var ErrInvalidURL = eris.New("classify: url is not a government or known vendor address")

// Validate returns the trimmed URL when it has a scheme, a dotted host, and is
// either a .gov address or matches a known vendor marker.
func Validate(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidURL
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", ErrInvalidURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ErrInvalidURL
	}
	host := strings.ToLower(u.Hostname())
	if !strings.Contains(host, ".") {
		return "", ErrInvalidURL
	}
	if isGovHost(host) {
		return raw, nil
	}
	if matchMarker(vendorMarkers, strings.ToLower(host+u.EscapedPath())) != "" {
		return raw, nil
	}
	return "", ErrInvalidURL
}

// IsValid is Validate without the error.
func IsValid(raw string) bool {
	_, err := Validate(raw)
	return err == nil
}

// DetectVendor classifies a URL by the ordered vendor table. A .gov URL with
// no vendor marker is municipal; anything else is unknown.
func DetectVendor(raw string) model.Vendor {
	lower := strings.ToLower(strings.TrimSpace(raw))
	if lower == "" {
		return model.VendorUnknown
	}
	if v := matchMarker(vendorMarkers, lower); v != "" {
		return v
	}
	if u, err := url.Parse(lower); err == nil && isGovHost(u.Hostname()) {
		return model.VendorMunicipal
	}
	return model.VendorUnknown
}

// DetectVendorFromContent re-detects the vendor from a fetched page body and
// falls back to URL-based detection.
func DetectVendorFromContent(body, rawURL string) model.Vendor {
	if v := DetectVendor(rawURL); v.Known() {
		return v
	}
	if v := matchMarker(contentMarkers, strings.ToLower(body)); v != "" {
		return v
	}
	return DetectVendor(rawURL)
}

// EndpointVendor maps a candidate URL into the closed endpoint vendor set.
// It returns "" for URLs that are not worth crawling.
func EndpointVendor(raw string) model.Vendor {
	lower := strings.ToLower(raw)
	if u, err := url.Parse(lower); err == nil && strings.HasSuffix(u.Path, ".pdf") {
		return model.VendorPDF
	}
	return matchMarker(endpointMarkers, lower)
}

// NormalizeVendorRedirect unwraps an identity-provider OAuth redirect into the
// portal base it returns to. The bool is false for every other input.
func NormalizeVendorRedirect(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	matched := false
	for _, h := range redirectHosts {
		if host == h {
			matched = true
			break
		}
	}
	if !matched {
		return "", false
	}

	redirect := u.Query().Get("redirect_uri")
	if redirect == "" {
		return "", false
	}
	target, err := url.Parse(redirect)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return "", false
	}

	path := strings.TrimSuffix(target.Path, "/")
	path = strings.TrimSuffix(path, "/callback")
	return target.Scheme + "://" + target.Host + path + "/", true
}

// HasOAuthMarker reports whether the raw URL is an unresolved OAuth authorize
// redirect.
func HasOAuthMarker(raw string) bool {
	return strings.Contains(strings.ToLower(raw), oauthAuthorizeMarker)
}

// KeywordHits returns the distinct keywords found in text (case-insensitive).
func KeywordHits(text string, keywords []string) []string {
	lower := strings.ToLower(text)
	var hits []string
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			hits = append(hits, kw)
		}
	}
	return hits
}

func isGovHost(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	return strings.HasSuffix(host, ".gov")
}

func matchMarker(markers []vendorMarker, s string) model.Vendor {
	for _, m := range markers {
		if strings.Contains(s, m.Marker) {
			return m.Vendor
		}
	}
	return ""
}
