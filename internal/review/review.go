// Package review implements the human approve/reject workflow over
// unverified jurisdiction records.
package review

import (
	"context"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/portal-resolver/internal/classify"
	"github.com/sells-group/portal-resolver/internal/model"
	"github.com/sells-group/portal-resolver/internal/records"
	"github.com/sells-group/portal-resolver/internal/store"
)

// DefaultPerPage is the page size used when none is given.
const DefaultPerPage = 25

// ErrInvalidOverride is returned when a reviewer-supplied URL is malformed.
var ErrInvalidOverride = eris.New("review: invalid override url")

// Store is the read surface the workflow needs.
type Store interface {
	GetRecord(ctx context.Context, id string) (*model.JurisdictionRecord, error)
	ListReview(ctx context.Context, limit, offset int) ([]model.JurisdictionRecord, int, error)
}

// Overrides are reviewer-supplied corrections. Empty fields are ignored.
type Overrides struct {
	PortalURL     string       `json:"portal_url,omitempty"`
	ManualInfoURL string       `json:"manual_info_url,omitempty"`
	Vendor        model.Vendor `json:"vendor_type,omitempty"`
	Notes         string       `json:"notes,omitempty"`
}

// Summary is the reviewer-facing view of a record.
type Summary struct {
	ID               string                 `json:"id"`
	JurisdictionID   string                 `json:"jurisdiction_id"`
	PortalURL        string                 `json:"portal_url,omitempty"`
	ManualInfoURL    string                 `json:"manual_info_url,omitempty"`
	Vendor           model.Vendor           `json:"vendor_type"`
	SubmissionMethod model.SubmissionMethod `json:"submission_method"`
	Verified         bool                   `json:"verified"`
	Invalid          bool                   `json:"invalid"`
	Notes            string                 `json:"notes,omitempty"`
}

// Page is one page of the review queue.
type Page struct {
	Items   []Summary `json:"items"`
	Page    int       `json:"page"`
	PerPage int       `json:"per_page"`
	Total   int       `json:"total"`
}

// Workflow applies reviewer decisions through the record resolver.
type Workflow struct {
	store   Store
	records *records.Resolver
}

// New creates a Workflow.
func New(s Store, r *records.Resolver) *Workflow {
	return &Workflow{store: s, records: r}
}

// List returns unverified, non-invalid records newest first. page is 1-based.
func (w *Workflow) List(ctx context.Context, page, perPage int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	recs, total, err := w.store.ListReview(ctx, perPage, (page-1)*perPage)
	if err != nil {
		return nil, eris.Wrap(err, "review: list")
	}
	out := &Page{Items: make([]Summary, 0, len(recs)), Page: page, PerPage: perPage, Total: total}
	for i := range recs {
		out.Items = append(out.Items, Summarize(&recs[i]))
	}
	return out, nil
}

// Approve verifies the record. An override portal URL wins over the
// record's own; with no portal URL at all a manual-info override makes the
// record an offline-only resolution. Sibling records are invalidated.
func (w *Workflow) Approve(ctx context.Context, id string, o Overrides) (*Summary, error) {
	rec, err := w.store.GetRecord(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "review: approve %s", id)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}

	u := store.VerifyUpdate{Notes: o.Notes}
	canonical := strings.TrimSpace(o.PortalURL)
	if canonical == "" {
		canonical = rec.Portal()
	}
	switch {
	case canonical != "":
		u.PortalURL = &canonical
		u.SubmissionMethod = model.SubmissionOnline
		u.Vendor = o.Vendor
		if u.Vendor == "" && o.PortalURL != "" {
			u.Vendor = classify.DetectVendor(canonical)
		}
		if o.ManualInfoURL != "" {
			u.ManualInfoURL = &o.ManualInfoURL
		}
	case o.ManualInfoURL != "":
		u.ManualInfoURL = &o.ManualInfoURL
		u.ClearPortal = true
		u.SubmissionMethod = model.SubmissionOfflineOnly
		u.Vendor = model.VendorPDF
		if o.Vendor != "" {
			u.Vendor = o.Vendor
		}
	default:
		u.Vendor = o.Vendor
	}

	verified, err := w.records.MarkVerified(ctx, id, u)
	if err != nil {
		return nil, eris.Wrapf(err, "review: approve %s", id)
	}
	zap.L().Info("review: approved",
		zap.String("record_id", id),
		zap.String("geoid", verified.JurisdictionID),
		zap.String("submission_method", string(verified.SubmissionMethod)),
	)
	s := Summarize(verified)
	return &s, nil
}

// Reject invalidates the record. A manual-info override turns the
// rejection into a verified offline-only resolution.
func (w *Workflow) Reject(ctx context.Context, id string, o Overrides) (*Summary, error) {
	if _, err := w.store.GetRecord(ctx, id); err != nil {
		return nil, eris.Wrapf(err, "review: reject %s", id)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}

	if o.ManualInfoURL != "" {
		vendor := model.VendorPDF
		if o.Vendor != "" {
			vendor = o.Vendor
		}
		rec, err := w.records.MarkVerified(ctx, id, store.VerifyUpdate{
			ManualInfoURL:    &o.ManualInfoURL,
			ClearPortal:      true,
			Vendor:           vendor,
			SubmissionMethod: model.SubmissionOfflineOnly,
			Notes:            o.Notes,
		})
		if err != nil {
			return nil, eris.Wrapf(err, "review: reject %s as offline", id)
		}
		zap.L().Info("review: rejected portal, confirmed offline process",
			zap.String("record_id", id), zap.String("geoid", rec.JurisdictionID))
		s := Summarize(rec)
		return &s, nil
	}

	reason := "rejected in review"
	if o.Notes != "" {
		reason += ": " + o.Notes
	}
	rec, err := w.records.Invalidate(ctx, id, reason)
	if err != nil {
		return nil, eris.Wrapf(err, "review: reject %s", id)
	}
	s := Summarize(rec)
	return &s, nil
}

func (o *Overrides) validate() error {
	o.PortalURL = strings.TrimSpace(o.PortalURL)
	o.ManualInfoURL = strings.TrimSpace(o.ManualInfoURL)
	for _, raw := range []string{o.PortalURL, o.ManualInfoURL} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return eris.Wrapf(ErrInvalidOverride, "review: %q", raw)
		}
	}
	return nil
}

// Summarize converts a record to its review view.
func Summarize(r *model.JurisdictionRecord) Summary {
	return Summary{
		ID:               r.ID,
		JurisdictionID:   r.JurisdictionID,
		PortalURL:        r.Portal(),
		ManualInfoURL:    r.ManualInfo(),
		Vendor:           r.Vendor,
		SubmissionMethod: r.SubmissionMethod,
		Verified:         r.Verified,
		Invalid:          r.Invalid,
		Notes:            r.Notes,
	}
}
