// Package records merges discovery results into the per-jurisdiction
// records. Every path that writes a jurisdiction record goes through
// Resolver so verified answers are never silently replaced.
package records

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/portal-resolver/internal/model"
	"github.com/sells-group/portal-resolver/internal/store"
)

// Store is the subset of store.Store the resolver writes through.
type Store interface {
	GetRecord(ctx context.Context, id string) (*model.JurisdictionRecord, error)
	ListRecords(ctx context.Context, jurisdictionID string) ([]model.JurisdictionRecord, error)
	InsertRecord(ctx context.Context, r *model.JurisdictionRecord) error
	UpdateRecord(ctx context.Context, r *model.JurisdictionRecord) error
	MarkVerified(ctx context.Context, id string, u store.VerifyUpdate, at time.Time) (*model.JurisdictionRecord, error)
	InvalidateRecord(ctx context.Context, id, reason string, at time.Time) (*model.JurisdictionRecord, error)
}

// Proposal is a discovery result for one jurisdiction.
type Proposal struct {
	JurisdictionID   string
	PortalURL        string
	ManualInfoURL    string
	Vendor           model.Vendor
	SubmissionMethod model.SubmissionMethod
	Notes            string
	Raw              json.RawMessage
}

// Resolver applies proposals and verification outcomes.
type Resolver struct {
	store Store
	now   func() time.Time
}

// New creates a Resolver.
func New(s Store) *Resolver {
	return &Resolver{store: s, now: func() time.Time { return time.Now().UTC() }}
}

// Upsert is the interactive write. The proposal merges into the
// jurisdiction's open record (verified first, then newest). A proposal that
// disagrees with a verified record is stored as a new unverified row for
// review instead.
func (r *Resolver) Upsert(ctx context.Context, p Proposal) (*model.JurisdictionRecord, error) {
	if p.JurisdictionID == "" {
		return nil, eris.New("records: proposal without jurisdiction")
	}
	recs, err := r.store.ListRecords(ctx, p.JurisdictionID)
	if err != nil {
		return nil, eris.Wrap(err, "records: upsert")
	}

	open := openRecord(recs, false)
	switch {
	case open == nil:
		return r.insert(ctx, p)
	case open.Authoritative() && conflicts(open, p):
		zap.L().Info("records: proposal conflicts with verified record, storing for review",
			zap.String("geoid", p.JurisdictionID),
			zap.String("record_id", open.ID),
			zap.String("url", p.PortalURL),
		)
		return r.insert(ctx, p)
	default:
		return r.merge(ctx, open, p)
	}
}

// Propose is the batch write. It only merges into an open unverified
// record that has no portal URL or the same one; anything else becomes a
// competing unverified row. A proposal matching the verified record is a
// no-op.
func (r *Resolver) Propose(ctx context.Context, p Proposal) (*model.JurisdictionRecord, error) {
	if p.JurisdictionID == "" {
		return nil, eris.New("records: proposal without jurisdiction")
	}
	recs, err := r.store.ListRecords(ctx, p.JurisdictionID)
	if err != nil {
		return nil, eris.Wrap(err, "records: propose")
	}

	if v := openRecord(recs, false); v.Authoritative() && !conflicts(v, p) {
		return v, nil
	}
	if open := openRecord(recs, true); open != nil {
		if open.PortalURL == nil || p.PortalURL == "" || open.Portal() == p.PortalURL {
			return r.merge(ctx, open, p)
		}
	}
	return r.insert(ctx, p)
}

// MarkVerified verifies one record and invalidates its siblings.
func (r *Resolver) MarkVerified(ctx context.Context, id string, u store.VerifyUpdate) (*model.JurisdictionRecord, error) {
	rec, err := r.store.MarkVerified(ctx, id, u, r.now())
	if err != nil {
		return nil, eris.Wrapf(err, "records: mark verified %s", id)
	}
	zap.L().Info("records: verified",
		zap.String("record_id", id),
		zap.String("geoid", rec.JurisdictionID),
		zap.String("url", rec.Portal()),
		zap.String("vendor", string(rec.Vendor)),
	)
	return rec, nil
}

// Invalidate soft-deletes a record, appending reason to its notes.
func (r *Resolver) Invalidate(ctx context.Context, id, reason string) (*model.JurisdictionRecord, error) {
	rec, err := r.store.InvalidateRecord(ctx, id, reason, r.now())
	if err != nil {
		return nil, eris.Wrapf(err, "records: invalidate %s", id)
	}
	zap.L().Info("records: invalidated", zap.String("record_id", id), zap.String("reason", reason))
	return rec, nil
}

// openRecord picks the record a proposal merges into: the authoritative
// record if any, otherwise the newest non-invalid one. recs is newest first.
// With unverifiedOnly the authoritative record is skipped.
func openRecord(recs []model.JurisdictionRecord, unverifiedOnly bool) *model.JurisdictionRecord {
	var newest *model.JurisdictionRecord
	for i := range recs {
		rec := &recs[i]
		if rec.Invalid {
			continue
		}
		if rec.Verified {
			if !unverifiedOnly {
				return rec
			}
			continue
		}
		if newest == nil {
			newest = rec
		}
	}
	return newest
}

// conflicts reports whether p names a different answer than rec.
func conflicts(rec *model.JurisdictionRecord, p Proposal) bool {
	if p.PortalURL != "" && p.PortalURL != rec.Portal() {
		return true
	}
	if p.PortalURL == "" && p.SubmissionMethod == model.SubmissionOfflineOnly && rec.PortalURL != nil {
		return true
	}
	return false
}

func (r *Resolver) insert(ctx context.Context, p Proposal) (*model.JurisdictionRecord, error) {
	method := p.SubmissionMethod
	if method == "" {
		method = model.SubmissionUnknown
	}
	vendor := p.Vendor
	if vendor == "" {
		vendor = model.VendorUnknown
	}
	rec := &model.JurisdictionRecord{
		JurisdictionID:   p.JurisdictionID,
		PortalURL:        model.StringPtr(p.PortalURL),
		ManualInfoURL:    model.StringPtr(p.ManualInfoURL),
		Vendor:           vendor,
		SubmissionMethod: method,
		Notes:            p.Notes,
		Raw:              p.Raw,
	}
	if err := r.store.InsertRecord(ctx, rec); err != nil {
		return nil, eris.Wrapf(err, "records: insert for %s", p.JurisdictionID)
	}
	return rec, nil
}

// merge writes the proposal's non-empty fields. An unknown submission method
// never overwrites a known one, and verified flags are untouched.
func (r *Resolver) merge(ctx context.Context, rec *model.JurisdictionRecord, p Proposal) (*model.JurisdictionRecord, error) {
	if p.PortalURL != "" {
		rec.PortalURL = model.StringPtr(p.PortalURL)
	}
	if p.ManualInfoURL != "" {
		rec.ManualInfoURL = model.StringPtr(p.ManualInfoURL)
	}
	if p.SubmissionMethod == model.SubmissionOfflineOnly && p.PortalURL == "" && !rec.Verified {
		rec.PortalURL = nil
	}
	if p.Vendor != "" && (p.Vendor != model.VendorUnknown || rec.Vendor == "") {
		rec.Vendor = p.Vendor
	}
	if p.SubmissionMethod != "" && (p.SubmissionMethod != model.SubmissionUnknown || rec.SubmissionMethod == "") {
		rec.SubmissionMethod = p.SubmissionMethod
	}
	if p.Notes != "" {
		rec.Notes = p.Notes
	}
	if len(p.Raw) > 0 {
		rec.Raw = p.Raw
	}
	if err := r.store.UpdateRecord(ctx, rec); err != nil {
		return nil, eris.Wrapf(err, "records: merge into %s", rec.ID)
	}
	return rec, nil
}
