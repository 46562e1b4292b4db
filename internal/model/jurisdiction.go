// Package model defines the entities shared by the resolution pipeline.
package model

import (
	"encoding/json"
	"time"
)

// Jurisdiction is immutable reference data for a permit-issuing government.
type Jurisdiction struct {
	GeoID        string `json:"geoid" db:"geoid"`
	Name         string `json:"name" db:"name"`
	Level        Level  `json:"level" db:"level"`
	ParentCounty string `json:"parent_county,omitempty" db:"parent_county"`
	Homepage     string `json:"homepage,omitempty" db:"homepage"`
	CodesURL     string `json:"codes_url,omitempty" db:"codes_url"`
	PermitsURL   string `json:"permits_url,omitempty" db:"permits_url"`
}

// CandidateRecord is one discovered URL with its provenance. Rows are never
// updated or deleted.
type CandidateRecord struct {
	ID             string     `json:"id" db:"id"`
	JurisdictionID string     `json:"jurisdiction_id" db:"jurisdiction_id"`
	SourceURL      string     `json:"source_url" db:"source_url"`
	Tier           SourceTier `json:"tier" db:"tier"`
	Query          string     `json:"query,omitempty" db:"query"`
	Vendor         Vendor     `json:"vendor" db:"vendor"`
	Confidence     float64    `json:"confidence" db:"confidence"`
	Notes          string     `json:"notes,omitempty" db:"notes"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// JurisdictionRecord is the proposed or authoritative resolution for one
// jurisdiction (the jurisdiction_meta table).
type JurisdictionRecord struct {
	ID               string           `json:"id" db:"id"`
	JurisdictionID   string           `json:"jurisdiction_id" db:"jurisdiction_id"`
	PortalURL        *string          `json:"portal_url,omitempty" db:"portal_url"`
	ManualInfoURL    *string          `json:"manual_info_url,omitempty" db:"manual_info_url"`
	Vendor           Vendor           `json:"vendor_type" db:"vendor_type"`
	SubmissionMethod SubmissionMethod `json:"submission_method" db:"submission_method"`
	Verified         bool             `json:"verified" db:"verified"`
	VerifiedAt       *time.Time       `json:"verified_at,omitempty" db:"verified_at"`
	Invalid          bool             `json:"invalid" db:"invalid"`
	InvalidAt        *time.Time       `json:"invalid_at,omitempty" db:"invalid_at"`
	Notes            string           `json:"notes,omitempty" db:"notes"`
	Raw              json.RawMessage  `json:"raw,omitempty" db:"raw"`
	VerifySnippet    string           `json:"verify_snippet,omitempty" db:"verify_snippet"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at" db:"updated_at"`
}

// Authoritative reports whether the record is the jurisdiction's single
// verified answer.
func (r *JurisdictionRecord) Authoritative() bool {
	return r != nil && r.Verified && !r.Invalid
}

// Portal returns the portal URL or "" when unset.
func (r *JurisdictionRecord) Portal() string {
	if r == nil || r.PortalURL == nil {
		return ""
	}
	return *r.PortalURL
}

// ManualInfo returns the offline instructions URL or "" when unset.
func (r *JurisdictionRecord) ManualInfo() string {
	if r == nil || r.ManualInfoURL == nil {
		return ""
	}
	return *r.ManualInfoURL
}

// StringPtr returns nil for the empty string, otherwise a pointer to s.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// AIUsage is the per-day count of expensive-tier oracle calls.
type AIUsage struct {
	Day   string `json:"day" db:"day"`
	Count int64  `json:"count" db:"count"`
}
