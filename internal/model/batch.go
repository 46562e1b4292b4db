package model

import (
	"encoding/json"
	"time"
)

// DiscoveryJob is one search query queued for a jurisdiction on the batch path.
type DiscoveryJob struct {
	ID             string    `json:"id" db:"id"`
	JurisdictionID string    `json:"jurisdiction_id" db:"jurisdiction_id"`
	Level          Level     `json:"level" db:"level"`
	Query          string    `json:"query" db:"query"`
	Status         JobStatus `json:"status" db:"status"`
	Attempts       int       `json:"attempts" db:"attempts"`
	LastError      string    `json:"last_error,omitempty" db:"last_error"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// PortalEndpoint is a classified candidate URL worth crawling.
type PortalEndpoint struct {
	ID             string         `json:"id" db:"id"`
	JurisdictionID string         `json:"jurisdiction_id" db:"jurisdiction_id"`
	URL            string         `json:"url" db:"url"`
	Vendor         Vendor         `json:"vendor" db:"vendor"`
	Status         EndpointStatus `json:"status" db:"status"`
	LastError      string         `json:"last_error,omitempty" db:"last_error"`
	CrawledAt      *time.Time     `json:"crawled_at,omitempty" db:"crawled_at"`
}

// PortalSnapshot is one fetch of a PortalEndpoint.
type PortalSnapshot struct {
	ID             string    `json:"id" db:"id"`
	JurisdictionID string    `json:"jurisdiction_id" db:"jurisdiction_id"`
	URL            string    `json:"url" db:"url"`
	Vendor         Vendor    `json:"vendor" db:"vendor"`
	ContentHash    string    `json:"content_hash" db:"content_hash"`
	StorageRef     string    `json:"storage_ref" db:"storage_ref"`
	ContentType    string    `json:"content_type,omitempty" db:"content_type"`
	Parsed         bool      `json:"parsed" db:"parsed"`
	ParseError     string    `json:"parse_error,omitempty" db:"parse_error"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// IsPDF reports whether the snapshot holds PDF content.
func (s PortalSnapshot) IsPDF() bool {
	return s.ContentType == "application/pdf" || s.Vendor == VendorPDF
}

// Extraction is one structured item extracted from a snapshot.
type Extraction struct {
	SnapshotID string          `json:"snapshot_id" db:"snapshot_id"`
	Collection string          `json:"collection" db:"collection"`
	Item       json.RawMessage `json:"item" db:"item"`
}
