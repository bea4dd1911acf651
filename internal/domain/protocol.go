package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ProtocolStatus string

const (
	ProtocolStatusOpen     ProtocolStatus = "OPEN"
	ProtocolStatusInReview ProtocolStatus = "IN_REVIEW"
	ProtocolStatusClosed   ProtocolStatus = "CLOSED"
)

// ExecutionProtocol is a finalized inspection/maintenance report. The record
// is created and closed by the source-of-truth system; this service only ever
// reads it. Snapshot is the full finalized document and is passed through
// unmodified.
type ExecutionProtocol struct {
	ID        string
	TenantID  string
	SiteID    string
	PlantID   string
	Status    ProtocolStatus
	CreatedAt time.Time
	ClosedAt  time.Time
	UpdatedAt time.Time
	Snapshot  json.RawMessage
}

// ProtocolMeta is the list projection used for polling responses. It excludes
// the snapshot body.
type ProtocolMeta struct {
	ID        string         `json:"id"`
	SiteID    string         `json:"siteId"`
	PlantID   string         `json:"plantId"`
	Status    ProtocolStatus `json:"status"`
	ClosedAt  time.Time      `json:"closedAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

func (p ExecutionProtocol) Meta() ProtocolMeta {
	return ProtocolMeta{
		ID:        p.ID,
		SiteID:    p.SiteID,
		PlantID:   p.PlantID,
		Status:    p.Status,
		ClosedAt:  p.ClosedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func (s ProtocolStatus) Valid() bool {
	switch s {
	case ProtocolStatusOpen, ProtocolStatusInReview, ProtocolStatusClosed:
		return true
	}
	return false
}

func (p ExecutionProtocol) Validate() error {
	if !ValidProtocolID(p.ID) {
		return errors.New("protocol id must be a UUID v4")
	}
	if strings.TrimSpace(p.TenantID) == "" {
		return errors.New("tenant id is required")
	}
	if !p.Status.Valid() {
		return errors.New("invalid protocol status")
	}
	if p.UpdatedAt.IsZero() {
		return errors.New("updated at is required")
	}
	return nil
}

// ValidProtocolID reports whether id is a canonical dashed-hex UUID v4
// (case-insensitive).
func ValidProtocolID(id string) bool {
	id = strings.TrimSpace(id)
	if len(id) != 36 {
		return false
	}
	u, err := uuid.Parse(id)
	if err != nil {
		return false
	}
	return u.Version() == 4 && u.Variant() == uuid.RFC4122
}

// CanonicalProtocolID lowercases a valid protocol id into its canonical form.
// The second return is false when the id is not a UUID v4.
func CanonicalProtocolID(id string) (string, bool) {
	if !ValidProtocolID(id) {
		return "", false
	}
	u, _ := uuid.Parse(strings.TrimSpace(id))
	return u.String(), true
}
