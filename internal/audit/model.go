// Package audit keeps a tamper-evident trail of operator changes to the
// café index: café creates, patches and deletes, and weight updates.
package audit

import (
	"time"
)

// Actions recorded for operator changes.
const (
	ActionCafeCreate    = "cafe_create"
	ActionCafePatch     = "cafe_patch"
	ActionCafeDelete    = "cafe_delete"
	ActionWeightsUpdate = "weights_update"
)

// Entry is one recorded change.
type Entry struct {
	ID        string    `json:"id"`
	Operator  string    `json:"operator"`
	Action    string    `json:"action"`
	CafeID    int64     `json:"cafe_id,omitempty"` // zero for weight updates
	RequestID string    `json:"request_id,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"` // anonymized
	CreatedAt time.Time `json:"created_at"`

	// PreviousHash is the Hash of the entry appended before this one.
	PreviousHash string `json:"previous_hash,omitempty"`
	Hash         string `json:"hash"`
}

// Filter selects entries. Zero fields match everything.
type Filter struct {
	Operator string
	CafeID   int64
	From     time.Time // inclusive
	To       time.Time // inclusive
	Limit    int
}

func (f Filter) match(e Entry) bool {
	if f.Operator != "" && e.Operator != f.Operator {
		return false
	}
	if f.CafeID != 0 && e.CafeID != f.CafeID {
		return false
	}
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.CreatedAt.After(f.To) {
		return false
	}
	return true
}
