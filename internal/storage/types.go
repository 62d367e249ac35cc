package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl journal + snapshot)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ContactRecord is one terminal dedup-ledger write.
// Keep it compact and schema-stable.
type ContactRecord struct {
	Account     string    `json:"account"`
	RecipientID string    `json:"recipient_id"`
	State       string    `json:"state"`
	At          time.Time `json:"at"`
}

// ConversationRecord mirrors one conversation tracker entry.
type ConversationRecord struct {
	Account      string    `json:"account"`
	RecipientID  string    `json:"recipient_id"`
	FirstContact time.Time `json:"first_contact"`
	LastContact  time.Time `json:"last_contact"`
	MessageCount int       `json:"message_count"`
}
