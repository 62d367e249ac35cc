// Package platform defines the narrow surface through which the core talks
// to the target social platform: candidate pools, the send primitives, and
// the error taxonomy. Everything behind these types (HTTP transport, the
// authenticated browser session, DOM mechanics) is an external collaborator.
package platform

import (
	"strings"
	"time"
)

// Mode selects which delivery channel an account operates on.
type Mode string

const (
	ModeMail Mode = "mail"
	ModeChat Mode = "chat"
)

func ParseMode(s string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeMail:
		return ModeMail, true
	case ModeChat:
		return ModeChat, true
	}
	return "", false
}

// Pool names a source of candidate recipients.
type Pool string

const (
	PoolOnline         Pool = "online"
	PoolPayers         Pool = "payers"
	PoolCustomIDs      Pool = "custom-ids"
	PoolInboxUnreplied Pool = "inbox-unreplied"
	PoolHot            Pool = "hot"
)

// AdvanceOrder is the fixed priority order used when a pool runs dry and the
// account is configured to auto-advance. The hot pool is always tried first:
// a recipient another account just warmed up beats any cold candidate.
var AdvanceOrder = []Pool{PoolHot, PoolOnline, PoolPayers, PoolInboxUnreplied}

func ValidPool(p Pool) bool {
	switch p {
	case PoolOnline, PoolPayers, PoolCustomIDs, PoolInboxUnreplied, PoolHot:
		return true
	}
	return false
}

// NextPool returns the pool after p in AdvanceOrder, wrapping around.
// Pools outside the order (custom-ids) advance to the first entry.
func NextPool(p Pool) Pool {
	for i, q := range AdvanceOrder {
		if q == p {
			return AdvanceOrder[(i+1)%len(AdvanceOrder)]
		}
	}
	return AdvanceOrder[0]
}

// Recipient is the canonical recipient record. The ID is opaque to the core;
// enrichment fields are optional and filled in by Merge as batches from
// different sources describe the same person.
type Recipient struct {
	ID   string
	Name string

	// Enrichment (optional).
	HasPhoto bool
	Premium  bool
	LastSeen time.Time
}

// Merge folds enrichment from other into r without discarding anything r
// already knows. Identity fields (ID) are never overwritten; a non-zero
// field in other wins over a zero field in r.
func (r Recipient) Merge(other Recipient) Recipient {
	if r.ID == "" {
		r.ID = other.ID
	}
	if r.Name == "" {
		r.Name = other.Name
	}
	if other.HasPhoto {
		r.HasPhoto = true
	}
	if other.Premium {
		r.Premium = true
	}
	if r.LastSeen.IsZero() || other.LastSeen.After(r.LastSeen) {
		r.LastSeen = other.LastSeen
	}
	return r
}

// AccountRef identifies the calling account to the platform client.
// Credentials stay opaque to the core.
type AccountRef struct {
	ID          string
	Credentials string
}
