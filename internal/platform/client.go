package platform

import "context"

// MailToken is the opaque proof from a successful eligibility check. It is
// only valid for the immediately following SendMail call.
type MailToken string

// Attachment is an optional payload sent along with a mail body.
type Attachment struct {
	Name string
	URL  string
}

// Client is the platform collaborator. Implementations wrap the real
// transport (HTTP API plus the authenticated browser session); the core only
// sees these calls and the error taxonomy in errors.go.
//
// All methods honor ctx cancellation.
type Client interface {
	// FetchPool returns a batch of raw candidates from the named pool.
	// An empty batch is a normal outcome, not an error.
	FetchPool(ctx context.Context, pool Pool, acct AccountRef) ([]Recipient, error)

	// SendChat delivers a chat message.
	SendChat(ctx context.Context, acct AccountRef, to Recipient, body string) error

	// CheckMailEligibility is phase one of the two-phase mail send.
	// ok=false with a nil error means the recipient cannot currently
	// receive mail from this account; that is a normal outcome.
	CheckMailEligibility(ctx context.Context, acct AccountRef, to Recipient) (tok MailToken, ok bool, err error)

	// SendMail is phase two; tok must come from CheckMailEligibility.
	SendMail(ctx context.Context, acct AccountRef, tok MailToken, body string, att *Attachment) error

	// SessionReady reports whether the authenticated channel behind this
	// account is usable. The dispatch loop treats false as a wait
	// condition.
	SessionReady(acct AccountRef) bool
}
