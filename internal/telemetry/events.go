package telemetry

import "time"

// Outcome labels one send attempt.
type Outcome string

const (
	OutcomeSent         Outcome = "sent"
	OutcomeIneligible   Outcome = "ineligible" // mail eligibility check said no; normal
	OutcomeTransport    Outcome = "transport_error"
	OutcomeRejected     Outcome = "rejected"
	OutcomeIgnored      Outcome = "ignored" // permanent reject pattern
	OutcomeRateLimited  Outcome = "rate_limited"
	OutcomeRetriesSpent Outcome = "retries_exhausted"
)

// SendEvent describes one send attempt, success or failure.
type SendEvent struct {
	ID            string        `json:"id"`
	Account       string        `json:"account"`
	Mode          string        `json:"mode"`
	RecipientID   string        `json:"recipient_id"`
	Outcome       Outcome       `json:"outcome"`
	Reason        string        `json:"reason,omitempty"`
	TemplateIndex int           `json:"template_index"`
	Elapsed       time.Duration `json:"elapsed"`
}

// InboundEvent describes one observed inbound message.
type InboundEvent struct {
	ID           string        `json:"id"`
	Account      string        `json:"account"`
	RecipientID  string        `json:"recipient_id"`
	ResponseTime time.Duration `json:"response_time"`
	FirstContact bool          `json:"first_contact"`
}
