// Package vendorapi is the HTTP implementation of platform.Client.
//
// This is deliberately a thin boundary: every vendor response is mapped to
// the platform error taxonomy right here (ClassifyReason is called exactly
// once, on arrival) so the core never sees vendor prose or HTTP status
// codes.
package vendorapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"outreachd/internal/platform"
	logx "outreachd/pkg/logx"
)

type Config struct {
	BaseURL string
	Timeout time.Duration // per request; default 20s
}

const sessionCacheTTL = 30 * time.Second

type Client struct {
	base   string
	client *http.Client
	log    logx.Logger

	// SessionReady has no error return, so results are cached briefly to
	// keep the dispatch loop's precondition check cheap.
	sessMu    sync.Mutex
	sessReady map[string]sessionState
}

type sessionState struct {
	ready bool
	at    time.Time
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("vendorapi: base url is empty")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("vendorapi: bad base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		base:      base,
		client:    &http.Client{Timeout: timeout},
		log:       log,
		sessReady: map[string]sessionState{},
	}, nil
}

// wire types

type recipientPayload struct {
	ID       string    `json:"id"`
	Name     string    `json:"name,omitempty"`
	HasPhoto bool      `json:"has_photo,omitempty"`
	Premium  bool      `json:"premium,omitempty"`
	LastSeen time.Time `json:"last_seen,omitempty"`
}

type errorPayload struct {
	Reason string `json:"reason"`
}

func (p recipientPayload) recipient() platform.Recipient {
	return platform.Recipient{
		ID:       p.ID,
		Name:     p.Name,
		HasPhoto: p.HasPhoto,
		Premium:  p.Premium,
		LastSeen: p.LastSeen,
	}
}

func (c *Client) FetchPool(ctx context.Context, pool platform.Pool, acct platform.AccountRef) ([]platform.Recipient, error) {
	var out struct {
		Recipients []recipientPayload `json:"recipients"`
	}
	err := c.post(ctx, "fetch_pool", "/v1/pools/"+url.PathEscape(string(pool))+"/fetch", map[string]any{
		"credentials": acct.Credentials,
	}, &out)
	if err != nil {
		return nil, err
	}
	recs := make([]platform.Recipient, 0, len(out.Recipients))
	for _, p := range out.Recipients {
		if p.ID == "" {
			continue
		}
		recs = append(recs, p.recipient())
	}
	return recs, nil
}

func (c *Client) SendChat(ctx context.Context, acct platform.AccountRef, to platform.Recipient, body string) error {
	return c.post(ctx, "send_chat", "/v1/chat/send", map[string]any{
		"credentials": acct.Credentials,
		"to":          to.ID,
		"body":        body,
	}, nil)
}

func (c *Client) CheckMailEligibility(ctx context.Context, acct platform.AccountRef, to platform.Recipient) (platform.MailToken, bool, error) {
	var out struct {
		Eligible bool   `json:"eligible"`
		Token    string `json:"token"`
	}
	err := c.post(ctx, "check_mail", "/v1/mail/check", map[string]any{
		"credentials": acct.Credentials,
		"to":          to.ID,
	}, &out)
	if err != nil {
		return "", false, err
	}
	if !out.Eligible || out.Token == "" {
		return "", false, nil
	}
	return platform.MailToken(out.Token), true, nil
}

func (c *Client) SendMail(ctx context.Context, acct platform.AccountRef, tok platform.MailToken, body string, att *platform.Attachment) error {
	payload := map[string]any{
		"credentials": acct.Credentials,
		"token":       string(tok),
		"body":        body,
	}
	if att != nil {
		payload["attachment"] = map[string]string{"name": att.Name, "url": att.URL}
	}
	return c.post(ctx, "send_mail", "/v1/mail/send", payload, nil)
}

func (c *Client) SessionReady(acct platform.AccountRef) bool {
	c.sessMu.Lock()
	if st, ok := c.sessReady[acct.ID]; ok && time.Since(st.at) < sessionCacheTTL {
		c.sessMu.Unlock()
		return st.ready
	}
	c.sessMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var out struct {
		Ready bool `json:"ready"`
	}
	err := c.post(ctx, "session", "/v1/session/check", map[string]any{
		"credentials": acct.Credentials,
	}, &out)
	ready := err == nil && out.Ready
	if err != nil {
		c.log.Debug("session check failed", logx.String("account", acct.ID), logx.Err(err))
	}

	c.sessMu.Lock()
	c.sessReady[acct.ID] = sessionState{ready: ready, at: time.Now()}
	c.sessMu.Unlock()
	return ready
}

// post runs one JSON round trip and translates failures:
//   - network/5xx → *platform.TransportError (retry with backoff)
//   - 4xx carrying a reason → *platform.RejectedError (classified here)
func (c *Client) post(ctx context.Context, op, path string, in any, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("vendorapi: marshal %s: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("vendorapi: %s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return &platform.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &platform.TransportError{Op: op, Err: err}
	}

	switch {
	case resp.StatusCode >= 500:
		return &platform.TransportError{Op: op, Err: fmt.Errorf("vendor returned %s", resp.Status)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return platform.Rejected(rejectReason(body, "rate limited"))
	case resp.StatusCode >= 400:
		return platform.Rejected(rejectReason(body, resp.Status))
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return &platform.TransportError{Op: op, Err: fmt.Errorf("bad response body: %w", err)}
		}
	}
	return nil
}

func rejectReason(body []byte, fallback string) string {
	var ep errorPayload
	if err := json.Unmarshal(body, &ep); err == nil && strings.TrimSpace(ep.Reason) != "" {
		return ep.Reason
	}
	return fallback
}
