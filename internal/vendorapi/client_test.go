package vendorapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"outreachd/internal/platform"
	logx "outreachd/pkg/logx"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewRejectsEmptyBaseURL(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{}, logx.Nop()); err == nil {
		t.Fatal("empty base url must be rejected")
	}
}

func TestFetchPool(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/pools/online/fetch" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var in map[string]any
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if in["credentials"] != "blob" {
			t.Errorf("credentials = %v", in["credentials"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"recipients": []map[string]any{
				{"id": "r1", "name": "Ann", "has_photo": true},
				{"id": ""}, // malformed entries are skipped
			},
		})
	}))

	recs, err := c.FetchPool(context.Background(), platform.PoolOnline, platform.AccountRef{ID: "a1", Credentials: "blob"})
	if err != nil {
		t.Fatalf("FetchPool: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "r1" || !recs[0].HasPhoto {
		t.Fatalf("recipients = %+v", recs)
	}
}

func TestSendChatErrorMapping(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		status  int
		body    string
		check   func(t *testing.T, err error)
	}{
		{
			name:   "success",
			status: http.StatusOK,
			body:   `{}`,
			check: func(t *testing.T, err error) {
				if err != nil {
					t.Fatalf("err = %v", err)
				}
			},
		},
		{
			name:   "server error is transport",
			status: http.StatusInternalServerError,
			body:   `oops`,
			check: func(t *testing.T, err error) {
				if !platform.IsTransport(err) {
					t.Fatalf("err = %v, want transport", err)
				}
			},
		},
		{
			name:   "429 is a rate-limit rejection",
			status: http.StatusTooManyRequests,
			body:   `{}`,
			check: func(t *testing.T, err error) {
				re, ok := platform.AsRejected(err)
				if !ok || re.Code != platform.RejectRateLimited {
					t.Fatalf("err = %v, want rate-limited rejection", err)
				}
			},
		},
		{
			name:   "4xx reason is classified on arrival",
			status: http.StatusForbidden,
			body:   `{"reason": "user is ignoring you"}`,
			check: func(t *testing.T, err error) {
				re, ok := platform.AsRejected(err)
				if !ok || re.Code != platform.RejectIgnoring {
					t.Fatalf("err = %v, want ignoring rejection", err)
				}
				if !re.Permanent() {
					t.Fatal("ignoring must be permanent")
				}
			},
		},
		{
			name:   "4xx without reason falls back to status",
			status: http.StatusBadRequest,
			body:   `not json`,
			check: func(t *testing.T, err error) {
				re, ok := platform.AsRejected(err)
				if !ok || re.Code != platform.RejectGeneric {
					t.Fatalf("err = %v, want generic rejection", err)
				}
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			err := c.SendChat(context.Background(), platform.AccountRef{ID: "a1"}, platform.Recipient{ID: "r1"}, "hi")
			tt.check(t, err)
		})
	}
}

func TestCheckMailEligibility(t *testing.T) {
	t.Parallel()
	eligible := true
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"eligible": eligible, "token": "tok1"})
	}))

	tok, ok, err := c.CheckMailEligibility(context.Background(), platform.AccountRef{ID: "a1"}, platform.Recipient{ID: "r1"})
	if err != nil || !ok || tok != "tok1" {
		t.Fatalf("CheckMailEligibility = %v, %v, %v", tok, ok, err)
	}

	eligible = false
	if _, ok, err := c.CheckMailEligibility(context.Background(), platform.AccountRef{ID: "a1"}, platform.Recipient{ID: "r1"}); err != nil || ok {
		t.Fatalf("ineligible = %v, %v; want false, nil", ok, err)
	}
}

func TestSendMailCarriesAttachment(t *testing.T) {
	t.Parallel()
	var got map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{}`))
	}))

	att := &platform.Attachment{Name: "pic.jpg", URL: "https://cdn.example.test/pic.jpg"}
	if err := c.SendMail(context.Background(), platform.AccountRef{ID: "a1"}, "tok1", "hello", att); err != nil {
		t.Fatalf("SendMail: %v", err)
	}
	if got["token"] != "tok1" {
		t.Fatalf("token = %v", got["token"])
	}
	a, ok := got["attachment"].(map[string]any)
	if !ok || a["name"] != "pic.jpg" {
		t.Fatalf("attachment = %v", got["attachment"])
	}
}

func TestSessionReadyIsCached(t *testing.T) {
	t.Parallel()
	var calls atomic.Int64
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"ready": true})
	}))

	acct := platform.AccountRef{ID: "a1"}
	if !c.SessionReady(acct) {
		t.Fatal("SessionReady = false, want true")
	}
	if !c.SessionReady(acct) {
		t.Fatal("cached SessionReady = false, want true")
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("session check calls = %d, want 1 (cached)", n)
	}

	// A different account misses the cache.
	c.SessionReady(platform.AccountRef{ID: "a2"})
	if n := calls.Load(); n != 2 {
		t.Fatalf("session check calls = %d, want 2", n)
	}
}

func TestNetworkFailureIsTransport(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // connection refused from here on
	c, err := New(Config{BaseURL: srv.URL}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sendErr := c.SendChat(context.Background(), platform.AccountRef{ID: "a1"}, platform.Recipient{ID: "r1"}, "hi")
	if !platform.IsTransport(sendErr) {
		t.Fatalf("err = %v, want transport", sendErr)
	}
}
