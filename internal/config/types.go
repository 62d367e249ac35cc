package config

// Config is the root of the outreachd configuration file (JSON or YAML).
//
// All duration-typed fields are Go duration strings (e.g. "500ms", "45s",
// "10m"); they are validated by Validate and parsed where consumed.
type Config struct {
	// Mode is the process-wide send mode: "mail" or "chat".
	Mode string `json:"mode"`

	Vendor VendorConfig `json:"vendor"`

	// InboundPoll is how often each account's unreplied inbox is scanned
	// for new inbound messages. Default 1m.
	InboundPoll string `json:"inbound_poll,omitempty"`

	Logging       LoggingConfig       `json:"logging"`
	Storage       *StorageConfig      `json:"storage,omitempty"`
	Observability ObservabilityConfig `json:"observability,omitempty"`
	Notify        *NotifyConfig       `json:"notify,omitempty"`
	Telemetry     *TelemetryConfig    `json:"telemetry,omitempty"`
	HotQueue      HotQueueConfig      `json:"hot_queue,omitempty"`

	// Accounts maps an operator-chosen account name to its settings.
	Accounts map[string]AccountConfig `json:"accounts"`
}

// VendorConfig points at the upstream platform API.
type VendorConfig struct {
	BaseURL string `json:"base_url"`
	Timeout string `json:"timeout,omitempty"` // per request; default 20s
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./outreachd_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// ObservabilityConfig controls the optional metrics/pprof/status HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type ObservabilityConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:6060"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// NotifyConfig controls operator alerts pushed over Telegram.
// Nil means disabled.
type NotifyConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"` // do not log
	ChatID     int64  `json:"chat_id"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// TelemetryConfig controls forwarding of send/inbound events to an external
// stats collector. Nil means counters only, no external sink.
type TelemetryConfig struct {
	Endpoint      string `json:"endpoint,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	ReportTimeout string `json:"report_timeout,omitempty"`
}

// HotQueueConfig tunes the cross-account shared recipient queue.
type HotQueueConfig struct {
	// TTL is how long a published recipient stays claimable. Default 10m.
	TTL string `json:"ttl,omitempty"`
	// GlobalRatePerMin caps sends across all accounts. 0 disables the gate.
	GlobalRatePerMin int `json:"global_rate_per_min,omitempty"`
}

// AccountConfig holds everything one account's dispatcher needs.
type AccountConfig struct {
	Enabled bool `json:"enabled"`

	// Credentials is the opaque session/auth blob for the vendor client.
	// Can be left empty and supplied via OUTREACHD_ACCOUNT_<NAME>_CREDENTIALS.
	Credentials string `json:"credentials,omitempty"` // do not log

	// Pool selects the recipient source: online, payers, custom-ids,
	// inbox-unreplied, or hot.
	Pool        string   `json:"pool"`
	AutoAdvance bool     `json:"auto_advance,omitempty"`
	PhotoOnly   bool     `json:"photo_only,omitempty"`
	CustomIDs   []string `json:"custom_ids,omitempty"`

	Templates  []string       `json:"templates"`
	Attachment string         `json:"attachment,omitempty"`
	Rotation   RotationConfig `json:"rotation,omitempty"`

	Delay DelayConfig `json:"delay,omitempty"`
	Retry RetryConfig `json:"retry,omitempty"`

	AutoReply *AutoReplyConfig `json:"auto_reply,omitempty"`

	// Blacklist seeds the dedup ledger: these recipient IDs are never contacted.
	Blacklist []string `json:"blacklist,omitempty"`

	// ActiveHours schedules automatic start/stop via cron expressions.
	ActiveHours *ActiveHoursConfig `json:"active_hours,omitempty"`
}

type RotationConfig struct {
	// Window is how long each template stays current. Default 1h.
	Window string `json:"window,omitempty"`
	// Cyclic wraps back to the first template after the last; otherwise the
	// rotation clamps on the final template.
	Cyclic bool `json:"cyclic,omitempty"`
}

type DelayConfig struct {
	// Smart picks a uniform random pause between SmartMin and SmartMax
	// (defaults 15s..2m). Otherwise Fixed is used (default 30s).
	Smart    bool   `json:"smart,omitempty"`
	SmartMin string `json:"smart_min,omitempty"`
	SmartMax string `json:"smart_max,omitempty"`
	Fixed    string `json:"fixed,omitempty"`
}

type RetryConfig struct {
	// MaxAttempts before a recipient is written off as errored. Default 3.
	MaxAttempts int `json:"max_attempts,omitempty"`
	// Cooldown between attempts for the same recipient. Default 60s.
	Cooldown string `json:"cooldown,omitempty"`
}

type AutoReplyConfig struct {
	Enabled bool            `json:"enabled"`
	Steps   []AutoReplyStep `json:"steps"`
	// SendTimeout bounds each step's send call. Default 30s.
	SendTimeout string `json:"send_timeout,omitempty"`
}

type AutoReplyStep struct {
	// Delay before this step fires, measured from the previous step
	// (or from chain start for the first step).
	Delay string `json:"delay"`
	Body  string `json:"body"`
}

// ActiveHoursConfig starts and stops the account's dispatch loop on cron
// schedules (standard 5-field cron specs, e.g. "0 9 * * *").
type ActiveHoursConfig struct {
	Start string `json:"start"`
	Stop  string `json:"stop"`
}
