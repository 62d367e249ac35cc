package storage

import (
	"context"
	"errors"
	"strings"

	logx "outreachd/pkg/logx"
)

// Store is the minimal persistence API used by accounts.
type Store interface {
	PutContact(ctx context.Context, r ContactRecord) error
	LoadContacts(ctx context.Context, account string) ([]ContactRecord, error)
	PutConversation(ctx context.Context, r ConversationRecord) error
	LoadConversations(ctx context.Context, account string) ([]ConversationRecord, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
