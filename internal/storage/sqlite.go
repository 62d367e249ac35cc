//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "outreachd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) PutContact(ctx context.Context, r ContactRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.RecipientID == "" {
		return nil
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	// First terminal state wins, matching the in-memory ledger.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts(account, recipient_id, state, at) VALUES(?,?,?,?)
		 ON CONFLICT(account, recipient_id) DO NOTHING`,
		r.Account, r.RecipientID, r.State, r.At.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) LoadContacts(ctx context.Context, account string) ([]ContactRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT recipient_id, state, at FROM contacts WHERE account = ?`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ContactRecord
	for rows.Next() {
		var r ContactRecord
		var ms int64
		if err := rows.Scan(&r.RecipientID, &r.State, &ms); err != nil {
			return nil, err
		}
		r.Account = account
		r.At = time.UnixMilli(ms)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutConversation(ctx context.Context, r ConversationRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.RecipientID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations(account, recipient_id, first_contact, last_contact, message_count)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(account, recipient_id) DO UPDATE SET
		   last_contact=excluded.last_contact,
		   message_count=excluded.message_count`,
		r.Account, r.RecipientID, r.FirstContact.UnixMilli(), r.LastContact.UnixMilli(), r.MessageCount,
	)
	return err
}

func (s *sqliteStore) LoadConversations(ctx context.Context, account string) ([]ConversationRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT recipient_id, first_contact, last_contact, message_count
		 FROM conversations WHERE account = ?`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ConversationRecord
	for rows.Next() {
		var r ConversationRecord
		var first, last int64
		if err := rows.Scan(&r.RecipientID, &first, &last, &r.MessageCount); err != nil {
			return nil, err
		}
		r.Account = account
		r.FirstContact = time.UnixMilli(first)
		r.LastContact = time.UnixMilli(last)
		out = append(out, r)
	}
	return out, rows.Err()
}
