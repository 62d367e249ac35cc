package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "outreachd/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.contacts.jsonl (append-only journal of terminal states)
//   - <prefix>.convo.jsonl    (append-only journal; last record per key wins)
//
// Journals are periodically compacted in place: the in-memory maps are the
// merged truth and a rewrite drops superseded lines.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	contactsPath string
	contactsFile *os.File
	contacts     map[string]ContactRecord // key: account + "\x00" + recipient

	convoPath string
	convoFile *os.File
	convos    map[string]ConversationRecord

	writes int
}

const compactEvery = 1000

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	contactsPath := prefix + ".contacts.jsonl"
	convoPath := prefix + ".convo.jsonl"

	contacts := map[string]ContactRecord{}
	if err := replayJournal(contactsPath, func(b []byte) {
		var r ContactRecord
		if json.Unmarshal(b, &r) == nil && r.RecipientID != "" {
			contacts[storeKey(r.Account, r.RecipientID)] = r
		}
	}); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	convos := map[string]ConversationRecord{}
	if err := replayJournal(convoPath, func(b []byte) {
		var r ConversationRecord
		if json.Unmarshal(b, &r) == nil && r.RecipientID != "" {
			convos[storeKey(r.Account, r.RecipientID)] = r
		}
	}); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	cf, err := os.OpenFile(contactsPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	vf, err := os.OpenFile(convoPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = cf.Close()
		return nil, err
	}

	return &fileStore{
		log:          log,
		contactsPath: contactsPath,
		contactsFile: cf,
		contacts:     contacts,
		convoPath:    convoPath,
		convoFile:    vf,
		convos:       convos,
	}, nil
}

func storeKey(account, recipient string) string { return account + "\x00" + recipient }

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.contactsFile != nil {
		err1 = s.contactsFile.Close()
		s.contactsFile = nil
	}
	if s.convoFile != nil {
		err2 = s.convoFile.Close()
		s.convoFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) PutContact(ctx context.Context, r ContactRecord) error {
	_ = ctx
	if r.RecipientID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.contactsFile == nil {
		return errors.New("contacts journal closed")
	}

	key := storeKey(r.Account, r.RecipientID)
	// First terminal state wins, matching the in-memory ledger.
	if _, exists := s.contacts[key]; exists {
		return nil
	}
	s.contacts[key] = r

	if err := json.NewEncoder(s.contactsFile).Encode(r); err != nil {
		return err
	}
	s.noteWriteLocked()
	return nil
}

func (s *fileStore) LoadContacts(ctx context.Context, account string) ([]ContactRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ContactRecord, 0, len(s.contacts))
	for _, r := range s.contacts {
		if r.Account == account {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fileStore) PutConversation(ctx context.Context, r ConversationRecord) error {
	_ = ctx
	if r.RecipientID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.convoFile == nil {
		return errors.New("convo journal closed")
	}
	s.convos[storeKey(r.Account, r.RecipientID)] = r

	if err := json.NewEncoder(s.convoFile).Encode(r); err != nil {
		return err
	}
	s.noteWriteLocked()
	return nil
}

func (s *fileStore) LoadConversations(ctx context.Context, account string) ([]ConversationRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ConversationRecord, 0, len(s.convos))
	for _, r := range s.convos {
		if r.Account == account {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fileStore) noteWriteLocked() {
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
}

// compactLocked rewrites both journals so each key appears once.
func (s *fileStore) compactLocked() error {
	if err := rewriteJournal(s.contactsPath, s.contactsFile, func(enc *json.Encoder) error {
		for _, r := range s.contacts {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	}, func(f *os.File) { s.contactsFile = f }); err != nil {
		return err
	}
	return rewriteJournal(s.convoPath, s.convoFile, func(enc *json.Encoder) error {
		for _, r := range s.convos {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	}, func(f *os.File) { s.convoFile = f })
}

func rewriteJournal(path string, old *os.File, write func(*json.Encoder) error, swap func(*os.File)) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := write(json.NewEncoder(f)); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	if old != nil {
		_ = old.Close()
	}
	nf, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	swap(nf)
	return nil
}

func replayJournal(path string, apply func([]byte)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		apply(sc.Bytes())
	}
	return sc.Err()
}
