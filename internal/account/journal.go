package account

import (
	"context"
	"time"

	"outreachd/internal/ledger"
	"outreachd/internal/storage"
	logx "outreachd/pkg/logx"
)

const journalTimeout = 5 * time.Second

// storeJournal feeds terminal ledger writes into storage. The in-memory
// ledger stays authoritative; a failed write is logged and forgotten.
type storeJournal struct {
	store storage.Store
	log   logx.Logger
}

func newJournal(store storage.Store, log logx.Logger) ledger.Journal {
	if store == nil {
		return nil
	}
	return &storeJournal{store: store, log: log}
}

func (j *storeJournal) Record(account, recipientID string, state ledger.State, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	err := j.store.PutContact(ctx, storage.ContactRecord{
		Account:     account,
		RecipientID: recipientID,
		State:       string(state),
		At:          at,
	})
	if err != nil {
		j.log.Warn("contact journal write failed",
			logx.String("recipient", recipientID),
			logx.Err(err),
		)
	}
}
