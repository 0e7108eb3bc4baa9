package optimistic

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ohartl/rwadex/pkg/model"
	"github.com/ohartl/rwadex/pkg/storage"
)

// NoteStore is the persistence surface the notification ledger needs.
type NoteStore interface {
	SaveNotification(owner common.Address, seq uint64, n model.Notification) error
	LoadNotifications(owner common.Address) ([]storage.StoredNotification, error)
}

// NotificationLedger mirrors the action cache one-to-one for user-facing
// status. Entries are created atomically with their action and updated in
// lock-step with it; display order is insertion order, most recent first.
type NotificationLedger struct {
	mu      sync.Mutex
	owner   common.Address
	store   NoteStore
	log     *zap.Logger
	entries []*model.Notification // insertion order, oldest first
	byLink  map[string]int        // linkedLocalId -> index into entries
	seqs    map[string]uint64     // notification id -> persisted seq
	lastSeq uint64
}

func NewNotificationLedger(store NoteStore, owner common.Address, log *zap.Logger) (*NotificationLedger, error) {
	stored, err := store.LoadNotifications(owner)
	if err != nil {
		return nil, err
	}
	nl := &NotificationLedger{
		owner:  owner,
		store:  store,
		log:    log,
		byLink: make(map[string]int),
		seqs:   make(map[string]uint64),
	}
	for _, sn := range stored {
		n := sn.Note
		nl.entries = append(nl.entries, &n)
		nl.byLink[n.LinkedLocalID] = len(nl.entries) - 1
		nl.seqs[n.ID] = sn.Seq
		if sn.Seq > nl.lastSeq {
			nl.lastSeq = sn.Seq
		}
	}
	return nl, nil
}

// Notify creates the Pending notification for a just-staged action.
func (nl *NotificationLedger) Notify(linkedLocalID, title, message string) (model.Notification, error) {
	nl.mu.Lock()
	defer nl.mu.Unlock()
	n := model.Notification{
		ID:            uuid.NewString(),
		LinkedLocalID: linkedLocalID,
		Title:         title,
		Message:       message,
		Status:        model.NotePending,
		CreatedAt:     time.Now().UTC(),
	}
	nl.lastSeq++
	if err := nl.store.SaveNotification(nl.owner, nl.lastSeq, n); err != nil {
		return model.Notification{}, err
	}
	nl.entries = append(nl.entries, &n)
	nl.byLink[linkedLocalID] = len(nl.entries) - 1
	nl.seqs[n.ID] = nl.lastSeq
	return n, nil
}

// UpdateForOutcome moves the linked notification to Completed or Failed in
// the same logical step as the action's settle.
func (nl *NotificationLedger) UpdateForOutcome(linkedLocalID string, outcome model.Outcome, detail string) error {
	nl.mu.Lock()
	defer nl.mu.Unlock()
	idx, ok := nl.byLink[linkedLocalID]
	if !ok {
		return ErrUnknownAction
	}
	n := nl.entries[idx]
	switch outcome {
	case model.StatusConfirmed:
		n.Status = model.NoteCompleted
	case model.StatusFailed:
		n.Status = model.NoteFailed
	}
	if detail != "" {
		n.Message = detail
	}
	return nl.store.SaveNotification(nl.owner, nl.seqs[n.ID], *n)
}

// List returns up to limit notifications, most recent first. limit <= 0
// means all.
func (nl *NotificationLedger) List(limit int) []model.Notification {
	nl.mu.Lock()
	defer nl.mu.Unlock()
	if limit <= 0 || limit > len(nl.entries) {
		limit = len(nl.entries)
	}
	out := make([]model.Notification, 0, limit)
	for i := len(nl.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *nl.entries[i])
	}
	return out
}
