// Package optimistic is the local staging area for user actions: records are
// written the instant the user acts, rewritten in place when the ledger
// assigns a permanent handle, and settled once the ledger reports an outcome.
// Every transition is keyed by localId, never by matching on content, so
// concurrent identical actions cannot cross-contaminate.
package optimistic

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ohartl/rwadex/pkg/model"
)

var (
	// ErrUnknownAction rejects transitions for a localId that was never
	// staged; out-of-order lifecycles are impossible by construction.
	ErrUnknownAction = errors.New("optimistic: unknown localId")
	// ErrAlreadySettled rejects transitions on a terminal record.
	ErrAlreadySettled = errors.New("optimistic: action already settled")
	// ErrDuplicateLocalID rejects staging a localId twice.
	ErrDuplicateLocalID = errors.New("optimistic: duplicate localId")
)

// ActionStore is the persistence surface the cache needs.
type ActionStore interface {
	SaveAction(owner common.Address, a model.OptimisticAction) error
	LoadActions(owner common.Address) ([]model.OptimisticAction, error)
}

// Cache holds one account's optimistic actions. Single writer per localId;
// the mutex only guards the maps against concurrent readers.
type Cache struct {
	mu    sync.Mutex
	owner common.Address
	store ActionStore
	log   *zap.Logger
	byID  map[string]*model.OptimisticAction
	order []string // localIds in staging order
}

// NewCache loads any persisted actions for owner.
func NewCache(store ActionStore, owner common.Address, log *zap.Logger) (*Cache, error) {
	c := &Cache{
		owner: owner,
		store: store,
		log:   log,
		byID:  make(map[string]*model.OptimisticAction),
	}
	actions, err := store.LoadActions(owner)
	if err != nil {
		return nil, err
	}
	sort.Slice(actions, func(i, j int) bool {
		return actions[i].CreatedAt.Before(actions[j].CreatedAt)
	})
	for i := range actions {
		a := actions[i]
		c.byID[a.LocalID] = &a
		c.order = append(c.order, a.LocalID)
	}
	return c, nil
}

// Stage records a Pending action before any network call is made and returns
// its localId. A missing localId is generated; a duplicate is rejected.
func (c *Cache) Stage(a model.OptimisticAction) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a.LocalID == "" {
		a.LocalID = uuid.NewString()
	}
	if _, exists := c.byID[a.LocalID]; exists {
		return "", ErrDuplicateLocalID
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.Status = model.StatusPending
	if err := c.store.SaveAction(c.owner, a); err != nil {
		return "", err
	}
	c.byID[a.LocalID] = &a
	c.order = append(c.order, a.LocalID)
	return a.LocalID, nil
}

// AttachHandle rewrites the entry in place once the ledger accepts the
// submission. Unknown ids never touch another record. The transition is
// applied to a copy and committed only after it is persisted, so memory and
// disk cannot diverge across a restart.
func (c *Cache) AttachHandle(localID, handle string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.byID[localID]
	if !ok {
		return ErrUnknownAction
	}
	if a.Terminal() {
		return ErrAlreadySettled
	}
	updated := *a
	updated.LedgerHandle = handle
	if err := c.store.SaveAction(c.owner, updated); err != nil {
		return err
	}
	*a = updated
	return nil
}

// Settle is the only path that changes Status. Failed records are retained
// for audit but stop affecting the live view immediately.
func (c *Cache) Settle(localID string, outcome model.Outcome, reason string) error {
	if outcome != model.StatusConfirmed && outcome != model.StatusFailed {
		return errors.New("optimistic: outcome must be confirmed or failed")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.byID[localID]
	if !ok {
		return ErrUnknownAction
	}
	if a.Terminal() {
		return ErrAlreadySettled
	}
	now := time.Now().UTC()
	updated := *a
	updated.Status = outcome
	updated.FailReason = reason
	updated.SettledAt = &now
	if err := c.store.SaveAction(c.owner, updated); err != nil {
		return err
	}
	*a = updated
	return nil
}

// Get returns a copy of the action, if staged.
func (c *Cache) Get(localID string) (model.OptimisticAction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.byID[localID]
	if !ok {
		return model.OptimisticAction{}, false
	}
	return *a, true
}

// ListPending returns every non-terminal action for the pair, in staging
// order. Pair-independent actions (the approval grant) are included for
// every pair.
func (c *Cache) ListPending(pairID string) []model.OptimisticAction {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []model.OptimisticAction
	for _, id := range c.order {
		a := c.byID[id]
		if a.Terminal() {
			continue
		}
		if a.PairID != pairID && a.PairID != "" {
			continue
		}
		out = append(out, *a)
	}
	return out
}

// StalePending returns pending actions created before the cutoff; used on
// startup to re-check persisted entries against the ledger once before they
// are surfaced.
func (c *Cache) StalePending(cutoff time.Time) []model.OptimisticAction {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []model.OptimisticAction
	for _, id := range c.order {
		a := c.byID[id]
		if !a.Terminal() && a.CreatedAt.Before(cutoff) {
			out = append(out, *a)
		}
	}
	return out
}
