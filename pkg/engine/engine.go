// Package engine ties the order-book reader, approval gate and optimistic
// layer together: it drives per-pair refreshes, publishes one coherent
// versioned read model at a time, and runs every user action through the
// stage -> submit -> attach -> settle lifecycle.
package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/ohartl/rwadex/pkg/approval"
	"github.com/ohartl/rwadex/pkg/book"
	"github.com/ohartl/rwadex/pkg/ledger"
	"github.com/ohartl/rwadex/pkg/model"
	"github.com/ohartl/rwadex/pkg/optimistic"
	"github.com/ohartl/rwadex/pkg/util"
)

type Config struct {
	// RefreshInterval paces the periodic Idle -> Refreshing transition.
	RefreshInterval time.Duration
	// RefreshTimeout bounds one refresh's ledger reads.
	RefreshTimeout time.Duration
	// ConfirmTimeout bounds one action's submit-and-await cycle.
	ConfirmTimeout time.Duration
	// ReconcileTimeout: persisted actions still Pending after this long are
	// re-checked against the ledger once on startup.
	ReconcileTimeout time.Duration
	// NotificationLimit caps notifications carried in the read model.
	NotificationLimit int
}

func DefaultConfig() Config {
	return Config{
		RefreshInterval:   15 * time.Second,
		RefreshTimeout:    30 * time.Second,
		ConfirmTimeout:    5 * time.Minute,
		ReconcileTimeout:  time.Minute,
		NotificationLimit: 50,
	}
}

// ReadModel is the single UI-facing object per pair. It is assembled in full
// and replaced atomically; consumers never observe an order book inconsistent
// with the approval or balance state next to it.
type ReadModel struct {
	Version       uint64                   `json:"version"`
	PairID        string                   `json:"pairId"`
	Snapshot      model.OrderBookSnapshot  `json:"snapshot"`
	Approved      bool                     `json:"approved"`
	Balances      map[string]string        `json:"balances"` // assetID -> integer string
	Pending       []model.OptimisticAction `json:"pendingActions"`
	Notifications []model.Notification     `json:"notifications"`
	RefreshedAt   time.Time                `json:"refreshedAt"`
}

type pairSync struct {
	pairID  string
	kick    chan struct{} // buffered 1: a refresh requested mid-flight coalesces
	stop    chan struct{}
	gen     uint64 // incremented on teardown; stale results are dropped
	version uint64
	current *ReadModel
}

type Engine struct {
	cfg    Config
	log    *zap.Logger
	clock  util.Clock
	ledger ledger.Ledger
	owner  common.Address
	reader *book.Reader
	gate   *approval.Gate
	cache  *optimistic.Cache
	notes  *optimistic.NotificationLedger

	mu    sync.Mutex
	pairs map[string]*pairSync
	subs  []func(ReadModel)
	wg    sync.WaitGroup
}

func New(cfg Config, owner common.Address, l ledger.Ledger, reader *book.Reader,
	gate *approval.Gate, cache *optimistic.Cache, notes *optimistic.NotificationLedger,
	clock util.Clock, log *zap.Logger) *Engine {
	if cfg.RefreshInterval <= 0 {
		cfg = DefaultConfig()
	}
	return &Engine{
		cfg:    cfg,
		log:    log,
		clock:  clock,
		ledger: l,
		owner:  owner,
		reader: reader,
		gate:   gate,
		cache:  cache,
		notes:  notes,
		pairs:  make(map[string]*pairSync),
	}
}

// Owner returns the address all optimistic state is scoped to.
func (e *Engine) Owner() common.Address { return e.owner }

// Subscribe registers a callback invoked after every read-model publication.
func (e *Engine) Subscribe(fn func(ReadModel)) {
	e.mu.Lock()
	e.subs = append(e.subs, fn)
	e.mu.Unlock()
}

// StartPair begins periodic refreshes for the pair and performs one
// immediately.
func (e *Engine) StartPair(pairID string) {
	e.mu.Lock()
	if _, exists := e.pairs[pairID]; exists {
		e.mu.Unlock()
		return
	}
	ps := &pairSync{
		pairID: pairID,
		kick:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	e.pairs[pairID] = ps
	e.mu.Unlock()

	e.wg.Add(1)
	go e.runPair(ps)
}

// StopPair tears the pair down. In-flight reads are allowed to complete but
// their results are discarded (generation token).
func (e *Engine) StopPair(pairID string) {
	e.mu.Lock()
	ps, ok := e.pairs[pairID]
	if ok {
		ps.gen++
		delete(e.pairs, pairID)
	}
	e.mu.Unlock()
	if ok {
		close(ps.stop)
	}
}

// Close stops every pair and waits for in-flight work.
func (e *Engine) Close() {
	e.mu.Lock()
	pairs := make([]*pairSync, 0, len(e.pairs))
	for _, ps := range e.pairs {
		ps.gen++
		pairs = append(pairs, ps)
	}
	e.pairs = make(map[string]*pairSync)
	e.mu.Unlock()
	for _, ps := range pairs {
		close(ps.stop)
	}
	e.wg.Wait()
}

// Refresh requests an out-of-band refresh. If one is already in flight the
// request coalesces into it.
func (e *Engine) Refresh(pairID string) error {
	e.mu.Lock()
	ps, ok := e.pairs[pairID]
	e.mu.Unlock()
	if !ok {
		return ErrUnknownPair
	}
	select {
	case ps.kick <- struct{}{}:
	default: // already queued
	}
	return nil
}

// ReadModel returns the last published read model for the pair.
func (e *Engine) ReadModel(pairID string) (ReadModel, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ps, ok := e.pairs[pairID]
	if !ok || ps.current == nil {
		return ReadModel{}, false
	}
	return *ps.current, true
}

// Pairs lists the started pairs.
func (e *Engine) Pairs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.pairs))
	for id := range e.pairs {
		out = append(out, id)
	}
	return out
}

func (e *Engine) runPair(ps *pairSync) {
	defer e.wg.Done()
	e.refreshOnce(ps)
	for {
		select {
		case <-ps.stop:
			return
		case <-ps.kick:
			e.refreshOnce(ps)
		case <-e.clock.After(e.cfg.RefreshInterval):
			e.refreshOnce(ps)
		}
	}
}

// refreshOnce is one Idle -> Refreshing -> Idle transition: read the book,
// the approval state and the balances, then publish all of it atomically.
// Any step failing leaves the previous model in place; nothing partial is
// ever published.
func (e *Engine) refreshOnce(ps *pairSync) {
	startGen := e.generation(ps)
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.RefreshTimeout)
	defer cancel()

	snap, err := e.reader.GetOrderBook(ctx, ps.pairID)
	if err != nil {
		e.log.Warn("refresh: order book read failed", zap.String("pair", ps.pairID), zap.Error(err))
		return
	}
	approved, err := e.gate.IsApproved(ctx, e.owner)
	if err != nil {
		e.log.Warn("refresh: approval read failed", zap.String("pair", ps.pairID), zap.Error(err))
		return
	}
	balances := make(map[string]string)
	for _, asset := range PairAssets(ps.pairID) {
		bal, err := e.ledger.Balance(ctx, e.owner, asset)
		if err != nil {
			e.log.Warn("refresh: balance read failed", zap.String("asset", asset), zap.Error(err))
			return
		}
		balances[asset] = bal.String()
	}

	rm := ReadModel{
		PairID:        ps.pairID,
		Snapshot:      snap,
		Approved:      approved,
		Balances:      balances,
		Pending:       e.cache.ListPending(ps.pairID),
		Notifications: e.notes.List(e.cfg.NotificationLimit),
		RefreshedAt:   e.clock.Now().UTC(),
	}
	e.publish(ps, startGen, rm)
}

func (e *Engine) generation(ps *pairSync) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ps.gen
}

func (e *Engine) publish(ps *pairSync, startGen uint64, rm ReadModel) {
	e.mu.Lock()
	if ps.gen != startGen {
		// Superseded by teardown; never surfaced as an error.
		e.mu.Unlock()
		e.log.Debug("discarding stale refresh", zap.String("pair", ps.pairID))
		return
	}
	ps.version++
	rm.Version = ps.version
	ps.current = &rm
	subs := append(([]func(ReadModel))(nil), e.subs...)
	e.mu.Unlock()

	for _, fn := range subs {
		fn(rm)
	}
}

// PairAssets splits a pair id of the form "BASE-QUOTE" into its asset ids.
func PairAssets(pairID string) []string {
	parts := strings.SplitN(pairID, "-", 2)
	if len(parts) != 2 {
		return []string{pairID}
	}
	return parts
}
