// Package ledgertest provides an in-memory Ledger for tests: scripted
// receipts, per-shape log fixtures, and injectable per-call failures.
package ledgertest

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ohartl/rwadex/pkg/ledger"
	"github.com/ohartl/rwadex/pkg/model"
)

type Fake struct {
	mu sync.Mutex

	Orders   map[string]model.Order
	Active   map[string][]string // pairID -> order ids
	Logs     map[ledger.EventShape][]ledger.RawLog
	LogErr   map[ledger.EventShape]error
	ReadErr  map[string]error // orderID -> injected read failure
	Balances map[string]*big.Int
	Approved map[common.Address]bool
	Head     uint64

	// SubmitErr fails the next Submit when set.
	SubmitErr error
	// Receipts scripts AwaitConfirmation per handle; missing handles
	// confirm successfully.
	Receipts map[ledger.TxHandle]ledger.Receipt
	// AwaitErr fails AwaitConfirmation per handle.
	AwaitErr map[ledger.TxHandle]error

	// Submissions records every accepted Submit in order.
	Submissions []ledger.Submission
	// ActiveCalls counts ActiveOrderIDs invocations (refresh coalescing
	// assertions).
	ActiveCalls int

	nextHandle int
}

func New() *Fake {
	return &Fake{
		Orders:   make(map[string]model.Order),
		Active:   make(map[string][]string),
		Logs:     make(map[ledger.EventShape][]ledger.RawLog),
		LogErr:   make(map[ledger.EventShape]error),
		ReadErr:  make(map[string]error),
		Balances: make(map[string]*big.Int),
		Approved: make(map[common.Address]bool),
		Receipts: make(map[ledger.TxHandle]ledger.Receipt),
		AwaitErr: make(map[ledger.TxHandle]error),
		Head:     1_000_000,
	}
}

func balanceKey(owner common.Address, assetID string) string {
	return owner.Hex() + ":" + assetID
}

// AddOrder registers an order and, when active, lists it for its pair.
func (f *Fake) AddOrder(o model.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Orders[o.ID] = o
	if o.State == model.OrderActive {
		f.Active[o.PairID] = append(f.Active[o.PairID], o.ID)
	}
}

func (f *Fake) SetBalance(owner common.Address, assetID string, v int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Balances[balanceKey(owner, assetID)] = big.NewInt(v)
}

// ActiveCallCount reads ActiveCalls under the lock, for assertions that run
// while the engine is still refreshing.
func (f *Fake) ActiveCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ActiveCalls
}

func (f *Fake) Submit(_ context.Context, sub ledger.Submission) (ledger.TxHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubmitErr != nil {
		err := f.SubmitErr
		f.SubmitErr = nil
		return "", err
	}
	f.nextHandle++
	f.Submissions = append(f.Submissions, sub)
	return ledger.TxHandle(fmt.Sprintf("0xfake%04d", f.nextHandle)), nil
}

func (f *Fake) AwaitConfirmation(ctx context.Context, h ledger.TxHandle) (ledger.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.AwaitErr[h]; err != nil {
		return ledger.Receipt{}, err
	}
	if r, ok := f.Receipts[h]; ok {
		r.Handle = h
		return r, nil
	}
	return ledger.Receipt{
		Handle:      h,
		Success:     true,
		BlockNumber: f.Head,
		BlockTime:   time.Now().UTC(),
	}, nil
}

func (f *Fake) QueryLogs(_ context.Context, shape ledger.EventShape, pairID string, r ledger.BlockRange) ([]ledger.RawLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.LogErr[shape]; err != nil {
		return nil, err
	}
	var out []ledger.RawLog
	for _, lg := range f.Logs[shape] {
		if lg.BlockNumber < r.From || lg.BlockNumber > r.To {
			continue
		}
		if pair, ok := lg.Fields["pairId"].(string); ok && pair != pairID {
			continue
		}
		out = append(out, lg)
	}
	return out, nil
}

func (f *Fake) ActiveOrderIDs(_ context.Context, pairID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ActiveCalls++
	return append([]string(nil), f.Active[pairID]...), nil
}

func (f *Fake) ReadOrder(_ context.Context, orderID string) (model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ReadErr[orderID]; err != nil {
		return model.Order{}, err
	}
	o, ok := f.Orders[orderID]
	if !ok {
		return model.Order{}, ledger.ErrOrderNotFound
	}
	return o, nil
}

func (f *Fake) Balance(_ context.Context, owner common.Address, assetID string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.Balances[balanceKey(owner, assetID)]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (f *Fake) IsOperatorApproved(_ context.Context, owner common.Address) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Approved[owner], nil
}

func (f *Fake) HeadBlock(_ context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Head, nil
}

var _ ledger.Ledger = (*Fake)(nil)
