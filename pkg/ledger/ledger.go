// Package ledger defines the engine's view of the escrow ledger: submit a
// transaction, wait for its receipt, query historical logs, and read single
// orders and balances. The ledger is authoritative; everything in this repo
// only approximates it quickly and self-corrects.
package ledger

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/ohartl/rwadex/pkg/model"
)

// ErrOrderNotFound marks a single-order read miss. Callers treat it as
// transient: the order is dropped from the batch, the batch continues.
var ErrOrderNotFound = errors.New("ledger: order not found")

// ErrRejected marks a submission the ledger refused before accepting it.
var ErrRejected = errors.New("ledger: submission rejected")

// TxHandle identifies an accepted submission. For the EVM backend it is the
// transaction hash.
type TxHandle string

// Receipt is the ledger's terminal verdict on an accepted submission.
type Receipt struct {
	Handle      TxHandle
	Success     bool
	BlockNumber uint64
	BlockTime   time.Time
	Reason      string // populated when Success is false
	OrderID     string // permanent order id, when the action created one
}

// Submission is one user action bound for the ledger.
type Submission struct {
	Kind           model.ActionKind
	PairID         string
	Amount         int64
	PricePerUnit   decimal.Decimal
	CounterOrderID string // order being filled or cancelled
}

// EventShape tags one known encoding of a historical trade event. Different
// escrow generations emit differently shaped logs for the same fact.
type EventShape string

const (
	// ShapeOrderFilled is the current escrow's fill event. It carries only
	// the order id and amount; pair, side and price must be recovered from
	// the order registry.
	ShapeOrderFilled EventShape = "OrderFilled"
	// ShapeTradeExecuted is the legacy escrow's event: amount plus total
	// price, per-unit price must be derived.
	ShapeTradeExecuted EventShape = "TradeExecuted"
	// ShapeTokensPurchased is the primary-sale contract's event with an
	// explicit per-token price.
	ShapeTokensPurchased EventShape = "TokensPurchased"
)

// KnownShapes lists every shape the history reconstructor replays.
var KnownShapes = []EventShape{ShapeOrderFilled, ShapeTradeExecuted, ShapeTokensPurchased}

// BlockRange is a closed block-number interval.
type BlockRange struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

// RawLog is one historical event, decoded only as far as named fields.
// Field value types vary by backend (*big.Int, string, uint8); the history
// decoders normalize them.
type RawLog struct {
	Shape       EventShape
	TxHash      string
	BlockNumber uint64
	Timestamp   time.Time
	Fields      map[string]interface{}
}

// Ledger is the consumed ledger interface. All calls are blocking and
// context-aware; implementations do not retry on behalf of the caller.
type Ledger interface {
	// Submit signs and sends the action. The returned handle is permanent.
	Submit(ctx context.Context, sub Submission) (TxHandle, error)
	// AwaitConfirmation blocks until the ledger reports a terminal outcome
	// for the handle or ctx is done.
	AwaitConfirmation(ctx context.Context, h TxHandle) (Receipt, error)
	// QueryLogs returns all logs of one shape for the pair within the range.
	// Shapes that do not carry a pair id return every log in range; the
	// caller filters after cross-referencing.
	QueryLogs(ctx context.Context, shape EventShape, pairID string, r BlockRange) ([]RawLog, error)
	// ActiveOrderIDs returns the ids of all currently active orders for the
	// pair.
	ActiveOrderIDs(ctx context.Context, pairID string) ([]string, error)
	// ReadOrder resolves one order id to its full record. Returns
	// ErrOrderNotFound if the ledger does not know the id.
	ReadOrder(ctx context.Context, orderID string) (model.Order, error)
	// Balance returns owner's balance of the given asset.
	Balance(ctx context.Context, owner common.Address, assetID string) (*big.Int, error)
	// IsOperatorApproved reports whether owner has delegated transfer
	// capability to the escrow.
	IsOperatorApproved(ctx context.Context, owner common.Address) (bool, error)
	// HeadBlock returns the latest observed block number.
	HeadBlock(ctx context.Context) (uint64, error)
}
