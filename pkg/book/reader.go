// Package book reads the current order book from the ledger. Snapshots are
// rebuilt wholesale on every read; downstream consumers replace rather than
// mutate them.
package book

import (
	"context"

	"go.uber.org/zap"

	"github.com/ohartl/rwadex/pkg/ledger"
	"github.com/ohartl/rwadex/pkg/model"
	"github.com/ohartl/rwadex/pkg/util"
)

type Reader struct {
	ledger ledger.Ledger
	clock  util.Clock
	log    *zap.Logger
}

func NewReader(l ledger.Ledger, clock util.Clock, log *zap.Logger) *Reader {
	return &Reader{ledger: l, clock: clock, log: log}
}

// GetOrderBook fetches all active order ids for the pair and resolves each
// to its full record. An order whose resolution fails is dropped and logged:
// a partial fresh snapshot beats a stale or failed one. The returned snapshot
// is price-time ordered (asks ascending, bids descending, ties by earliest
// creation).
func (r *Reader) GetOrderBook(ctx context.Context, pairID string) (model.OrderBookSnapshot, error) {
	ids, err := r.ledger.ActiveOrderIDs(ctx, pairID)
	if err != nil {
		return model.OrderBookSnapshot{}, err
	}
	orders := make([]model.Order, 0, len(ids))
	for _, id := range ids {
		o, err := r.ledger.ReadOrder(ctx, id)
		if err != nil {
			r.log.Warn("dropping unresolvable order",
				zap.String("pair", pairID),
				zap.String("order", id),
				zap.Error(err))
			continue
		}
		if o.State != model.OrderActive || o.PairID != pairID {
			continue
		}
		orders = append(orders, o)
	}
	return model.BuildSnapshot(pairID, orders, r.clock.Now().UTC()), nil
}

// ReadOrder resolves a single order id, used by the history reconstructor to
// recover pair, side and price for id-only fill events.
func (r *Reader) ReadOrder(ctx context.Context, orderID string) (model.Order, error) {
	return r.ledger.ReadOrder(ctx, orderID)
}
