package model

import (
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	}
	return "unknown"
}

// Opposite returns the counterparty side of a fill.
func (s Side) Opposite() Side { return -s }

type OrderState int8

const (
	OrderActive OrderState = iota
	OrderFilled
	OrderCancelled
)

func (st OrderState) String() string {
	switch st {
	case OrderActive:
		return "active"
	case OrderFilled:
		return "filled"
	case OrderCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Order is an escrow order as observed on the ledger. ID is empty until the
// ledger has assigned one. Amount and PricePerUnit never change after
// creation; only State and FilledAmount transition.
type Order struct {
	ID           string          `json:"id"`
	Maker        common.Address  `json:"maker"`
	PairID       string          `json:"pairId"`
	Side         Side            `json:"side"`
	Amount       int64           `json:"amount"`
	FilledAmount int64           `json:"filledAmount"`
	PricePerUnit decimal.Decimal `json:"pricePerUnit"`
	CreatedAt    time.Time       `json:"createdAt"`
	ExpiresAt    *time.Time      `json:"expiresAt,omitempty"`
	State        OrderState      `json:"state"`
}

// Remaining returns the unfilled amount.
func (o *Order) Remaining() int64 { return o.Amount - o.FilledAmount }

// OrderBookSnapshot is a whole-book view for one pair. Snapshots are built
// once and replaced wholesale on refresh, never mutated in place.
type OrderBookSnapshot struct {
	PairID string    `json:"pairId"`
	Asks   []Order   `json:"asks"` // price ascending, earliest-created first on ties
	Bids   []Order   `json:"bids"` // price descending, earliest-created first on ties
	AsOf   time.Time `json:"asOf"`
}

// BuildSnapshot partitions orders into asks and bids and applies price-time
// priority: asks ascending by price, bids descending, ties broken by the
// earlier CreatedAt.
func BuildSnapshot(pairID string, orders []Order, asOf time.Time) OrderBookSnapshot {
	snap := OrderBookSnapshot{PairID: pairID, AsOf: asOf}
	for _, o := range orders {
		switch o.Side {
		case Sell:
			snap.Asks = append(snap.Asks, o)
		case Buy:
			snap.Bids = append(snap.Bids, o)
		}
	}
	sort.SliceStable(snap.Asks, func(i, j int) bool {
		if !snap.Asks[i].PricePerUnit.Equal(snap.Asks[j].PricePerUnit) {
			return snap.Asks[i].PricePerUnit.LessThan(snap.Asks[j].PricePerUnit)
		}
		return snap.Asks[i].CreatedAt.Before(snap.Asks[j].CreatedAt)
	})
	sort.SliceStable(snap.Bids, func(i, j int) bool {
		if !snap.Bids[i].PricePerUnit.Equal(snap.Bids[j].PricePerUnit) {
			return snap.Bids[i].PricePerUnit.GreaterThan(snap.Bids[j].PricePerUnit)
		}
		return snap.Bids[i].CreatedAt.Before(snap.Bids[j].CreatedAt)
	})
	return snap
}

// BestAsk returns the lowest-priced ask, if any.
func (s *OrderBookSnapshot) BestAsk() (Order, bool) {
	if len(s.Asks) == 0 {
		return Order{}, false
	}
	return s.Asks[0], true
}

// BestBid returns the highest-priced bid, if any.
func (s *OrderBookSnapshot) BestBid() (Order, bool) {
	if len(s.Bids) == 0 {
		return Order{}, false
	}
	return s.Bids[0], true
}

// TradePoint is one point of reconstructed trade history. Synthetic points
// come from the fallback generator and must never be mixed with real ones in
// a single series.
type TradePoint struct {
	Timestamp    time.Time       `json:"timestamp"`
	Price        decimal.Decimal `json:"price"`
	Amount       int64           `json:"amount"`
	Side         Side            `json:"side"`
	SourceTxHash string          `json:"sourceTxHash,omitempty"`
	Synthetic    bool            `json:"synthetic"`
}
