// Package history rebuilds a pair's trade timeline from heterogeneous
// historical ledger events. Several escrow generations encode the same fact
// differently; each known shape has its own decoder and a failure in one
// shape never suppresses the others. When no real trade exists, a clearly
// flagged synthetic series is generated instead; synthetic and real points
// never share a series.
package history

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ohartl/rwadex/pkg/book"
	"github.com/ohartl/rwadex/pkg/ledger"
	"github.com/ohartl/rwadex/pkg/model"
	"github.com/ohartl/rwadex/pkg/util"
)

type Config struct {
	// InitialWindow is the first (most recent) block window searched.
	InitialWindow uint64
	// WindowGrowth multiplies the window depth on each expansion.
	WindowGrowth uint64
	// MaxLookback bounds the total search depth in blocks.
	MaxLookback uint64
	// SyntheticPoints is the fallback series length.
	SyntheticPoints int
	// JitterBps bounds the synthetic price jitter, in basis points.
	JitterBps int64
}

func DefaultConfig() Config {
	return Config{
		InitialWindow:   5_000,
		WindowGrowth:    4,
		MaxLookback:     1_000_000,
		SyntheticPoints: 24,
		JitterBps:       200,
	}
}

// History is one materialized reconstruction. SearchedWindows reports every
// block range that was queried, so an exhausted lookback is visible rather
// than silently truncated. Synthetic series and real series never share a
// History.
type History struct {
	PairID          string              `json:"pairId"`
	Points          []model.TradePoint  `json:"points"`
	Synthetic       bool                `json:"synthetic"`
	SearchedWindows []ledger.BlockRange `json:"searchedWindows"`
}

type Reconstructor struct {
	cfg    Config
	ledger ledger.Ledger
	reader *book.Reader
	clock  util.Clock
	log    *zap.Logger
}

func NewReconstructor(cfg Config, l ledger.Ledger, reader *book.Reader, clock util.Clock, log *zap.Logger) *Reconstructor {
	if cfg.InitialWindow == 0 {
		cfg = DefaultConfig()
	}
	return &Reconstructor{
		cfg:    cfg,
		ledger: l,
		reader: reader,
		clock:  clock,
		log:    log,
	}
}

// BuildHistory materializes the pair's trade timeline once. Windows expand
// most-recent-first until events are found or MaxLookback is exhausted; the
// final sequence is timestamp-ascending.
func (r *Reconstructor) BuildHistory(ctx context.Context, pairID string) (History, error) {
	head, err := r.ledger.HeadBlock(ctx)
	if err != nil {
		return History{}, err
	}
	hist := History{PairID: pairID}

	var (
		points   []model.TradePoint
		searched uint64
		window   = r.cfg.InitialWindow
	)
	for searched < r.cfg.MaxLookback {
		if err := ctx.Err(); err != nil {
			return History{}, err
		}
		depth := searched + window
		if depth > r.cfg.MaxLookback {
			depth = r.cfg.MaxLookback
		}
		rng := ledger.BlockRange{To: head - searched}
		if head > depth {
			rng.From = head - depth + 1
		}
		hist.SearchedWindows = append(hist.SearchedWindows, rng)

		points = append(points, r.collectWindow(ctx, pairID, rng)...)
		if len(points) > 0 {
			break
		}
		if rng.From == 0 {
			break
		}
		searched = depth
		window *= r.cfg.WindowGrowth
	}

	if len(points) == 0 {
		synth, err := r.synthesize(ctx, pairID)
		if err != nil {
			return History{}, err
		}
		points = synth
		hist.Synthetic = len(synth) > 0
	}

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
	hist.Points = points
	return hist, nil
}

// collectWindow replays every known shape over one block range. A failed
// shape query is logged and contributes nothing; it never aborts the others.
func (r *Reconstructor) collectWindow(ctx context.Context, pairID string, rng ledger.BlockRange) []model.TradePoint {
	var points []model.TradePoint
	for _, shape := range ledger.KnownShapes {
		logs, err := r.ledger.QueryLogs(ctx, shape, pairID, rng)
		if err != nil {
			r.log.Warn("history: shape query failed",
				zap.String("shape", string(shape)),
				zap.Uint64("from", rng.From), zap.Uint64("to", rng.To),
				zap.Error(err))
			continue
		}
		for _, lg := range logs {
			dec, ok := decodeShape(lg)
			if !ok {
				r.log.Debug("history: unrecognized payload",
					zap.String("shape", string(shape)), zap.String("tx", lg.TxHash))
				continue
			}
			point, ok := r.resolve(ctx, pairID, dec)
			if !ok {
				continue
			}
			points = append(points, point)
		}
	}
	return points
}

// resolve finishes a decoded event: id-only events are cross-referenced
// against the order registry, and the pair is compared after identifier
// normalization so numeric and string encodings match.
func (r *Reconstructor) resolve(ctx context.Context, pairID string, dec decoded) (model.TradePoint, bool) {
	want := normalizeIdent(pairID)
	if dec.orderRef == "" {
		if normalizeIdent(dec.pairID) != want {
			return model.TradePoint{}, false
		}
		return dec.point, true
	}
	order, err := r.reader.ReadOrder(ctx, dec.orderRef)
	if err != nil {
		r.log.Warn("history: order lookup failed",
			zap.String("order", dec.orderRef), zap.Error(err))
		return model.TradePoint{}, false
	}
	if normalizeIdent(order.PairID) != want {
		return model.TradePoint{}, false
	}
	point := dec.point
	point.Price = order.PricePerUnit
	point.Side = order.Side.Opposite() // the fill's aggressor takes the other side
	return point, true
}

// synthesize produces the fallback series: hourly points seeded from current
// active order prices with bounded jitter, every point flagged synthetic. An
// empty book yields an empty series. The jitter source is created per call;
// builds may run concurrently from API handlers.
func (r *Reconstructor) synthesize(ctx context.Context, pairID string) ([]model.TradePoint, error) {
	snap, err := r.reader.GetOrderBook(ctx, pairID)
	if err != nil {
		return nil, err
	}
	seed, ok := seedPrice(snap)
	if !ok {
		return nil, nil
	}
	now := r.clock.Now().UTC()
	rng := rand.New(rand.NewSource(now.UnixNano()))
	points := make([]model.TradePoint, 0, r.cfg.SyntheticPoints)
	for i := r.cfg.SyntheticPoints; i > 0; i-- {
		jitter := decimal.NewFromInt(rng.Int63n(2*r.cfg.JitterBps+1) - r.cfg.JitterBps).
			Div(decimal.NewFromInt(10_000))
		side := model.Buy
		if rng.Intn(2) == 1 {
			side = model.Sell
		}
		points = append(points, model.TradePoint{
			Timestamp: now.Add(-time.Duration(i) * time.Hour),
			Price:     seed.Mul(decimal.NewFromInt(1).Add(jitter)),
			Amount:    1 + rng.Int63n(10),
			Side:      side,
			Synthetic: true,
		})
	}
	return points, nil
}

func seedPrice(snap model.OrderBookSnapshot) (decimal.Decimal, bool) {
	ask, hasAsk := snap.BestAsk()
	bid, hasBid := snap.BestBid()
	switch {
	case hasAsk && hasBid:
		return ask.PricePerUnit.Add(bid.PricePerUnit).Div(decimal.NewFromInt(2)), true
	case hasAsk:
		return ask.PricePerUnit, true
	case hasBid:
		return bid.PricePerUnit, true
	}
	return decimal.Zero, false
}
