package history

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ohartl/rwadex/pkg/book"
	"github.com/ohartl/rwadex/pkg/ledger"
	"github.com/ohartl/rwadex/pkg/ledger/ledgertest"
	"github.com/ohartl/rwadex/pkg/model"
	"github.com/ohartl/rwadex/pkg/util"
)

func newTestReconstructor(t *testing.T, cfg Config, fake *ledgertest.Fake) *Reconstructor {
	t.Helper()
	log := zap.NewNop()
	clock := util.NewManualClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	return NewReconstructor(cfg, fake, book.NewReader(fake, clock, log), clock, log)
}

func smallConfig() Config {
	return Config{
		InitialWindow:   1_000,
		WindowGrowth:    4,
		MaxLookback:     100_000,
		SyntheticPoints: 5,
		JitterBps:       200,
	}
}

func tradeLog(block uint64, ts time.Time, pair string, amount, totalMicros int64) ledger.RawLog {
	return ledger.RawLog{
		Shape:       ledger.ShapeTradeExecuted,
		TxHash:      "0xtrade",
		BlockNumber: block,
		Timestamp:   ts,
		Fields: map[string]interface{}{
			"pairId":           pair,
			"amount":           big.NewInt(amount),
			"totalPriceMicros": big.NewInt(totalMicros),
			"side":             uint8(0),
		},
	}
}

func TestBuildHistory_RealPoints(t *testing.T) {
	fake := ledgertest.New()
	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	fake.Logs[ledger.ShapeTradeExecuted] = []ledger.RawLog{
		tradeLog(fake.Head-200, base.Add(time.Hour), "LOFT-USDC", 10, 25_000_000),
		tradeLog(fake.Head-100, base, "LOFT-USDC", 4, 8_000_000),
	}

	r := newTestReconstructor(t, smallConfig(), fake)
	hist, err := r.BuildHistory(context.Background(), "LOFT-USDC")
	require.NoError(t, err)

	require.False(t, hist.Synthetic)
	require.Len(t, hist.Points, 2)
	// Timestamp ascending regardless of discovery order.
	require.True(t, hist.Points[0].Timestamp.Before(hist.Points[1].Timestamp))
	for _, p := range hist.Points {
		require.False(t, p.Synthetic)
		require.NotEmpty(t, p.SourceTxHash)
	}
	require.Len(t, hist.SearchedWindows, 1)
}

func TestBuildHistory_WindowsExpandUntilEventsFound(t *testing.T) {
	fake := ledgertest.New()
	// Nothing in the most recent window; one trade a few thousand blocks back.
	fake.Logs[ledger.ShapeTradeExecuted] = []ledger.RawLog{
		tradeLog(fake.Head-4_000, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			"LOFT-USDC", 1, 2_000_000),
	}

	r := newTestReconstructor(t, smallConfig(), fake)
	hist, err := r.BuildHistory(context.Background(), "LOFT-USDC")
	require.NoError(t, err)

	require.False(t, hist.Synthetic)
	require.Len(t, hist.Points, 1)
	require.Len(t, hist.SearchedWindows, 2)
	require.Equal(t, fake.Head, hist.SearchedWindows[0].To)
	require.Equal(t, fake.Head-1_000, hist.SearchedWindows[1].To)
	require.Less(t, hist.SearchedWindows[1].From, hist.SearchedWindows[0].From)
}

func TestBuildHistory_FailedShapeDoesNotSuppressOthers(t *testing.T) {
	fake := ledgertest.New()
	fake.LogErr[ledger.ShapeOrderFilled] = errors.New("filter range too large")
	fake.Logs[ledger.ShapeTradeExecuted] = []ledger.RawLog{
		tradeLog(fake.Head-10, time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC),
			"LOFT-USDC", 2, 4_000_000),
	}

	r := newTestReconstructor(t, smallConfig(), fake)
	hist, err := r.BuildHistory(context.Background(), "LOFT-USDC")
	require.NoError(t, err)
	require.Len(t, hist.Points, 1)
	require.False(t, hist.Synthetic)
}

func TestBuildHistory_OrderRefCrossReference(t *testing.T) {
	fake := ledgertest.New()
	fake.AddOrder(model.Order{
		ID: "42", PairID: "LOFT-USDC", Side: model.Sell, Amount: 20,
		PricePerUnit: decimal.RequireFromString("2.0"),
		CreatedAt:    time.Now().UTC(), State: model.OrderActive,
	})
	fake.AddOrder(model.Order{
		ID: "43", PairID: "MARINA-USDC", Side: model.Buy, Amount: 5,
		PricePerUnit: decimal.RequireFromString("9.0"),
		CreatedAt:    time.Now().UTC(), State: model.OrderActive,
	})
	ts := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	fake.Logs[ledger.ShapeOrderFilled] = []ledger.RawLog{
		{
			Shape: ledger.ShapeOrderFilled, TxHash: "0xfill", BlockNumber: fake.Head - 5,
			Timestamp: ts,
			// Numeric identifier; must match the registry's string id.
			Fields: map[string]interface{}{"orderId": big.NewInt(42), "amount": big.NewInt(5)},
		},
		{
			Shape: ledger.ShapeOrderFilled, TxHash: "0xother", BlockNumber: fake.Head - 4,
			Timestamp: ts.Add(time.Minute),
			Fields:    map[string]interface{}{"orderId": "43", "amount": big.NewInt(2)},
		},
	}

	r := newTestReconstructor(t, smallConfig(), fake)
	hist, err := r.BuildHistory(context.Background(), "LOFT-USDC")
	require.NoError(t, err)

	// Only the fill whose order resolves to this pair survives.
	require.Len(t, hist.Points, 1)
	p := hist.Points[0]
	require.Equal(t, "0xfill", p.SourceTxHash)
	require.Equal(t, "2", p.Price.String()) // price recovered from the order
	require.Equal(t, model.Buy, p.Side)     // aggressor side of a sell order
	require.EqualValues(t, 5, p.Amount)
}

func TestBuildHistory_SyntheticFallback(t *testing.T) {
	fake := ledgertest.New()
	base := time.Now().UTC()
	fake.AddOrder(model.Order{
		ID: "a", PairID: "LOFT-USDC", Side: model.Sell, Amount: 1,
		PricePerUnit: decimal.RequireFromString("3.0"),
		CreatedAt:    base, State: model.OrderActive,
	})
	fake.AddOrder(model.Order{
		ID: "b", PairID: "LOFT-USDC", Side: model.Buy, Amount: 1,
		PricePerUnit: decimal.RequireFromString("2.0"),
		CreatedAt:    base, State: model.OrderActive,
	})

	cfg := smallConfig()
	r := newTestReconstructor(t, cfg, fake)
	hist, err := r.BuildHistory(context.Background(), "LOFT-USDC")
	require.NoError(t, err)

	require.True(t, hist.Synthetic)
	require.Len(t, hist.Points, cfg.SyntheticPoints)

	// Prices stay inside the jitter band around the mid price; every point
	// is flagged and none carries a transaction hash.
	lo := decimal.RequireFromString("2.45")
	hi := decimal.RequireFromString("2.55")
	for i, p := range hist.Points {
		require.True(t, p.Synthetic)
		require.Empty(t, p.SourceTxHash)
		require.True(t, p.Price.GreaterThanOrEqual(lo), p.Price.String())
		require.True(t, p.Price.LessThanOrEqual(hi), p.Price.String())
		if i > 0 {
			require.True(t, hist.Points[i-1].Timestamp.Before(p.Timestamp))
		}
	}
}

func TestBuildHistory_ConcurrentSyntheticBuilds(t *testing.T) {
	fake := ledgertest.New()
	base := time.Now().UTC()
	fake.AddOrder(model.Order{
		ID: "a", PairID: "LOFT-USDC", Side: model.Sell, Amount: 1,
		PricePerUnit: decimal.RequireFromString("3.0"),
		CreatedAt:    base, State: model.OrderActive,
	})

	cfg := smallConfig()
	r := newTestReconstructor(t, cfg, fake)

	// Builds run concurrently from API handlers; the fallback generator must
	// not share mutable state between them.
	var wg sync.WaitGroup
	results := make([]History, 4)
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.BuildHistory(context.Background(), "LOFT-USDC")
		}(i)
	}
	wg.Wait()

	for i := 0; i < 4; i++ {
		require.NoError(t, errs[i])
		require.True(t, results[i].Synthetic)
		require.Len(t, results[i].Points, cfg.SyntheticPoints)
	}
}

func TestBuildHistory_EmptyBookYieldsEmptySeries(t *testing.T) {
	fake := ledgertest.New()
	r := newTestReconstructor(t, smallConfig(), fake)

	hist, err := r.BuildHistory(context.Background(), "LOFT-USDC")
	require.NoError(t, err)
	require.Empty(t, hist.Points)
	require.False(t, hist.Synthetic)
	require.NotEmpty(t, hist.SearchedWindows) // exhaustion is reported, not hidden
}
