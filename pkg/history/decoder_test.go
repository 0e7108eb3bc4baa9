package history

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ohartl/rwadex/pkg/ledger"
	"github.com/ohartl/rwadex/pkg/model"
)

func rawLog(shape ledger.EventShape, fields map[string]interface{}) ledger.RawLog {
	return ledger.RawLog{
		Shape:       shape,
		TxHash:      "0xabc",
		BlockNumber: 100,
		Timestamp:   time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC),
		Fields:      fields,
	}
}

func TestDecodeTradeExecuted(t *testing.T) {
	dec, ok := decodeShape(rawLog(ledger.ShapeTradeExecuted, map[string]interface{}{
		"pairId":           "LOFT-USDC",
		"amount":           big.NewInt(10),
		"totalPriceMicros": big.NewInt(25_000_000),
		"side":             uint8(1),
	}))
	require.True(t, ok)
	require.Equal(t, "LOFT-USDC", dec.pairID)
	require.Empty(t, dec.orderRef)
	require.Equal(t, "2.5", dec.point.Price.String()) // total / amount
	require.EqualValues(t, 10, dec.point.Amount)
	require.Equal(t, model.Sell, dec.point.Side)
	require.Equal(t, "0xabc", dec.point.SourceTxHash)
}

func TestDecodeTokensPurchased(t *testing.T) {
	dec, ok := decodeShape(rawLog(ledger.ShapeTokensPurchased, map[string]interface{}{
		"pairId":              "LOFT-USDC",
		"amount":              big.NewInt(4),
		"pricePerTokenMicros": big.NewInt(1_500_000),
	}))
	require.True(t, ok)
	require.Equal(t, "1.5", dec.point.Price.String())
	require.Equal(t, model.Buy, dec.point.Side) // primary sales are always buys
}

func TestDecodeOrderFilled(t *testing.T) {
	dec, ok := decodeShape(rawLog(ledger.ShapeOrderFilled, map[string]interface{}{
		"orderId": big.NewInt(42),
		"amount":  big.NewInt(5),
	}))
	require.True(t, ok)
	require.Equal(t, "42", dec.orderRef)
	require.Empty(t, dec.pairID)
	require.EqualValues(t, 5, dec.point.Amount)
}

func TestDecodeShape_Misses(t *testing.T) {
	cases := map[string]ledger.RawLog{
		"unknown shape": rawLog("someNewShape", map[string]interface{}{"amount": 1}),
		"missing pair": rawLog(ledger.ShapeTradeExecuted, map[string]interface{}{
			"amount": big.NewInt(1), "totalPriceMicros": big.NewInt(1),
		}),
		"zero amount": rawLog(ledger.ShapeTradeExecuted, map[string]interface{}{
			"pairId": "LOFT-USDC", "amount": big.NewInt(0), "totalPriceMicros": big.NewInt(1),
		}),
		"missing order ref": rawLog(ledger.ShapeOrderFilled, map[string]interface{}{
			"amount": big.NewInt(5),
		}),
	}
	for name, lg := range cases {
		_, ok := decodeShape(lg)
		require.False(t, ok, name)
	}
}

func TestNormalizeIdent(t *testing.T) {
	cases := []struct {
		in   interface{}
		want string
	}{
		{"42", "42"},
		{"0x2a", "42"},
		{"0X2A", "42"},
		{int64(42), "42"},
		{uint64(42), "42"},
		{42, "42"},
		{float64(42), "42"},
		{big.NewInt(42), "42"},
		{" 42 ", "42"},
		{"LOFT-USDC", "LOFT-USDC"},
		{nil, ""},
	}
	for _, c := range cases {
		require.Equal(t, c.want, normalizeIdent(c.in), "%v", c.in)
	}
}
