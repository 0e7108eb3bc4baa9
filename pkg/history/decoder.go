package history

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ohartl/rwadex/pkg/ledger"
	"github.com/ohartl/rwadex/pkg/model"
)

// decoded is the normalized output of one shape decoder. When orderRef is
// set the event only carried an order identifier; pair, side and price must
// be recovered from the order registry before the point is usable.
type decoded struct {
	point    model.TradePoint
	pairID   string
	orderRef string
}

// decodeShape dispatches on the log's shape tag. Unrecognized payloads are an
// explicit miss, never a best-effort guess.
func decodeShape(lg ledger.RawLog) (decoded, bool) {
	switch lg.Shape {
	case ledger.ShapeTradeExecuted:
		return decodeTradeExecuted(lg)
	case ledger.ShapeTokensPurchased:
		return decodeTokensPurchased(lg)
	case ledger.ShapeOrderFilled:
		return decodeOrderFilled(lg)
	}
	return decoded{}, false
}

// decodeTradeExecuted handles the legacy escrow shape: amount plus total
// price, per-unit price derived by division.
func decodeTradeExecuted(lg ledger.RawLog) (decoded, bool) {
	pair, ok := fieldString(lg.Fields["pairId"])
	if !ok {
		return decoded{}, false
	}
	amount, ok := fieldInt64(lg.Fields["amount"])
	if !ok || amount <= 0 {
		return decoded{}, false
	}
	total, ok := fieldBig(lg.Fields["totalPriceMicros"])
	if !ok {
		return decoded{}, false
	}
	side := model.Buy
	if v, ok := fieldInt64(lg.Fields["side"]); ok && v == 1 {
		side = model.Sell
	}
	price := decimal.NewFromBigInt(total, -6).Div(decimal.NewFromInt(amount))
	return decoded{
		pairID: pair,
		point: model.TradePoint{
			Timestamp:    lg.Timestamp,
			Price:        price,
			Amount:       amount,
			Side:         side,
			SourceTxHash: lg.TxHash,
		},
	}, true
}

// decodeTokensPurchased handles the primary-sale shape with an explicit
// per-token price. Sales are always buys.
func decodeTokensPurchased(lg ledger.RawLog) (decoded, bool) {
	pair, ok := fieldString(lg.Fields["pairId"])
	if !ok {
		return decoded{}, false
	}
	amount, ok := fieldInt64(lg.Fields["amount"])
	if !ok || amount <= 0 {
		return decoded{}, false
	}
	perToken, ok := fieldBig(lg.Fields["pricePerTokenMicros"])
	if !ok {
		return decoded{}, false
	}
	return decoded{
		pairID: pair,
		point: model.TradePoint{
			Timestamp:    lg.Timestamp,
			Price:        decimal.NewFromBigInt(perToken, -6),
			Amount:       amount,
			Side:         model.Buy,
			SourceTxHash: lg.TxHash,
		},
	}, true
}

// decodeOrderFilled handles the current escrow shape, which carries only the
// order identifier and fill amount.
func decodeOrderFilled(lg ledger.RawLog) (decoded, bool) {
	ref, ok := fieldString(lg.Fields["orderId"])
	if !ok || ref == "" {
		return decoded{}, false
	}
	amount, ok := fieldInt64(lg.Fields["amount"])
	if !ok || amount <= 0 {
		return decoded{}, false
	}
	return decoded{
		orderRef: ref,
		point: model.TradePoint{
			Timestamp:    lg.Timestamp,
			Amount:       amount,
			SourceTxHash: lg.TxHash,
		},
	}, true
}

// normalizeIdent canonicalizes identifiers before comparison so numeric and
// string encodings of the same id compare equal ("0x2a", "42", 42 and 42.0
// all normalize to "42").
func normalizeIdent(v interface{}) string {
	s, ok := fieldString(v)
	if !ok {
		return ""
	}
	if n, success := new(big.Int).SetString(strings.TrimPrefix(strings.ToLower(s), "0x"),
		numericBase(s)); success {
		return n.String()
	}
	return s
}

func numericBase(s string) int {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(s)), "0x") {
		return 16
	}
	return 10
}

func fieldString(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case *big.Int:
		return t.String(), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case uint64:
		return strconv.FormatUint(t, 10), true
	case int:
		return strconv.Itoa(t), true
	case float64:
		return strconv.FormatInt(int64(t), 10), true
	}
	return "", false
}

func fieldInt64(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case *big.Int:
		return t.Int64(), true
	case int64:
		return t, true
	case uint64:
		return int64(t), true
	case int:
		return int64(t), true
	case uint8:
		return int64(t), true
	case float64:
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n, err == nil
	}
	return 0, false
}

func fieldBig(v interface{}) (*big.Int, bool) {
	switch t := v.(type) {
	case *big.Int:
		return t, true
	case int64:
		return big.NewInt(t), true
	case uint64:
		return new(big.Int).SetUint64(t), true
	case int:
		return big.NewInt(int64(t)), true
	case float64:
		return big.NewInt(int64(t)), true
	case string:
		n, ok := new(big.Int).SetString(strings.TrimSpace(t), 10)
		if !ok {
			return nil, false
		}
		return n, true
	}
	return nil, false
}
