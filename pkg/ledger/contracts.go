package ledger

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/shopspring/decimal"
)

// On-chain prices are fixed-point integers with 6 decimals ("micros").
const priceDecimals = 6

func priceToMicros(p decimal.Decimal) *big.Int {
	return p.Shift(priceDecimals).BigInt()
}

func microsToPrice(v *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(v, -priceDecimals)
}

// Escrow v2: order registry plus create/fill/cancel. OrderFilled logs carry
// only the order id; the reconstructor cross-references the registry.
const escrowABIJSON = `[
  {"type":"function","name":"createOrder","stateMutability":"nonpayable","inputs":[{"name":"pairId","type":"string"},{"name":"side","type":"uint8"},{"name":"amount","type":"uint256"},{"name":"priceMicros","type":"uint256"}],"outputs":[{"name":"orderId","type":"uint256"}]},
  {"type":"function","name":"fillOrder","stateMutability":"nonpayable","inputs":[{"name":"orderId","type":"uint256"},{"name":"amount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"cancelOrder","stateMutability":"nonpayable","inputs":[{"name":"orderId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"activeOrders","stateMutability":"view","inputs":[{"name":"pairId","type":"string"}],"outputs":[{"name":"","type":"uint256[]"}]},
  {"type":"function","name":"getOrder","stateMutability":"view","inputs":[{"name":"orderId","type":"uint256"}],"outputs":[{"name":"maker","type":"address"},{"name":"pairId","type":"string"},{"name":"side","type":"uint8"},{"name":"amount","type":"uint256"},{"name":"filled","type":"uint256"},{"name":"priceMicros","type":"uint256"},{"name":"createdAt","type":"uint64"},{"name":"expiresAt","type":"uint64"},{"name":"state","type":"uint8"}]},
  {"type":"event","name":"OrderCreated","inputs":[{"name":"orderId","type":"uint256","indexed":false},{"name":"maker","type":"address","indexed":false}]},
  {"type":"event","name":"OrderFilled","inputs":[{"name":"orderId","type":"uint256","indexed":false},{"name":"taker","type":"address","indexed":false},{"name":"amount","type":"uint256","indexed":false}]}
]`

// Escrow v1 (legacy): retired for new orders but its trade history is still
// on chain. Per-unit price must be derived from totalPriceMicros/amount.
const legacyEscrowABIJSON = `[
  {"type":"event","name":"TradeExecuted","inputs":[{"name":"pairId","type":"string","indexed":false},{"name":"amount","type":"uint256","indexed":false},{"name":"totalPriceMicros","type":"uint256","indexed":false},{"name":"side","type":"uint8","indexed":false},{"name":"maker","type":"address","indexed":false},{"name":"taker","type":"address","indexed":false}]}
]`

// Primary-sale contract: issuer-to-investor sales, explicit per-token price.
const saleABIJSON = `[
  {"type":"event","name":"TokensPurchased","inputs":[{"name":"pairId","type":"string","indexed":false},{"name":"buyer","type":"address","indexed":false},{"name":"amount","type":"uint256","indexed":false},{"name":"pricePerTokenMicros","type":"uint256","indexed":false}]}
]`

// RWA token registry (ERC-1155 style) plus a minimal ERC-20 surface for the
// payment asset.
const registryABIJSON = `[
  {"type":"function","name":"setApprovalForAll","stateMutability":"nonpayable","inputs":[{"name":"operator","type":"address"},{"name":"approved","type":"bool"}],"outputs":[]},
  {"type":"function","name":"isApprovedForAll","stateMutability":"view","inputs":[{"name":"account","type":"address"},{"name":"operator","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"},{"name":"id","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const erc20ABIJSON = `[
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var (
	escrowABI       = mustABI(escrowABIJSON)
	legacyEscrowABI = mustABI(legacyEscrowABIJSON)
	saleABI         = mustABI(saleABIJSON)
	registryABI     = mustABI(registryABIJSON)
	erc20ABI        = mustABI(erc20ABIJSON)
)

func mustABI(src string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(src))
	if err != nil {
		panic(fmt.Errorf("parse abi: %w", err))
	}
	return parsed
}

// shapeEvent maps each known shape to the ABI that defines it.
func shapeEvent(shape EventShape) (abi.ABI, string, bool) {
	switch shape {
	case ShapeOrderFilled:
		return escrowABI, "OrderFilled", true
	case ShapeTradeExecuted:
		return legacyEscrowABI, "TradeExecuted", true
	case ShapeTokensPurchased:
		return saleABI, "TokensPurchased", true
	}
	return abi.ABI{}, "", false
}
