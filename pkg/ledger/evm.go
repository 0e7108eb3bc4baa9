package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/ohartl/rwadex/pkg/model"
	"github.com/ohartl/rwadex/pkg/wallet"
)

// AssetRef locates one asset on chain. TokenID nil means a plain ERC-20
// (the payment asset); otherwise an id on the RWA token registry.
type AssetRef struct {
	Contract common.Address
	TokenID  *big.Int
}

// EVMConfig carries the contract addresses of one deployment.
type EVMConfig struct {
	Escrow       common.Address
	LegacyEscrow common.Address
	Sale         common.Address
	Registry     common.Address
	Assets       map[string]AssetRef

	// ReceiptPollInterval paces AwaitConfirmation's receipt polling.
	ReceiptPollInterval time.Duration
}

// EVM implements Ledger against an EVM JSON-RPC endpoint.
type EVM struct {
	client  *ethclient.Client
	signer  *wallet.Signer
	cfg     EVMConfig
	chainID *big.Int
	log     *zap.Logger

	mu          sync.Mutex
	headerTimes map[uint64]time.Time
}

// DialEVM connects to the RPC endpoint and resolves the chain id.
func DialEVM(ctx context.Context, rpcURL string, signer *wallet.Signer, cfg EVMConfig, log *zap.Logger) (*EVM, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	if cfg.ReceiptPollInterval <= 0 {
		cfg.ReceiptPollInterval = 2 * time.Second
	}
	return &EVM{
		client:      client,
		signer:      signer,
		cfg:         cfg,
		chainID:     chainID,
		log:         log,
		headerTimes: make(map[uint64]time.Time),
	}, nil
}

func (e *EVM) Close() { e.client.Close() }

func (e *EVM) encodeSubmission(sub Submission) (common.Address, []byte, error) {
	switch sub.Kind {
	case model.KindCreateSell, model.KindCreateBuy:
		side := uint8(0)
		if sub.Kind == model.KindCreateSell {
			side = 1
		}
		data, err := escrowABI.Pack("createOrder", sub.PairID, side,
			big.NewInt(sub.Amount), priceToMicros(sub.PricePerUnit))
		return e.cfg.Escrow, data, err
	case model.KindFill:
		id, ok := parseOrderID(sub.CounterOrderID)
		if !ok {
			return common.Address{}, nil, fmt.Errorf("%w: bad order id %q", ErrRejected, sub.CounterOrderID)
		}
		data, err := escrowABI.Pack("fillOrder", id, big.NewInt(sub.Amount))
		return e.cfg.Escrow, data, err
	case model.KindCancel:
		id, ok := parseOrderID(sub.CounterOrderID)
		if !ok {
			return common.Address{}, nil, fmt.Errorf("%w: bad order id %q", ErrRejected, sub.CounterOrderID)
		}
		data, err := escrowABI.Pack("cancelOrder", id)
		return e.cfg.Escrow, data, err
	case model.KindApprove:
		data, err := registryABI.Pack("setApprovalForAll", e.cfg.Escrow, true)
		return e.cfg.Registry, data, err
	}
	return common.Address{}, nil, fmt.Errorf("%w: unknown action kind %q", ErrRejected, sub.Kind)
}

// Submit signs and broadcasts the action. A gas-estimation revert means the
// ledger would refuse the action; it is surfaced as ErrRejected before
// anything is sent.
func (e *EVM) Submit(ctx context.Context, sub Submission) (TxHandle, error) {
	to, data, err := e.encodeSubmission(sub)
	if err != nil {
		return "", err
	}
	from := e.signer.Address()
	nonce, err := e.client.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("gas price: %w", err)
	}
	gas, err := e.client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRejected, err)
	}
	tx := types.NewTransaction(nonce, to, big.NewInt(0), gas+gas/5, gasPrice, data)
	signed, err := e.signer.SignTx(tx, e.chainID)
	if err != nil {
		return "", err
	}
	if err := e.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send: %w", err)
	}
	e.log.Info("submitted",
		zap.String("kind", string(sub.Kind)),
		zap.String("pair", sub.PairID),
		zap.String("tx", signed.Hash().Hex()))
	return TxHandle(signed.Hash().Hex()), nil
}

// AwaitConfirmation polls for the receipt until it lands or ctx is done.
func (e *EVM) AwaitConfirmation(ctx context.Context, h TxHandle) (Receipt, error) {
	hash := common.HexToHash(string(h))
	ticker := time.NewTicker(e.cfg.ReceiptPollInterval)
	defer ticker.Stop()
	for {
		receipt, err := e.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return e.buildReceipt(ctx, h, receipt), nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return Receipt{}, fmt.Errorf("receipt %s: %w", h, err)
		}
		select {
		case <-ctx.Done():
			return Receipt{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *EVM) buildReceipt(ctx context.Context, h TxHandle, r *types.Receipt) Receipt {
	out := Receipt{
		Handle:      h,
		Success:     r.Status == types.ReceiptStatusSuccessful,
		BlockNumber: r.BlockNumber.Uint64(),
	}
	if !out.Success {
		out.Reason = "transaction reverted"
	}
	if ts, err := e.headerTime(ctx, out.BlockNumber); err == nil {
		out.BlockTime = ts
	}
	created := escrowABI.Events["OrderCreated"]
	for _, lg := range r.Logs {
		if len(lg.Topics) == 0 || lg.Topics[0] != created.ID {
			continue
		}
		fields := make(map[string]interface{})
		if err := escrowABI.UnpackIntoMap(fields, "OrderCreated", lg.Data); err != nil {
			continue
		}
		if id, ok := fields["orderId"].(*big.Int); ok {
			out.OrderID = id.String()
		}
	}
	return out
}

func (e *EVM) shapeSource(shape EventShape) (common.Address, bool) {
	switch shape {
	case ShapeOrderFilled:
		return e.cfg.Escrow, true
	case ShapeTradeExecuted:
		return e.cfg.LegacyEscrow, true
	case ShapeTokensPurchased:
		return e.cfg.Sale, true
	}
	return common.Address{}, false
}

// QueryLogs filters one shape's logs over the range. Shapes that carry a
// pair id are pre-filtered here; OrderFilled logs are returned unfiltered
// since the pair is only known after registry cross-referencing.
func (e *EVM) QueryLogs(ctx context.Context, shape EventShape, pairID string, r BlockRange) ([]RawLog, error) {
	contractABI, eventName, ok := shapeEvent(shape)
	if !ok {
		return nil, fmt.Errorf("unknown event shape %q", shape)
	}
	addr, ok := e.shapeSource(shape)
	if !ok || addr == (common.Address{}) {
		return nil, nil
	}
	ev := contractABI.Events[eventName]
	logs, err := e.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(r.From),
		ToBlock:   new(big.Int).SetUint64(r.To),
		Addresses: []common.Address{addr},
		Topics:    [][]common.Hash{{ev.ID}},
	})
	if err != nil {
		return nil, fmt.Errorf("filter %s: %w", shape, err)
	}
	out := make([]RawLog, 0, len(logs))
	for _, lg := range logs {
		fields := make(map[string]interface{})
		if err := contractABI.UnpackIntoMap(fields, eventName, lg.Data); err != nil {
			e.log.Warn("undecodable log", zap.String("shape", string(shape)),
				zap.String("tx", lg.TxHash.Hex()), zap.Error(err))
			continue
		}
		if pair, ok := fields["pairId"].(string); ok && strings.TrimSpace(pair) != pairID {
			continue
		}
		ts, _ := e.headerTime(ctx, lg.BlockNumber)
		out = append(out, RawLog{
			Shape:       shape,
			TxHash:      lg.TxHash.Hex(),
			BlockNumber: lg.BlockNumber,
			Timestamp:   ts,
			Fields:      fields,
		})
	}
	return out, nil
}

func (e *EVM) ActiveOrderIDs(ctx context.Context, pairID string) ([]string, error) {
	data, err := escrowABI.Pack("activeOrders", pairID)
	if err != nil {
		return nil, err
	}
	raw, err := e.client.CallContract(ctx, ethereum.CallMsg{To: &e.cfg.Escrow, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("activeOrders %s: %w", pairID, err)
	}
	outs, err := escrowABI.Unpack("activeOrders", raw)
	if err != nil {
		return nil, fmt.Errorf("decode activeOrders: %w", err)
	}
	ids, ok := outs[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("decode activeOrders: unexpected type %T", outs[0])
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out, nil
}

func (e *EVM) ReadOrder(ctx context.Context, orderID string) (model.Order, error) {
	id, ok := parseOrderID(orderID)
	if !ok {
		return model.Order{}, ErrOrderNotFound
	}
	data, err := escrowABI.Pack("getOrder", id)
	if err != nil {
		return model.Order{}, err
	}
	raw, err := e.client.CallContract(ctx, ethereum.CallMsg{To: &e.cfg.Escrow, Data: data}, nil)
	if err != nil {
		return model.Order{}, fmt.Errorf("getOrder %s: %w", orderID, err)
	}
	outs, err := escrowABI.Unpack("getOrder", raw)
	if err != nil {
		return model.Order{}, fmt.Errorf("decode getOrder: %w", err)
	}
	maker := outs[0].(common.Address)
	if maker == (common.Address{}) {
		return model.Order{}, ErrOrderNotFound
	}
	order := model.Order{
		ID:           id.String(),
		Maker:        maker,
		PairID:       outs[1].(string),
		Amount:       outs[3].(*big.Int).Int64(),
		FilledAmount: outs[4].(*big.Int).Int64(),
		PricePerUnit: microsToPrice(outs[5].(*big.Int)),
		CreatedAt:    time.Unix(int64(outs[6].(uint64)), 0).UTC(),
		State:        model.OrderState(outs[8].(uint8)),
	}
	if outs[2].(uint8) == 1 {
		order.Side = model.Sell
	} else {
		order.Side = model.Buy
	}
	if exp := outs[7].(uint64); exp != 0 {
		t := time.Unix(int64(exp), 0).UTC()
		order.ExpiresAt = &t
	}
	return order, nil
}

func (e *EVM) Balance(ctx context.Context, owner common.Address, assetID string) (*big.Int, error) {
	ref, ok := e.cfg.Assets[assetID]
	if !ok {
		return nil, fmt.Errorf("unknown asset %q", assetID)
	}
	var (
		data []byte
		err  error
	)
	if ref.TokenID == nil {
		data, err = erc20ABI.Pack("balanceOf", owner)
	} else {
		data, err = registryABI.Pack("balanceOf", owner, ref.TokenID)
	}
	if err != nil {
		return nil, err
	}
	raw, err := e.client.CallContract(ctx, ethereum.CallMsg{To: &ref.Contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf %s: %w", assetID, err)
	}
	return new(big.Int).SetBytes(raw), nil
}

func (e *EVM) IsOperatorApproved(ctx context.Context, owner common.Address) (bool, error) {
	data, err := registryABI.Pack("isApprovedForAll", owner, e.cfg.Escrow)
	if err != nil {
		return false, err
	}
	raw, err := e.client.CallContract(ctx, ethereum.CallMsg{To: &e.cfg.Registry, Data: data}, nil)
	if err != nil {
		return false, fmt.Errorf("isApprovedForAll: %w", err)
	}
	return new(big.Int).SetBytes(raw).Sign() != 0, nil
}

func (e *EVM) HeadBlock(ctx context.Context) (uint64, error) {
	return e.client.BlockNumber(ctx)
}

// headerTime resolves a block number to its timestamp, memoizing headers so
// log batches in the same blocks do not refetch.
func (e *EVM) headerTime(ctx context.Context, number uint64) (time.Time, error) {
	e.mu.Lock()
	if ts, ok := e.headerTimes[number]; ok {
		e.mu.Unlock()
		return ts, nil
	}
	e.mu.Unlock()
	header, err := e.client.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return time.Time{}, err
	}
	ts := time.Unix(int64(header.Time), 0).UTC()
	e.mu.Lock()
	e.headerTimes[number] = ts
	e.mu.Unlock()
	return ts, nil
}

// parseOrderID accepts decimal or 0x-hex encodings of a uint256 order id.
func parseOrderID(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return new(big.Int).SetString(s[2:], 16)
	}
	return new(big.Int).SetString(s, 10)
}

var _ Ledger = (*EVM)(nil)
