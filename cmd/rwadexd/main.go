package main

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/ohartl/rwadex/params"
	"github.com/ohartl/rwadex/pkg/api"
	"github.com/ohartl/rwadex/pkg/approval"
	"github.com/ohartl/rwadex/pkg/book"
	"github.com/ohartl/rwadex/pkg/engine"
	"github.com/ohartl/rwadex/pkg/history"
	"github.com/ohartl/rwadex/pkg/ledger"
	"github.com/ohartl/rwadex/pkg/optimistic"
	"github.com/ohartl/rwadex/pkg/storage"
	"github.com/ohartl/rwadex/pkg/util"
	"github.com/ohartl/rwadex/pkg/wallet"
)

func main() {
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	// ---- Wallet identity ----
	var signer *wallet.Signer
	if cfg.Ledger.PrivateKeyHex != "" {
		signer, err = wallet.FromPrivateKeyHex(strings.TrimPrefix(cfg.Ledger.PrivateKeyHex, "0x"))
	} else {
		logger.Warn("PRIVATE_KEY not set, generating ephemeral key (devnet only)")
		signer, err = wallet.GenerateKey()
	}
	if err != nil {
		logger.Fatal("wallet", zap.Error(err))
	}
	logger.Info("wallet ready", zap.String("address", signer.Address().Hex()))

	// ---- Ledger ----
	ctx := context.Background()
	evmCfg, err := evmConfig(cfg.Ledger)
	if err != nil {
		logger.Fatal("ledger config", zap.Error(err))
	}
	chain, err := ledger.DialEVM(ctx, cfg.Ledger.RPCURL, signer, evmCfg, logger)
	if err != nil {
		logger.Fatal("ledger", zap.Error(err))
	}
	defer chain.Close()

	// ---- Local persistence & optimistic layer ----
	store, err := storage.NewStore(filepath.Join(cfg.Node.DataDir, "optimistic"))
	if err != nil {
		logger.Fatal("store", zap.Error(err))
	}
	defer store.Close()

	cache, err := optimistic.NewCache(store, signer.Address(), logger)
	if err != nil {
		logger.Fatal("action cache", zap.Error(err))
	}
	notes, err := optimistic.NewNotificationLedger(store, signer.Address(), logger)
	if err != nil {
		logger.Fatal("notifications", zap.Error(err))
	}

	// ---- Engine ----
	reader := book.NewReader(chain, util.RealClock{}, logger)
	gate := approval.NewGate(chain)
	eng := engine.New(engine.Config{
		RefreshInterval:   cfg.Engine.RefreshInterval,
		RefreshTimeout:    30 * time.Second,
		ConfirmTimeout:    cfg.Engine.ConfirmTimeout,
		ReconcileTimeout:  cfg.Engine.ReconcileTimeout,
		NotificationLimit: 50,
	}, signer.Address(), chain, reader, gate, cache, notes, util.RealClock{}, logger)

	eng.ReconcileStartup(ctx)
	for _, pair := range cfg.Node.Pairs {
		eng.StartPair(pair)
		logger.Info("pair started", zap.String("pair", pair))
	}

	// ---- History & API ----
	histCfg := history.DefaultConfig()
	histCfg.InitialWindow = cfg.History.InitialWindow
	histCfg.MaxLookback = cfg.History.MaxLookback
	hist := history.NewReconstructor(histCfg, chain, reader, util.RealClock{}, logger)

	server := api.NewServer(eng, hist, logger)
	go func() {
		if err := server.Start(cfg.Node.APIAddr); err != nil {
			logger.Fatal("api server", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")
	eng.Close()
}

// evmConfig resolves the configured hex addresses and asset specs.
func evmConfig(cfg params.Ledger) (ledger.EVMConfig, error) {
	out := ledger.EVMConfig{
		Escrow:       common.HexToAddress(cfg.Escrow),
		LegacyEscrow: common.HexToAddress(cfg.LegacyEscrow),
		Sale:         common.HexToAddress(cfg.Sale),
		Registry:     common.HexToAddress(cfg.Registry),
		Assets:       make(map[string]ledger.AssetRef),
	}
	for id, spec := range cfg.Assets {
		parts := strings.SplitN(spec, ":", 2)
		ref := ledger.AssetRef{Contract: common.HexToAddress(parts[0])}
		if len(parts) == 2 {
			tokenID, ok := new(big.Int).SetString(parts[1], 10)
			if !ok {
				return ledger.EVMConfig{}, fmt.Errorf("bad asset spec %s=%s", id, spec)
			}
			ref.TokenID = tokenID
		}
		out.Assets[id] = ref
	}
	return out, nil
}
