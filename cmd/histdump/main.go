// histdump runs the price-history reconstructor once for a pair and prints
// the result, including which block windows were searched.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ohartl/rwadex/params"
	"github.com/ohartl/rwadex/pkg/book"
	"github.com/ohartl/rwadex/pkg/history"
	"github.com/ohartl/rwadex/pkg/ledger"
	"github.com/ohartl/rwadex/pkg/util"
	"github.com/ohartl/rwadex/pkg/wallet"

	"github.com/ethereum/go-ethereum/common"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: histdump <pairId>")
		os.Exit(2)
	}
	pairID := os.Args[1]

	cfg := params.LoadFromEnv("")
	logger, err := util.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// History reads need no signing key; an ephemeral one satisfies the
	// ledger client.
	signer, err := wallet.GenerateKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "key: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	chain, err := ledger.DialEVM(ctx, cfg.Ledger.RPCURL, signer, ledger.EVMConfig{
		Escrow:       common.HexToAddress(cfg.Ledger.Escrow),
		LegacyEscrow: common.HexToAddress(cfg.Ledger.LegacyEscrow),
		Sale:         common.HexToAddress(cfg.Ledger.Sale),
		Registry:     common.HexToAddress(cfg.Ledger.Registry),
	}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledger: %v\n", err)
		os.Exit(1)
	}
	defer chain.Close()

	histCfg := history.DefaultConfig()
	histCfg.InitialWindow = cfg.History.InitialWindow
	histCfg.MaxLookback = cfg.History.MaxLookback
	reconstructor := history.NewReconstructor(histCfg, chain,
		book.NewReader(chain, util.RealClock{}, logger), util.RealClock{}, logger)

	hist, err := reconstructor.BuildHistory(ctx, pairID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build history: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(hist); err != nil {
		fmt.Fprintf(os.Stderr, "encode: %v\n", err)
		os.Exit(1)
	}
}
