package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Node struct {
	DataDir string
	APIAddr string
	LogFile string
	// Pairs the engine syncs, e.g. "LOFT-USDC,MARINA-USDC".
	Pairs []string
}

type Ledger struct {
	RPCURL        string
	PrivateKeyHex string // empty generates an ephemeral key (devnet only)
	Escrow        string
	LegacyEscrow  string
	Sale          string
	Registry      string
	// Assets maps asset id to "contract" (ERC-20) or "contract:tokenId"
	// (registry token), e.g. "USDC=0x...,LOFT=0x...:7".
	Assets map[string]string
}

type Engine struct {
	RefreshInterval  time.Duration
	ConfirmTimeout   time.Duration
	ReconcileTimeout time.Duration
}

type History struct {
	InitialWindow uint64
	MaxLookback   uint64
}

type Config struct {
	Node    Node
	Ledger  Ledger
	Engine  Engine
	History History
}

func Default() Config {
	return Config{
		Node: Node{
			DataDir: "data",
			APIAddr: ":8880",
			LogFile: "data/rwadexd.log",
			Pairs:   []string{"LOFT-USDC"},
		},
		Ledger: Ledger{
			RPCURL: "http://localhost:8545",
			Assets: map[string]string{},
		},
		Engine: Engine{
			RefreshInterval:  15 * time.Second,
			ConfirmTimeout:   5 * time.Minute,
			ReconcileTimeout: time.Minute,
		},
		History: History{
			InitialWindow: 5_000,
			MaxLookback:   1_000_000,
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if it exists) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Node.DataDir = v
	}
	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.Node.APIAddr = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Node.LogFile = v
	}
	if v := os.Getenv("PAIRS"); v != "" {
		cfg.Node.Pairs = splitList(v)
	}

	if v := os.Getenv("RPC_URL"); v != "" {
		cfg.Ledger.RPCURL = v
	}
	if v := os.Getenv("PRIVATE_KEY"); v != "" {
		cfg.Ledger.PrivateKeyHex = v
	}
	if v := os.Getenv("ESCROW_ADDR"); v != "" {
		cfg.Ledger.Escrow = v
	}
	if v := os.Getenv("LEGACY_ESCROW_ADDR"); v != "" {
		cfg.Ledger.LegacyEscrow = v
	}
	if v := os.Getenv("SALE_ADDR"); v != "" {
		cfg.Ledger.Sale = v
	}
	if v := os.Getenv("REGISTRY_ADDR"); v != "" {
		cfg.Ledger.Registry = v
	}
	if v := os.Getenv("ASSETS"); v != "" {
		// ASSETS="USDC=0xabc,LOFT=0xdef:7"
		for _, entry := range splitList(v) {
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) == 2 {
				cfg.Ledger.Assets[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
			}
		}
	}

	if ms := envMillis("REFRESH_INTERVAL_MS"); ms > 0 {
		cfg.Engine.RefreshInterval = ms
	}
	if ms := envMillis("CONFIRM_TIMEOUT_MS"); ms > 0 {
		cfg.Engine.ConfirmTimeout = ms
	}
	if ms := envMillis("RECONCILE_TIMEOUT_MS"); ms > 0 {
		cfg.Engine.ReconcileTimeout = ms
	}

	if v := os.Getenv("HISTORY_INITIAL_WINDOW"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.History.InitialWindow = n
		}
	}
	if v := os.Getenv("HISTORY_MAX_LOOKBACK"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.History.MaxLookback = n
		}
	}

	return cfg
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func envMillis(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
