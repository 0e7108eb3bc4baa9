package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ohartl/rwadex/pkg/approval"
	"github.com/ohartl/rwadex/pkg/book"
	"github.com/ohartl/rwadex/pkg/engine"
	"github.com/ohartl/rwadex/pkg/history"
	"github.com/ohartl/rwadex/pkg/ledger/ledgertest"
	"github.com/ohartl/rwadex/pkg/model"
	"github.com/ohartl/rwadex/pkg/optimistic"
	"github.com/ohartl/rwadex/pkg/storage"
	"github.com/ohartl/rwadex/pkg/util"
)

var testOwner = common.HexToAddress("0x1111111111111111111111111111111111111111")

func newTestServer(t *testing.T, fake *ledgertest.Fake) (*Server, *engine.Engine) {
	t.Helper()
	log := zap.NewNop()

	store, err := storage.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cache, err := optimistic.NewCache(store, testOwner, log)
	require.NoError(t, err)
	notes, err := optimistic.NewNotificationLedger(store, testOwner, log)
	require.NoError(t, err)

	cfg := engine.DefaultConfig()
	cfg.RefreshInterval = time.Hour
	reader := book.NewReader(fake, util.RealClock{}, log)
	eng := engine.New(cfg, testOwner, fake, reader, approval.NewGate(fake),
		cache, notes, util.RealClock{}, log)
	t.Cleanup(eng.Close)

	hist := history.NewReconstructor(history.DefaultConfig(), fake, reader, util.RealClock{}, log)
	return NewServer(eng, hist, log), eng
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	s, _ := newTestServer(t, ledgertest.New())
	rec := doJSON(t, s, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_ModelNotFoundBeforeStart(t *testing.T) {
	s, _ := newTestServer(t, ledgertest.New())
	rec := doJSON(t, s, "GET", "/api/v1/pairs/LOFT-USDC/model", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ModelAfterStart(t *testing.T) {
	fake := ledgertest.New()
	fake.AddOrder(model.Order{
		ID: "1", PairID: "LOFT-USDC", Side: model.Sell, Amount: 10,
		PricePerUnit: decimal.RequireFromString("2.0"),
		CreatedAt:    time.Now().UTC(), State: model.OrderActive,
	})
	s, eng := newTestServer(t, fake)

	published := make(chan struct{}, 4)
	eng.Subscribe(func(engine.ReadModel) { published <- struct{}{} })
	eng.StartPair("LOFT-USDC")
	select {
	case <-published:
	case <-time.After(5 * time.Second):
		t.Fatal("no read model published")
	}

	rec := doJSON(t, s, "GET", "/api/v1/pairs/LOFT-USDC/model", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rm engine.ReadModel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rm))
	require.Equal(t, "LOFT-USDC", rm.PairID)
	require.Len(t, rm.Snapshot.Asks, 1)
}

func TestServer_CreateOrderWait(t *testing.T) {
	s, _ := newTestServer(t, ledgertest.New())

	rec := doJSON(t, s, "POST", "/api/v1/orders?wait=true", CreateOrderRequest{
		PairID: "LOFT-USDC", Side: "buy", Amount: 10, Price: "2.0",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ActionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.LocalID)
	require.Equal(t, string(model.StatusConfirmed), resp.Status)
	require.NotEmpty(t, resp.LedgerHandle)
	require.Empty(t, resp.Error)
}

func TestServer_CreateOrderAcceptedWithoutWait(t *testing.T) {
	s, _ := newTestServer(t, ledgertest.New())

	rec := doJSON(t, s, "POST", "/api/v1/orders", CreateOrderRequest{
		PairID: "LOFT-USDC", Side: "buy", Amount: 5, Price: "1.5",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp ActionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, string(model.StatusPending), resp.Status)
}

func TestServer_SellWithoutApprovalConflicts(t *testing.T) {
	s, _ := newTestServer(t, ledgertest.New())

	rec := doJSON(t, s, "POST", "/api/v1/orders", CreateOrderRequest{
		PairID: "LOFT-USDC", Side: "sell", Amount: 10, Price: "2.0",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_InvalidRequests(t *testing.T) {
	s, _ := newTestServer(t, ledgertest.New())

	rec := doJSON(t, s, "POST", "/api/v1/orders", CreateOrderRequest{
		PairID: "LOFT-USDC", Side: "hold", Amount: 10, Price: "2.0",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, "POST", "/api/v1/orders", CreateOrderRequest{
		PairID: "LOFT-USDC", Side: "buy", Amount: 10, Price: "not-a-price",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, "POST", "/api/v1/pairs/NOPE-USDC/refresh", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_History(t *testing.T) {
	s, _ := newTestServer(t, ledgertest.New())

	rec := doJSON(t, s, "GET", "/api/v1/pairs/LOFT-USDC/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var hist history.History
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	require.Equal(t, "LOFT-USDC", hist.PairID)
	require.False(t, hist.Synthetic) // empty book, empty series
	require.NotEmpty(t, hist.SearchedWindows)
}
