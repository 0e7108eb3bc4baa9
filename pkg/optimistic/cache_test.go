package optimistic

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ohartl/rwadex/pkg/model"
)

var testOwner = common.HexToAddress("0xAAaAaAaaAaAaAaaAaAAAAAAAAaaaAaAaAaaAaaAA")

func newTestCache(t *testing.T, store ActionStore) *Cache {
	t.Helper()
	c, err := NewCache(store, testOwner, zap.NewNop())
	require.NoError(t, err)
	return c
}

func sellAction(pair string) model.OptimisticAction {
	return model.OptimisticAction{
		Kind:         model.KindCreateSell,
		PairID:       pair,
		Amount:       10,
		PricePerUnit: decimal.RequireFromString("2.0"),
	}
}

func TestCache_Lifecycle(t *testing.T) {
	c := newTestCache(t, newMemStore())

	localID, err := c.Stage(sellAction("LOFT-USDC"))
	require.NoError(t, err)
	require.NotEmpty(t, localID)

	a, ok := c.Get(localID)
	require.True(t, ok)
	require.Equal(t, model.StatusPending, a.Status)

	require.NoError(t, c.AttachHandle(localID, "0xdeadbeef"))
	require.NoError(t, c.Settle(localID, model.StatusConfirmed, ""))

	a, _ = c.Get(localID)
	require.Equal(t, model.StatusConfirmed, a.Status)
	require.Equal(t, "0xdeadbeef", a.LedgerHandle)
	require.NotNil(t, a.SettledAt)

	// A settled record is immutable.
	require.ErrorIs(t, c.AttachHandle(localID, "0xother"), ErrAlreadySettled)
	require.ErrorIs(t, c.Settle(localID, model.StatusFailed, "late"), ErrAlreadySettled)
}

func TestCache_UnknownLocalIDNeverMutatesOthers(t *testing.T) {
	c := newTestCache(t, newMemStore())

	localID, err := c.Stage(sellAction("LOFT-USDC"))
	require.NoError(t, err)

	// Transitions keyed by an unknown id are rejected outright.
	require.ErrorIs(t, c.AttachHandle("no-such-id", "0x1"), ErrUnknownAction)
	require.ErrorIs(t, c.Settle("no-such-id", model.StatusFailed, "x"), ErrUnknownAction)

	a, _ := c.Get(localID)
	require.Equal(t, model.StatusPending, a.Status)
	require.Empty(t, a.LedgerHandle)
}

func TestCache_IdenticalActionsDoNotCrossContaminate(t *testing.T) {
	c := newTestCache(t, newMemStore())

	// Two identical orders: matching must be by localId, never by content.
	id1, err := c.Stage(sellAction("LOFT-USDC"))
	require.NoError(t, err)
	id2, err := c.Stage(sellAction("LOFT-USDC"))
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	require.NoError(t, c.Settle(id1, model.StatusFailed, "reverted"))

	a2, _ := c.Get(id2)
	require.Equal(t, model.StatusPending, a2.Status)
}

func TestCache_DuplicateLocalID(t *testing.T) {
	c := newTestCache(t, newMemStore())
	a := sellAction("LOFT-USDC")
	a.LocalID = "fixed"
	_, err := c.Stage(a)
	require.NoError(t, err)
	_, err = c.Stage(a)
	require.ErrorIs(t, err, ErrDuplicateLocalID)
}

func TestCache_ListPending(t *testing.T) {
	c := newTestCache(t, newMemStore())

	id1, _ := c.Stage(sellAction("LOFT-USDC"))
	_, err := c.Stage(sellAction("MARINA-USDC"))
	require.NoError(t, err)
	approveID, _ := c.Stage(model.OptimisticAction{Kind: model.KindApprove})
	failedID, _ := c.Stage(sellAction("LOFT-USDC"))
	require.NoError(t, c.Settle(failedID, model.StatusFailed, "reverted"))

	pending := c.ListPending("LOFT-USDC")
	ids := make([]string, len(pending))
	for i, a := range pending {
		ids[i] = a.LocalID
	}
	// Pair-scoped pendings plus the pair-independent approval; the failed
	// record no longer affects the live view.
	require.Equal(t, []string{id1, approveID}, ids)
}

func TestCache_RoundTripThroughPersistence(t *testing.T) {
	store := newMemStore()
	c := newTestCache(t, store)

	localID, err := c.Stage(sellAction("LOFT-USDC"))
	require.NoError(t, err)
	require.NoError(t, c.AttachHandle(localID, "0xfeed"))
	require.NoError(t, c.Settle(localID, model.StatusConfirmed, ""))

	reloaded := newTestCache(t, store)
	a, ok := reloaded.Get(localID)
	require.True(t, ok)
	require.Equal(t, model.StatusConfirmed, a.Status)
	require.Equal(t, "0xfeed", a.LedgerHandle)
}

// failingStore injects one write failure.
type failingStore struct {
	*memStore
	failNext bool
}

func (f *failingStore) SaveAction(owner common.Address, a model.OptimisticAction) error {
	if f.failNext {
		f.failNext = false
		return errors.New("disk full")
	}
	return f.memStore.SaveAction(owner, a)
}

func TestCache_FailedSaveLeavesRecordUntouched(t *testing.T) {
	store := &failingStore{memStore: newMemStore()}
	c := newTestCache(t, store)

	localID, err := c.Stage(sellAction("LOFT-USDC"))
	require.NoError(t, err)

	// A transition that cannot be persisted must not take effect in memory;
	// otherwise a restart would resurrect the pre-transition state.
	store.failNext = true
	require.Error(t, c.AttachHandle(localID, "0xfeed"))
	a, _ := c.Get(localID)
	require.Empty(t, a.LedgerHandle)

	store.failNext = true
	require.Error(t, c.Settle(localID, model.StatusConfirmed, ""))
	a, _ = c.Get(localID)
	require.Equal(t, model.StatusPending, a.Status)
	require.Nil(t, a.SettledAt)

	reloaded := newTestCache(t, store)
	ra, ok := reloaded.Get(localID)
	require.True(t, ok)
	require.Equal(t, model.StatusPending, ra.Status)

	// The record stays live; retrying the transitions succeeds.
	require.NoError(t, c.AttachHandle(localID, "0xfeed"))
	require.NoError(t, c.Settle(localID, model.StatusConfirmed, ""))
	a, _ = c.Get(localID)
	require.Equal(t, model.StatusConfirmed, a.Status)
	require.Equal(t, "0xfeed", a.LedgerHandle)
}

func TestCache_StalePending(t *testing.T) {
	store := newMemStore()
	old := model.OptimisticAction{
		LocalID:   "old-pending",
		Kind:      model.KindCreateBuy,
		PairID:    "LOFT-USDC",
		Amount:    1,
		Status:    model.StatusPending,
		CreatedAt: time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, store.SaveAction(testOwner, old))

	c := newTestCache(t, store)
	fresh, err := c.Stage(sellAction("LOFT-USDC"))
	require.NoError(t, err)

	stale := c.StalePending(time.Now().UTC().Add(-time.Minute))
	require.Len(t, stale, 1)
	require.Equal(t, "old-pending", stale[0].LocalID)
	require.NotEqual(t, fresh, stale[0].LocalID)
}
