package storage

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ohartl/rwadex/pkg/model"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_ActionRoundTrip(t *testing.T) {
	s := openStore(t)
	owner := common.HexToAddress("0x1111111111111111111111111111111111111111")
	other := common.HexToAddress("0x2222222222222222222222222222222222222222")

	a := model.OptimisticAction{
		LocalID:      "local-1",
		Kind:         model.KindCreateSell,
		PairID:       "LOFT-USDC",
		Amount:       10,
		PricePerUnit: decimal.RequireFromString("2.0"),
		Status:       model.StatusPending,
		CreatedAt:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.SaveAction(owner, a))

	// Overwrite in place with the settled version.
	a.Status = model.StatusConfirmed
	a.LedgerHandle = "0xabc"
	require.NoError(t, s.SaveAction(owner, a))

	got, err := s.LoadActions(owner)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, model.StatusConfirmed, got[0].Status)
	require.Equal(t, "0xabc", got[0].LedgerHandle)
	require.True(t, got[0].PricePerUnit.Equal(a.PricePerUnit))

	// Address scoping: another account sees nothing.
	none, err := s.LoadActions(other)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestStore_NotificationOrderAndSeq(t *testing.T) {
	s := openStore(t)
	owner := common.HexToAddress("0x1111111111111111111111111111111111111111")

	for i, id := range []string{"n1", "n2", "n3"} {
		require.NoError(t, s.SaveNotification(owner, uint64(i+1), model.Notification{
			ID:            id,
			LinkedLocalID: "local-" + id,
			Status:        model.NotePending,
		}))
	}
	// Rewrite n2 under its original seq.
	require.NoError(t, s.SaveNotification(owner, 2, model.Notification{
		ID:            "n2",
		LinkedLocalID: "local-n2",
		Status:        model.NoteCompleted,
	}))

	stored, err := s.LoadNotifications(owner)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	require.Equal(t, []uint64{1, 2, 3}, []uint64{stored[0].Seq, stored[1].Seq, stored[2].Seq})
	require.Equal(t, "n2", stored[1].Note.ID)
	require.Equal(t, model.NoteCompleted, stored[1].Note.Status)
}
