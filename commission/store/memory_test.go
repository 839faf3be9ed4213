package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnavi/commission-engine/commission"
	"github.com/jnavi/commission-engine/commission/store"
)

// =============================================================================
// MEMORY STORE TESTS
// =============================================================================

func TestMemory_AllocationAddressableAcrossTransactions(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	tx := commission.Transaction{
		ID:            "tx-1",
		DealID:        "deal-1",
		BaseAmountJPY: 10_000,
		RatesUsed: commission.RateConfig{
			OverallRate:   decimal.RequireFromString("0.15"),
			ConnectorRate: decimal.RequireFromString("0.05"),
		},
		CreatedAt: time.Now(),
		Allocations: []commission.Allocation{
			{ID: "tx-1-a1", TransactionID: "tx-1", Kind: commission.KindUserReward, UserID: "conn-1", AmountJPY: 500, Status: commission.AllocationUnconfirmed},
			{ID: "tx-1-a2", TransactionID: "tx-1", Kind: commission.KindUserReward, UserID: "agency-1", AmountJPY: 1_000, Status: commission.AllocationUnconfirmed},
			{ID: "tx-1-a3", TransactionID: "tx-1", Kind: commission.KindPlatformShare, AmountJPY: 8_500, Status: commission.AllocationConfirmed},
		},
	}
	require.NoError(t, m.SaveTransaction(ctx, tx))

	a, err := m.GetAllocation(ctx, "tx-1-a2")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, int64(1_000), a.AmountJPY)

	require.NoError(t, m.UpdateAllocationStatus(ctx, "tx-1-a2", commission.AllocationConfirmed, ""))

	// The change must be visible through the owning transaction too.
	got, err := m.GetTransaction(ctx, "tx-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, commission.AllocationConfirmed, got.Allocations[1].Status)

	// Platform shares never show up in a user's reward listing.
	rewards, err := m.ListAllocationsByUser(ctx, "conn-1")
	require.NoError(t, err)
	require.Len(t, rewards, 1)
	assert.Equal(t, "tx-1-a1", rewards[0].ID)

	err = m.UpdateAllocationStatus(ctx, "ghost", commission.AllocationPaid, "")
	assert.ErrorIs(t, err, commission.ErrNotFound)
}

func TestMemory_ListLogsNewestFirstOnTiedTimestamps(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	at := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	earlier := at.Add(-time.Hour)

	// Entries appended within the same timestamp must still come back
	// newest-appended first.
	require.NoError(t, m.AppendLog(ctx, commission.OperationLog{ID: "log-0", At: earlier}))
	for _, id := range []string{"log-1", "log-2", "log-3"} {
		require.NoError(t, m.AppendLog(ctx, commission.OperationLog{ID: id, At: at}))
	}

	logs, err := m.ListLogs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, logs, 4)
	assert.Equal(t, "log-3", logs[0].ID)
	assert.Equal(t, "log-2", logs[1].ID)
	assert.Equal(t, "log-1", logs[2].ID)
	assert.Equal(t, "log-0", logs[3].ID)

	limited, err := m.ListLogs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "log-3", limited[0].ID)
}

func TestTxMemory_RollbackOnError(t *testing.T) {
	tm := store.NewTxMemory()
	ctx := context.Background()

	require.NoError(t, tm.SaveDeal(ctx, commission.Deal{ID: "deal-1", Status: commission.StatusLeadCreated}))

	boom := errors.New("boom")
	err := tm.WithTx(ctx, func(s commission.Store) error {
		d := commission.Deal{ID: "deal-1", Status: commission.StatusLeadCreated, Locked: true}
		if err := s.SaveDeal(ctx, d); err != nil {
			return err
		}
		if err := s.SaveUser(ctx, commission.User{ID: "u-1", Role: commission.RoleConnector}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// Everything written inside the unit is rolled back.
	d, err := tm.GetDeal(ctx, "deal-1")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.False(t, d.Locked)

	u, err := tm.GetUser(ctx, "u-1")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestTxMemory_CommitAppliesWrites(t *testing.T) {
	tm := store.NewTxMemory()
	ctx := context.Background()

	err := tm.WithTx(ctx, func(s commission.Store) error {
		if err := s.SaveSettings(ctx, commission.DefaultSettings()); err != nil {
			return err
		}
		// Writes inside the unit are readable inside the unit.
		got, err := s.GetSettings(ctx)
		if err != nil {
			return err
		}
		if got == nil {
			return errors.New("settings not visible inside unit")
		}
		return nil
	})
	require.NoError(t, err)

	settings, err := tm.GetSettings(ctx)
	require.NoError(t, err)
	require.NotNil(t, settings)
	assert.Equal(t, int64(5000), settings.MinPayoutJPY)
}
