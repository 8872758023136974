package ledger

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wpshiftstudio/payin3/internal/database"
	"github.com/wpshiftstudio/payin3/internal/models"
)

// Runs against a disposable database named by PAYIN3_TEST_DATABASE_URL.
func newPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("PAYIN3_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("PAYIN3_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := database.Connect(ctx, url)
	require.NoError(t, err)
	require.NoError(t, Uninstall(ctx, db.Conn))
	require.NoError(t, EnsureSchema(ctx, db.Conn))
	t.Cleanup(func() {
		_ = Uninstall(context.Background(), db.Conn)
		db.Close()
	})
	return NewPostgresStore(db)
}

func TestPostgresStoreLifecycle(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreatePlan(ctx, testPlan("sub-1", "1001", t0)))
	assert.Error(t, store.CreatePlan(ctx, testPlan("sub-2", "1001", t0)), "order_id is unique")

	sub, err := store.GetSubscriptionByOrderID(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, "sub-1", sub.ID)

	due, err := store.DueInstallments(ctx, t0, 0)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "33.33", due[0].Amount.StringFixed(2))

	require.NoError(t, store.ClaimInstallment(ctx, due[0].ID, models.InstallmentStatusPending))
	assert.ErrorIs(t, store.ClaimInstallment(ctx, due[0].ID, models.InstallmentStatusPending), ErrClaimConflict)
	assert.ErrorIs(t, store.ClaimInstallment(ctx, "missing", models.InstallmentStatusPending), ErrInstallmentNotFound)

	require.NoError(t, store.MarkInstallmentPaid(ctx, due[0].ID, "charge_abc"))
	n, err := store.CountUnpaid(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, store.MarkInstallmentFailed(ctx, "sub-1-inst-2", 1, t0))
	insts, err := store.ListInstallments(ctx, "sub-1")
	require.NoError(t, err)
	require.Len(t, insts, 3)
	assert.Equal(t, "charge_abc", insts[0].TransactionID)
	assert.Equal(t, 1, insts[1].Retries)
	require.NotNil(t, insts[1].FailedAt)

	changed, err := store.TransitionSubscription(ctx, "sub-1", models.SubscriptionStatusActive, models.SubscriptionStatusFailed)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = store.TransitionSubscription(ctx, "sub-1", models.SubscriptionStatusActive, models.SubscriptionStatusFailed)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.ErrorIs(t, store.ClaimInstallment(ctx, "sub-1-inst-3", models.InstallmentStatusPending), ErrSubscriptionClosed)

	require.NoError(t, store.AppendLog(ctx, models.LogEntry{
		SubscriptionID: "sub-1", OrderID: "1001",
		Context: models.LogContextCron, Level: models.LogLevelError, Message: "escalated",
	}))
	logs, err := store.ListLogs(ctx, "sub-1", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "escalated", logs[0].Message)
}

func TestPostgresStoreCancelPlan(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreatePlan(ctx, testPlan("sub-1", "1001", t0)))
	require.NoError(t, store.CancelPlan(ctx, "sub-1"))
	assert.ErrorIs(t, store.CancelPlan(ctx, "missing"), ErrSubscriptionNotFound)

	insts, err := store.ListInstallments(ctx, "sub-1")
	require.NoError(t, err)
	for _, inst := range insts {
		assert.Equal(t, models.InstallmentStatusCancelled, inst.Status)
	}
}
