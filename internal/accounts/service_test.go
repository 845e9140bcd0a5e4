package accounts

import (
	"context"
	"testing"
	"time"

	"github.com/baltauto/loyalty-backend/internal/ledger"
	"github.com/baltauto/loyalty-backend/internal/notify"
	"github.com/baltauto/loyalty-backend/internal/tiers"
	"github.com/baltauto/loyalty-backend/pkg/db/models"
	"github.com/baltauto/loyalty-backend/pkg/enums"
	pkgerrors "github.com/baltauto/loyalty-backend/pkg/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func setupAccountsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:accounts_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	statements := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
  agent_id TEXT PRIMARY KEY,
  tg_id INTEGER UNIQUE,
  phone TEXT NOT NULL DEFAULT '',
  full_name TEXT NOT NULL DEFAULT '',
  balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
  tier_id INTEGER NOT NULL DEFAULT 1,
  total_spent INTEGER NOT NULL DEFAULT 0 CHECK (total_spent >= 0),
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS bonus_transactions (
  id TEXT PRIMARY KEY,
  agent_id TEXT NOT NULL,
  type TEXT NOT NULL CHECK (type IN ('accrual', 'redemption')),
  amount INTEGER NOT NULL CHECK (amount > 0),
  description TEXT NOT NULL DEFAULT '',
  related_purchase_id TEXT,
  created_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS processed_purchases (
  purchase_id TEXT PRIMARY KEY,
  agent_id TEXT NOT NULL,
  bonus_earned INTEGER NOT NULL DEFAULT 0,
  processed_at DATETIME
);`,
	}
	for _, stmt := range statements {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB, signupBonus int64) Service {
	t.Helper()

	svc, err := NewService(ledger.NewRepository(db), gormTxRunner{db: db}, tiers.Default(), notify.Noop{}, signupBonus)
	require.NoError(t, err)
	return svc
}

func TestLinkCreatesAccountWithSignupBonus(t *testing.T) {
	t.Parallel()

	db := setupAccountsTestDB(t)
	svc := newTestService(t, db, 10_000)
	ctx := context.Background()

	result, err := svc.Link(ctx, LinkInput{
		AgentID:    "agent-1",
		TelegramID: 1001,
		Phone:      "+79991112233",
		FullName:   "Иван Петров",
	})
	require.NoError(t, err)
	require.True(t, result.Created)
	assert.Equal(t, int64(10_000), result.Account.Balance)
	assert.Equal(t, 1, result.Account.TierID)
	assert.Equal(t, int64(0), result.Account.TotalSpent)

	// Signup bonus must be visible in the audit trail.
	txns, err := svc.ListTransactions(ctx, "agent-1", time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, enums.TransactionTypeAccrual, txns[0].Type)
	assert.Equal(t, int64(10_000), txns[0].Amount)

	require.NoError(t, svc.VerifyLedger(ctx, "agent-1"))
}

func TestLinkIsIdempotent(t *testing.T) {
	t.Parallel()

	db := setupAccountsTestDB(t)
	svc := newTestService(t, db, 10_000)
	ctx := context.Background()

	first, err := svc.Link(ctx, LinkInput{AgentID: "agent-1", TelegramID: 1001})
	require.NoError(t, err)
	require.True(t, first.Created)

	second, err := svc.Link(ctx, LinkInput{
		AgentID:    "agent-1",
		TelegramID: 1001,
		Phone:      "+79995556677",
	})
	require.NoError(t, err)
	require.False(t, second.Created)
	assert.Equal(t, "+79995556677", second.Account.Phone)
	// No second signup bonus.
	assert.Equal(t, int64(10_000), second.Account.Balance)

	txns, err := svc.ListTransactions(ctx, "agent-1", time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, txns, 1)
}

func TestLinkRejectsTelegramIDBoundElsewhere(t *testing.T) {
	t.Parallel()

	db := setupAccountsTestDB(t)
	svc := newTestService(t, db, 0)
	ctx := context.Background()

	_, err := svc.Link(ctx, LinkInput{AgentID: "agent-1", TelegramID: 1001})
	require.NoError(t, err)

	_, err = svc.Link(ctx, LinkInput{AgentID: "agent-2", TelegramID: 1001})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestLinkValidation(t *testing.T) {
	t.Parallel()

	db := setupAccountsTestDB(t)
	svc := newTestService(t, db, 0)
	ctx := context.Background()

	_, err := svc.Link(ctx, LinkInput{AgentID: "  ", TelegramID: 1001})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.Link(ctx, LinkInput{AgentID: "agent-1", TelegramID: 0})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestZeroSignupBonusSkipsTransaction(t *testing.T) {
	t.Parallel()

	db := setupAccountsTestDB(t)
	svc := newTestService(t, db, 0)
	ctx := context.Background()

	result, err := svc.Link(ctx, LinkInput{AgentID: "agent-1", TelegramID: 1001})
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.Account.Balance)

	txns, err := svc.ListTransactions(ctx, "agent-1", time.Time{}, 0)
	require.NoError(t, err)
	assert.Empty(t, txns)

	require.NoError(t, svc.VerifyLedger(ctx, "agent-1"))
}

func TestGetBalanceAndMissingAccount(t *testing.T) {
	t.Parallel()

	db := setupAccountsTestDB(t)
	svc := newTestService(t, db, 5_000)
	ctx := context.Background()

	_, err := svc.Link(ctx, LinkInput{AgentID: "agent-1", TelegramID: 1001})
	require.NoError(t, err)

	balance, err := svc.GetBalance(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5_000), balance)

	_, err = svc.GetBalance(ctx, "agent-unknown")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestGetTierStatus(t *testing.T) {
	t.Parallel()

	db := setupAccountsTestDB(t)
	svc := newTestService(t, db, 0)
	ctx := context.Background()

	_, err := svc.Link(ctx, LinkInput{AgentID: "agent-1", TelegramID: 1001})
	require.NoError(t, err)

	// Push the account halfway to the silver threshold.
	require.NoError(t, db.Model(&models.Account{}).
		Where("agent_id = ?", "agent-1").
		Update("total_spent", 750_000).Error)

	status, err := svc.GetTierStatus(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 1, status.TierID)
	assert.Equal(t, int64(750_000), status.TotalSpent)
	require.NotNil(t, status.NextTierID)
	assert.Equal(t, 2, *status.NextTierID)
	assert.Equal(t, int64(750_000), status.RemainingSpend)
	assert.InDelta(t, 50.0, status.Percent, 0.001)
}

func TestVerifyLedgerDetectsDrift(t *testing.T) {
	t.Parallel()

	db := setupAccountsTestDB(t)
	svc := newTestService(t, db, 10_000)
	ctx := context.Background()

	_, err := svc.Link(ctx, LinkInput{AgentID: "agent-1", TelegramID: 1001})
	require.NoError(t, err)

	// Corrupt the materialized balance behind the ledger's back.
	require.NoError(t, db.Model(&models.Account{}).
		Where("agent_id = ?", "agent-1").
		Update("balance", 99_999).Error)

	err = svc.VerifyLedger(ctx, "agent-1")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConsistency))
}
