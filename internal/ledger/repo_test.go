package ledger

import (
	"context"
	"testing"
	"time"

	pkgdb "github.com/baltauto/loyalty-backend/pkg/db"
	"github.com/baltauto/loyalty-backend/pkg/db/models"
	"github.com/baltauto/loyalty-backend/pkg/enums"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupLedgerTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:ledger_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	accounts := `
CREATE TABLE IF NOT EXISTS accounts (
  agent_id TEXT PRIMARY KEY,
  tg_id INTEGER UNIQUE,
  phone TEXT NOT NULL DEFAULT '',
  full_name TEXT NOT NULL DEFAULT '',
  balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
  tier_id INTEGER NOT NULL DEFAULT 1,
  total_spent INTEGER NOT NULL DEFAULT 0 CHECK (total_spent >= 0),
  created_at DATETIME,
  updated_at DATETIME
);`
	bonusTransactions := `
CREATE TABLE IF NOT EXISTS bonus_transactions (
  id TEXT PRIMARY KEY,
  agent_id TEXT NOT NULL,
  type TEXT NOT NULL CHECK (type IN ('accrual', 'redemption')),
  amount INTEGER NOT NULL CHECK (amount > 0),
  description TEXT NOT NULL DEFAULT '',
  related_purchase_id TEXT,
  created_at DATETIME
);`
	processedPurchases := `
CREATE TABLE IF NOT EXISTS processed_purchases (
  purchase_id TEXT PRIMARY KEY,
  agent_id TEXT NOT NULL,
  bonus_earned INTEGER NOT NULL DEFAULT 0,
  processed_at DATETIME
);`
	require.NoError(t, db.Exec(accounts).Error)
	require.NoError(t, db.Exec(bonusTransactions).Error)
	require.NoError(t, db.Exec(processedPurchases).Error)
	return db
}

func seedAccount(t *testing.T, db *gorm.DB, balance int64, totalSpent int64) *models.Account {
	t.Helper()

	tg := time.Now().UnixNano()
	account := &models.Account{
		AgentID:    uuid.NewString(),
		TelegramID: &tg,
		Phone:      "+79990000000",
		FullName:   "Test Customer",
		Balance:    balance,
		TierID:     1,
		TotalSpent: totalSpent,
	}
	require.NoError(t, db.Create(account).Error)
	return account
}

func TestAccountLookup(t *testing.T) {
	t.Parallel()

	db := setupLedgerTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	seeded := seedAccount(t, db, 500, 0)

	got, err := repo.GetAccount(ctx, seeded.AgentID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, seeded.AgentID, got.AgentID)
	assert.Equal(t, int64(500), got.Balance)

	byTG, err := repo.GetAccountByTelegramID(ctx, *seeded.TelegramID)
	require.NoError(t, err)
	require.NotNil(t, byTG)
	assert.Equal(t, seeded.AgentID, byTG.AgentID)

	missing, err := repo.GetAccount(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, missing)

	missingTG, err := repo.GetAccountByTelegramID(ctx, -1)
	require.NoError(t, err)
	assert.Nil(t, missingTG)
}

func TestCreditBalance(t *testing.T) {
	t.Parallel()

	db := setupLedgerTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	account := seedAccount(t, db, 100, 0)

	ok, err := repo.CreditBalance(ctx, account.AgentID, 250)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := repo.GetAccount(ctx, account.AgentID)
	require.NoError(t, err)
	assert.Equal(t, int64(350), got.Balance)

	ok, err = repo.CreditBalance(ctx, uuid.NewString(), 250)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDebitBalanceGuard(t *testing.T) {
	t.Parallel()

	db := setupLedgerTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	account := seedAccount(t, db, 100, 0)

	ok, err := repo.DebitBalance(ctx, account.AgentID, 60)
	require.NoError(t, err)
	require.True(t, ok)

	// Remaining balance is 40, a 41 debit must be rejected.
	ok, err = repo.DebitBalance(ctx, account.AgentID, 41)
	require.NoError(t, err)
	require.False(t, ok)

	got, err := repo.GetAccount(ctx, account.AgentID)
	require.NoError(t, err)
	assert.Equal(t, int64(40), got.Balance)
}

func TestAdvanceSpending(t *testing.T) {
	t.Parallel()

	db := setupLedgerTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	account := seedAccount(t, db, 0, 1_000_000)

	ok, err := repo.AdvanceSpending(ctx, account.AgentID, 500_000, 2)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := repo.GetAccount(ctx, account.AgentID)
	require.NoError(t, err)
	assert.Equal(t, int64(1_500_000), got.TotalSpent)
	assert.Equal(t, 2, got.TierID)
}

func TestTransactionsListAndSum(t *testing.T) {
	t.Parallel()

	db := setupLedgerTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	account := seedAccount(t, db, 0, 0)
	now := time.Now().UTC()

	entries := []struct {
		txnType enums.TransactionType
		amount  int64
		age     time.Duration
	}{
		{enums.TransactionTypeAccrual, 100, 72 * time.Hour},
		{enums.TransactionTypeAccrual, 200, 24 * time.Hour},
		{enums.TransactionTypeRedemption, 50, time.Hour},
	}
	for _, e := range entries {
		txn := &models.BonusTransaction{
			ID:        uuid.New(),
			AgentID:   account.AgentID,
			Type:      e.txnType,
			Amount:    e.amount,
			CreatedAt: now.Add(-e.age),
		}
		require.NoError(t, repo.CreateTransaction(ctx, txn))
	}

	all, err := repo.ListTransactions(ctx, account.AgentID, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Newest first.
	assert.Equal(t, enums.TransactionTypeRedemption, all[0].Type)

	recent, err := repo.ListTransactions(ctx, account.AgentID, now.Add(-48*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, recent, 2)

	limited, err := repo.ListTransactions(ctx, account.AgentID, time.Time{}, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	accrued, err := repo.SumByType(ctx, account.AgentID, enums.TransactionTypeAccrual)
	require.NoError(t, err)
	assert.Equal(t, int64(300), accrued)

	redeemed, err := repo.SumByType(ctx, account.AgentID, enums.TransactionTypeRedemption)
	require.NoError(t, err)
	assert.Equal(t, int64(50), redeemed)
}

func TestMarkProcessedIdempotencyGate(t *testing.T) {
	t.Parallel()

	db := setupLedgerTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	account := seedAccount(t, db, 0, 0)
	purchaseID := uuid.NewString()

	record := &models.ProcessedPurchase{
		PurchaseID:  purchaseID,
		AgentID:     account.AgentID,
		BonusEarned: 100,
		ProcessedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.MarkProcessed(ctx, record))

	dup := &models.ProcessedPurchase{
		PurchaseID: purchaseID,
		AgentID:    account.AgentID,
	}
	err := repo.MarkProcessed(ctx, dup)
	require.Error(t, err)
	assert.True(t, pkgdb.IsUniqueViolation(err, ""))

	seen, err := repo.HasProcessed(ctx, purchaseID)
	require.NoError(t, err)
	assert.True(t, seen)

	unseen, err := repo.HasProcessed(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.False(t, unseen)
}
