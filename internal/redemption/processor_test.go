package redemption

import (
	"context"
	"testing"

	"github.com/baltauto/loyalty-backend/internal/ledger"
	"github.com/baltauto/loyalty-backend/internal/notify"
	"github.com/baltauto/loyalty-backend/internal/tiers"
	"github.com/baltauto/loyalty-backend/pkg/db/models"
	pkgerrors "github.com/baltauto/loyalty-backend/pkg/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
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

type fakeDiscounter struct {
	calls    []appliedDiscount
	err      error
	preApply func()
}

type appliedDiscount struct {
	purchaseID string
	percent    decimal.Decimal
}

func (d *fakeDiscounter) ApplyDiscount(_ context.Context, purchaseID string, percent decimal.Decimal) error {
	if d.err != nil {
		return d.err
	}
	if d.preApply != nil {
		d.preApply()
	}
	d.calls = append(d.calls, appliedDiscount{purchaseID: purchaseID, percent: percent})
	return nil
}

func setupRedemptionTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:redemption_" + uuid.NewString() + "?mode=memory&cache=shared"
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
	}
	for _, stmt := range statements {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

func newTestRedemption(t *testing.T, db *gorm.DB, discounter Discounter) Service {
	t.Helper()

	svc, err := NewService(ledger.NewRepository(db), gormTxRunner{db: db}, tiers.Default(), discounter, notify.Noop{})
	require.NoError(t, err)
	return svc
}

func seedRedemptionAccount(t *testing.T, db *gorm.DB, agentID string, balance, totalSpent int64) {
	t.Helper()

	require.NoError(t, db.Create(&models.Account{
		AgentID:    agentID,
		Balance:    balance,
		TierID:     1,
		TotalSpent: totalSpent,
	}).Error)
}

func TestRequestClampsToTierCap(t *testing.T) {
	t.Parallel()

	db := setupRedemptionTestDB(t)
	discounter := &fakeDiscounter{}
	svc := newTestRedemption(t, db, discounter)
	ctx := context.Background()

	seedRedemptionAccount(t, db, "agent-1", 1000, 0)

	// Entry tier caps redemption at 30% of the purchase.
	result, err := svc.Request(ctx, Request{
		AgentID:        "agent-1",
		PurchaseID:     "order-1",
		PurchaseAmount: 2000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(600), result.AmountRedeemed)
	assert.True(t, result.DiscountPercent.Equal(decimal.RequireFromString("30")), "got %s", result.DiscountPercent)
	assert.Equal(t, int64(400), result.RemainingBalance)

	require.Len(t, discounter.calls, 1)
	assert.Equal(t, "order-1", discounter.calls[0].purchaseID)

	var txns []models.BonusTransaction
	require.NoError(t, db.Find(&txns).Error)
	require.Len(t, txns, 1)
	assert.Equal(t, int64(600), txns[0].Amount)
}

func TestRequestClampsToBalance(t *testing.T) {
	t.Parallel()

	db := setupRedemptionTestDB(t)
	discounter := &fakeDiscounter{}
	svc := newTestRedemption(t, db, discounter)
	ctx := context.Background()

	seedRedemptionAccount(t, db, "agent-1", 100, 0)

	result, err := svc.Request(ctx, Request{
		AgentID:        "agent-1",
		PurchaseID:     "order-1",
		PurchaseAmount: 2000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), result.AmountRedeemed)
	// 100 / 2000 = 5%.
	assert.True(t, result.DiscountPercent.Equal(decimal.RequireFromString("5")), "got %s", result.DiscountPercent)
	assert.Equal(t, int64(0), result.RemainingBalance)
}

func TestRequestHonorsRequestedAmount(t *testing.T) {
	t.Parallel()

	db := setupRedemptionTestDB(t)
	discounter := &fakeDiscounter{}
	svc := newTestRedemption(t, db, discounter)
	ctx := context.Background()

	seedRedemptionAccount(t, db, "agent-1", 1000, 0)

	requested := int64(250)
	result, err := svc.Request(ctx, Request{
		AgentID:         "agent-1",
		PurchaseID:      "order-1",
		PurchaseAmount:  2000,
		RequestedAmount: &requested,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(250), result.AmountRedeemed)
	// 250 / 2000 = 12.5%.
	assert.True(t, result.DiscountPercent.Equal(decimal.RequireFromString("12.5")), "got %s", result.DiscountPercent)
	assert.Equal(t, int64(750), result.RemainingBalance)
}

func TestRequestRoundsPercentHalfUp(t *testing.T) {
	t.Parallel()

	db := setupRedemptionTestDB(t)
	discounter := &fakeDiscounter{}
	svc := newTestRedemption(t, db, discounter)
	ctx := context.Background()

	seedRedemptionAccount(t, db, "agent-1", 100, 0)

	requested := int64(100)
	result, err := svc.Request(ctx, Request{
		AgentID:         "agent-1",
		PurchaseID:      "order-1",
		PurchaseAmount:  30_000,
		RequestedAmount: &requested,
	})
	require.NoError(t, err)
	// 100 / 30000 * 100 = 0.3333...% rounds to 0.33.
	assert.True(t, result.DiscountPercent.Equal(decimal.RequireFromString("0.33")), "got %s", result.DiscountPercent)

	require.Len(t, discounter.calls, 1)
	assert.True(t, discounter.calls[0].percent.Equal(decimal.RequireFromString("0.33")))
}

func TestRequestNothingToRedeem(t *testing.T) {
	t.Parallel()

	db := setupRedemptionTestDB(t)
	discounter := &fakeDiscounter{}
	svc := newTestRedemption(t, db, discounter)
	ctx := context.Background()

	seedRedemptionAccount(t, db, "agent-zero", 0, 0)
	seedRedemptionAccount(t, db, "agent-rich", 1000, 0)

	// Zero balance.
	result, err := svc.Request(ctx, Request{
		AgentID:        "agent-zero",
		PurchaseID:     "order-1",
		PurchaseAmount: 2000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.AmountRedeemed)
	assert.Equal(t, int64(0), result.RemainingBalance)

	// Explicit zero request.
	zero := int64(0)
	result, err = svc.Request(ctx, Request{
		AgentID:         "agent-rich",
		PurchaseID:      "order-1",
		PurchaseAmount:  2000,
		RequestedAmount: &zero,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.AmountRedeemed)
	assert.Equal(t, int64(1000), result.RemainingBalance)

	// No external call and no ledger rows for either case.
	assert.Empty(t, discounter.calls)
	var count int64
	require.NoError(t, db.Model(&models.BonusTransaction{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestRequestExternalFailureLeavesLedgerUntouched(t *testing.T) {
	t.Parallel()

	db := setupRedemptionTestDB(t)
	discounter := &fakeDiscounter{
		err: pkgerrors.New(pkgerrors.CodeDependency, "erp unavailable"),
	}
	svc := newTestRedemption(t, db, discounter)
	ctx := context.Background()

	seedRedemptionAccount(t, db, "agent-1", 1000, 0)

	_, err := svc.Request(ctx, Request{
		AgentID:        "agent-1",
		PurchaseID:     "order-1",
		PurchaseAmount: 2000,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	var account models.Account
	require.NoError(t, db.First(&account, "agent_id = ?", "agent-1").Error)
	assert.Equal(t, int64(1000), account.Balance)

	var count int64
	require.NoError(t, db.Model(&models.BonusTransaction{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestRequestDetectsRacedBalance(t *testing.T) {
	t.Parallel()

	db := setupRedemptionTestDB(t)
	discounter := &fakeDiscounter{}
	svc := newTestRedemption(t, db, discounter)
	ctx := context.Background()

	seedRedemptionAccount(t, db, "agent-1", 600, 0)

	// Simulate a concurrent debit landing between the external discount
	// call and our ledger transaction.
	discounter.preApply = func() {
		require.NoError(t, db.Model(&models.Account{}).
			Where("agent_id = ?", "agent-1").
			Update("balance", 10).Error)
	}

	_, err := svc.Request(ctx, Request{
		AgentID:        "agent-1",
		PurchaseID:     "order-1",
		PurchaseAmount: 2000,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConsistency))

	var account models.Account
	require.NoError(t, db.First(&account, "agent_id = ?", "agent-1").Error)
	assert.Equal(t, int64(10), account.Balance)
}

func TestRequestValidation(t *testing.T) {
	t.Parallel()

	db := setupRedemptionTestDB(t)
	svc := newTestRedemption(t, db, &fakeDiscounter{})
	ctx := context.Background()

	negative := int64(-1)
	cases := []struct {
		name string
		req  Request
	}{
		{"missing agent id", Request{PurchaseID: "order-1", PurchaseAmount: 100}},
		{"missing purchase id", Request{AgentID: "agent-1", PurchaseAmount: 100}},
		{"zero purchase amount", Request{AgentID: "agent-1", PurchaseID: "order-1"}},
		{"negative requested amount", Request{
			AgentID: "agent-1", PurchaseID: "order-1", PurchaseAmount: 100, RequestedAmount: &negative,
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Request(ctx, tc.req)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
		})
	}
}

func TestRequestUnknownAccount(t *testing.T) {
	t.Parallel()

	db := setupRedemptionTestDB(t)
	svc := newTestRedemption(t, db, &fakeDiscounter{})
	ctx := context.Background()

	_, err := svc.Request(ctx, Request{
		AgentID:        "agent-missing",
		PurchaseID:     "order-1",
		PurchaseAmount: 2000,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}
