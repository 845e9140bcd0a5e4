package redemption

import (
	"context"
	"strings"

	"github.com/baltauto/loyalty-backend/internal/ledger"
	"github.com/baltauto/loyalty-backend/internal/notify"
	"github.com/baltauto/loyalty-backend/internal/tiers"
	"github.com/baltauto/loyalty-backend/pkg/db/models"
	"github.com/baltauto/loyalty-backend/pkg/enums"
	pkgerrors "github.com/baltauto/loyalty-backend/pkg/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Discounter mutates the purchase on the external system. The ledger debit
// only commits after a successful call, so a failed application never leaves
// the ledger inconsistent.
type Discounter interface {
	ApplyDiscount(ctx context.Context, purchaseID string, percent decimal.Decimal) error
}

// Request asks to pay part of a target purchase with bonus balance.
type Request struct {
	AgentID        string
	PurchaseID     string
	PurchaseAmount int64
	// RequestedAmount caps the redemption; nil redeems the maximum the tier
	// and balance allow.
	RequestedAmount *int64
}

// Result reports the applied redemption. A zero AmountRedeemed with no error
// is the legitimate "nothing to redeem" outcome.
type Result struct {
	AmountRedeemed   int64
	DiscountPercent  decimal.Decimal
	RemainingBalance int64
}

// Service lets customers redeem bonus balance against purchases.
type Service interface {
	Request(ctx context.Context, req Request) (*Result, error)
}

type service struct {
	repo       ledger.Repository
	tx         txRunner
	table      tiers.Table
	discounter Discounter
	notifier   notify.Notifier
}

// NewService wires the redemption processor dependencies.
func NewService(repo ledger.Repository, tx txRunner, table tiers.Table, discounter Discounter, notifier notify.Notifier) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "ledger repository required")
	}
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	if discounter == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "discount applier required")
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &service{
		repo:       repo,
		tx:         tx,
		table:      table,
		discounter: discounter,
		notifier:   notifier,
	}, nil
}

var oneHundred = decimal.NewFromInt(100)

// Request clamps the redeemable amount to the tier cap and the available
// balance, applies the discount on the external purchase first, and only
// then debits the ledger.
func (s *service) Request(ctx context.Context, req Request) (*Result, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	account, err := s.repo.GetAccount(ctx, req.AgentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading account")
	}
	if account == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	}

	tier := s.table.TierFor(account.TotalSpent)
	maxAllowed := tier.RedeemLimit(req.PurchaseAmount)

	amount := min64(account.Balance, maxAllowed)
	if req.RequestedAmount != nil {
		amount = min64(amount, *req.RequestedAmount)
	}
	if amount <= 0 {
		// Zero balance, zero-cap tier, or a zero request. Terminal, not an
		// error.
		return &Result{RemainingBalance: account.Balance, DiscountPercent: decimal.Zero}, nil
	}

	// Percent of the purchase covered by bonus, applied line-item-wise on
	// the external order. Rounded half-up to two decimals.
	percent := decimal.NewFromInt(amount).
		Mul(oneHundred).
		DivRound(decimal.NewFromInt(req.PurchaseAmount), 2)

	if err := s.discounter.ApplyDiscount(ctx, req.PurchaseID, percent); err != nil {
		return nil, err
	}

	var remaining int64
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		ok, err := repo.DebitBalance(ctx, req.AgentID, amount)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "debiting balance")
		}
		if !ok {
			// The balance moved under us after the external discount went
			// through. The ledger stays untouched; an operator has to
			// reconcile the external order.
			return pkgerrors.New(pkgerrors.CodeConsistency, "balance changed during redemption").
				WithDetails(map[string]any{
					"agent_id":    req.AgentID,
					"purchase_id": req.PurchaseID,
					"amount":      amount,
				})
		}

		purchaseID := req.PurchaseID
		txn := &models.BonusTransaction{
			ID:                uuid.New(),
			AgentID:           req.AgentID,
			Type:              enums.TransactionTypeRedemption,
			Amount:            amount,
			Description:       "Списание бонусов",
			RelatedPurchaseID: &purchaseID,
		}
		if err := repo.CreateTransaction(ctx, txn); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording redemption transaction")
		}

		fresh, err := repo.GetAccount(ctx, req.AgentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reloading account")
		}
		remaining = fresh.Balance
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.BonusRedeemed(ctx, req.AgentID, amount, remaining)
	return &Result{
		AmountRedeemed:   amount,
		DiscountPercent:  percent,
		RemainingBalance: remaining,
	}, nil
}

func validateRequest(req Request) error {
	if strings.TrimSpace(req.AgentID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "agent id required")
	}
	if strings.TrimSpace(req.PurchaseID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "purchase id required")
	}
	if req.PurchaseAmount <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "purchase amount must be positive")
	}
	if req.RequestedAmount != nil && *req.RequestedAmount < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "requested amount cannot be negative")
	}
	return nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
