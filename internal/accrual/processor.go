package accrual

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/baltauto/loyalty-backend/internal/ledger"
	"github.com/baltauto/loyalty-backend/internal/notify"
	"github.com/baltauto/loyalty-backend/internal/tiers"
	pkgdb "github.com/baltauto/loyalty-backend/pkg/db"
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

// LineItem is one position of an external purchase. Services never earn
// bonus but their amount still counts toward tier progression.
type LineItem struct {
	Name      string
	UnitPrice int64
	Quantity  float64
	IsService bool
}

// Purchase is the external shipment record the processor consumes.
type Purchase struct {
	PurchaseID string
	AgentID    string
	Moment     time.Time
	LineItems  []LineItem
}

// Result reports what a single Process call did.
type Result struct {
	BonusEarned      int64
	NewBalance       int64
	PurchaseAmount   int64
	EligibleAmount   int64
	AlreadyProcessed bool
	TierUpgraded     bool
	OldTier          tiers.Tier
	NewTier          tiers.Tier
}

// Service converts external purchase records into ledger mutations exactly
// once each.
type Service interface {
	Process(ctx context.Context, purchase Purchase) (*Result, error)
}

type service struct {
	repo     ledger.Repository
	tx       txRunner
	table    tiers.Table
	notifier notify.Notifier
}

// NewService wires the accrual processor dependencies.
func NewService(repo ledger.Repository, tx txRunner, table tiers.Table, notifier notify.Notifier) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "ledger repository required")
	}
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &service{repo: repo, tx: tx, table: table, notifier: notifier}, nil
}

// errAlreadyProcessed aborts the transaction without treating the duplicate
// as a failure.
var errAlreadyProcessed = errors.New("purchase already processed")

// Process applies the accrual for one purchase. The processed marker, the
// balance credit, the audit transaction, and the spend advance all commit in
// one transaction; a duplicate purchase id is a no-op regardless of how the
// race is lost.
func (s *service) Process(ctx context.Context, purchase Purchase) (*Result, error) {
	if err := validatePurchase(purchase); err != nil {
		return nil, err
	}

	// Cheap fast path; the authoritative gate is the primary key insert
	// inside the transaction below.
	seen, err := s.repo.HasProcessed(ctx, purchase.PurchaseID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checking processed marker")
	}
	if seen {
		return &Result{AlreadyProcessed: true}, nil
	}

	purchaseAmount, eligibleAmount := amounts(purchase.LineItems)

	var result Result
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		account, err := repo.GetAccount(ctx, purchase.AgentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading account")
		}
		if account == nil {
			// Accrual never creates accounts; linking owns that.
			return pkgerrors.New(pkgerrors.CodeNotFound, "account not found for purchase").
				WithDetails(map[string]any{"agent_id": purchase.AgentID, "purchase_id": purchase.PurchaseID})
		}

		// Rate comes from the tier held before this purchase.
		oldTier := s.table.TierFor(account.TotalSpent)
		bonusEarned := oldTier.Bonus(eligibleAmount)
		newTier := s.table.TierFor(account.TotalSpent + purchaseAmount)

		marker := &models.ProcessedPurchase{
			PurchaseID:  purchase.PurchaseID,
			AgentID:     purchase.AgentID,
			BonusEarned: bonusEarned,
			ProcessedAt: time.Now().UTC(),
		}
		if err := repo.MarkProcessed(ctx, marker); err != nil {
			if pkgdb.IsUniqueViolation(err, "") {
				return errAlreadyProcessed
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "writing processed marker")
		}

		if bonusEarned > 0 {
			ok, err := repo.CreditBalance(ctx, purchase.AgentID, bonusEarned)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "crediting balance")
			}
			if !ok {
				return pkgerrors.New(pkgerrors.CodeConsistency, "account vanished during accrual")
			}

			purchaseID := purchase.PurchaseID
			txn := &models.BonusTransaction{
				ID:                uuid.New(),
				AgentID:           purchase.AgentID,
				Type:              enums.TransactionTypeAccrual,
				Amount:            bonusEarned,
				Description:       "Начисление бонусов за покупку",
				RelatedPurchaseID: &purchaseID,
			}
			if err := repo.CreateTransaction(ctx, txn); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording accrual transaction")
			}
		}

		// Tier progression counts the full purchase, services included,
		// even when the bonus is zero.
		ok, err := repo.AdvanceSpending(ctx, purchase.AgentID, purchaseAmount, newTier.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "advancing total spent")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConsistency, "account vanished during accrual")
		}

		result = Result{
			BonusEarned:    bonusEarned,
			NewBalance:     account.Balance + bonusEarned,
			PurchaseAmount: purchaseAmount,
			EligibleAmount: eligibleAmount,
			TierUpgraded:   newTier.ID != oldTier.ID,
			OldTier:        oldTier,
			NewTier:        newTier,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errAlreadyProcessed) {
			return &Result{AlreadyProcessed: true}, nil
		}
		return nil, err
	}

	if result.BonusEarned > 0 {
		s.notifier.BonusAccrued(ctx, purchase.AgentID, purchase.PurchaseID, result.BonusEarned, result.NewBalance)
	}
	if result.TierUpgraded {
		s.notifier.TierUpgraded(ctx, purchase.AgentID, result.OldTier, result.NewTier)
	}
	return &result, nil
}

func validatePurchase(purchase Purchase) error {
	if strings.TrimSpace(purchase.PurchaseID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "purchase id required")
	}
	if strings.TrimSpace(purchase.AgentID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "agent id required")
	}
	for i, item := range purchase.LineItems {
		if item.UnitPrice < 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "line item has negative price").
				WithDetails(map[string]any{"position": i, "name": item.Name})
		}
		if item.Quantity < 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "line item has negative quantity").
				WithDetails(map[string]any{"position": i, "name": item.Name})
		}
	}
	return nil
}

// amounts sums line totals in minor units. Fractional quantities are allowed
// so each line total is truncated toward zero, matching the invoice math of
// the upstream ERP.
func amounts(items []LineItem) (purchaseAmount int64, eligibleAmount int64) {
	for _, item := range items {
		lineTotal := decimal.NewFromInt(item.UnitPrice).
			Mul(decimal.NewFromFloat(item.Quantity)).
			IntPart()
		purchaseAmount += lineTotal
		if !item.IsService {
			eligibleAmount += lineTotal
		}
	}
	return purchaseAmount, eligibleAmount
}
