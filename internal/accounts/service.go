package accounts

import (
	"context"
	"strings"
	"time"

	"github.com/baltauto/loyalty-backend/internal/ledger"
	"github.com/baltauto/loyalty-backend/internal/notify"
	"github.com/baltauto/loyalty-backend/internal/tiers"
	"github.com/baltauto/loyalty-backend/pkg/db/models"
	"github.com/baltauto/loyalty-backend/pkg/enums"
	pkgerrors "github.com/baltauto/loyalty-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service exposes account lifecycle and read operations.
type Service interface {
	Link(ctx context.Context, input LinkInput) (*LinkResult, error)
	GetBalance(ctx context.Context, agentID string) (int64, error)
	GetTierStatus(ctx context.Context, agentID string) (*TierStatus, error)
	ListTransactions(ctx context.Context, agentID string, since time.Time, limit int) ([]models.BonusTransaction, error)
	VerifyLedger(ctx context.Context, agentID string) error
}

type service struct {
	repo        ledger.Repository
	tx          txRunner
	table       tiers.Table
	notifier    notify.Notifier
	signupBonus int64
}

// LinkInput binds a chat identity to an ERP counterparty.
type LinkInput struct {
	AgentID    string
	TelegramID int64
	Phone      string
	FullName   string
}

// LinkResult reports the linked account and whether it was created by this
// call.
type LinkResult struct {
	Account *models.Account
	Created bool
}

// TierStatus is the customer-facing view of tier progression.
type TierStatus struct {
	TierID         int     `json:"tier_id"`
	TierName       string  `json:"tier_name"`
	TotalSpent     int64   `json:"total_spent"`
	AccrualBps     int     `json:"accrual_bps"`
	RedeemCapBps   int     `json:"redeem_cap_bps"`
	NextTierID     *int    `json:"next_tier_id,omitempty"`
	NextTierName   string  `json:"next_tier_name,omitempty"`
	RemainingSpend int64   `json:"remaining_spend"`
	Percent        float64 `json:"percent"`
}

// NewService wires the account service dependencies.
func NewService(repo ledger.Repository, tx txRunner, table tiers.Table, notifier notify.Notifier, signupBonus int64) (Service, error) {
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
	if signupBonus < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeConfig, "signup bonus cannot be negative")
	}
	return &service{
		repo:        repo,
		tx:          tx,
		table:       table,
		notifier:    notifier,
		signupBonus: signupBonus,
	}, nil
}

// Link creates the loyalty account for a chat user on first contact, seeding
// the signup bonus as a regular accrual transaction so the audit trail stays
// reconcilable. Calling it again for a known identity updates contact fields
// without granting a second bonus.
func (s *service) Link(ctx context.Context, input LinkInput) (*LinkResult, error) {
	agentID := strings.TrimSpace(input.AgentID)
	if agentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agent id required")
	}
	if input.TelegramID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "telegram id required")
	}

	var result LinkResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		account, err := repo.GetAccount(ctx, agentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading account")
		}

		if account != nil {
			account.TelegramID = &input.TelegramID
			if input.Phone != "" {
				account.Phone = input.Phone
			}
			if input.FullName != "" {
				account.FullName = input.FullName
			}
			if err := repo.UpdateAccount(ctx, account); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating account link")
			}
			result = LinkResult{Account: account, Created: false}
			return nil
		}

		existing, err := repo.GetAccountByTelegramID(ctx, input.TelegramID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading account by telegram id")
		}
		if existing != nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "telegram user already linked to another counterparty").
				WithDetails(map[string]any{"agent_id": existing.AgentID})
		}

		account = &models.Account{
			AgentID:    agentID,
			TelegramID: &input.TelegramID,
			Phone:      input.Phone,
			FullName:   input.FullName,
			Balance:    s.signupBonus,
			TierID:     s.table.Lowest().ID,
			TotalSpent: 0,
		}
		if err := repo.CreateAccount(ctx, account); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating account")
		}

		if s.signupBonus > 0 {
			txn := &models.BonusTransaction{
				ID:          uuid.New(),
				AgentID:     agentID,
				Type:        enums.TransactionTypeAccrual,
				Amount:      s.signupBonus,
				Description: "Приветственный бонус",
			}
			if err := repo.CreateTransaction(ctx, txn); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording signup bonus")
			}
		}

		result = LinkResult{Account: account, Created: true}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Created {
		s.notifier.AccountLinked(ctx, agentID, s.signupBonus)
	}
	return &result, nil
}

func (s *service) GetBalance(ctx context.Context, agentID string) (int64, error) {
	account, err := s.getAccount(ctx, agentID)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

func (s *service) GetTierStatus(ctx context.Context, agentID string) (*TierStatus, error) {
	account, err := s.getAccount(ctx, agentID)
	if err != nil {
		return nil, err
	}

	progress := s.table.ProgressFor(account.TotalSpent)
	status := &TierStatus{
		TierID:         progress.Current.ID,
		TierName:       progress.Current.Name,
		TotalSpent:     account.TotalSpent,
		AccrualBps:     progress.Current.AccrualBps,
		RedeemCapBps:   progress.Current.RedeemCapBps,
		RemainingSpend: progress.RemainingSpend,
		Percent:        progress.Percent,
	}
	if progress.Next != nil {
		status.NextTierID = &progress.Next.ID
		status.NextTierName = progress.Next.Name
	}
	return status, nil
}

func (s *service) ListTransactions(ctx context.Context, agentID string, since time.Time, limit int) ([]models.BonusTransaction, error) {
	if _, err := s.getAccount(ctx, agentID); err != nil {
		return nil, err
	}
	txns, err := s.repo.ListTransactions(ctx, agentID, since, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing transactions")
	}
	return txns, nil
}

// VerifyLedger cross-checks the materialized balance against the transaction
// history. A mismatch means an invariant was broken and needs operator
// attention.
func (s *service) VerifyLedger(ctx context.Context, agentID string) error {
	account, err := s.getAccount(ctx, agentID)
	if err != nil {
		return err
	}

	accrued, err := s.repo.SumByType(ctx, agentID, enums.TransactionTypeAccrual)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "summing accruals")
	}
	redeemed, err := s.repo.SumByType(ctx, agentID, enums.TransactionTypeRedemption)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "summing redemptions")
	}

	if account.Balance != accrued-redeemed {
		return pkgerrors.New(pkgerrors.CodeConsistency, "balance does not match transaction history").
			WithDetails(map[string]any{
				"agent_id": agentID,
				"balance":  account.Balance,
				"accrued":  accrued,
				"redeemed": redeemed,
			})
	}
	return nil
}

func (s *service) getAccount(ctx context.Context, agentID string) (*models.Account, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agent id required")
	}
	account, err := s.repo.GetAccount(ctx, agentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading account")
	}
	if account == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	}
	return account, nil
}
