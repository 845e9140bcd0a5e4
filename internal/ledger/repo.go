package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/baltauto/loyalty-backend/pkg/db/models"
	"github.com/baltauto/loyalty-backend/pkg/enums"
	"gorm.io/gorm"
)

// Repository manages persistence for loyalty accounts, their transaction
// history, and processed purchase markers.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateAccount(ctx context.Context, account *models.Account) error
	UpdateAccount(ctx context.Context, account *models.Account) error
	GetAccount(ctx context.Context, agentID string) (*models.Account, error)
	GetAccountByTelegramID(ctx context.Context, telegramID int64) (*models.Account, error)

	// CreditBalance adds amount to the account balance. Returns false when
	// the account does not exist.
	CreditBalance(ctx context.Context, agentID string, amount int64) (bool, error)
	// DebitBalance subtracts amount, guarded so the balance can never go
	// negative. Returns false when the guard rejects the update.
	DebitBalance(ctx context.Context, agentID string, amount int64) (bool, error)
	// AdvanceSpending moves total_spent forward and pins the derived tier.
	AdvanceSpending(ctx context.Context, agentID string, amount int64, tierID int) (bool, error)

	CreateTransaction(ctx context.Context, txn *models.BonusTransaction) error
	ListTransactions(ctx context.Context, agentID string, since time.Time, limit int) ([]models.BonusTransaction, error)
	SumByType(ctx context.Context, agentID string, txnType enums.TransactionType) (int64, error)

	MarkProcessed(ctx context.Context, record *models.ProcessedPurchase) error
	HasProcessed(ctx context.Context, purchaseID string) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateAccount(ctx context.Context, account *models.Account) error {
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *repository) UpdateAccount(ctx context.Context, account *models.Account) error {
	return r.db.WithContext(ctx).Save(account).Error
}

func (r *repository) GetAccount(ctx context.Context, agentID string) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).First(&account, "agent_id = ?", agentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *repository) GetAccountByTelegramID(ctx context.Context, telegramID int64) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).First(&account, "tg_id = ?", telegramID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *repository) CreditBalance(ctx context.Context, agentID string, amount int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("agent_id = ?", agentID).
		Updates(map[string]any{
			"balance":    gorm.Expr("balance + ?", amount),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) DebitBalance(ctx context.Context, agentID string, amount int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("agent_id = ? AND balance >= ?", agentID, amount).
		Updates(map[string]any{
			"balance":    gorm.Expr("balance - ?", amount),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) AdvanceSpending(ctx context.Context, agentID string, amount int64, tierID int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("agent_id = ?", agentID).
		Updates(map[string]any{
			"total_spent": gorm.Expr("total_spent + ?", amount),
			"tier_id":     tierID,
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) CreateTransaction(ctx context.Context, txn *models.BonusTransaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) ListTransactions(ctx context.Context, agentID string, since time.Time, limit int) ([]models.BonusTransaction, error) {
	q := r.db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		Order("created_at DESC")
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var txns []models.BonusTransaction
	if err := q.Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

func (r *repository) SumByType(ctx context.Context, agentID string, txnType enums.TransactionType) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.BonusTransaction{}).
		Where("agent_id = ? AND type = ?", agentID, txnType).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *repository) MarkProcessed(ctx context.Context, record *models.ProcessedPurchase) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) HasProcessed(ctx context.Context, purchaseID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ProcessedPurchase{}).
		Where("purchase_id = ?", purchaseID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
