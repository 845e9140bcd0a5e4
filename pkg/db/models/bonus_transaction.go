package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/baltauto/loyalty-backend/pkg/enums"
)

// BonusTransaction is an immutable audit record of a single ledger mutation.
// Amount is always positive; Type implies the sign. For every account the sum
// of accruals minus the sum of redemptions must equal the current balance.
type BonusTransaction struct {
	ID                uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	AgentID           string                `gorm:"column:agent_id;not null;index"`
	Type              enums.TransactionType `gorm:"column:type;not null"`
	Amount            int64                 `gorm:"column:amount;not null"`
	Description       string                `gorm:"column:description;not null;default:''"`
	RelatedPurchaseID *string               `gorm:"column:related_purchase_id"`
	CreatedAt         time.Time             `gorm:"column:created_at;autoCreateTime"`
}

// TableName overrides GORM's pluralization to match the migration.
func (BonusTransaction) TableName() string {
	return "bonus_transactions"
}
