package models

import "time"

// ProcessedPurchase marks an external purchase id as already run through
// accrual. The primary key doubles as the idempotency gate: the row is
// inserted in the same transaction as the balance update, so a duplicate key
// violation means the whole accrual must be skipped.
type ProcessedPurchase struct {
	PurchaseID  string    `gorm:"column:purchase_id;primaryKey"`
	AgentID     string    `gorm:"column:agent_id;not null;index"`
	BonusEarned int64     `gorm:"column:bonus_earned;not null;default:0"`
	ProcessedAt time.Time `gorm:"column:processed_at;autoCreateTime"`
}

// TableName overrides GORM's pluralization to match the migration.
func (ProcessedPurchase) TableName() string {
	return "processed_purchases"
}
