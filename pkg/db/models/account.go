package models

import (
	"time"
)

// Account tracks one customer's bonus balance and loyalty tier, keyed by the
// ERP counterparty id. Balance and total spent are integer minor units.
type Account struct {
	AgentID    string     `gorm:"column:agent_id;primaryKey"`
	TelegramID *int64     `gorm:"column:tg_id;uniqueIndex"`
	Phone      string     `gorm:"column:phone;not null;default:''"`
	FullName   string     `gorm:"column:full_name;not null;default:''"`
	Balance    int64      `gorm:"column:balance;not null;default:0"`
	TierID     int        `gorm:"column:tier_id;not null;default:1"`
	TotalSpent int64      `gorm:"column:total_spent;not null;default:0"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName overrides GORM's pluralization to match the migration.
func (Account) TableName() string {
	return "accounts"
}
