package notify

import (
	"context"

	"github.com/baltauto/loyalty-backend/internal/tiers"
	"github.com/baltauto/loyalty-backend/pkg/logger"
)

// Notifier receives loyalty events destined for the customer-facing chat
// layer. Implementations must be best-effort: the ledger has already
// committed by the time these fire, so failures are logged, never returned.
type Notifier interface {
	AccountLinked(ctx context.Context, agentID string, signupBonus int64)
	BonusAccrued(ctx context.Context, agentID string, purchaseID string, bonusEarned int64, balance int64)
	TierUpgraded(ctx context.Context, agentID string, oldTier tiers.Tier, newTier tiers.Tier)
	BonusRedeemed(ctx context.Context, agentID string, amountRedeemed int64, remainingBalance int64)
}

type logNotifier struct {
	logg *logger.Logger
}

// NewLogNotifier returns a Notifier that records events to the structured
// log. The chat presentation layer tails these events; the core never talks
// to chat transports directly.
func NewLogNotifier(logg *logger.Logger) Notifier {
	return &logNotifier{logg: logg}
}

func (n *logNotifier) AccountLinked(ctx context.Context, agentID string, signupBonus int64) {
	ctx = n.logg.WithFields(ctx, map[string]any{
		"agent_id":     agentID,
		"signup_bonus": signupBonus,
	})
	n.logg.Info(ctx, "account linked")
}

func (n *logNotifier) BonusAccrued(ctx context.Context, agentID string, purchaseID string, bonusEarned int64, balance int64) {
	ctx = n.logg.WithFields(ctx, map[string]any{
		"agent_id":     agentID,
		"purchase_id":  purchaseID,
		"bonus_earned": bonusEarned,
		"balance":      balance,
	})
	n.logg.Info(ctx, "bonus accrued")
}

func (n *logNotifier) TierUpgraded(ctx context.Context, agentID string, oldTier tiers.Tier, newTier tiers.Tier) {
	ctx = n.logg.WithFields(ctx, map[string]any{
		"agent_id": agentID,
		"old_tier": oldTier.ID,
		"new_tier": newTier.ID,
		"tier":     newTier.Name,
	})
	n.logg.Info(ctx, "tier upgraded")
}

func (n *logNotifier) BonusRedeemed(ctx context.Context, agentID string, amountRedeemed int64, remainingBalance int64) {
	ctx = n.logg.WithFields(ctx, map[string]any{
		"agent_id":          agentID,
		"amount_redeemed":   amountRedeemed,
		"remaining_balance": remainingBalance,
	})
	n.logg.Info(ctx, "bonus redeemed")
}

// Noop discards all events. Used where notifications are irrelevant, e.g.
// backfill tooling and tests.
type Noop struct{}

func (Noop) AccountLinked(context.Context, string, int64)                {}
func (Noop) BonusAccrued(context.Context, string, string, int64, int64) {}
func (Noop) TierUpgraded(context.Context, string, tiers.Tier, tiers.Tier) {
}
func (Noop) BonusRedeemed(context.Context, string, int64, int64) {}
