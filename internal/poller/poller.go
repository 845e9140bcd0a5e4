package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/baltauto/loyalty-backend/internal/accrual"
	pkgerrors "github.com/baltauto/loyalty-backend/pkg/errors"
	"github.com/baltauto/loyalty-backend/pkg/logger"
	"github.com/baltauto/loyalty-backend/pkg/metrics"
	"github.com/baltauto/loyalty-backend/pkg/moysklad"
)

const defaultInterval = 30 * time.Second

// Source lists accrual candidates from the external ERP.
type Source interface {
	FetchRecentPurchases(ctx context.Context, limit int) ([]moysklad.Purchase, error)
}

// Processor applies the accrual for one purchase.
type Processor interface {
	Process(ctx context.Context, purchase accrual.Purchase) (*accrual.Result, error)
}

// ServiceParams configure the polling worker.
type ServiceParams struct {
	Logger     *logger.Logger
	Source     Source
	Processor  Processor
	Lock       Lock
	Metrics    *metrics.AccrualMetrics
	Interval   time.Duration
	BatchLimit int
}

// Service polls the ERP for shipped purchases and feeds them through the
// accrual processor. One replica runs a cycle at a time, guarded by the lock.
type Service struct {
	logg       *logger.Logger
	source     Source
	processor  Processor
	lock       Lock
	metrics    *metrics.AccrualMetrics
	interval   time.Duration
	batchLimit int
}

// NewService builds the polling worker.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Source == nil {
		return nil, fmt.Errorf("purchase source required")
	}
	if params.Processor == nil {
		return nil, fmt.Errorf("accrual processor required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	batchLimit := params.BatchLimit
	if batchLimit <= 0 {
		batchLimit = 10
	}
	return &Service{
		logg:       params.Logger,
		source:     params.Source,
		processor:  params.Processor,
		lock:       params.Lock,
		metrics:    params.Metrics,
		interval:   interval,
		batchLimit: batchLimit,
	}, nil
}

// Run starts the polling loop until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.RunCycle(ctx); err != nil {
		s.logg.Error(ctx, "polling cycle failed", err)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "poller context canceled")
			return ctx.Err()
		case <-ticker.C:
			if err := s.RunCycle(ctx); err != nil {
				s.logg.Error(ctx, "polling cycle failed", err)
			}
		}
	}
}

// RunCycle performs one poll-and-process pass. A failure on one purchase
// never blocks the rest of the batch.
func (s *Service) RunCycle(ctx context.Context) error {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.logg.Info(ctx, "another poller instance is running; skipping this cycle")
		return nil
	}
	defer func() {
		if relErr := s.lock.Release(ctx); relErr != nil {
			s.logg.Error(ctx, "failed to release poller lock", relErr)
		}
	}()

	start := time.Now()
	defer func() {
		s.metrics.ObserveCycle(time.Since(start))
	}()

	purchases, err := s.source.FetchRecentPurchases(ctx, s.batchLimit)
	if err != nil {
		return fmt.Errorf("fetch recent purchases: %w", err)
	}

	for _, purchase := range purchases {
		s.handlePurchase(ctx, purchase)
	}
	return nil
}

func (s *Service) handlePurchase(ctx context.Context, purchase moysklad.Purchase) {
	ctx = s.logg.WithPurchaseID(ctx, purchase.ID)

	if purchase.AgentID == "" {
		s.logg.Warn(ctx, "purchase without counterparty; skipping")
		s.metrics.IncProcessed(metrics.OutcomeSkipped)
		return
	}

	result, err := s.processor.Process(ctx, toAccrualPurchase(purchase))
	if err != nil {
		// An unlinked customer is routine: the purchase stays unprocessed
		// and is picked up once the account is linked.
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			s.logg.Info(ctx, "no account linked for purchase; skipping")
			s.metrics.IncProcessed(metrics.OutcomeSkipped)
			return
		}
		s.logg.Error(ctx, "accrual failed", err)
		s.metrics.IncProcessed(metrics.OutcomeFailed)
		return
	}

	switch {
	case result.AlreadyProcessed:
		s.metrics.IncProcessed(metrics.OutcomeDuplicate)
	case result.BonusEarned == 0:
		s.metrics.IncProcessed(metrics.OutcomeZeroBonus)
	default:
		s.metrics.IncProcessed(metrics.OutcomeAccrued)
		s.metrics.AddBonusIssued(result.BonusEarned)
		ctx = s.logg.WithFields(ctx, map[string]any{
			"bonus_earned": result.BonusEarned,
			"tier":         result.NewTier.ID,
		})
		s.logg.Info(ctx, "bonus accrued for purchase")
	}
}

func toAccrualPurchase(purchase moysklad.Purchase) accrual.Purchase {
	items := make([]accrual.LineItem, 0, len(purchase.LineItems))
	for _, item := range purchase.LineItems {
		items = append(items, accrual.LineItem{
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			IsService: item.IsService,
		})
	}
	return accrual.Purchase{
		PurchaseID: purchase.ID,
		AgentID:    purchase.AgentID,
		Moment:     purchase.Moment,
		LineItems:  items,
	}
}
