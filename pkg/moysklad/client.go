package moysklad

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/baltauto/loyalty-backend/pkg/config"
	pkgerrors "github.com/baltauto/loyalty-backend/pkg/errors"
	"github.com/baltauto/loyalty-backend/pkg/logger"
	"github.com/go-resty/resty/v2"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
)

// Client talks to the MoySklad remap API. All calls retry transient failures
// (network errors, 5xx, rate limiting) with bounded exponential backoff and
// surface everything else immediately.
type Client struct {
	http *resty.Client
	cfg  config.ERPConfig
	logg *logger.Logger
}

// NewClient validates the configuration and builds the ERP client.
func NewClient(cfg config.ERPConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeConfig, "erp base url is required")
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeConfig, "erp token is required")
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetAuthToken(cfg.Token).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json;charset=utf-8")

	return &Client{http: httpClient, cfg: cfg, logg: logg}, nil
}

// FetchRecentPurchases lists the newest shipped demands, positions expanded.
// Used as the polling source for accrual candidates.
func (c *Client) FetchRecentPurchases(ctx context.Context, limit int) ([]Purchase, error) {
	if limit <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "limit must be positive")
	}

	var payload demandList
	err := c.withRetry(ctx, "fetch recent purchases", func(ctx context.Context) error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"limit":  fmt.Sprintf("%d", limit),
				"order":  "moment,desc",
				"filter": "state.name=" + c.cfg.ShippedState,
				"expand": "agent,positions,positions.assortment",
			}).
			SetResult(&payload).
			Get("/entity/demand")
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "requesting demand list")
		}
		return c.checkStatus(resp, "demand list")
	})
	if err != nil {
		return nil, err
	}

	purchases := make([]Purchase, 0, len(payload.Rows))
	for _, d := range payload.Rows {
		purchases = append(purchases, d.toPurchase())
	}
	return purchases, nil
}

// FetchPurchaseDetail loads one demand with positions expanded. A deleted or
// unknown demand returns nil without error.
func (c *Client) FetchPurchaseDetail(ctx context.Context, purchaseID string) (*Purchase, error) {
	if strings.TrimSpace(purchaseID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "purchase id required")
	}

	var payload demand
	var notFound bool
	err := c.withRetry(ctx, "fetch purchase detail", func(ctx context.Context) error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParam("expand", "positions,positions.assortment,agent,state").
			SetResult(&payload).
			Get("/entity/demand/" + purchaseID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "requesting demand")
		}
		if resp.StatusCode() == http.StatusNotFound {
			notFound = true
			return nil
		}
		return c.checkStatus(resp, "demand")
	})
	if err != nil {
		return nil, err
	}
	if notFound {
		return nil, nil
	}

	purchase := payload.toPurchase()
	return &purchase, nil
}

// ApplyDiscount sets the given discount percent on every position of the
// demand. The percent is applied line-item-wise, which is how the ERP models
// paying part of an order with bonus.
func (c *Client) ApplyDiscount(ctx context.Context, purchaseID string, percent decimal.Decimal) error {
	if strings.TrimSpace(purchaseID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "purchase id required")
	}
	if percent.IsNegative() || percent.GreaterThan(decimal.NewFromInt(100)) {
		return pkgerrors.New(pkgerrors.CodeValidation, "discount percent out of range")
	}

	detail, err := c.FetchPurchaseDetail(ctx, purchaseID)
	if err != nil {
		return err
	}
	if detail == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "purchase not found on external system")
	}
	if len(detail.LineItems) == 0 {
		return pkgerrors.New(pkgerrors.CodeExternalRejected, "purchase has no positions to discount")
	}

	type discountPosition struct {
		ID       string  `json:"id"`
		Discount float64 `json:"discount"`
	}
	body := struct {
		Positions []discountPosition `json:"positions"`
	}{}
	pct := percent.InexactFloat64()
	for _, item := range detail.LineItems {
		if item.PositionID == "" {
			continue
		}
		body.Positions = append(body.Positions, discountPosition{ID: item.PositionID, Discount: pct})
	}
	if len(body.Positions) == 0 {
		return pkgerrors.New(pkgerrors.CodeExternalRejected, "purchase has no addressable positions")
	}

	// The update is idempotent on the external side: setting the same
	// discount twice yields the same document, so retrying is safe.
	return c.withRetry(ctx, "apply discount", func(ctx context.Context) error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(body).
			Put("/entity/demand/" + purchaseID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "updating demand positions")
		}
		return c.checkStatus(resp, "apply discount")
	})
}

// FindAgentByPhone resolves a counterparty id by phone number. Returns an
// empty id when no counterparty matches.
func (c *Client) FindAgentByPhone(ctx context.Context, phone string) (string, error) {
	digits := normalizePhone(phone)
	if len(digits) < 10 {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "phone number too short")
	}

	var payload counterpartyList
	err := c.withRetry(ctx, "find agent by phone", func(ctx context.Context) error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"search": digits,
				"limit":  "1",
			}).
			SetResult(&payload).
			Get("/entity/counterparty")
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "searching counterparty")
		}
		return c.checkStatus(resp, "counterparty search")
	})
	if err != nil {
		return "", err
	}

	if len(payload.Rows) == 0 {
		return "", nil
	}
	return payload.Rows[0].ID, nil
}

func (c *Client) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(
		uint64(c.cfg.RetryAttempts),
		retry.NewExponential(c.cfg.RetryBaseDelay),
	)
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if pkgerrors.IsRetryable(err) {
			if c.logg != nil {
				c.logg.Warn(ctx, fmt.Sprintf("erp %s failed, retrying", op))
			}
			return retry.RetryableError(err)
		}
		return err
	})
}

func (c *Client) checkStatus(resp *resty.Response, op string) error {
	if !resp.IsError() {
		return nil
	}
	code := codeForStatus(resp.StatusCode())
	return pkgerrors.New(code, fmt.Sprintf("erp %s failed with status %d", op, resp.StatusCode())).
		WithDetails(map[string]any{"status": resp.StatusCode()})
}

func codeForStatus(status int) pkgerrors.Code {
	switch {
	case status == http.StatusTooManyRequests:
		return pkgerrors.CodeRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return pkgerrors.CodeUnauthorized
	case status == http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case status >= 500:
		return pkgerrors.CodeDependency
	default:
		return pkgerrors.CodeExternalRejected
	}
}

func normalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
