package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/baltauto/loyalty-backend/api/responses"
	"github.com/baltauto/loyalty-backend/api/validators"
	"github.com/baltauto/loyalty-backend/internal/redemption"
	pkgerrors "github.com/baltauto/loyalty-backend/pkg/errors"
	"github.com/baltauto/loyalty-backend/pkg/logger"
	"github.com/baltauto/loyalty-backend/pkg/moysklad"
)

// PurchaseFetcher loads the purchase a redemption targets from the external
// ERP.
type PurchaseFetcher interface {
	FetchPurchaseDetail(ctx context.Context, purchaseID string) (*moysklad.Purchase, error)
}

type redemptionRequest struct {
	PurchaseID string `json:"purchase_id" validate:"required"`
	// PurchaseAmount overrides the ERP-reported total when the caller already
	// holds it. Minor units.
	PurchaseAmount int64 `json:"purchase_amount" validate:"omitempty,gt=0"`
	// RequestedAmount caps the redemption; omitted means "redeem the maximum
	// allowed".
	RequestedAmount *int64 `json:"requested_amount"`
}

type redemptionResponse struct {
	AmountRedeemed   int64  `json:"amount_redeemed"`
	DiscountPercent  string `json:"discount_percent"`
	RemainingBalance int64  `json:"remaining_balance"`
}

// RedemptionCreate pays part of a purchase with bonus balance. The purchase
// total comes from the ERP unless the request supplies it.
func RedemptionCreate(svc redemption.Service, fetcher PurchaseFetcher, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "redemption service unavailable"))
			return
		}

		var req redemptionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		amount := req.PurchaseAmount
		if amount == 0 {
			if fetcher == nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "purchase source unavailable"))
				return
			}
			purchase, err := fetcher.FetchPurchaseDetail(r.Context(), req.PurchaseID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			if purchase == nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "purchase not found"))
				return
			}
			amount = purchase.Sum
		}

		result, err := svc.Request(r.Context(), redemption.Request{
			AgentID:         chi.URLParam(r, "agentID"),
			PurchaseID:      req.PurchaseID,
			PurchaseAmount:  amount,
			RequestedAmount: req.RequestedAmount,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, redemptionResponse{
			AmountRedeemed:   result.AmountRedeemed,
			DiscountPercent:  result.DiscountPercent.String(),
			RemainingBalance: result.RemainingBalance,
		})
	}
}
