package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/baltauto/loyalty-backend/api/responses"
	"github.com/baltauto/loyalty-backend/api/validators"
	"github.com/baltauto/loyalty-backend/internal/accounts"
	pkgerrors "github.com/baltauto/loyalty-backend/pkg/errors"
	"github.com/baltauto/loyalty-backend/pkg/logger"
)

const (
	defaultTransactionsLimit = 20
	maxTransactionsLimit     = 100
)

// AgentResolver finds the ERP counterparty id for a customer phone number.
type AgentResolver interface {
	FindAgentByPhone(ctx context.Context, phone string) (string, error)
}

type linkAccountRequest struct {
	TelegramID int64  `json:"telegram_id" validate:"required,gt=0"`
	Phone      string `json:"phone" validate:"required,min=10"`
	FullName   string `json:"full_name"`
	// AgentID skips the phone lookup when the caller already knows the
	// counterparty id.
	AgentID string `json:"agent_id"`
}

type linkAccountResponse struct {
	AgentID    string `json:"agent_id"`
	TelegramID int64  `json:"telegram_id"`
	Balance    int64  `json:"balance"`
	TierID     int    `json:"tier_id"`
	Created    bool   `json:"created"`
}

// AccountLink binds a Telegram identity to an ERP counterparty, resolving the
// counterparty by phone when the caller does not supply it.
func AccountLink(svc accounts.Service, resolver AgentResolver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "accounts service unavailable"))
			return
		}

		var req linkAccountRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		agentID := req.AgentID
		if agentID == "" {
			if resolver == nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "agent resolver unavailable"))
				return
			}
			resolved, err := resolver.FindAgentByPhone(r.Context(), req.Phone)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			if resolved == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "no counterparty matches this phone"))
				return
			}
			agentID = resolved
		}

		result, err := svc.Link(r.Context(), accounts.LinkInput{
			AgentID:    agentID,
			TelegramID: req.TelegramID,
			Phone:      req.Phone,
			FullName:   req.FullName,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusOK
		if result.Created {
			status = http.StatusCreated
		}
		responses.WriteSuccessStatus(w, status, linkAccountResponse{
			AgentID:    result.Account.AgentID,
			TelegramID: req.TelegramID,
			Balance:    result.Account.Balance,
			TierID:     result.Account.TierID,
			Created:    result.Created,
		})
	}
}

// AccountBalance returns the current bonus balance in minor units.
func AccountBalance(svc accounts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "accounts service unavailable"))
			return
		}

		agentID := chi.URLParam(r, "agentID")
		balance, err := svc.GetBalance(r.Context(), agentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"agent_id": agentID,
			"balance":  balance,
		})
	}
}

// AccountTier returns the tier progression view for an account.
func AccountTier(svc accounts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "accounts service unavailable"))
			return
		}

		status, err := svc.GetTierStatus(r.Context(), chi.URLParam(r, "agentID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, status)
	}
}

type transactionView struct {
	ID                string    `json:"id"`
	Type              string    `json:"type"`
	Amount            int64     `json:"amount"`
	Description       string    `json:"description"`
	RelatedPurchaseID *string   `json:"related_purchase_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// AccountTransactions lists the most recent ledger entries for an account.
func AccountTransactions(svc accounts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "accounts service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", defaultTransactionsLimit, 1, maxTransactionsLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		since, err := validators.ParseQueryTime(r, "since")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		txns, err := svc.ListTransactions(r.Context(), chi.URLParam(r, "agentID"), since, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		views := make([]transactionView, 0, len(txns))
		for _, txn := range txns {
			views = append(views, transactionView{
				ID:                txn.ID.String(),
				Type:              string(txn.Type),
				Amount:            txn.Amount,
				Description:       txn.Description,
				RelatedPurchaseID: txn.RelatedPurchaseID,
				CreatedAt:         txn.CreatedAt,
			})
		}
		responses.WriteSuccess(w, map[string]any{"transactions": views})
	}
}

// AccountVerify cross-checks the materialized balance against the transaction
// history.
func AccountVerify(svc accounts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "accounts service unavailable"))
			return
		}

		if err := svc.VerifyLedger(r.Context(), chi.URLParam(r, "agentID")); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"consistent": true})
	}
}
