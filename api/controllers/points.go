package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medimarthq/settlement-backend/api/middleware"
	"github.com/medimarthq/settlement-backend/api/responses"
	"github.com/medimarthq/settlement-backend/api/validators"
	"github.com/medimarthq/settlement-backend/internal/points"
	pkgauth "github.com/medimarthq/settlement-backend/pkg/auth"
	"github.com/medimarthq/settlement-backend/pkg/enums"
	pkgerrors "github.com/medimarthq/settlement-backend/pkg/errors"
	"github.com/medimarthq/settlement-backend/pkg/logger"
	"github.com/medimarthq/settlement-backend/pkg/pagination"
)

// customerScope resolves the {customerId} path segment and enforces that a
// customer token only reaches its own ledger. Staff roles may reach any.
func customerScope(r *http.Request) (uuid.UUID, error) {
	customerID, err := validators.ParsePathUUID(chi.URLParam(r, "customerId"), "customer id")
	if err != nil {
		return uuid.Nil, err
	}
	if middleware.RoleFromContext(r.Context()) == pkgauth.RoleCustomer {
		if middleware.CustomerIDFromContext(r.Context()) != customerID.String() {
			return uuid.Nil, pkgerrors.New(pkgerrors.CodeForbidden, "ledger does not belong to customer")
		}
	}
	return customerID, nil
}

func actorFromContext(r *http.Request) (uuid.UUID, string) {
	actorID, _ := uuid.Parse(middleware.UserIDFromContext(r.Context()))
	return actorID, middleware.RoleFromContext(r.Context())
}

func PointsBalance(svc points.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, err := customerScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ledger, err := svc.Balance(r.Context(), customerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newLedgerView(ledger))
	}
}

func PointsTransactions(svc points.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, err := customerScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params := pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}

		transactions, nextCursor, err := svc.Transactions(r.Context(), customerID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"transactions": newTransactionViews(transactions),
			"nextCursor":   nextCursor,
		})
	}
}

type usePointsRequest struct {
	Points      int64   `json:"points" validate:"required,gt=0"`
	Description string  `json:"description" validate:"required,max=255"`
	OrderID     *string `json:"orderId,omitempty" validate:"omitempty,uuid"`
}

func PointsUse(svc points.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, err := customerScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body usePointsRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		actorID, actorRole := actorFromContext(r)
		input := points.UsePointsInput{
			CustomerID:  customerID,
			Points:      body.Points,
			Description: body.Description,
			ActorUserID: actorID,
			ActorRole:   actorRole,
		}
		if body.OrderID != nil {
			orderID, parseErr := uuid.Parse(*body.OrderID)
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid order id"))
				return
			}
			input.OrderID = &orderID
		}

		ledger, err := svc.UsePoints(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newLedgerView(ledger))
	}
}

type creditPointsRequest struct {
	Type        string  `json:"type" validate:"required,oneof=earned refund_credit refund"`
	Points      int64   `json:"points" validate:"required,gt=0"`
	Description string  `json:"description" validate:"required,max=255"`
	OrderID     *string `json:"orderId,omitempty" validate:"omitempty,uuid"`
	PaymentID   *string `json:"paymentId,omitempty" validate:"omitempty,uuid"`
}

// AdminPointsCredit grants points outside the order flow, e.g. goodwill
// credits issued by support.
func AdminPointsCredit(svc points.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, err := validators.ParsePathUUID(chi.URLParam(r, "customerId"), "customer id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body creditPointsRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		txType, err := enums.ParsePointsTransactionType(body.Type)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid transaction type"))
			return
		}

		actorID, actorRole := actorFromContext(r)
		input := points.AddPointsInput{
			CustomerID:  customerID,
			Type:        txType,
			Points:      body.Points,
			Description: body.Description,
			ActorUserID: actorID,
			ActorRole:   actorRole,
		}
		if body.OrderID != nil {
			orderID, parseErr := uuid.Parse(*body.OrderID)
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid order id"))
				return
			}
			input.OrderID = &orderID
		}
		if body.PaymentID != nil {
			paymentID, parseErr := uuid.Parse(*body.PaymentID)
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid payment id"))
				return
			}
			input.PaymentID = &paymentID
		}

		ledger, err := svc.AddPoints(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newLedgerView(ledger))
	}
}
