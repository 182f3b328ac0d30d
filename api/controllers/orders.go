package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/medimarthq/settlement-backend/api/middleware"
	"github.com/medimarthq/settlement-backend/api/responses"
	"github.com/medimarthq/settlement-backend/api/validators"
	"github.com/medimarthq/settlement-backend/internal/orders"
	pkgauth "github.com/medimarthq/settlement-backend/pkg/auth"
	"github.com/medimarthq/settlement-backend/pkg/enums"
	pkgerrors "github.com/medimarthq/settlement-backend/pkg/errors"
	"github.com/medimarthq/settlement-backend/pkg/logger"
)

func OrderDetail(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParsePathUUID(chi.URLParam(r, "orderId"), "order id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Get(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if middleware.RoleFromContext(r.Context()) == pkgauth.RoleCustomer {
			if middleware.CustomerIDFromContext(r.Context()) != order.CustomerID.String() {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to customer"))
				return
			}
		}

		responses.WriteSuccess(w, newOrderView(order))
	}
}

func OrderHistory(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParsePathUUID(chi.URLParam(r, "orderId"), "order id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entries, err := svc.History(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"history": newHistoryViews(entries)})
	}
}

type vendorStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending confirmed processing shipped delivered cancelled"`
	Note   string `json:"note" validate:"max=255"`
}

// SetVendorStatus advances one vendor's slice of the order. Delivery realizes
// that vendor's payment; cancellation releases the vendor's reserved stock.
func SetVendorStatus(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParsePathUUID(chi.URLParam(r, "orderId"), "order id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		vendorID, err := validators.ParsePathUUID(chi.URLParam(r, "vendorId"), "vendor id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body vendorStatusRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status, err := enums.ParseOrderStatus(body.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order status"))
			return
		}

		actorID, actorRole := actorFromContext(r)
		result, err := svc.SetVendorStatus(r.Context(), orders.SetVendorStatusInput{
			OrderID:     orderID,
			VendorID:    vendorID,
			Status:      status,
			Note:        body.Note,
			ActorUserID: actorID,
			ActorRole:   actorRole,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payload := map[string]any{
			"vendorStatus": vendorStatusView{
				VendorID:    result.VendorStatus.VendorID,
				Status:      string(result.VendorStatus.Status),
				DeliveredAt: result.VendorStatus.DeliveredAt,
				CancelledAt: result.VendorStatus.CancelledAt,
				UpdatedAt:   result.VendorStatus.UpdatedAt,
			},
			"orderStatus": string(result.AggregateStatus),
		}
		if result.Payment != nil {
			payload["payment"] = newPaymentView(result.Payment)
		}
		responses.WriteSuccess(w, payload)
	}
}
