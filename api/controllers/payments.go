package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/medimarthq/settlement-backend/api/responses"
	"github.com/medimarthq/settlement-backend/api/validators"
	"github.com/medimarthq/settlement-backend/internal/payments"
	"github.com/medimarthq/settlement-backend/pkg/enums"
	pkgerrors "github.com/medimarthq/settlement-backend/pkg/errors"
	"github.com/medimarthq/settlement-backend/pkg/logger"
	"github.com/medimarthq/settlement-backend/pkg/pagination"
)

func PaymentDetail(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		paymentID, err := validators.ParsePathUUID(chi.URLParam(r, "paymentId"), "payment id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.Get(r.Context(), paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPaymentView(payment))
	}
}

func PaymentsByOrder(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParsePathUUID(chi.URLParam(r, "orderId"), "order id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.ListByOrder(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"payments": newPaymentViews(list)})
	}
}

// AdminPaymentsReport filters the ledger by vendor, order, status and date
// window for back-office review.
func AdminPaymentsReport(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := payments.ReportFilter{}

		vendorID, err := validators.ParseQueryUUID(r, "vendorId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filter.VendorID = vendorID

		orderID, err := validators.ParseQueryUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filter.OrderID = orderID

		if raw := r.URL.Query().Get("status"); raw != "" {
			status, parseErr := enums.ParsePaymentStatus(raw)
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid payment status"))
				return
			}
			filter.Status = &status
		}

		from, err := validators.ParseQueryDate(r, "from")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filter.From = from

		to, err := validators.ParseQueryDate(r, "to")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filter.To = to

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filter.Limit = limit

		list, err := svc.Report(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"payments": newPaymentViews(list)})
	}
}

type failPaymentRequest struct {
	Reason string `json:"reason" validate:"required,max=255"`
}

func AdminPaymentFail(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		paymentID, err := validators.ParsePathUUID(chi.URLParam(r, "paymentId"), "payment id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body failPaymentRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		actorID, actorRole := actorFromContext(r)
		payment, err := svc.Fail(r.Context(), payments.FailInput{
			PaymentID:   paymentID,
			Reason:      body.Reason,
			ActorUserID: actorID,
			ActorRole:   actorRole,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if logg != nil {
			ctx := logg.WithVendorID(r.Context(), payment.VendorID.String())
			logg.Info(ctx, "payment marked failed")
		}
		responses.WriteSuccess(w, newPaymentView(payment))
	}
}
