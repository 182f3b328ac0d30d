package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medimarthq/settlement-backend/api/responses"
	"github.com/medimarthq/settlement-backend/api/validators"
	"github.com/medimarthq/settlement-backend/internal/refunds"
	pkgerrors "github.com/medimarthq/settlement-backend/pkg/errors"
	"github.com/medimarthq/settlement-backend/pkg/logger"
)

type processRefundRequest struct {
	PaymentID       string  `json:"paymentId" validate:"required,uuid"`
	AmountCents     int64   `json:"amountCents" validate:"required,gt=0"`
	Reason          string  `json:"reason" validate:"required,max=255"`
	CustomerID      string  `json:"customerId" validate:"required,uuid"`
	SupportTicketID *string `json:"supportTicketId,omitempty" validate:"omitempty,uuid"`
}

// ProcessRefund runs the full refund saga. A 202 with RECONCILIATION_PENDING
// means the gateway moved the money but local bookkeeping is queued for
// replay; callers must not retry the gateway leg.
func ProcessRefund(svc refunds.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body processRefundRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		paymentID, err := uuid.Parse(body.PaymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment id"))
			return
		}
		customerID, err := uuid.Parse(body.CustomerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid customer id"))
			return
		}

		actorID, actorRole := actorFromContext(r)
		input := refunds.ProcessRefundInput{
			PaymentID:   paymentID,
			AmountCents: body.AmountCents,
			Reason:      body.Reason,
			CustomerID:  customerID,
			ProcessedBy: actorID,
			ActorRole:   actorRole,
		}
		if body.SupportTicketID != nil {
			ticketID, parseErr := uuid.Parse(*body.SupportTicketID)
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid support ticket id"))
				return
			}
			input.SupportTicketID = &ticketID
		}

		result, err := svc.ProcessRefund(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{
			"refundRef":       result.RefundRef,
			"gatewayRefundId": result.GatewayRefundID,
			"pointsCredited":  result.PointsCredited,
			"payment":         newPaymentView(result.Payment),
		})
	}
}

func ReplayReconciliationTask(svc refunds.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskID, err := validators.ParsePathUUID(chi.URLParam(r, "taskId"), "task id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		task, err := svc.ReplayTask(r.Context(), taskID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newTaskView(task))
	}
}

func ReconciliationBacklog(svc refunds.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pending, err := svc.PendingTaskCount(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"pendingTasks": pending})
	}
}
