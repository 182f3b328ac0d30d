package controllers

import (
	"net/http"
	"time"

	"github.com/medimarthq/settlement-backend/api/responses"
	"github.com/medimarthq/settlement-backend/api/validators"
	"github.com/medimarthq/settlement-backend/internal/adjustments"
	pkgerrors "github.com/medimarthq/settlement-backend/pkg/errors"
	"github.com/medimarthq/settlement-backend/pkg/logger"
	"github.com/medimarthq/settlement-backend/pkg/types"
)

const defaultSummaryWindow = 30 * 24 * time.Hour

// AdminRevenueSummary aggregates signed revenue adjustments over a date
// window, defaulting to the trailing 30 days.
func AdminRevenueSummary(svc adjustments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, err := validators.ParseQueryDate(r, "from")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		to, err := validators.ParseQueryDate(r, "to")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		now := time.Now().UTC()
		if to == nil {
			to = &now
		}
		if from == nil {
			start := to.Add(-defaultSummaryWindow)
			from = &start
		}

		dateRange := types.DateRange{From: *from, To: *to}
		if err := dateRange.Validate(); err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid date range"))
			return
		}

		summary, err := svc.RevenueSummary(r.Context(), dateRange)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}
