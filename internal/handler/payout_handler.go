package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/boddenberg/bankbot-go/internal/domain"
	"github.com/boddenberg/bankbot-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Payout submission
// POST /payout
// POST /{bank}_company_web/runPython
// ============================================================

func submitPayoutHandler(svc *service.PayoutService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "handler.SubmitPayout")
		defer span.End()

		var req domain.PayoutRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		span.SetAttributes(attribute.String("transaction.id", req.TransactionID))

		job, err := svc.Submit(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.APIResponse{
			Success:       true,
			Message:       "payout queued",
			TransactionID: job.TransactionID,
		})
	}
}

// runPythonHandler executes the payout synchronously on the bank's session
// worker. Any failure after validation answers 500 with the cause.
func runPythonHandler(svc *service.PayoutService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "handler.RunPython")
		defer span.End()

		bank := chi.URLParam(r, "bank")
		span.SetAttributes(attribute.String("bank", bank))

		var req domain.PayoutRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON")
			return
		}

		job, err := svc.RunSync(ctx, bank, &req)
		if err != nil {
			var validation *domain.ErrValidation
			var notFound *domain.ErrNotFound
			if errors.As(err, &validation) || errors.As(err, &notFound) {
				handleServiceError(w, err, logger)
				return
			}
			logger.Error("withdrawal failed",
				zap.String("bank", strings.ToUpper(bank)),
				zap.String("transactionId", req.TransactionID),
				zap.Error(err),
			)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, domain.APIResponse{Success: true, TransactionID: job.TransactionID})
	}
}
