package handler

import (
	"net/http"

	"github.com/boddenberg/bankbot-go/internal/domain"
	"github.com/boddenberg/bankbot-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Worker queue endpoints
// POST /jobs/next
// POST /jobs/{transactionId}/done
// POST /jobs/{transactionId}/fail
// GET  /jobs
// GET  /jobs/{transactionId}
// ============================================================

type nextJobRequest struct {
	FromBankKey string `json:"fromBankKey"`
}

type failJobRequest struct {
	Error string `json:"error"`
}

func nextJobHandler(svc *service.PayoutService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "handler.NextJob")
		defer span.End()

		var req nextJobRequest
		if r.ContentLength != 0 {
			if err := decodeJSON(w, r, &req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
		}

		bankKey := req.FromBankKey
		if bankKey != "" {
			k, ok := domain.BankKeyFor(bankKey)
			if !ok {
				writeError(w, http.StatusBadRequest, "unsupported bank: "+bankKey)
				return
			}
			bankKey = k
		}
		if claims := WorkerClaimsFromContext(ctx); claims != nil && len(claims.Banks) > 0 {
			switch {
			case bankKey == "" && len(claims.Banks) == 1:
				bankKey = claims.Banks[0]
			case bankKey == "":
				writeError(w, http.StatusBadRequest, "fromBankKey is required for this worker")
				return
			case !claims.Allows(bankKey):
				logger.Warn("worker claimed foreign bank",
					zap.String("worker", claims.Worker),
					zap.String("bank", bankKey),
				)
				writeError(w, http.StatusForbidden, "worker may not claim "+bankKey+" jobs")
				return
			}
		}
		span.SetAttributes(attribute.String("bank.key", bankKey))

		job, err := svc.ClaimNext(ctx, bankKey)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.NextJobResponse{Success: true, Job: job})
	}
}

func markJobDoneHandler(svc *service.PayoutService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "handler.MarkJobDone")
		defer span.End()

		txID := chi.URLParam(r, "transactionId")
		span.SetAttributes(attribute.String("transaction.id", txID))
		if !authorizeJob(w, r, svc, txID, logger) {
			return
		}

		if err := svc.MarkDone(ctx, txID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.APIResponse{Success: true, TransactionID: txID})
	}
}

func markJobFailedHandler(svc *service.PayoutService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "handler.MarkJobFailed")
		defer span.End()

		txID := chi.URLParam(r, "transactionId")
		span.SetAttributes(attribute.String("transaction.id", txID))

		var req failJobRequest
		if r.ContentLength != 0 {
			if err := decodeJSON(w, r, &req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
		}
		if !authorizeJob(w, r, svc, txID, logger) {
			return
		}

		if err := svc.MarkFailed(ctx, txID, req.Error); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.APIResponse{Success: true, TransactionID: txID})
	}
}

func listJobsHandler(svc *service.PayoutService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "handler.ListJobs")
		defer span.End()

		jobs, err := svc.List(ctx, r.URL.Query().Get("status"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if claims := WorkerClaimsFromContext(ctx); claims != nil && len(claims.Banks) > 0 {
			visible := jobs[:0]
			for _, j := range jobs {
				if claims.Allows(j.FromBankKey) {
					visible = append(visible, j)
				}
			}
			jobs = visible
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"jobs":    jobs,
			"total":   len(jobs),
		})
	}
}

func getJobHandler(svc *service.PayoutService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "handler.GetJob")
		defer span.End()

		txID := chi.URLParam(r, "transactionId")
		job, err := svc.Get(ctx, txID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if claims := WorkerClaimsFromContext(ctx); claims != nil && !claims.Allows(job.FromBankKey) {
			writeError(w, http.StatusNotFound, (&domain.ErrNotFound{Resource: "job", ID: txID}).Error())
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

// authorizeJob rejects workers reporting on a bank outside their token.
func authorizeJob(w http.ResponseWriter, r *http.Request, svc *service.PayoutService, txID string, logger *zap.Logger) bool {
	claims := WorkerClaimsFromContext(r.Context())
	if claims == nil || len(claims.Banks) == 0 {
		return true
	}
	job, err := svc.Get(r.Context(), txID)
	if err != nil {
		handleServiceError(w, err, logger)
		return false
	}
	if !claims.Allows(job.FromBankKey) {
		logger.Warn("worker reported foreign job",
			zap.String("worker", claims.Worker),
			zap.String("transactionId", txID),
		)
		writeError(w, http.StatusForbidden, "worker may not update "+job.FromBankKey+" jobs")
		return false
	}
	return true
}

// ============================================================
// Session keepalive
// POST /workers/{bank}/ping
// ============================================================

func pingWorkerHandler(svc *service.PayoutService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bank := chi.URLParam(r, "bank")
		if err := svc.Ping(r.Context(), bank); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.APIResponse{Success: true, Message: "pong"})
	}
}
