package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	loanapp "credit-decision-service/internal/application/loan"
	"credit-decision-service/internal/domain/borrower"
	"credit-decision-service/internal/domain/decision"
	"credit-decision-service/internal/domain/ensemble"
	"credit-decision-service/internal/domain/model"
	"credit-decision-service/internal/infrastructure/guard"
	"credit-decision-service/internal/pkg/metrics"
)

const maxRequestBody = 1 << 20

type contextKey string

const userIDKey contextKey = "user_id"

// WithUserID stores the authenticated user id on the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns the authenticated user id, if any
func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}

// Authenticate resolves the bearer token to a user identity. The token
// carries the user id directly; token verification is an upstream
// gateway concern.
func Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		token = strings.TrimSpace(token)
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "Missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), token)))
	})
}

// LoanHandler handles loan-related HTTP requests
type LoanHandler struct {
	useCase     *loanapp.UseCase
	decisions   decision.Repository
	limiter     *guard.RateLimiter
	idempotency *guard.IdempotencyCache
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewLoanHandler creates a new loan handler
func NewLoanHandler(
	useCase *loanapp.UseCase,
	decisions decision.Repository,
	limiter *guard.RateLimiter,
	idempotency *guard.IdempotencyCache,
	m *metrics.Metrics,
	logger *zap.Logger,
) *LoanHandler {
	return &LoanHandler{
		useCase:     useCase,
		decisions:   decisions,
		limiter:     limiter,
		idempotency: idempotency,
		metrics:     m,
		logger:      logger,
	}
}

// RequestLoanBody is the loan request wire format
type RequestLoanBody struct {
	RequestedAmount json.Number `json:"requested_amount"`
	Purpose         string      `json:"purpose"`
}

// RequestLoan handles POST /api/v1/loans/request
func (h *LoanHandler) RequestLoan(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := http.StatusOK
	defer func() {
		h.metrics.RequestDuration.WithLabelValues(strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	}()

	userID := UserIDFromContext(r.Context())
	if userID == "" {
		status = http.StatusUnauthorized
		writeError(w, status, "Missing user identity")
		return
	}

	allowed, retryAfter := h.limiter.Allow(userID)
	if !allowed {
		h.metrics.RateLimitDenials.Inc()
		status = http.StatusTooManyRequests
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, status, "Rate limit exceeded")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		status = http.StatusBadRequest
		writeError(w, status, "Failed to read request body: "+err.Error())
		return
	}

	bodyHash := guard.BodyHash(body)
	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey != "" {
		entry, conflict := h.idempotency.Lookup(idemKey, bodyHash)
		if conflict {
			status = http.StatusConflict
			writeError(w, status, "Idempotency key already used with a different request body")
			return
		}
		if entry != nil {
			h.metrics.IdempotentReplays.Inc()
			status = entry.StatusCode
			replay(w, entry)
			return
		}
	}

	var req RequestLoanBody
	if err := json.Unmarshal(body, &req); err != nil {
		status = http.StatusBadRequest
		writeError(w, status, "Invalid request body: "+err.Error())
		return
	}

	amount := decimal.Zero
	if req.RequestedAmount != "" {
		amount, err = decimal.NewFromString(req.RequestedAmount.String())
		if err != nil {
			status = http.StatusBadRequest
			writeError(w, status, "Invalid requested_amount: "+err.Error())
			return
		}
	}

	resp, err := h.useCase.Execute(r.Context(), &loanapp.RequestInput{
		UserID:          userID,
		RequestedAmount: amount,
		Purpose:         req.Purpose,
	})
	if err != nil {
		status = statusFor(err)
		h.logger.Warn("loan request failed",
			zap.String("user_id", userID),
			zap.Int("status", status),
			zap.Error(err))
		writeError(w, status, err.Error())
		return
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		status = http.StatusInternalServerError
		writeError(w, status, "Failed to encode response")
		return
	}

	// Cached bytes are replayed verbatim so retried requests get a
	// byte-equal response
	if idemKey != "" {
		h.idempotency.Set(idemKey, bodyHash, payload, http.StatusOK, map[string]string{
			"Content-Type": "application/json",
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

// GetDecision handles GET /api/v1/loans/{id}/decision
func (h *LoanHandler) GetDecision(w http.ResponseWriter, r *http.Request) {
	idStr := r.PathValue("id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid loan request ID")
		return
	}

	d, err := h.decisions.GetByLoanRequestID(r.Context(), id)
	if err != nil {
		if errors.Is(err, decision.ErrDecisionNotFound) {
			writeError(w, http.StatusNotFound, "Decision not found for loan request")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get decision: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, d)
}

// statusFor maps pipeline errors to HTTP status codes
func statusFor(err error) int {
	var transient *loanapp.TransientError
	var criticalFailure *ensemble.CriticalModelFailureError
	var compat *model.FeatureCompatError

	switch {
	case errors.Is(err, borrower.ErrInvalidLoanAmount),
		errors.Is(err, borrower.ErrEmptyLoanPurpose):
		return http.StatusUnprocessableEntity
	case errors.Is(err, borrower.ErrBorrowerNotFound):
		return http.StatusNotFound
	case errors.As(err, &transient), errors.As(err, &criticalFailure):
		return http.StatusServiceUnavailable
	case errors.As(err, &compat):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func replay(w http.ResponseWriter, entry *guard.Entry) {
	for key, value := range entry.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(entry.StatusCode)
	w.Write(entry.Response)
}

// Helper functions
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
