package router

import (
	"net/http"

	"credit-decision-service/internal/interfaces/http/handler"
)

// Router holds all HTTP handlers
type Router struct {
	mux             *http.ServeMux
	loanHandler     *handler.LoanHandler
	borrowerHandler *handler.BorrowerHandler
	healthHandler   *handler.HealthHandler
	metricsHandler  http.Handler
	metricsPath     string
}

// NewRouter creates a new router with all routes configured
func NewRouter(
	loanHandler *handler.LoanHandler,
	borrowerHandler *handler.BorrowerHandler,
	healthHandler *handler.HealthHandler,
	metricsHandler http.Handler,
	metricsPath string,
) *Router {
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	r := &Router{
		mux:             http.NewServeMux(),
		loanHandler:     loanHandler,
		borrowerHandler: borrowerHandler,
		healthHandler:   healthHandler,
		metricsHandler:  metricsHandler,
		metricsPath:     metricsPath,
	}
	r.setupRoutes()
	return r
}

func (r *Router) setupRoutes() {
	// Health endpoints
	r.mux.HandleFunc("GET /health", r.healthHandler.Health)
	r.mux.HandleFunc("GET /ready", r.healthHandler.Ready)
	r.mux.HandleFunc("GET /live", r.healthHandler.Live)

	if r.metricsHandler != nil {
		r.mux.Handle("GET "+r.metricsPath, r.metricsHandler)
	}

	// Loan endpoints
	r.mux.Handle("POST /api/v1/loans/request",
		handler.Authenticate(http.HandlerFunc(r.loanHandler.RequestLoan)))
	r.mux.HandleFunc("GET /api/v1/loans/{id}/decision", r.loanHandler.GetDecision)

	// Borrower features
	r.mux.HandleFunc("GET /api/v1/borrowers/{id}/features", r.borrowerHandler.GetFeatures)
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// Add CORS headers
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key")

	if req.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	r.mux.ServeHTTP(w, req)
}

// Handler returns the http.Handler
func (r *Router) Handler() http.Handler {
	return r
}
