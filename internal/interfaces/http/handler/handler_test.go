package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	loanapp "credit-decision-service/internal/application/loan"
	"credit-decision-service/internal/domain/borrower"
	"credit-decision-service/internal/domain/decision"
	"credit-decision-service/internal/domain/ensemble"
	"credit-decision-service/internal/domain/feature"
	"credit-decision-service/internal/domain/fraud"
	"credit-decision-service/internal/domain/model"
	"credit-decision-service/internal/domain/policy"
	"credit-decision-service/internal/infrastructure/background"
	"credit-decision-service/internal/infrastructure/guard"
	"credit-decision-service/internal/infrastructure/http/router"
	"credit-decision-service/internal/interfaces/http/handler"
	"credit-decision-service/internal/pkg/metrics"
)

type fakeBorrowers struct {
	mu     sync.Mutex
	byUser map[string]*borrower.Borrower
}

func (f *fakeBorrowers) CreateBorrower(ctx context.Context, userID, fullName, gender, region string) (*borrower.Borrower, error) {
	return nil, nil
}

func (f *fakeBorrowers) GetByUserID(ctx context.Context, userID string) (*borrower.Borrower, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.byUser[userID]; ok {
		copied := *b
		return &copied, nil
	}
	return nil, borrower.ErrBorrowerNotFound
}

func (f *fakeBorrowers) GetByID(ctx context.Context, id uuid.UUID) (*borrower.Borrower, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.byUser {
		if b.ID == id {
			copied := *b
			return &copied, nil
		}
	}
	return nil, borrower.ErrBorrowerNotFound
}

type fakeEvents struct {
	mu     sync.Mutex
	events []*borrower.RawEvent
}

func (f *fakeEvents) Create(ctx context.Context, event *borrower.RawEvent) error { return nil }

func (f *fakeEvents) ListRecent(ctx context.Context, borrowerID uuid.UUID, since time.Time, limit int) ([]*borrower.RawEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*borrower.RawEvent(nil), f.events...), nil
}

func (f *fakeEvents) ListUnprocessed(ctx context.Context, borrowerID uuid.UUID) ([]*borrower.RawEvent, error) {
	return nil, nil
}

func (f *fakeEvents) MarkProcessed(ctx context.Context, eventID uuid.UUID, notes string) error {
	return nil
}

func (f *fakeEvents) MarkFailed(ctx context.Context, eventID uuid.UUID, reason string) error {
	return nil
}

type fakeLoans struct {
	mu       sync.Mutex
	requests map[uuid.UUID]*borrower.LoanRequest
}

func (f *fakeLoans) Create(ctx context.Context, borrowerID uuid.UUID, amount decimal.Decimal, purpose string) (*borrower.LoanRequest, error) {
	req := &borrower.LoanRequest{
		ID:              uuid.New(),
		BorrowerID:      borrowerID,
		RequestedAmount: amount,
		Purpose:         purpose,
		Status:          borrower.LoanStatusPending,
		CreatedAt:       time.Now().UTC(),
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests[req.ID] = req
	return req, nil
}

func (f *fakeLoans) GetByID(ctx context.Context, id uuid.UUID) (*borrower.LoanRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req, ok := f.requests[id]; ok {
		return req, nil
	}
	return nil, borrower.ErrLoanRequestNotFound
}

type fakeDecisions struct {
	mu    sync.Mutex
	saved []*decision.CreditDecision
}

func (f *fakeDecisions) SaveCreditDecision(ctx context.Context, loanRequestID uuid.UUID, score float64, decisionValue, explanation, modelVersion string) (*decision.CreditDecision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := &decision.CreditDecision{
		ID:            uuid.New(),
		LoanRequestID: loanRequestID,
		CreditScore:   score,
		Decision:      decisionValue,
		Explanation:   explanation,
		ModelVersion:  modelVersion,
		CreatedAt:     time.Now().UTC(),
	}
	f.saved = append(f.saved, d)
	return d, nil
}

func (f *fakeDecisions) GetByID(ctx context.Context, id uuid.UUID) (*decision.CreditDecision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.saved {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, decision.ErrDecisionNotFound
}

func (f *fakeDecisions) GetByLoanRequestID(ctx context.Context, loanRequestID uuid.UUID) (*decision.CreditDecision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.saved {
		if d.LoanRequestID == loanRequestID {
			return d, nil
		}
	}
	return nil, decision.ErrDecisionNotFound
}

func (f *fakeDecisions) SaveLineage(ctx context.Context, decisionID, borrowerID uuid.UUID, dataSources, modelsUsed map[string]interface{}, policyVersion string, fraudChecks map[string]interface{}) (*decision.Lineage, error) {
	return &decision.Lineage{ID: uuid.New()}, nil
}

func (f *fakeDecisions) ListRecentWithDemographics(ctx context.Context, limit int) ([]*decision.DemographicDecision, error) {
	return nil, nil
}

func (f *fakeDecisions) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

type fakeAudit struct{}

func (fakeAudit) LogEvent(ctx context.Context, action, entityType string, entityID *uuid.UUID, metadata map[string]interface{}) *decision.AuditResult {
	id := uuid.New()
	return &decision.AuditResult{ID: &id}
}

type fakeFeatureStore struct {
	mu    sync.Mutex
	saved []*feature.Vector
}

func (f *fakeFeatureStore) Save(ctx context.Context, v *feature.Vector) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, v)
	return nil
}

func (f *fakeFeatureStore) GetLatest(ctx context.Context, borrowerID uuid.UUID, featureSet string) (*feature.Vector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.saved) - 1; i >= 0; i-- {
		if f.saved[i].BorrowerID == borrowerID && f.saved[i].FeatureSet == featureSet {
			return f.saved[i], nil
		}
	}
	return nil, feature.ErrNoFeatures
}

type testServer struct {
	handler   http.Handler
	borrower  *borrower.Borrower
	loans     *fakeLoans
	decisions *fakeDecisions
	features  *fakeFeatureStore
	runner    *background.Runner
}

func newTestServer(t *testing.T, maxRequests int) *testServer {
	t.Helper()
	logger := zap.NewNop()

	b := &borrower.Borrower{
		ID:       uuid.New(),
		UserID:   "user-1",
		FullName: "Amina Odhiambo",
		Gender:   "female",
		Region:   "nairobi",
		Phone:    "+254700000001",
		Peers: []borrower.TrustPeer{
			{PeerID: "p1", InteractionCount: 10, Repaid: true},
		},
	}

	now := time.Now().UTC()
	var events []*borrower.RawEvent
	for i := 0; i < 15; i++ {
		events = append(events, &borrower.RawEvent{
			ID:         uuid.New(),
			BorrowerID: b.ID,
			EventType:  "app_open",
			CreatedAt:  now.AddDate(0, 0, -(i % 7)),
		})
	}
	for i := 0; i < 3; i++ {
		events = append(events, &borrower.RawEvent{
			ID:         uuid.New(),
			BorrowerID: b.ID,
			EventType:  "transaction",
			EventData:  map[string]interface{}{"amount": 2000.0},
			CreatedAt:  now.AddDate(0, 0, -(i * 5)),
		})
	}

	borrowers := &fakeBorrowers{byUser: map[string]*borrower.Borrower{b.UserID: b}}
	eventRepo := &fakeEvents{events: events}
	loans := &fakeLoans{requests: make(map[uuid.UUID]*borrower.LoanRequest)}
	decisions := &fakeDecisions{}
	audit := fakeAudit{}
	store := &fakeFeatureStore{}

	featureEngine := feature.NewEngine(30, eventRepo, store, nil, audit, logger)
	fraudEngine := fraud.NewEngine(fraud.StrategyMax, []fraud.Detector{
		fraud.NewRuleBasedDetector(fraud.DefaultRuleThresholds()),
		fraud.NewTrustGraphDetector(),
	}, logger)
	ens := ensemble.New("v2.0", ensemble.DefaultWeights(), []model.Model{
		model.NewRuleBasedCreditModel(),
		model.NewTrustGraphModel(),
		fraud.NewDetectionModel(fraudEngine),
	}, fraudEngine, ensemble.NewExplainabilityEngine(), logger)
	policyEngine := policy.NewEngine(policy.DefaultConfig(), decisions, audit, logger)
	runner := background.NewRunner(borrowers, eventRepo, featureEngine, background.NewMonitor(), logger)

	m := metrics.New(prometheus.NewRegistry())
	useCase := loanapp.NewUseCase(
		borrowers, loans, decisions, audit,
		featureEngine, ens, policyEngine,
		policy.NewFairnessEvaluator(), 20,
		runner, m, "v2.0", logger)

	limiter := guard.NewRateLimiter(maxRequests, 60)
	idemCache := guard.NewIdempotencyCache(1000, 3600)

	loanHandler := handler.NewLoanHandler(useCase, decisions, limiter, idemCache, m, logger)
	borrowerHandler := handler.NewBorrowerHandler(store, nil, logger)
	healthHandler := handler.NewHealthHandler(nil, nil, limiter, idemCache, "test")

	r := router.NewRouter(loanHandler, borrowerHandler, healthHandler, nil, "")

	return &testServer{
		handler:   r.Handler(),
		borrower:  b,
		loans:     loans,
		decisions: decisions,
		features:  store,
		runner:    runner,
	}
}

func (s *testServer) post(body, bearer, idemKey string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/loans/request", strings.NewReader(body))
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func TestRequestLoanSuccess(t *testing.T) {
	s := newTestServer(t, 10)

	rec := s.post(`{"requested_amount": 20000, "purpose": "inventory"}`, "user-1", "")
	s.runner.Wait()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp loanapp.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.CreditDecision)
	assert.True(t, resp.BackgroundTaskQueued)
	assert.NotEmpty(t, resp.CreditDecision.PolicyDecision.Reasons)
	assert.Equal(t, 1, s.decisions.count())
}

func TestRequestLoanMissingBearer(t *testing.T) {
	s := newTestServer(t, 10)

	rec := s.post(`{"requested_amount": 20000, "purpose": "inventory"}`, "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequestLoanValidation(t *testing.T) {
	s := newTestServer(t, 10)

	rec := s.post(`{"requested_amount": 0, "purpose": "inventory"}`, "user-1", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.post(`{"requested_amount": 5000, "purpose": ""}`, "user-1", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.post(`not json`, "user-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestLoanUnknownBorrower(t *testing.T) {
	s := newTestServer(t, 10)

	rec := s.post(`{"requested_amount": 20000, "purpose": "inventory"}`, "stranger", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestLoanRateLimit(t *testing.T) {
	s := newTestServer(t, 2)
	body := `{"requested_amount": 20000, "purpose": "inventory"}`

	assert.Equal(t, http.StatusOK, s.post(body, "user-1", "").Code)
	assert.Equal(t, http.StatusOK, s.post(body, "user-1", "").Code)

	rec := s.post(body, "user-1", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retryAfter, 1)

	// Other users have their own bucket, but the borrower must exist
	rec = s.post(body, "stranger", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	s.runner.Wait()
}

func TestRequestLoanIdempotency(t *testing.T) {
	s := newTestServer(t, 10)
	body := `{"requested_amount": 20000, "purpose": "inventory"}`
	key := uuid.NewString()

	first := s.post(body, "user-1", key)
	require.Equal(t, http.StatusOK, first.Code)

	second := s.post(body, "user-1", key)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.Bytes(), second.Body.Bytes())

	// Replay served from cache, no second decision row
	assert.Equal(t, 1, s.decisions.count())

	// Same key with a different body is misuse
	third := s.post(`{"requested_amount": 999, "purpose": "inventory"}`, "user-1", key)
	assert.Equal(t, http.StatusConflict, third.Code)
	assert.Equal(t, 1, s.decisions.count())
	s.runner.Wait()
}

func TestGetDecision(t *testing.T) {
	s := newTestServer(t, 10)

	rec := s.post(`{"requested_amount": 20000, "purpose": "inventory"}`, "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	s.runner.Wait()

	var resp loanapp.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/loans/"+resp.LoanRequest.ID.String()+"/decision", nil)
	get := httptest.NewRecorder()
	s.handler.ServeHTTP(get, req)
	require.Equal(t, http.StatusOK, get.Code)

	var d decision.CreditDecision
	require.NoError(t, json.Unmarshal(get.Body.Bytes(), &d))
	assert.Equal(t, resp.LoanRequest.ID, d.LoanRequestID)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/loans/"+uuid.NewString()+"/decision", nil)
	get = httptest.NewRecorder()
	s.handler.ServeHTTP(get, req)
	assert.Equal(t, http.StatusNotFound, get.Code)
}

func TestGetFeatures(t *testing.T) {
	s := newTestServer(t, 10)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/borrowers/"+s.borrower.ID.String()+"/features", nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// The background task after a loan request persists a vector
	post := s.post(`{"requested_amount": 20000, "purpose": "inventory"}`, "user-1", "")
	require.Equal(t, http.StatusOK, post.Code)
	s.runner.Wait()

	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var v feature.Vector
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, s.borrower.ID, v.BorrowerID)
	assert.Contains(t, v.Features, feature.KeyTransactionVolume30d)
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t, 10)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var health handler.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Contains(t, health.Guards, "rate_limiter")
	assert.Contains(t, health.Guards, "idempotency")

	req = httptest.NewRequest(http.MethodGet, "/live", nil)
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// No checkers registered, so ready reports with no services
	req = httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
