package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"

	loanapp "credit-decision-service/internal/application/loan"
	"credit-decision-service/internal/domain/borrower"
	"credit-decision-service/internal/domain/decision"
	"credit-decision-service/internal/domain/ensemble"
	"credit-decision-service/internal/domain/feature"
	"credit-decision-service/internal/domain/fraud"
	"credit-decision-service/internal/domain/model"
	"credit-decision-service/internal/domain/policy"
	"credit-decision-service/internal/infrastructure/background"
	"credit-decision-service/internal/infrastructure/cache/redis"
	"credit-decision-service/internal/infrastructure/database/postgres"
	"credit-decision-service/internal/infrastructure/guard"
	"credit-decision-service/internal/infrastructure/http/router"
	"credit-decision-service/internal/interfaces/http/handler"
	"credit-decision-service/internal/pkg/config"
	"credit-decision-service/internal/pkg/metrics"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := buildLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting credit decision API",
		zap.String("version", version),
		zap.String("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)))

	// Database connection. When unreachable the service runs in
	// standalone mode on seeded in-memory repositories.
	var (
		db            *gorm.DB
		borrowerRepo  borrower.Repository
		eventRepo     borrower.EventRepository
		loanRepo      borrower.LoanRequestRepository
		decisionRepo  decision.Repository
		auditRepo     decision.AuditRepository
		featureStore  feature.Store
		dbHealthCheck handler.HealthChecker
	)

	db, err = postgres.NewClient(databaseDSN(cfg.Database))
	if err != nil {
		logger.Warn("database connection failed, running in standalone mode", zap.Error(err))
		mocks := newMockRepositories(logger)
		borrowerRepo = mocks.borrowers
		eventRepo = mocks.events
		loanRepo = mocks.loans
		decisionRepo = mocks.decisions
		auditRepo = mocks.audit
		featureStore = mocks.features
	} else {
		logger.Info("connected to postgres",
			zap.String("host", cfg.Database.Host),
			zap.Int("port", cfg.Database.Port))
		borrowerRepo = postgres.NewBorrowerRepository(db)
		eventRepo = postgres.NewEventRepository(db)
		loanRepo = postgres.NewLoanRequestRepository(db)
		decisionRepo = postgres.NewDecisionRepository(db)
		auditRepo = postgres.NewAuditRepository(db, logger)
		featureStore = postgres.NewFeatureStore(db)
		dbHealthCheck = &gormHealth{db: db}
	}

	// Redis connection, optional
	var (
		redisClient      *goredis.Client
		redisHealthCheck handler.HealthChecker
	)
	redisClient, err = redis.NewClient(
		fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		cfg.Redis.Password,
		cfg.Redis.DB,
	)
	if err != nil {
		logger.Warn("redis connection failed, feature cache disabled", zap.Error(err))
		redisClient = nil
	} else {
		logger.Info("connected to redis",
			zap.String("host", cfg.Redis.Host),
			zap.Int("port", cfg.Redis.Port))
		redisHealthCheck = &redisHealth{client: redisClient}
	}
	featureCache := redis.NewFeatureCache(redisClient)

	// Decision pipeline
	featureEngine := feature.NewEngine(
		cfg.Feature.LookbackDays, eventRepo, featureStore, featureCache, auditRepo, logger)

	fraudEngine := fraud.NewEngine(cfg.Fraud.AggregationStrategy, []fraud.Detector{
		fraud.NewRuleBasedDetector(fraud.RuleThresholds{
			VeryLowVolume:      cfg.Fraud.VeryLowVolumeThreshold,
			LowVolume:          cfg.Fraud.LowVolumeThreshold,
			VeryLowConsistency: cfg.Fraud.VeryLowConsistencyThreshold,
			LowConsistency:     cfg.Fraud.LowConsistencyThreshold,
		}),
		fraud.NewTrustGraphDetector(),
	}, logger)

	ens := ensemble.New(cfg.Ensemble.Version, cfg.Ensemble.Weights, []model.Model{
		model.NewRuleBasedCreditModel(),
		model.NewTrustGraphModel(),
		fraud.NewDetectionModel(fraudEngine),
	}, fraudEngine, ensemble.NewExplainabilityEngine(), logger)

	policyEngine := policy.NewEngine(policy.Config{
		Version:                  cfg.Policy.Version,
		MinApprovalScore:         cfg.Policy.MinApprovalScore,
		MinReviewScore:           cfg.Policy.MinReviewScore,
		MaxLoanAmount:            cfg.Policy.GetMaxLoanAmount(),
		RequireManualReviewAbove: cfg.Policy.GetRequireManualReviewAbove(),
		MaxFraudScore:            cfg.Policy.MaxFraudScore,
		CriticalRiskThreshold:    cfg.Policy.CriticalRiskThreshold,
		HighRiskThreshold:        cfg.Policy.HighRiskThreshold,
		MediumRiskThreshold:      cfg.Policy.MediumRiskThreshold,
	}, decisionRepo, auditRepo, logger)

	runner := background.NewRunner(borrowerRepo, eventRepo, featureEngine, background.NewMonitor(), logger)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	useCase := loanapp.NewUseCase(
		borrowerRepo, loanRepo, decisionRepo, auditRepo,
		featureEngine, ens, policyEngine,
		policy.NewFairnessEvaluator(), cfg.Policy.FairnessSampleSize,
		runner, m, cfg.Ensemble.Version, logger)

	// Request guards
	limiter := guard.NewRateLimiter(cfg.RateLimit.MaxRequests, cfg.RateLimit.WindowSeconds)
	idemCache := guard.NewIdempotencyCache(cfg.Idempotency.MaxEntries, cfg.Idempotency.TTLSeconds)

	// Handlers and router
	loanHandler := handler.NewLoanHandler(useCase, decisionRepo, limiter, idemCache, m, logger)
	borrowerHandler := handler.NewBorrowerHandler(featureStore, featureCache, logger)
	healthHandler := handler.NewHealthHandler(dbHealthCheck, redisHealthCheck, limiter, idemCache, version)

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metricsHandler = handler.MetricsHandler(registry)
	}

	r := router.NewRouter(loanHandler, borrowerHandler, healthHandler, metricsHandler, cfg.Metrics.Path)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	// Drain in-flight background recomputations before closing stores
	runner.Wait()

	if db != nil {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	if redisClient != nil {
		redisClient.Close()
	}

	logger.Info("server stopped")
}

func buildLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not build logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func databaseDSN(cfg config.DatabaseConfig) string {
	if cfg.URL != "" {
		return cfg.URL
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)
}

// gormHealth adapts a gorm connection to the health check interface
type gormHealth struct {
	db *gorm.DB
}

func (g *gormHealth) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// redisHealth adapts a redis client to the health check interface
type redisHealth struct {
	client *goredis.Client
}

func (r *redisHealth) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Mock repositories for standalone mode (when DB is not available)

type mockRepositories struct {
	borrowers *MockBorrowerRepository
	events    *MockEventRepository
	loans     *MockLoanRequestRepository
	decisions *MockDecisionRepository
	audit     *MockAuditRepository
	features  *MockFeatureStore
}

// newMockRepositories builds the seeded in-memory repository set. The
// demo borrower is reachable with `Authorization: Bearer demo-user`.
func newMockRepositories(logger *zap.Logger) *mockRepositories {
	borrowers := NewMockBorrowerRepository()
	events := NewMockEventRepository()
	loans := NewMockLoanRequestRepository()

	demo := &borrower.Borrower{
		ID:       uuid.New(),
		UserID:   "demo-user",
		FullName: "Wanjiru Kamau",
		Gender:   "female",
		Region:   "nairobi",
		Phone:    "+254700000001",
		Peers: []borrower.TrustPeer{
			{PeerID: "peer-1", InteractionCount: 14, Repaid: true},
			{PeerID: "peer-2", InteractionCount: 9, Repaid: true},
			{PeerID: "peer-3", InteractionCount: 6, Repaid: true},
		},
		CreatedAt: time.Now().UTC(),
	}
	borrowers.seed(demo)

	now := time.Now().UTC()
	for i := 0; i < 25; i++ {
		events.seed(borrower.NewRawEvent(demo.ID, "app_open", nil), now.AddDate(0, 0, -(i%14)))
	}
	for i := 0; i < 5; i++ {
		events.seed(borrower.NewRawEvent(demo.ID, "transaction", map[string]interface{}{
			"amount": 2500.0,
		}), now.AddDate(0, 0, -(i*4)))
	}

	return &mockRepositories{
		borrowers: borrowers,
		events:    events,
		loans:     loans,
		decisions: NewMockDecisionRepository(borrowers, loans),
		audit:     NewMockAuditRepository(logger),
		features:  NewMockFeatureStore(),
	}
}

// MockBorrowerRepository implements borrower.Repository for standalone mode
type MockBorrowerRepository struct {
	mu     sync.RWMutex
	byUser map[string]*borrower.Borrower
}

func NewMockBorrowerRepository() *MockBorrowerRepository {
	return &MockBorrowerRepository{byUser: make(map[string]*borrower.Borrower)}
}

func (r *MockBorrowerRepository) seed(b *borrower.Borrower) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byUser[b.UserID] = b
}

func (r *MockBorrowerRepository) CreateBorrower(ctx context.Context, userID, fullName, gender, region string) (*borrower.Borrower, error) {
	if userID == "" {
		return nil, borrower.ErrEmptyUserID
	}
	if fullName == "" {
		return nil, borrower.ErrEmptyFullName
	}
	b := &borrower.Borrower{
		ID:        uuid.New(),
		UserID:    userID,
		FullName:  fullName,
		Gender:    gender,
		Region:    region,
		CreatedAt: time.Now().UTC(),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byUser[userID] = b
	return b, nil
}

func (r *MockBorrowerRepository) GetByUserID(ctx context.Context, userID string) (*borrower.Borrower, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.byUser[userID]; ok {
		copied := *b
		return &copied, nil
	}
	return nil, borrower.ErrBorrowerNotFound
}

func (r *MockBorrowerRepository) GetByID(ctx context.Context, id uuid.UUID) (*borrower.Borrower, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.byUser {
		if b.ID == id {
			copied := *b
			return &copied, nil
		}
	}
	return nil, borrower.ErrBorrowerNotFound
}

// MockEventRepository implements borrower.EventRepository for standalone mode
type MockEventRepository struct {
	mu     sync.RWMutex
	events []*borrower.RawEvent
}

func NewMockEventRepository() *MockEventRepository {
	return &MockEventRepository{}
}

func (r *MockEventRepository) seed(event *borrower.RawEvent, createdAt time.Time) {
	event.CreatedAt = createdAt
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *MockEventRepository) Create(ctx context.Context, event *borrower.RawEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *MockEventRepository) ListRecent(ctx context.Context, borrowerID uuid.UUID, since time.Time, limit int) ([]*borrower.RawEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var results []*borrower.RawEvent
	for _, e := range r.events {
		if e.BorrowerID == borrowerID && !e.CreatedAt.Before(since) {
			results = append(results, e)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.Before(results[j].CreatedAt)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (r *MockEventRepository) ListUnprocessed(ctx context.Context, borrowerID uuid.UUID) ([]*borrower.RawEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var results []*borrower.RawEvent
	for _, e := range r.events {
		if e.BorrowerID == borrowerID && !e.Processed {
			results = append(results, e)
		}
	}
	return results, nil
}

func (r *MockEventRepository) MarkProcessed(ctx context.Context, eventID uuid.UUID, notes string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ID == eventID {
			now := time.Now().UTC()
			e.Processed = true
			e.ProcessedAt = &now
			e.ProcessingNotes = notes
			return nil
		}
	}
	return borrower.ErrEventNotFound
}

func (r *MockEventRepository) MarkFailed(ctx context.Context, eventID uuid.UUID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ID == eventID {
			now := time.Now().UTC()
			e.Processed = false
			e.ProcessedAt = &now
			e.ProcessingNotes = "FAILED: " + reason
			return nil
		}
	}
	return borrower.ErrEventNotFound
}

// MockLoanRequestRepository implements borrower.LoanRequestRepository for standalone mode
type MockLoanRequestRepository struct {
	mu       sync.RWMutex
	requests map[uuid.UUID]*borrower.LoanRequest
}

func NewMockLoanRequestRepository() *MockLoanRequestRepository {
	return &MockLoanRequestRepository{requests: make(map[uuid.UUID]*borrower.LoanRequest)}
}

func (r *MockLoanRequestRepository) Create(ctx context.Context, borrowerID uuid.UUID, amount decimal.Decimal, purpose string) (*borrower.LoanRequest, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, borrower.ErrInvalidLoanAmount
	}
	if purpose == "" {
		return nil, borrower.ErrEmptyLoanPurpose
	}
	req := &borrower.LoanRequest{
		ID:              uuid.New(),
		BorrowerID:      borrowerID,
		RequestedAmount: amount,
		Purpose:         purpose,
		Status:          borrower.LoanStatusPending,
		CreatedAt:       time.Now().UTC(),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[req.ID] = req
	return req, nil
}

func (r *MockLoanRequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*borrower.LoanRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if req, ok := r.requests[id]; ok {
		return req, nil
	}
	return nil, borrower.ErrLoanRequestNotFound
}

// MockDecisionRepository implements decision.Repository for standalone mode
type MockDecisionRepository struct {
	mu        sync.RWMutex
	decisions map[uuid.UUID]*decision.CreditDecision
	lineage   map[uuid.UUID]*decision.Lineage
	borrowers *MockBorrowerRepository
	loans     *MockLoanRequestRepository
}

func NewMockDecisionRepository(borrowers *MockBorrowerRepository, loans *MockLoanRequestRepository) *MockDecisionRepository {
	return &MockDecisionRepository{
		decisions: make(map[uuid.UUID]*decision.CreditDecision),
		lineage:   make(map[uuid.UUID]*decision.Lineage),
		borrowers: borrowers,
		loans:     loans,
	}
}

func (r *MockDecisionRepository) SaveCreditDecision(ctx context.Context, loanRequestID uuid.UUID, score float64, decisionValue, explanation, modelVersion string) (*decision.CreditDecision, error) {
	if score < 0 || score > 1000 {
		return nil, decision.ErrInvalidScore
	}
	if modelVersion == "" {
		return nil, decision.ErrEmptyModelVersion
	}
	d := &decision.CreditDecision{
		ID:            uuid.New(),
		LoanRequestID: loanRequestID,
		CreditScore:   score,
		Decision:      decisionValue,
		Explanation:   explanation,
		ModelVersion:  modelVersion,
		CreatedAt:     time.Now().UTC(),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions[d.ID] = d
	return d, nil
}

func (r *MockDecisionRepository) GetByID(ctx context.Context, id uuid.UUID) (*decision.CreditDecision, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, ok := r.decisions[id]; ok {
		return d, nil
	}
	return nil, decision.ErrDecisionNotFound
}

func (r *MockDecisionRepository) GetByLoanRequestID(ctx context.Context, loanRequestID uuid.UUID) (*decision.CreditDecision, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.decisions {
		if d.LoanRequestID == loanRequestID {
			return d, nil
		}
	}
	return nil, decision.ErrDecisionNotFound
}

func (r *MockDecisionRepository) SaveLineage(ctx context.Context, decisionID, borrowerID uuid.UUID, dataSources, modelsUsed map[string]interface{}, policyVersion string, fraudChecks map[string]interface{}) (*decision.Lineage, error) {
	if dataSources == nil || modelsUsed == nil || fraudChecks == nil {
		return nil, decision.ErrNilLineageArgument
	}
	l := &decision.Lineage{
		ID:            uuid.New(),
		DecisionID:    decisionID,
		BorrowerID:    borrowerID,
		DataSources:   dataSources,
		ModelsUsed:    modelsUsed,
		PolicyVersion: policyVersion,
		FraudChecks:   fraudChecks,
		CreatedAt:     time.Now().UTC(),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lineage[l.ID] = l
	return l, nil
}

func (r *MockDecisionRepository) ListRecentWithDemographics(ctx context.Context, limit int) ([]*decision.DemographicDecision, error) {
	r.mu.RLock()
	all := make([]*decision.CreditDecision, 0, len(r.decisions))
	for _, d := range r.decisions {
		all = append(all, d)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}

	rows := make([]*decision.DemographicDecision, 0, len(all))
	for _, d := range all {
		row := &decision.DemographicDecision{
			DecisionID: d.ID,
			Decision:   d.Decision,
			CreatedAt:  d.CreatedAt,
		}
		if req, err := r.loans.GetByID(ctx, d.LoanRequestID); err == nil {
			if b, err := r.borrowers.GetByID(ctx, req.BorrowerID); err == nil {
				row.Gender = b.Gender
				row.Region = b.Region
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// MockAuditRepository implements decision.AuditRepository for standalone mode
type MockAuditRepository struct {
	logger *zap.Logger
}

func NewMockAuditRepository(logger *zap.Logger) *MockAuditRepository {
	return &MockAuditRepository{logger: logger}
}

func (r *MockAuditRepository) LogEvent(ctx context.Context, action, entityType string, entityID *uuid.UUID, metadata map[string]interface{}) *decision.AuditResult {
	if action == "" {
		return &decision.AuditResult{Err: "audit action must not be empty"}
	}
	r.logger.Info("audit",
		zap.String("action", action),
		zap.String("entity_type", entityType),
		zap.Any("metadata", metadata))
	id := uuid.New()
	return &decision.AuditResult{ID: &id}
}

// MockFeatureStore implements feature.Store for standalone mode
type MockFeatureStore struct {
	mu      sync.RWMutex
	vectors []*feature.Vector
}

func NewMockFeatureStore() *MockFeatureStore {
	return &MockFeatureStore{}
}

func (s *MockFeatureStore) Save(ctx context.Context, v *feature.Vector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors = append(s.vectors, v)
	return nil
}

func (s *MockFeatureStore) GetLatest(ctx context.Context, borrowerID uuid.UUID, featureSet string) (*feature.Vector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *feature.Vector
	for _, v := range s.vectors {
		if v.BorrowerID != borrowerID || v.FeatureSet != featureSet {
			continue
		}
		if latest == nil || v.ComputedAt.After(latest.ComputedAt) {
			latest = v
		}
	}
	if latest == nil {
		return nil, feature.ErrNoFeatures
	}
	return latest, nil
}
