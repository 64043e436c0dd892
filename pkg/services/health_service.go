package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gsc/pkg/auth"
	"github.com/ekaya-inc/ekaya-gsc/pkg/cache"
	"github.com/ekaya-inc/ekaya-gsc/pkg/logging"
	"github.com/ekaya-inc/ekaya-gsc/pkg/models"
	"github.com/ekaya-inc/ekaya-gsc/pkg/storage"
)

const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"

	statsWindow = 24 * time.Hour
)

// CheckResult is one dependency's health.
type CheckResult struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message"`
	Mode    string `json:"mode,omitempty"`
	Email   string `json:"email,omitempty"`

	AccountsCount   *int64 `json:"accounts_count,omitempty"`
	HasRefreshToken *bool  `json:"has_refresh_token,omitempty"`
}

// HealthReport aggregates dependency checks.
type HealthReport struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// Healthy reports whether every check passed.
func (r *HealthReport) Healthy() bool {
	return r.Status == HealthHealthy
}

// Stats summarizes ingestion activity.
type Stats struct {
	ActiveProperties int64                        `json:"active_properties"`
	Imports          []models.ImportStatusSummary `json:"imports_last_24h"`
	Facts            *models.FactStats            `json:"search_analytics"`
}

// Readiness is the answer to a readiness probe. The service is ready without
// a credential; Authenticated tells whether imports can run.
type Readiness struct {
	Ready         bool   `json:"ready"`
	Authenticated bool   `json:"authenticated"`
	Message       string `json:"message"`
}

// HealthService reports dependency health and ingestion statistics.
type HealthService interface {
	Check(ctx context.Context) *HealthReport
	// Ready reports whether storage answers and a usable token can be produced.
	Ready(ctx context.Context) *Readiness
	Stats(ctx context.Context) (*Stats, error)
}

type healthService struct {
	store  *storage.Store
	cache  cache.Cache
	tokens *auth.TokenManager
	logger *zap.Logger
	now    func() time.Time
}

// NewHealthService creates a HealthService.
func NewHealthService(store *storage.Store, cacheStore cache.Cache, tokens *auth.TokenManager, logger *zap.Logger) HealthService {
	return &healthService{
		store:  store,
		cache:  cacheStore,
		tokens: tokens,
		logger: logger.Named("health-service"),
		now:    time.Now,
	}
}

var _ HealthService = (*healthService)(nil)

func (s *healthService) Check(ctx context.Context) *HealthReport {
	checks := map[string]CheckResult{
		"database": s.checkDatabase(ctx),
		"cache":    s.checkCache(ctx),
		"oauth":    s.checkOAuth(ctx),
	}

	status := HealthHealthy
	for name, c := range checks {
		if !c.Healthy {
			status = HealthDegraded
			s.logger.Warn("Health check failed",
				zap.String("check", name),
				zap.String("message", c.Message))
		}
	}
	return &HealthReport{Status: status, Checks: checks}
}

func (s *healthService) checkDatabase(ctx context.Context) CheckResult {
	if err := s.store.Ping(ctx); err != nil {
		return CheckResult{Message: "Database error: " + logging.SanitizeError(err), Mode: s.store.Mode}
	}
	count, err := s.store.Credentials.Count(ctx)
	if err != nil {
		return CheckResult{Message: "Database error: " + logging.SanitizeError(err), Mode: s.store.Mode}
	}
	return CheckResult{
		Healthy:       true,
		Message:       "Database connection is healthy",
		Mode:          s.store.Mode,
		AccountsCount: &count,
	}
}

func (s *healthService) checkCache(ctx context.Context) CheckResult {
	if err := s.cache.Ping(ctx); err != nil {
		return CheckResult{Message: "Cache error: " + logging.SanitizeError(err)}
	}
	return CheckResult{Healthy: true, Message: "Cache connection is healthy"}
}

func (s *healthService) checkOAuth(ctx context.Context) CheckResult {
	st, err := s.tokens.Status(ctx)
	if err != nil {
		return CheckResult{Message: "OAuth check failed: " + logging.SanitizeError(err)}
	}
	if !st.Authenticated {
		return CheckResult{Message: "No OAuth account found"}
	}
	hasRefresh := st.HasRefreshToken
	res := CheckResult{
		Healthy:         !st.NeedsReauth,
		Message:         "OAuth account available",
		Email:           st.Email,
		HasRefreshToken: &hasRefresh,
	}
	if st.NeedsReauth {
		res.Message = "OAuth access revoked; re-authorization required"
	}
	return res
}

func (s *healthService) Ready(ctx context.Context) *Readiness {
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("Storage not ready", zap.String("error", logging.SanitizeError(err)))
		return &Readiness{Message: "Service dependencies are not ready"}
	}

	ok, err := s.tokens.HasValidAccess(ctx)
	if err != nil {
		s.logger.Warn("Token check failed", zap.String("error", logging.SanitizeError(err)))
	}
	if !ok {
		return &Readiness{Ready: true, Message: "Service is ready but needs authentication"}
	}
	return &Readiness{Ready: true, Authenticated: true, Message: "Service is ready"}
}

func (s *healthService) Stats(ctx context.Context) (*Stats, error) {
	active, err := s.store.Properties.CountActive(ctx)
	if err != nil {
		return nil, err
	}
	imports, err := s.store.Jobs.StatusSummary(ctx, s.now().Add(-statsWindow))
	if err != nil {
		return nil, err
	}
	facts, err := s.store.Facts.Stats(ctx)
	if err != nil {
		return nil, err
	}
	if imports == nil {
		imports = []models.ImportStatusSummary{}
	}
	return &Stats{ActiveProperties: active, Imports: imports, Facts: facts}, nil
}
