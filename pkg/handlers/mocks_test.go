package handlers

import (
	"context"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-gsc/pkg/auth"
	"github.com/ekaya-inc/ekaya-gsc/pkg/models"
	"github.com/ekaya-inc/ekaya-gsc/pkg/services"
)

// mockAuthorizer is a mock for Authorizer.
type mockAuthorizer struct {
	cred        *models.Credential
	completeErr error
	gotCode     string

	hasAccess bool
	accessErr error
	status    *auth.Status
	statusErr error
}

func (m *mockAuthorizer) AuthCodeURL(state string) string {
	return "https://accounts.google.com/o/oauth2/auth?state=" + state
}

func (m *mockAuthorizer) CompleteAuthorization(ctx context.Context, code string) (*models.Credential, error) {
	m.gotCode = code
	if m.completeErr != nil {
		return nil, m.completeErr
	}
	return m.cred, nil
}

func (m *mockAuthorizer) HasValidAccess(ctx context.Context) (bool, error) {
	return m.hasAccess, m.accessErr
}

func (m *mockAuthorizer) Status(ctx context.Context) (*auth.Status, error) {
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	if m.status == nil {
		return &auth.Status{}, nil
	}
	return m.status, nil
}

// mockStateStore accepts exactly the states it was told about.
type mockStateStore struct {
	next  string
	valid map[string]bool
}

func (m *mockStateStore) Generate() string {
	return m.next
}

func (m *mockStateStore) Validate(state string) bool {
	return m.valid[state]
}

// mockPropertyService is a mock for services.PropertyService.
type mockPropertyService struct {
	properties []*models.Property
	listErr    error
	sync       *services.SyncResult
	syncErr    error
	access     map[string]bool
	accessErr  error
}

func (m *mockPropertyService) SyncProperties(ctx context.Context) (*services.SyncResult, error) {
	return m.sync, m.syncErr
}

func (m *mockPropertyService) ListProperties(ctx context.Context) ([]*models.Property, error) {
	return m.properties, m.listErr
}

func (m *mockPropertyService) CheckAccess(ctx context.Context, siteURL string) (bool, error) {
	return m.access[siteURL], m.accessErr
}

// mockImportService is a mock for services.ImportService.
type mockImportService struct {
	result    *models.ImportResult
	importErr error
	gotParams models.ImportParams
	calls     int

	job      *models.ImportJob
	jobErr   error
	jobs     []*models.ImportJob
	gotLimit int
}

func (m *mockImportService) ImportSearchAnalytics(ctx context.Context, params models.ImportParams) (*models.ImportResult, error) {
	m.calls++
	m.gotParams = params
	return m.result, m.importErr
}

func (m *mockImportService) GetJob(ctx context.Context, id uuid.UUID) (*models.ImportJob, error) {
	return m.job, m.jobErr
}

func (m *mockImportService) ListJobs(ctx context.Context, limit int) ([]*models.ImportJob, error) {
	m.gotLimit = limit
	return m.jobs, nil
}

// mockMetricsService is a mock for services.MetricsService.
type mockMetricsService struct {
	result   *models.MetricsResult
	list     *models.URLListResult
	err      error
	gotQuery models.MetricsQuery
	gotList  models.URLListQuery
	calls    int
}

func (m *mockMetricsService) GetURLMetrics(ctx context.Context, q models.MetricsQuery) (*models.MetricsResult, error) {
	m.calls++
	m.gotQuery = q
	return m.result, m.err
}

func (m *mockMetricsService) ListURLs(ctx context.Context, q models.URLListQuery) (*models.URLListResult, error) {
	m.calls++
	m.gotList = q
	return m.list, m.err
}

// mockHealthService is a mock for services.HealthService.
type mockHealthService struct {
	report   *services.HealthReport
	ready    *services.Readiness
	stats    *services.Stats
	statsErr error
}

func (m *mockHealthService) Check(ctx context.Context) *services.HealthReport {
	return m.report
}

func (m *mockHealthService) Ready(ctx context.Context) *services.Readiness {
	return m.ready
}

func (m *mockHealthService) Stats(ctx context.Context) (*services.Stats, error) {
	return m.stats, m.statsErr
}
