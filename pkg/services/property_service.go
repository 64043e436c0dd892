package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gsc/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gsc/pkg/auth"
	"github.com/ekaya-inc/ekaya-gsc/pkg/cache"
	"github.com/ekaya-inc/ekaya-gsc/pkg/gsc"
	"github.com/ekaya-inc/ekaya-gsc/pkg/models"
	"github.com/ekaya-inc/ekaya-gsc/pkg/repositories"
)

// SyncResult summarizes a property sync.
type SyncResult struct {
	Synced      int64              `json:"synced"`
	Deactivated int64              `json:"deactivated"`
	Properties  []*models.Property `json:"properties"`
}

// PropertyService mirrors the Search Console site list into storage.
type PropertyService interface {
	// SyncProperties stores every listed site and deactivates the rest.
	SyncProperties(ctx context.Context) (*SyncResult, error)
	ListProperties(ctx context.Context) ([]*models.Property, error)
	// CheckAccess reports whether the authorized account can read siteURL.
	// A permission denial is a negative answer, not an error.
	CheckAccess(ctx context.Context, siteURL string) (bool, error)
}

type propertyService struct {
	repo   repositories.PropertyRepository
	client gsc.Client
	tokens auth.TokenProvider
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewPropertyService creates a PropertyService caching the list for ttl.
func NewPropertyService(
	repo repositories.PropertyRepository,
	client gsc.Client,
	tokens auth.TokenProvider,
	cacheStore cache.Cache,
	ttl time.Duration,
	logger *zap.Logger,
) PropertyService {
	return &propertyService{
		repo:   repo,
		client: client,
		tokens: tokens,
		cache:  cacheStore,
		ttl:    ttl,
		logger: logger.Named("property-service"),
	}
}

var _ PropertyService = (*propertyService)(nil)

func (s *propertyService) SyncProperties(ctx context.Context) (*SyncResult, error) {
	token, err := s.tokens.GetValidAccessToken(ctx, "")
	if err != nil {
		return nil, err
	}

	sites, err := s.client.ListSites(ctx, token)
	if err != nil {
		return nil, err
	}

	props := make([]*models.Property, 0, len(sites))
	keep := make([]string, 0, len(sites))
	for _, site := range sites {
		props = append(props, models.NewPropertyFromSite(site.SiteURL))
		keep = append(keep, site.SiteURL)
	}

	synced, err := s.repo.BulkUpsert(ctx, props)
	if err != nil {
		return nil, fmt.Errorf("failed to store properties: %w", err)
	}
	deactivated, err := s.repo.DeactivateMissing(ctx, keep)
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate missing properties: %w", err)
	}

	if err := s.cache.Delete(ctx, cache.PropertiesKey()); err != nil {
		s.logger.Warn("Failed to invalidate property cache", zap.Error(err))
	}

	active, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list properties: %w", err)
	}

	s.logger.Info("Properties synced",
		zap.Int64("synced", synced),
		zap.Int64("deactivated", deactivated))
	return &SyncResult{Synced: synced, Deactivated: deactivated, Properties: active}, nil
}

func (s *propertyService) ListProperties(ctx context.Context) ([]*models.Property, error) {
	var cached []*models.Property
	found, err := s.cache.Get(ctx, cache.PropertiesKey(), &cached)
	if err != nil {
		s.logger.Warn("Cache read failed", zap.Error(err))
	}
	if found {
		return cached, nil
	}

	props, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list properties: %w", err)
	}
	if props == nil {
		props = []*models.Property{}
	}

	if err := s.cache.Set(ctx, cache.PropertiesKey(), props, s.ttl); err != nil {
		s.logger.Warn("Cache write failed", zap.Error(err))
	}
	return props, nil
}

func (s *propertyService) CheckAccess(ctx context.Context, siteURL string) (bool, error) {
	token, err := s.tokens.GetValidAccessToken(ctx, "")
	if err != nil {
		return false, err
	}

	_, err = s.client.GetSite(ctx, token, siteURL)
	switch {
	case err == nil:
		return true, nil
	case apperrors.IsKind(err, apperrors.KindInsufficientPermission), apperrors.IsKind(err, apperrors.KindForbidden):
		s.logger.Info("No access to property", zap.String("site_url", siteURL))
		return false, nil
	default:
		return false, err
	}
}
