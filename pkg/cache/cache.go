// Package cache memoizes read-side responses. Entries are JSON-encoded and
// keyed deterministically from canonical request parameters.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ekaya-inc/ekaya-gsc/pkg/models"
)

// Cache is a key/value store with TTLs and glob-pattern invalidation.
// Callers treat every error as a miss; the cache never fails a request.
type Cache interface {
	// Get decodes the entry at key into dst and reports whether it existed.
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// DeletePattern removes every key matching a glob pattern where * matches
	// any run of characters. It returns the number of keys removed.
	DeletePattern(ctx context.Context, pattern string) (int, error)
	Ping(ctx context.Context) error
}

const (
	metricsURLPrefix  = "metrics:url:"
	metricsURLsPrefix = "metrics:urls:"
	propertiesKey     = "gsc:properties"
)

// MetricsKey identifies one page's metrics response.
func MetricsKey(q models.MetricsQuery) string {
	return metricsURLPrefix + strings.Join([]string{
		q.SiteURL,
		q.URL,
		q.Start.Format(models.DateLayout),
		q.End.Format(models.DateLayout),
		q.Country,
		q.Device,
	}, ":")
}

// URLListKey identifies one page of a URL ranking.
func URLListKey(q models.URLListQuery) string {
	return metricsURLsPrefix + strings.Join([]string{
		q.SiteURL,
		q.Start.Format(models.DateLayout),
		q.End.Format(models.DateLayout),
		strconv.Itoa(q.Limit),
		strconv.Itoa(q.Offset),
		q.OrderBy,
		strings.ToLower(q.Order),
	}, ":")
}

// PropertiesKey identifies the cached property list.
func PropertiesKey() string {
	return propertiesKey
}

// SitePatterns returns the patterns covering every metrics entry of a site.
func SitePatterns(siteURL string) []string {
	site := EscapePattern(siteURL)
	return []string{
		fmt.Sprintf("%s%s:*", metricsURLPrefix, site),
		fmt.Sprintf("%s%s:*", metricsURLsPrefix, site),
	}
}

// EscapePattern escapes glob metacharacters so s matches literally.
func EscapePattern(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\', '{', '}':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
