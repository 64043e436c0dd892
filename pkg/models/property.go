package models

import (
	"strings"
	"time"
)

// PropertyType distinguishes domain-level properties from URL-prefix properties.
type PropertyType string

const (
	PropertyTypeDomain    PropertyType = "DOMAIN_PROPERTY"
	PropertyTypeURLPrefix PropertyType = "URL_PREFIX"
)

const domainPrefix = "sc-domain:"

// Property is a Search Console site the authorized account can read.
// Properties no longer listed upstream are deactivated, never deleted.
type Property struct {
	ID           int64        `json:"id"`
	SiteURL      string       `json:"site_url"`
	PropertyType PropertyType `json:"type"`
	DisplayName  string       `json:"display_name"`
	IsActive     bool         `json:"is_active"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// NewPropertyFromSite builds an active Property from a site URL as listed by
// the Search Console sites endpoint.
func NewPropertyFromSite(siteURL string) *Property {
	p := &Property{
		SiteURL:      siteURL,
		PropertyType: PropertyTypeURLPrefix,
		DisplayName:  siteURL,
		IsActive:     true,
	}
	if strings.HasPrefix(siteURL, domainPrefix) {
		p.PropertyType = PropertyTypeDomain
		p.DisplayName = strings.TrimPrefix(siteURL, domainPrefix)
	}
	return p
}
