// Package normalize canonicalizes page URLs so that equivalent pages reported
// by Search Console collapse onto a single storage key. The same function must
// be applied when facts are written and when they are looked up.
package normalize

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// DomainPropertyPrefix marks domain-level Search Console properties.
const DomainPropertyPrefix = "sc-domain:"

// DefaultTrackingParams are dropped from query strings unless retained.
var DefaultTrackingParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
	"gclid", "fbclid", "mc_cid", "mc_eid", "_ga",
	"pk_source", "pk_medium", "pk_campaign", "pk_kwd", "pk_content",
	"msclkid", "igshid",
	"ref", "referrer", "src", "source",
	"campaign_id", "ad_id", "adgroup_id",
}

var (
	ErrNotAbsolute = errors.New("url must be absolute")

	multiSlash    = regexp.MustCompile(`/+`)
	fileExtension = regexp.MustCompile(`(?i)\.(html?|php|asp|jsp|pdf|docx?|xlsx?|pptx?|txt|xml|json|css|js|jpe?g|png|gif|svg|ico|zip|rar|tar|gz)$`)
	pathEscaper   = newPathEscaper()
)

// newPathEscaper re-escapes the decoded path bytes that would otherwise change
// how the key parses: the delimiters and every ASCII control character.
func newPathEscaper() *strings.Replacer {
	pairs := []string{"%", "%25", "?", "%3F", "#", "%23", "\x7f", "%7F"}
	for c := 0; c < 0x20; c++ {
		pairs = append(pairs, string(rune(c)), fmt.Sprintf("%%%02X", c))
	}
	return strings.NewReplacer(pairs...)
}

// Options controls a single normalization.
type Options struct {
	KeepFragment        bool
	RemoveTrailingSlash bool
	ForceTrailingSlash  bool
	ForceWWW            bool
	RemoveWWW           bool
	// ForceHTTPS is derived from the site's scheme but is not applied when the
	// URL is reassembled: the input scheme is always kept. Stored keys depend
	// on this, so changing it requires re-normalizing existing facts.
	ForceHTTPS bool
	KeepParams []string
}

// Normalizer holds the tracking parameter set and per-site retention lists.
// It is safe for concurrent use.
type Normalizer struct {
	mu       sync.RWMutex
	tracking map[string]struct{}
	keep     map[string]map[string]struct{}
}

// New returns a Normalizer using DefaultTrackingParams.
func New() *Normalizer {
	n := &Normalizer{
		tracking: make(map[string]struct{}, len(DefaultTrackingParams)),
		keep:     make(map[string]map[string]struct{}),
	}
	for _, p := range DefaultTrackingParams {
		n.tracking[p] = struct{}{}
	}
	return n
}

// AddTrackingParam extends the set of parameters dropped from query strings.
func (n *Normalizer) AddTrackingParam(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tracking[strings.ToLower(name)] = struct{}{}
}

// RemoveTrackingParam stops dropping a parameter.
func (n *Normalizer) RemoveTrackingParam(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.tracking, strings.ToLower(name))
}

// SetKeepParams retains the given tracking parameters for one site.
// Calling it with no params clears the site's list.
func (n *Normalizer) SetKeepParams(site string, params ...string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(params) == 0 {
		delete(n.keep, site)
		return
	}
	set := make(map[string]struct{}, len(params))
	for _, p := range params {
		set[strings.ToLower(p)] = struct{}{}
	}
	n.keep[site] = set
}

// OptionsFor derives the normalization policy of a site: trailing slash
// removed, fragment dropped, www forced or stripped to match the site host.
func (n *Normalizer) OptionsFor(site string) Options {
	opts := Options{
		RemoveTrailingSlash: true,
	}

	host, scheme := siteHostAndScheme(site)
	if strings.HasPrefix(host, "www.") {
		opts.ForceWWW = true
	} else {
		opts.RemoveWWW = true
	}
	opts.ForceHTTPS = scheme == "https"

	n.mu.RLock()
	for p := range n.keep[site] {
		opts.KeepParams = append(opts.KeepParams, p)
	}
	n.mu.RUnlock()
	sort.Strings(opts.KeepParams)

	return opts
}

// Normalize canonicalizes raw against site. Unparsable input is returned unchanged.
func (n *Normalizer) Normalize(raw, site string) string {
	out, _ := n.TryNormalize(raw, site)
	return out
}

// TryNormalize is Normalize that also reports why the input was passed through.
// On error the returned string is raw.
func (n *Normalizer) TryNormalize(raw, site string) (string, error) {
	return n.NormalizeWithOptions(raw, n.OptionsFor(site))
}

// NormalizeBatch normalizes every URL against the same site.
func (n *Normalizer) NormalizeBatch(raws []string, site string) []string {
	opts := n.OptionsFor(site)
	out := make([]string, len(raws))
	for i, raw := range raws {
		norm, err := n.NormalizeWithOptions(raw, opts)
		if err != nil {
			norm = raw
		}
		out[i] = norm
	}
	return out
}

// NormalizeWithOptions applies opts to raw. On error the returned string is raw.
func (n *Normalizer) NormalizeWithOptions(raw string, opts Options) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return raw, err
	}
	if u.Scheme == "" || u.Host == "" {
		return raw, ErrNotAbsolute
	}

	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteString("://")
	b.WriteString(normalizeHost(u, opts))
	b.WriteString(pathEscaper.Replace(normalizePath(u.Path, opts)))

	if q := n.normalizeQuery(u.RawQuery, opts); q != "" {
		b.WriteByte('?')
		b.WriteString(q)
	}
	if opts.KeepFragment && u.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(u.EscapedFragment())
	}

	return b.String(), nil
}

func normalizeHost(u *url.URL, opts Options) string {
	host := strings.ToLower(u.Hostname())
	switch {
	case opts.ForceWWW && !strings.HasPrefix(host, "www."):
		host = "www." + host
	case opts.RemoveWWW && strings.HasPrefix(host, "www."):
		host = strings.TrimPrefix(host, "www.")
	}

	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		return net.JoinHostPort(host, port)
	}
	if strings.Contains(host, ":") {
		return "[" + host + "]"
	}
	return host
}

// normalizePath expects an already percent-decoded path.
func normalizePath(path string, opts Options) string {
	if path == "" || path == "/" {
		return "/"
	}

	path = multiSlash.ReplaceAllString(path, "/")
	if path == "/" {
		return path
	}

	if opts.RemoveTrailingSlash && strings.HasSuffix(path, "/") {
		path = strings.TrimSuffix(path, "/")
	} else if opts.ForceTrailingSlash && !strings.HasSuffix(path, "/") && !fileExtension.MatchString(path) {
		path += "/"
	}
	return path
}

// queryPair is one name=value item of a query string, decoded.
type queryPair struct {
	name  string
	value string
}

// normalizeQuery splits on '&' only, so ';' stays part of the value.
func (n *Normalizer) normalizeQuery(rawQuery string, opts Options) string {
	if rawQuery == "" {
		return ""
	}

	keep := make(map[string]struct{}, len(opts.KeepParams))
	for _, p := range opts.KeepParams {
		keep[strings.ToLower(p)] = struct{}{}
	}

	var pairs []queryPair
	n.mu.RLock()
	for _, item := range strings.Split(rawQuery, "&") {
		if item == "" {
			continue
		}
		rawName, rawValue, _ := strings.Cut(item, "=")
		p := queryPair{name: unescapeQuery(rawName), value: unescapeQuery(rawValue)}

		lower := strings.ToLower(p.name)
		if _, ok := keep[lower]; !ok {
			if _, ok := n.tracking[lower]; ok || strings.HasPrefix(lower, "utm_") {
				continue
			}
		}
		pairs = append(pairs, p)
	}
	n.mu.RUnlock()

	// Repeated names keep their relative order.
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].name < pairs[j].name })

	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.name))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.value))
	}
	return b.String()
}

// unescapeQuery decodes form encoding, keeping malformed input as-is.
func unescapeQuery(s string) string {
	if out, err := url.QueryUnescape(s); err == nil {
		return out
	}
	return s
}

func siteHostAndScheme(site string) (host, scheme string) {
	if strings.HasPrefix(site, DomainPropertyPrefix) {
		return strings.ToLower(strings.TrimPrefix(site, DomainPropertyPrefix)), ""
	}
	u, err := url.Parse(site)
	if err != nil {
		return "", ""
	}
	return strings.ToLower(u.Hostname()), u.Scheme
}

// SiteRoot returns "scheme://host/" for an absolute URL. It is used to infer
// the URL-prefix property a page belongs to when the caller omits it.
func SiteRoot(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", ErrNotAbsolute
	}
	return u.Scheme + "://" + u.Host + "/", nil
}
