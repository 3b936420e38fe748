package session

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Classifier recognizes origins whose media is served through redirecting
// CDN hosts. Those are fetched directly with manual redirect handling
// instead of being handed to the host download manager.
type Classifier struct {
	domains map[string]struct{}
}

// NewClassifier builds a classifier from registrable domains or exact hosts.
func NewClassifier(hosts []string) *Classifier {
	c := &Classifier{domains: make(map[string]struct{}, len(hosts))}
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		h = strings.TrimPrefix(h, "www.")
		if h != "" {
			c.domains[h] = struct{}{}
		}
	}
	return c
}

// RequiresFetch reports whether rawURL belongs to the redirecting class.
func (c *Classifier) RequiresFetch(rawURL string) bool {
	if c == nil || len(c.domains) == 0 {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	if _, ok := c.domains[strings.TrimPrefix(host, "www.")]; ok {
		return true
	}
	site, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return false
	}
	_, ok := c.domains[site]
	return ok
}
