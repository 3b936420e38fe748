package fetch

import (
	"net/http"
	"strings"

	"github.com/lwshakib/flux-video-downloader/internal/config"
)

// DefaultMaxRedirects bounds the manual redirect loop.
const DefaultMaxRedirects = 5

// Origin is the header set sent to media origins on every hop.
type Origin struct {
	UserAgent      string
	Referer        string
	AcceptLanguage string
	MaxRedirects   int
}

// DefaultOrigin returns the browser-like header set.
func DefaultOrigin() Origin {
	return Origin{
		UserAgent:      config.DefaultUserAgent,
		Referer:        config.DefaultReferer,
		AcceptLanguage: config.DefaultAcceptLanguage,
		MaxRedirects:   DefaultMaxRedirects,
	}
}

// OriginFromConfig builds the header set from the user configuration.
func OriginFromConfig(cfg config.Config) Origin {
	o := DefaultOrigin()
	if cfg.UserAgent != "" {
		o.UserAgent = cfg.UserAgent
	}
	if cfg.Referer != "" {
		o.Referer = cfg.Referer
	}
	if cfg.AcceptLanguage != "" {
		o.AcceptLanguage = cfg.AcceptLanguage
	}
	if cfg.MaxRedirects > 0 {
		o.MaxRedirects = cfg.MaxRedirects
	}
	return o
}

// Cookie is one name=value pair forwarded to the origin.
type Cookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// CookieHeader joins the non-empty cookies as "a=1; b=2", keeping their order.
func CookieHeader(cookies []Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		if c.Name == "" || c.Value == "" {
			continue
		}
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// requestOptions configures the per-request headers layered on the origin set.
type requestOptions struct {
	Cookie string // preformatted Cookie header
	Range  string // "bytes=start-end"
}

// apply sets the full header set on req. It runs again after every redirect
// hop so Host always matches the current target.
func (o Origin) apply(req *http.Request, opts requestOptions) {
	req.Host = req.URL.Host
	req.Header.Set("User-Agent", o.UserAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", o.AcceptLanguage)
	req.Header.Set("Connection", "keep-alive")
	if o.Referer != "" {
		req.Header.Set("Referer", o.Referer)
	}
	if opts.Cookie != "" {
		req.Header.Set("Cookie", opts.Cookie)
	}
	if opts.Range != "" {
		req.Header.Set("Range", opts.Range)
	}
}
