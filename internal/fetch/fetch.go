package fetch

import (
	"net"
	"net/http"
	"time"
)

// readBufferSize is the unit of work between cancellation checks.
const readBufferSize = 64 * 1024

// HTTPClient describes the subset of http.Client used by the fetchers.
// Implementations must hand redirects back to the caller instead of following them.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Logger interface for logging operations.
// Compatible with github.com/charmbracelet/log.Logger.
type Logger interface {
	Debug(msg any, keyvals ...any)
	Info(msg any, keyvals ...any)
	Warn(msg any, keyvals ...any)
	Error(msg any, keyvals ...any)
}

// Fetcher issues origin requests with the fixed browser header set and
// manual redirect handling.
type Fetcher struct {
	client HTTPClient
	origin Origin
	log    Logger
}

// New creates a Fetcher. An *http.Client without a CheckRedirect policy is
// copied and told to stop at the first redirect.
func New(client HTTPClient, origin Origin, logger Logger) *Fetcher {
	if client == nil {
		client = NewHTTPClient(0)
	}
	if hc, ok := client.(*http.Client); ok && hc.CheckRedirect == nil {
		cp := *hc
		cp.CheckRedirect = stopRedirects
		client = &cp
	}
	if origin.MaxRedirects <= 0 {
		origin.MaxRedirects = DefaultMaxRedirects
	}
	return &Fetcher{client: client, origin: origin, log: logger}
}

// Origin returns the header set this fetcher sends.
func (f *Fetcher) Origin() Origin {
	return f.origin
}

// NewHTTPClient returns a client tuned for large media transfers that never
// follows redirects on its own. timeout of zero means no overall deadline.
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	return &http.Client{
		Transport:     transport,
		Timeout:       timeout,
		CheckRedirect: stopRedirects,
	}
}

func stopRedirects(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

// log is a helper that safely logs debug messages when logger is available.
func log(logger Logger, msg string, keyvals ...any) {
	if logger != nil {
		logger.Debug(msg, keyvals...)
	}
}

// logInfo is a helper that safely logs info messages when logger is available.
func logInfo(logger Logger, msg string, keyvals ...any) {
	if logger != nil {
		logger.Info(msg, keyvals...)
	}
}
