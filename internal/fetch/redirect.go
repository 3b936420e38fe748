package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// do sends method to rawURL and re-issues the request against each Location
// target itself, up to the origin's redirect bound. The response returned is
// never a followed redirect; its body belongs to the caller.
func (f *Fetcher) do(ctx context.Context, method, rawURL string, opts requestOptions) (*http.Response, error) {
	target := rawURL
	for hops := 0; ; hops++ {
		req, err := http.NewRequestWithContext(ctx, method, target, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		f.origin.apply(req, opts)

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, cancelled(ctx, fmt.Errorf("%s %s: %w", method, target, err))
		}
		if !isRedirect(resp) {
			return resp, nil
		}

		next, err := resp.Location()
		discard(resp)
		if err != nil {
			return nil, fmt.Errorf("redirect from %s: %w", target, err)
		}
		if hops >= f.origin.MaxRedirects {
			return nil, fmt.Errorf("%w: gave up after %d hops from %s", ErrTooManyRedirects, hops, rawURL)
		}

		log(f.log, "following redirect", "from", target, "to", next.String(), "hop", hops+1)
		target = next.String()
	}
}

func isRedirect(resp *http.Response) bool {
	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return resp.Header.Get("Location") != ""
	default:
		return false
	}
}

// discard drains a little of the body so the connection can be reused.
func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}
