package fetch

import (
	"context"
	"net/http"
	"strconv"
	"strings"
)

// ProbeResult describes what an origin told us about a resource.
type ProbeResult struct {
	SupportsRange bool  `json:"supportsRange"`
	TotalBytes    int64 `json:"totalBytes"`
}

// Probe asks the origin whether it serves byte ranges and how large the
// resource is. It never fails: any error degrades to an unsupported, unknown
// size result so the caller can still fall back to a sequential fetch.
func (f *Fetcher) Probe(ctx context.Context, rawURL, cookie string) ProbeResult {
	opts := requestOptions{Cookie: cookie}

	resp, err := f.do(ctx, http.MethodHead, rawURL, opts)
	if err == nil {
		discard(resp)
		if isSuccess(resp.StatusCode) {
			res := ProbeResult{
				SupportsRange: rangeSupported(resp),
				TotalBytes:    contentLength(resp),
			}
			log(f.log, "probe via HEAD", "url", rawURL, "range", res.SupportsRange, "total", res.TotalBytes)
			return res
		}
		log(f.log, "HEAD rejected, retrying with GET", "url", rawURL, "status", resp.StatusCode)
	} else {
		log(f.log, "HEAD failed, retrying with GET", "url", rawURL, "error", err)
	}

	resp, err = f.do(ctx, http.MethodGet, rawURL, opts)
	if err != nil {
		log(f.log, "probe failed", "url", rawURL, "error", err)
		return ProbeResult{}
	}
	resp.Body.Close()
	if !isSuccess(resp.StatusCode) {
		log(f.log, "probe failed", "url", rawURL, "status", resp.StatusCode)
		return ProbeResult{}
	}
	res := ProbeResult{TotalBytes: contentLength(resp)}

	opts.Range = "bytes=0-0"
	resp, err = f.do(ctx, http.MethodGet, rawURL, opts)
	if err != nil {
		log(f.log, "range check failed", "url", rawURL, "error", err)
		return res
	}
	discard(resp)
	res.SupportsRange = rangeSupported(resp)
	if res.TotalBytes == 0 {
		res.TotalBytes = contentRangeTotal(resp.Header.Get("Content-Range"))
	}
	log(f.log, "probe via GET", "url", rawURL, "range", res.SupportsRange, "total", res.TotalBytes)
	return res
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// rangeSupported accepts only an explicit 206 or "Accept-Ranges: bytes".
func rangeSupported(resp *http.Response) bool {
	if resp.StatusCode == http.StatusPartialContent {
		return true
	}
	for _, v := range strings.Split(resp.Header.Get("Accept-Ranges"), ",") {
		if strings.EqualFold(strings.TrimSpace(v), "bytes") {
			return true
		}
	}
	return false
}

func contentLength(resp *http.Response) int64 {
	if resp.ContentLength > 0 {
		return resp.ContentLength
	}
	return 0
}

// contentRangeTotal extracts N from "bytes 0-0/N".
func contentRangeTotal(v string) int64 {
	i := strings.LastIndexByte(v, '/')
	if i < 0 {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v[i+1:]), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
