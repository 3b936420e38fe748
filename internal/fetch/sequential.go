package fetch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/lwshakib/flux-video-downloader/internal/telemetry"
)

// FetchSequential streams rawURL into dest over a single request and returns
// the number of bytes written. Progress carries a percentage only when the
// origin announced a length.
func (f *Fetcher) FetchSequential(
	ctx context.Context,
	rawURL string,
	dest string,
	cookie string,
	onProgress telemetry.Func,
) (int64, error) {
	resp, err := f.do(ctx, http.MethodGet, rawURL, requestOptions{Cookie: cookie})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return 0, &StatusError{URL: rawURL, Status: resp.StatusCode, Chunk: -1}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}
	file, err := os.Create(dest)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	w := bufio.NewWriterSize(file, readBufferSize)
	counter := telemetry.NewCounter(contentLength(resp), onProgress)
	buf := make([]byte, readBufferSize)
	for {
		if ctx.Err() != nil {
			return counter.Received(), ErrCancelled
		}
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return counter.Received(), fmt.Errorf("write %s: %w", dest, err)
			}
			counter.Add(n)
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return counter.Received(), cancelled(ctx, fmt.Errorf("read %s: %w", rawURL, rerr))
		}
	}

	if err := w.Flush(); err != nil {
		return counter.Received(), fmt.Errorf("flush %s: %w", dest, err)
	}
	logInfo(f.log, "downloaded", "path", filepath.Base(dest), "bytes", humanize.Bytes(uint64(counter.Received())))
	return counter.Received(), file.Close()
}
