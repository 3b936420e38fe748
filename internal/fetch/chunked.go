package fetch

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/lwshakib/flux-video-downloader/internal/telemetry"
)

type chunkResult struct {
	index int
	data  []byte
}

// FetchChunked downloads rawURL as count concurrent range requests and returns
// the chunk bodies ordered by chunk index. The first failing chunk cancels the
// others; cancelling ctx yields ErrCancelled.
func (f *Fetcher) FetchChunked(
	ctx context.Context,
	rawURL string,
	total int64,
	count int,
	cookie string,
	onProgress telemetry.Func,
) ([][]byte, error) {
	tasks := PlanChunks(total, count)
	if len(tasks) == 0 {
		return nil, fmt.Errorf("chunked fetch of %s: unknown size", rawURL)
	}
	agg := telemetry.NewAggregator(total, len(tasks), onProgress)

	log(f.log, "starting chunked fetch", "url", rawURL, "total", total, "chunks", len(tasks))

	var (
		mu      sync.Mutex
		results = make([]chunkResult, 0, len(tasks))
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		g.Go(func() error {
			data, err := f.fetchChunk(gctx, rawURL, task, cookie, agg)
			if err != nil {
				return err
			}
			mu.Lock()
			results = append(results, chunkResult{index: task.Index, data: data})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		return nil, err
	}

	// completion order is not write order
	sort.Slice(results, func(i, j int) bool { return results[i].index < results[j].index })
	bufs := make([][]byte, len(results))
	for i, r := range results {
		bufs[i] = r.data
	}
	return bufs, nil
}

func (f *Fetcher) fetchChunk(
	ctx context.Context,
	rawURL string,
	task ChunkTask,
	cookie string,
	agg *telemetry.Aggregator,
) ([]byte, error) {
	resp, err := f.do(ctx, http.MethodGet, rawURL, requestOptions{Cookie: cookie, Range: task.Range()})
	if err != nil {
		if errors.Is(err, ErrCancelled) {
			return nil, err
		}
		return nil, fmt.Errorf("chunk %d: %w", task.Index, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return nil, &StatusError{URL: rawURL, Status: resp.StatusCode, Chunk: task.Index}
	}

	out := bytes.NewBuffer(make([]byte, 0, task.Size()))
	buf := make([]byte, readBufferSize)
	for {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			out.Write(buf[:n])
			task.Received += int64(n)
			agg.Update(task.Index, task.Received)
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return nil, cancelled(ctx, fmt.Errorf("chunk %d: read: %w", task.Index, rerr))
		}
	}

	if task.Received != task.Size() {
		return nil, fmt.Errorf("chunk %d: received %d bytes, expected %d", task.Index, task.Received, task.Size())
	}
	return out.Bytes(), nil
}

// WriteOrdered writes bufs to dest one after another and returns the number
// of bytes written.
func WriteOrdered(ctx context.Context, dest string, bufs [][]byte) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}
	file, err := os.Create(dest)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	w := bufio.NewWriterSize(file, readBufferSize)
	var written int64
	for _, b := range bufs {
		if ctx.Err() != nil {
			return written, ErrCancelled
		}
		n, err := w.Write(b)
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("write %s: %w", dest, err)
		}
	}
	if err := w.Flush(); err != nil {
		return written, fmt.Errorf("flush %s: %w", dest, err)
	}
	return written, file.Close()
}
