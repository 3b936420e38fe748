package native

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestGrabHostCompletesDownload(t *testing.T) {
	content := bytes.Repeat([]byte("flux"), 10_000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "clip.mp4", time.Time{}, bytes.NewReader(content))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "clip-123.mp4")
	a := NewAdapter(NewGrabHost(nil, "flux-test", "", nil), 5*time.Second, nil)
	h, err := a.Start(context.Background(), srv.URL+"/clip.mp4", dest, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("downloaded %d bytes, want %d", len(got), len(content))
	}
}

// stallingHandler answers plain GETs with a prefix and then stalls; HEAD and
// ranged GETs are served normally so a resumed transfer can finish.
func stallingHandler(content []byte, prefix int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead || r.Header.Get("Range") != "" {
			http.ServeContent(w, r, "clip.mp4", time.Time{}, bytes.NewReader(content))
			return
		}
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		_, _ = w.Write(content[:prefix])
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}
}

func TestGrabHostCancel(t *testing.T) {
	content := bytes.Repeat([]byte{7}, 64*1024)
	srv := httptest.NewServer(stallingHandler(content, 16*1024))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "clip.mp4")
	a := NewAdapter(NewGrabHost(nil, "", "", nil), 5*time.Second, nil)
	h, err := a.Start(context.Background(), srv.URL+"/clip.mp4", dest, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "first bytes", func() bool { return h.item.ReceivedBytes() > 0 })

	h.Cancel()
	if err := h.Wait(context.Background()); !errors.Is(err, ErrCancelled) {
		t.Fatalf("Wait = %v", err)
	}
	if err := h.Resume(); !errors.Is(err, ErrNotResumable) {
		t.Fatalf("resume after cancel = %v", err)
	}
}

func TestGrabHostPauseResume(t *testing.T) {
	content := bytes.Repeat([]byte("0123456789abcdef"), 4096)
	srv := httptest.NewServer(stallingHandler(content, 16*1024))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "clip.mp4")
	a := NewAdapter(NewGrabHost(nil, "", "", nil), 5*time.Second, nil)
	h, err := a.Start(context.Background(), srv.URL+"/clip.mp4", dest, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "first bytes", func() bool { return h.item.ReceivedBytes() > 0 })

	if err := h.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if !h.Paused() {
		t.Fatalf("expected paused")
	}
	if err := h.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("resumed file has %d bytes, want %d", len(got), len(content))
	}
}

func TestGrabHostPauseBeforeStartHolds(t *testing.T) {
	content := bytes.Repeat([]byte("flux"), 1000)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.ServeContent(w, r, "clip.mp4", time.Time{}, bytes.NewReader(content))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "clip.mp4")
	it := &grabItem{host: NewGrabHost(nil, "", "", nil), url: srv.URL + "/clip.mp4"}
	it.SetSavePath(dest)

	if err := it.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	it.start(false)
	if st := it.State(); st != StatePaused {
		t.Fatalf("state after start = %v, want paused", st)
	}
	if n := hits.Load(); n != 0 {
		t.Fatalf("origin hit %d times while paused", n)
	}

	if err := it.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	waitFor(t, "completion", func() bool { return it.State() == StateCompleted })
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("downloaded %d bytes, want %d", len(got), len(content))
	}
}
