package session

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lwshakib/flux-video-downloader/internal/config"
	"github.com/lwshakib/flux-video-downloader/internal/fetch"
	"github.com/lwshakib/flux-video-downloader/internal/ffmpegexec"
	"github.com/lwshakib/flux-video-downloader/internal/native"
)

const kib = 1024

// testChunking scales the default thresholds down by 1024 so tests move
// kilobytes instead of megabytes.
var testChunking = config.Chunking{
	Video:     config.Threshold{MinSize: 5 * kib, TargetChunk: 10 * kib},
	Audio:     config.Threshold{MinSize: 2 * kib, TargetChunk: 5 * kib},
	MinChunks: 4,
	MaxChunks: 8,
}

func payload(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i%253) ^ seed
	}
	return b
}

type recorder struct {
	mu       sync.Mutex
	events   []Event
	progress chan struct{}
}

func newRecorder() *recorder {
	return &recorder{progress: make(chan struct{}, 1)}
}

func (r *recorder) sink(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	if ev.Kind == EventProgress {
		select {
		case r.progress <- struct{}{}:
		default:
		}
	}
}

func (r *recorder) of(kind EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) terminal() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Kind.Terminal() {
			out = append(out, ev)
		}
	}
	return out
}

type fakeMerger struct {
	err   error
	calls atomic.Int32
}

func (m *fakeMerger) Merge(_ context.Context, video, audio, out string) error {
	m.calls.Add(1)
	if m.err != nil {
		return m.err
	}
	v, err := os.ReadFile(video)
	if err != nil {
		return err
	}
	a, err := os.ReadFile(audio)
	if err != nil {
		return err
	}
	return os.WriteFile(out, append(v, a...), 0o644)
}

func newTestCoordinator(t *testing.T, srv *httptest.Server, opts Options) *Coordinator {
	t.Helper()
	if opts.TempDir == "" {
		opts.TempDir = filepath.Join(t.TempDir(), "tmp")
	}
	if opts.Classifier == nil {
		opts.Classifier = NewClassifier([]string{"127.0.0.1"})
	}
	if opts.Chunking.MaxChunks == 0 {
		opts.Chunking = testChunking
	}
	return New(NewRegistry(), fetch.New(srv.Client(), fetch.DefaultOrigin(), nil), opts)
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func serveBytes(content []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "media", time.Time{}, bytes.NewReader(content))
	}
}

func TestChunkedDownload(t *testing.T) {
	content := payload(50_000, 1)
	var ranges atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rg := r.Header.Get("Range"); rg != "" && rg != "bytes=0-0" {
			ranges.Add(1)
		}
		serveBytes(content)(w, r)
	}))
	defer srv.Close()

	out := t.TempDir()
	c := newTestCoordinator(t, srv, Options{})
	req := Request{URL: srv.URL + "/video.mp4", FilePath: filepath.Join(out, "clip.mp4")}

	if plan := c.PlanFor(context.Background(), req); plan.Strategy != FetchChunked || plan.ChunkCount != 5 {
		t.Fatalf("unexpected plan %+v", plan)
	}

	rec := newRecorder()
	res, err := c.Download(context.Background(), "window-1", req, rec.sink)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if res.Strategy != FetchChunked {
		t.Fatalf("strategy = %v", res.Strategy)
	}
	if n := ranges.Load(); n != 5 {
		t.Fatalf("range requests = %d, want 5", n)
	}
	got, err := os.ReadFile(res.FilePath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("downloaded file differs from source")
	}
	term := rec.terminal()
	if len(term) != 1 || term[0].Kind != EventCompleted || term[0].FilePath != req.FilePath {
		t.Fatalf("terminal events = %+v", term)
	}
	if c.Registry().Len() != 0 {
		t.Fatalf("session still registered")
	}
}

func TestSequentialWhenRangesUnsupported(t *testing.T) {
	content := payload(50_000, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		if r.Method == http.MethodHead {
			return
		}
		for off := 0; off < len(content); off += 5000 {
			_, _ = w.Write(content[off : off+5000])
			w.(http.Flusher).Flush()
		}
	}))
	defer srv.Close()

	out := t.TempDir()
	rec := newRecorder()
	c := newTestCoordinator(t, srv, Options{})
	res, err := c.Download(context.Background(), "", Request{URL: srv.URL, FilePath: filepath.Join(out, "clip.mp4")}, rec.sink)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if res.Strategy != FetchSequential {
		t.Fatalf("strategy = %v", res.Strategy)
	}

	progress := rec.of(EventProgress)
	if len(progress) == 0 {
		t.Fatalf("no progress events")
	}
	for i := 1; i < len(progress); i++ {
		if progress[i].Progress.Received < progress[i-1].Progress.Received {
			t.Fatalf("received bytes decreased at event %d", i)
		}
	}
	if last := progress[len(progress)-1].Progress; last.Percent != 100 {
		t.Fatalf("last progress %+v", last)
	}
	if len(rec.terminal()) != 1 {
		t.Fatalf("terminal events = %+v", rec.terminal())
	}
}

func TestCookiesForceSequentialAndFollowRedirects(t *testing.T) {
	content := payload(50_000, 3)
	var mu sync.Mutex
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Method+" "+r.URL.Path+" "+r.Header.Get("Cookie")+" "+r.Header.Get("Range"))
		mu.Unlock()
		if r.URL.Path == "/start" {
			http.Redirect(w, r, "/cdn/media.mp4", http.StatusFound)
			return
		}
		serveBytes(content)(w, r)
	}))
	defer srv.Close()

	out := t.TempDir()
	c := newTestCoordinator(t, srv, Options{})
	req := Request{
		URL:      srv.URL + "/start",
		FilePath: filepath.Join(out, "clip.mp4"),
		Cookies:  []fetch.Cookie{{Name: "tokenA", Value: "abc"}},
	}
	res, err := c.Download(context.Background(), "", req, nil)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if res.Strategy != FetchSequential {
		t.Fatalf("strategy = %v, want sequential despite range support", res.Strategy)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"GET /start tokenA=abc ", "GET /cdn/media.mp4 tokenA=abc "}
	if strings.Join(seen, "|") != strings.Join(want, "|") {
		t.Fatalf("requests = %q, want %q", seen, want)
	}
}

func TestAudioLegMerged(t *testing.T) {
	video, audio := payload(3000, 4), payload(1500, 5)
	mux := http.NewServeMux()
	mux.HandleFunc("/video.mp4", serveBytes(video))
	mux.HandleFunc("/audio.m4a", serveBytes(audio))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out := t.TempDir()
	tmp := filepath.Join(t.TempDir(), "tmp")
	merger := &fakeMerger{}
	rec := newRecorder()
	c := newTestCoordinator(t, srv, Options{TempDir: tmp, Merger: merger})
	req := Request{URL: srv.URL + "/video.mp4", AudioURL: srv.URL + "/audio.m4a", FilePath: filepath.Join(out, "clip.mp4")}

	res, err := c.Download(context.Background(), "", req, rec.sink)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !res.Merged || res.AudioPath != "" || len(res.Warnings) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if names := dirNames(t, out); strings.Join(names, ",") != "clip.mp4" {
		t.Fatalf("output dir = %v", names)
	}
	if names := dirNames(t, tmp); len(names) != 0 {
		t.Fatalf("temp dir not empty: %v", names)
	}
	got, _ := os.ReadFile(res.FilePath)
	if !bytes.Equal(got, append(append([]byte{}, video...), audio...)) {
		t.Fatalf("merged output has unexpected content")
	}
	term := rec.terminal()
	if len(term) != 1 || term[0].Kind != EventCompleted || term[0].FilePath != req.FilePath {
		t.Fatalf("terminal events = %+v", term)
	}
	if len(rec.of(EventWarning)) != 0 {
		t.Fatalf("unexpected warnings")
	}
}

func TestAudioFailureReportsKeptVideo(t *testing.T) {
	video := payload(3000, 8)
	mux := http.NewServeMux()
	mux.HandleFunc("/video.mp4", serveBytes(video))
	mux.HandleFunc("/audio.m4a", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out := t.TempDir()
	rec := newRecorder()
	c := newTestCoordinator(t, srv, Options{Merger: &fakeMerger{}})
	dest := filepath.Join(out, "clip.mp4")
	req := Request{URL: srv.URL + "/video.mp4", AudioURL: srv.URL + "/audio.m4a", FilePath: dest}

	_, err := c.Download(context.Background(), "", req, rec.sink)
	var statusErr *fetch.StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusForbidden {
		t.Fatalf("expected audio status error, got %v", err)
	}
	term := rec.terminal()
	if len(term) != 1 || term[0].Kind != EventError || !strings.Contains(term[0].Error, dest) {
		t.Fatalf("terminal events = %+v, want error naming %s", term, dest)
	}
	if got, _ := os.ReadFile(dest); !bytes.Equal(got, video) {
		t.Fatalf("video not kept at %s", dest)
	}
}

func TestMergeFailureIsAWarning(t *testing.T) {
	video, audio := payload(3000, 6), payload(1500, 7)
	mux := http.NewServeMux()
	mux.HandleFunc("/video.mp4", serveBytes(video))
	mux.HandleFunc("/audio.m4a", serveBytes(audio))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out := t.TempDir()
	merger := &fakeMerger{err: &ffmpegexec.MergeError{ExitCode: 1, Output: "Stream map '1:a:0' matches no streams."}}
	rec := newRecorder()
	c := newTestCoordinator(t, srv, Options{Merger: merger})
	req := Request{URL: srv.URL + "/video.mp4", AudioURL: srv.URL + "/audio.m4a", FilePath: filepath.Join(out, "clip.mp4")}

	res, err := c.Download(context.Background(), "", req, rec.sink)
	if err != nil {
		t.Fatalf("merge failure must not fail the session: %v", err)
	}
	if merger.calls.Load() != 1 {
		t.Fatalf("merger called %d times", merger.calls.Load())
	}
	if names := dirNames(t, out); strings.Join(names, ",") != "clip.mp4,clip_audio.m4a" {
		t.Fatalf("output dir = %v", names)
	}
	if got, _ := os.ReadFile(filepath.Join(out, "clip.mp4")); !bytes.Equal(got, video) {
		t.Fatalf("video file altered")
	}
	if got, _ := os.ReadFile(filepath.Join(out, "clip_audio.m4a")); !bytes.Equal(got, audio) {
		t.Fatalf("audio file altered")
	}
	if res.Merged || res.AudioPath != filepath.Join(out, "clip_audio.m4a") || len(res.Warnings) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	term := rec.terminal()
	if len(term) != 1 || term[0].Kind != EventCompleted {
		t.Fatalf("terminal events = %+v", term)
	}
	if len(rec.of(EventWarning)) != 1 {
		t.Fatalf("expected one warning event")
	}
}

func TestCancelMidChunkedDownload(t *testing.T) {
	content := payload(50_000, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rg := r.Header.Get("Range")
		if r.Method == http.MethodHead || rg == "" || rg == "bytes=0-0" {
			serveBytes(content)(w, r)
			return
		}
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(content[:512])
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	out := t.TempDir()
	tmp := filepath.Join(t.TempDir(), "tmp")
	rec := newRecorder()
	c := newTestCoordinator(t, srv, Options{TempDir: tmp})
	s, err := c.Start(context.Background(), "window-6", Request{URL: srv.URL, FilePath: filepath.Join(out, "clip.mp4")}, rec.sink)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-rec.progress:
	case <-time.After(10 * time.Second):
		t.Fatalf("no progress before cancel")
	}
	if err := c.Cancel("window-6"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := s.Wait(ctx); !errors.Is(err, ErrCancelled) {
		t.Fatalf("Wait = %v", err)
	}
	if s.State() != Cancelled {
		t.Fatalf("state = %v", s.State())
	}
	term := rec.terminal()
	if len(term) != 1 || term[0].Kind != EventCancelled {
		t.Fatalf("terminal events = %+v", term)
	}
	if names := dirNames(t, tmp); len(names) != 0 {
		t.Fatalf("temp files left: %v", names)
	}
	if names := dirNames(t, out); len(names) != 0 {
		t.Fatalf("output written for a cancelled session: %v", names)
	}
}

func TestStatusFailureEmitsOneError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	rec := newRecorder()
	tmp := filepath.Join(t.TempDir(), "tmp")
	c := newTestCoordinator(t, srv, Options{TempDir: tmp})
	_, err := c.Download(context.Background(), "", Request{URL: srv.URL, FilePath: filepath.Join(t.TempDir(), "x.mp4")}, rec.sink)

	var statusErr *fetch.StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusGone {
		t.Fatalf("expected status error, got %v", err)
	}
	term := rec.terminal()
	if len(term) != 1 || term[0].Kind != EventError || !strings.Contains(term[0].Error, "410") {
		t.Fatalf("terminal events = %+v", term)
	}
	if names := dirNames(t, tmp); len(names) != 0 {
		t.Fatalf("temp files left: %v", names)
	}
}

func TestResolveEmitsSingleTerminalEvent(t *testing.T) {
	rec := newRecorder()
	reg := NewRegistry()
	s := newSession(context.Background(), "w", Request{URL: "u", FilePath: "f"}, rec.sink, reg, nil)
	if err := reg.insert(s); err != nil {
		t.Fatal(err)
	}

	var fired atomic.Int32
	var wg sync.WaitGroup
	states := []State{Completed, Failed, Cancelled, Completed, Failed, Cancelled}
	for _, st := range states {
		wg.Add(1)
		go func(st State) {
			defer wg.Done()
			if s.resolve(st, Result{FilePath: "f"}, errors.New("boom")) {
				fired.Add(1)
			}
		}(st)
	}
	wg.Wait()

	if fired.Load() != 1 {
		t.Fatalf("resolve fired %d times", fired.Load())
	}
	if n := len(rec.terminal()); n != 1 {
		t.Fatalf("terminal events = %d", n)
	}
	s.emit(Event{Kind: EventProgress})
	if len(rec.events) != 1 {
		t.Fatalf("events after resolution must be dropped")
	}
	if _, ok := reg.Get("w"); ok {
		t.Fatalf("session not removed from registry")
	}
}

// gatedServer holds GET /slow until release is closed. Everything else is
// answered at once, without range support.
func gatedServer(content []byte, release <-chan struct{}) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/slow") && r.Method == http.MethodGet {
			select {
			case <-release:
			case <-r.Context().Done():
				return
			}
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write(content)
	}))
}

func TestOneActiveSessionPerKey(t *testing.T) {
	release := make(chan struct{})
	srv := gatedServer(payload(100, 9), release)
	defer srv.Close()
	defer close(release)

	out := t.TempDir()
	c := newTestCoordinator(t, srv, Options{})
	first, err := c.Start(context.Background(), "window-1", Request{URL: srv.URL + "/slow", FilePath: filepath.Join(out, "a.mp4")}, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := c.Start(context.Background(), "window-1", Request{URL: srv.URL + "/fast", FilePath: filepath.Join(out, "b.mp4")}, nil); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("second Start = %v", err)
	}
	other, err := c.Start(context.Background(), "window-2", Request{URL: srv.URL + "/fast", FilePath: filepath.Join(out, "c.mp4")}, nil)
	if err != nil {
		t.Fatalf("other key: %v", err)
	}
	<-other.Done()
	deadline := time.Now().Add(10 * time.Second)
	for first.Strategy() != FetchSequential {
		if time.Now().After(deadline) {
			t.Fatalf("first session never planned")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := c.Pause("window-1"); !errors.Is(err, ErrPauseUnsupported) {
		t.Fatalf("Pause of a fetch session = %v", err)
	}
	if err := c.Pause("nobody"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Pause of unknown key = %v", err)
	}
	first.Cancel()
	<-first.Done()
}

func TestSubmitQueuesLatestRequest(t *testing.T) {
	release := make(chan struct{})
	content := payload(100, 10)
	srv := gatedServer(content, release)
	defer srv.Close()

	out := t.TempDir()
	rec := newRecorder()
	c := newTestCoordinator(t, srv, Options{})

	s, queued, err := c.Submit(context.Background(), "window-1", Request{URL: srv.URL + "/slow", FilePath: filepath.Join(out, "first.mp4")}, rec.sink)
	if err != nil || queued || s == nil {
		t.Fatalf("first Submit = %v, %v, %v", s, queued, err)
	}
	for _, name := range []string{"second.mp4", "third.mp4"} {
		_, queued, err := c.Submit(context.Background(), "window-1", Request{URL: srv.URL + "/fast", FilePath: filepath.Join(out, name)}, rec.sink)
		if err != nil || !queued {
			t.Fatalf("Submit %s = %v, %v", name, queued, err)
		}
	}

	close(release)
	deadline := time.Now().Add(10 * time.Second)
	for len(rec.of(EventCompleted)) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("pending request never ran; events %+v", rec.of(EventCompleted))
		}
		time.Sleep(10 * time.Millisecond)
	}

	if names := dirNames(t, out); strings.Join(names, ",") != "first.mp4,third.mp4" {
		t.Fatalf("output dir = %v", names)
	}
}

func TestNativeStrategyForOrdinaryHosts(t *testing.T) {
	content := payload(20_000, 11)
	mux := http.NewServeMux()
	mux.HandleFunc("/clip.mp4", serveBytes(content))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out := t.TempDir()
	rec := newRecorder()
	c := newTestCoordinator(t, srv, Options{
		Classifier: NewClassifier([]string{"youtube.com"}),
		Native:     native.NewAdapter(native.NewGrabHost(nil, "", "", nil), 5*time.Second, nil),
		Merger:     &fakeMerger{},
	})
	req := Request{URL: srv.URL + "/clip.mp4", AudioURL: srv.URL + "/audio.m4a", FilePath: filepath.Join(out, "clip.mp4")}

	res, err := c.Download(context.Background(), "", req, rec.sink)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if res.Strategy != NativeManaged {
		t.Fatalf("strategy = %v", res.Strategy)
	}
	if res.Bytes != int64(len(content)) {
		t.Fatalf("bytes = %d", res.Bytes)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "audio track skipped") {
		t.Fatalf("warnings = %v", res.Warnings)
	}
	if names := dirNames(t, out); strings.Join(names, ",") != "clip.mp4" {
		t.Fatalf("output dir = %v", names)
	}
}

func TestRelativeDestinationResolvesAgainstHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	srv := httptest.NewServer(serveBytes(payload(100, 12)))
	defer srv.Close()

	c := newTestCoordinator(t, srv, Options{})
	res, err := c.Download(context.Background(), "", Request{URL: srv.URL, FilePath: filepath.Join("Videos", "clip.mp4")}, nil)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if want := filepath.Join(home, "Videos", "clip.mp4"); res.FilePath != want {
		t.Fatalf("path = %q, want %q", res.FilePath, want)
	}
}

func TestInvalidRequest(t *testing.T) {
	c := New(nil, nil, Options{TempDir: t.TempDir()})
	if _, err := c.Start(context.Background(), "", Request{FilePath: "x"}, nil); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("missing url: %v", err)
	}
	if _, err := c.Start(context.Background(), "", Request{URL: "http://x"}, nil); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("missing path: %v", err)
	}
}
