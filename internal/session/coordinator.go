package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/lwshakib/flux-video-downloader/internal/config"
	"github.com/lwshakib/flux-video-downloader/internal/fetch"
	"github.com/lwshakib/flux-video-downloader/internal/ffmpegexec"
	"github.com/lwshakib/flux-video-downloader/internal/native"
	"github.com/lwshakib/flux-video-downloader/internal/telemetry"
)

// ErrCancelled is the error of a session the caller stopped.
var ErrCancelled = fetch.ErrCancelled

// Fetcher is the direct HTTP transfer engine.
type Fetcher interface {
	Probe(ctx context.Context, rawURL, cookie string) fetch.ProbeResult
	FetchChunked(ctx context.Context, rawURL string, total int64, count int, cookie string, onProgress telemetry.Func) ([][]byte, error)
	FetchSequential(ctx context.Context, rawURL, dest, cookie string, onProgress telemetry.Func) (int64, error)
}

// Native hands downloads to the host download manager.
type Native interface {
	Start(ctx context.Context, rawURL, savePath string, onProgress telemetry.Func) (*native.Handle, error)
}

// Merger muxes a video file and an audio file into one container.
type Merger interface {
	Merge(ctx context.Context, videoPath, audioPath, outputPath string) error
}

// Options configures a Coordinator.
type Options struct {
	// TempDir holds in-flight transfers. Defaults to <os temp>/flux-downloads.
	TempDir  string
	Chunking config.Chunking
	// Classifier picks out origins that must be fetched directly.
	Classifier *Classifier
	// Native may be nil, in which case every request is fetched directly.
	Native Native
	// Merger may be nil, in which case audio stays a separate file.
	Merger Merger
	Log    Logger
}

// Coordinator runs download sessions: it picks a strategy per request,
// drives the legs, finalizes files and reports exactly one terminal event
// per session.
type Coordinator struct {
	registry *Registry
	fetcher  Fetcher
	opts     Options
	now      func() time.Time
}

// New creates a Coordinator around registry.
func New(registry *Registry, fetcher Fetcher, opts Options) *Coordinator {
	if registry == nil {
		registry = NewRegistry()
	}
	defaults := config.Default()
	if opts.TempDir == "" {
		opts.TempDir = defaults.TempDir
	}
	if opts.Chunking.MaxChunks == 0 {
		opts.Chunking = defaults.Chunking
	}
	if opts.Classifier == nil {
		opts.Classifier = NewClassifier(defaults.RedirectHosts)
	}
	return &Coordinator{registry: registry, fetcher: fetcher, opts: opts, now: time.Now}
}

// Registry returns the session registry.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Start begins req under key and returns immediately. An empty key gets a
// fresh id. ErrSessionActive is returned when key is busy.
func (c *Coordinator) Start(ctx context.Context, key string, req Request, sink Sink) (*Session, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if key == "" {
		key = uuid.NewString()
	}
	s := newSession(ctx, key, req, sink, c.registry, c.opts.Log)
	if err := c.registry.insert(s); err != nil {
		return nil, err
	}
	go c.run(s)
	return s, nil
}

// Submit is Start for callers that hand requests off: when key is busy the
// request is parked as the key's pending request, replacing any earlier one,
// and started once the running session ends. queued reports that case.
func (c *Coordinator) Submit(ctx context.Context, key string, req Request, sink Sink) (s *Session, queued bool, err error) {
	if err := req.validate(); err != nil {
		return nil, false, err
	}
	if key == "" {
		key = uuid.NewString()
	}
	s = newSession(ctx, key, req, sink, c.registry, c.opts.Log)
	if !c.registry.insertOrQueue(s) {
		s.cancel()
		logDebug(c.opts.Log, "request queued behind active session", "session", key, "url", req.URL)
		return nil, true, nil
	}
	go c.run(s)
	return s, false, nil
}

// Download runs req to completion.
func (c *Coordinator) Download(ctx context.Context, key string, req Request, sink Sink) (Result, error) {
	s, err := c.Start(ctx, key, req, sink)
	if err != nil {
		return Result{}, err
	}
	<-s.Done()
	return s.result, s.err
}

// Pause pauses the session under key.
func (c *Coordinator) Pause(key string) error {
	s, ok := c.registry.Get(key)
	if !ok {
		return ErrNoSession
	}
	return s.Pause()
}

// Resume resumes the session under key.
func (c *Coordinator) Resume(key string) error {
	s, ok := c.registry.Get(key)
	if !ok {
		return ErrNoSession
	}
	return s.Resume()
}

// Cancel cancels the session under key and drops its pending request.
func (c *Coordinator) Cancel(key string) error {
	s, ok := c.registry.Get(key)
	if !ok {
		return ErrNoSession
	}
	c.registry.TakePending(key)
	s.Cancel()
	return nil
}

// PlanFor returns the plan the video leg of req would use.
func (c *Coordinator) PlanFor(ctx context.Context, req Request) Plan {
	return c.plan(ctx, req.URL, fetch.CookieHeader(req.Cookies), LegVideo)
}

func (c *Coordinator) run(s *Session) {
	s.setState(InProgress)
	res, err := c.execute(s)

	switch {
	case err == nil:
		logInfo(c.opts.Log, "download complete", "session", s.key, "path", res.FilePath, "size", humanize.Bytes(uint64(res.Bytes)))
		s.resolve(Completed, res, nil)
	case isCancellation(s.ctx, err):
		logInfo(c.opts.Log, "download cancelled", "session", s.key)
		s.resolve(Cancelled, res, ErrCancelled)
	default:
		logWarn(c.opts.Log, "download failed", "session", s.key, "error", err)
		s.resolve(Failed, res, err)
	}

	if next := s.takeSuccessor(); next != nil {
		logDebug(c.opts.Log, "starting pending request", "session", next.key, "url", next.req.URL)
		go c.run(next)
	}
}

func isCancellation(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, fetch.ErrCancelled) ||
		errors.Is(err, native.ErrCancelled) ||
		errors.Is(err, ffmpegexec.ErrCancelled) ||
		errors.Is(err, context.Canceled)
}

func (c *Coordinator) execute(s *Session) (Result, error) {
	ctx := s.ctx
	req := s.req

	dest, err := config.ResolvePath(req.FilePath)
	if err != nil {
		return Result{}, fmt.Errorf("resolve destination: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return Result{}, fmt.Errorf("create destination dir: %w", err)
	}
	if err := os.MkdirAll(c.opts.TempDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create temp dir: %w", err)
	}
	cookie := fetch.CookieHeader(req.Cookies)

	plan := c.plan(ctx, req.URL, cookie, LegVideo)
	s.setStrategy(plan.Strategy)
	logInfo(c.opts.Log, "starting download",
		"session", s.key,
		"strategy", plan.Strategy,
		"chunks", plan.ChunkCount,
		"size", humanize.Bytes(uint64(plan.TotalBytes)),
	)

	temp := TempName(c.opts.TempDir, dest, c.now())
	written, err := c.transfer(s, LegVideo, plan, req.URL, cookie, temp)
	if err != nil {
		return Result{}, err
	}
	final, err := Finalize(temp, dest, c.opts.Log)
	if err != nil {
		return Result{}, fmt.Errorf("finalize: %w", err)
	}
	s.forget(temp)

	res := Result{FilePath: final, Strategy: plan.Strategy, Bytes: written}
	if req.AudioURL == "" {
		return res, nil
	}
	if plan.Strategy == NativeManaged {
		c.warn(s, &res, "audio track skipped: host-managed downloads cannot be paired with a separate audio stream")
		return res, nil
	}
	res, err = c.audioLeg(s, res, cookie)
	if err != nil && !isCancellation(ctx, err) {
		logWarn(c.opts.Log, "audio track failed, video kept", "session", s.key, "path", res.FilePath, "error", err)
		return res, fmt.Errorf("%w (video kept at %s)", err, res.FilePath)
	}
	return res, err
}

func (c *Coordinator) audioLeg(s *Session, res Result, cookie string) (Result, error) {
	ctx := s.ctx

	plan := c.plan(ctx, s.req.AudioURL, cookie, LegAudio)
	res.AudioStrategy = plan.Strategy
	audioDest := AudioSibling(res.FilePath)
	temp := TempName(c.opts.TempDir, audioDest, c.now())
	if _, err := c.transfer(s, LegAudio, plan, s.req.AudioURL, cookie, temp); err != nil {
		return res, fmt.Errorf("audio: %w", err)
	}
	audioPath, err := Finalize(temp, audioDest, c.opts.Log)
	if err != nil {
		return res, fmt.Errorf("finalize audio: %w", err)
	}
	s.forget(temp)
	res.AudioPath = audioPath

	if c.opts.Merger == nil {
		c.warn(s, &res, "no merger available, audio kept as a separate file")
		return res, nil
	}

	s.setState(Merging)
	merged := MergedName(c.opts.TempDir, res.FilePath, c.now())
	s.track(merged)
	if err := c.opts.Merger.Merge(ctx, res.FilePath, audioPath, merged); err != nil {
		if isCancellation(ctx, err) {
			return res, ErrCancelled
		}
		c.warn(s, &res, fmt.Sprintf("merge failed, video and audio kept as separate files: %v", err))
		return res, nil
	}
	if err := replaceFile(res.FilePath, merged); err != nil {
		c.warn(s, &res, fmt.Sprintf("could not replace video with merged output: %v", err))
		return res, nil
	}
	s.forget(merged)
	removeQuietly(c.opts.Log, audioPath)

	res.AudioPath = ""
	res.Merged = true
	if fi, err := os.Stat(res.FilePath); err == nil {
		res.Bytes = fi.Size()
	}
	return res, nil
}

// plan picks the strategy of one leg.
func (c *Coordinator) plan(ctx context.Context, rawURL, cookie string, leg Leg) Plan {
	// token-bearing links are short-lived; never chunk them
	if cookie != "" {
		return Plan{Strategy: FetchSequential, ChunkCount: 1}
	}
	if leg == LegVideo && c.opts.Native != nil && !c.opts.Classifier.RequiresFetch(rawURL) {
		return Plan{Strategy: NativeManaged, ChunkCount: 1}
	}

	probe := c.fetcher.Probe(ctx, rawURL, "")
	th := c.opts.Chunking.Video
	if leg == LegAudio {
		th = c.opts.Chunking.Audio
	}
	p := Plan{
		Strategy:      FetchSequential,
		TotalBytes:    probe.TotalBytes,
		SupportsRange: probe.SupportsRange,
		ChunkCount:    1,
	}
	if probe.SupportsRange && probe.TotalBytes > th.MinSize {
		p.Strategy = FetchChunked
		p.ChunkCount = fetch.ChunkCount(probe.TotalBytes, th.TargetChunk, c.opts.Chunking.MinChunks, c.opts.Chunking.MaxChunks)
	}
	return p
}

// transfer moves one leg into temp and returns the bytes on disk.
func (c *Coordinator) transfer(s *Session, leg Leg, plan Plan, rawURL, cookie, temp string) (int64, error) {
	ctx := s.ctx
	s.track(temp)
	onProgress := func(p telemetry.Progress) { s.progress(leg, p) }

	switch plan.Strategy {
	case FetchChunked:
		bufs, err := c.fetcher.FetchChunked(ctx, rawURL, plan.TotalBytes, plan.ChunkCount, cookie, onProgress)
		if err != nil {
			return 0, err
		}
		return fetch.WriteOrdered(ctx, temp, bufs)
	case FetchSequential:
		return c.fetcher.FetchSequential(ctx, rawURL, temp, cookie, onProgress)
	default:
		h, err := c.opts.Native.Start(ctx, rawURL, temp, onProgress)
		if err != nil {
			return 0, err
		}
		s.attach(h)
		defer s.attach(nil)
		if err := h.Wait(ctx); err != nil {
			return 0, err
		}
		fi, err := os.Stat(temp)
		if err != nil {
			return 0, fmt.Errorf("host download missing: %w", err)
		}
		return fi.Size(), nil
	}
}

func (c *Coordinator) warn(s *Session, res *Result, msg string) {
	res.Warnings = append(res.Warnings, msg)
	logWarn(c.opts.Log, msg, "session", s.key)
	s.emit(Event{Kind: EventWarning, Warning: msg})
}

// replaceFile moves src over dst, copying when a rename is not possible.
func replaceFile(dst, src string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(dst, src); err != nil {
		return err
	}
	return os.Remove(src)
}
