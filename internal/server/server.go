// Package server is the local control service: the browser extension hands
// downloads to it, callers drive sessions by key and watch their events over
// a websocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/lwshakib/flux-video-downloader/internal/config"
	"github.com/lwshakib/flux-video-downloader/internal/fetch"
	"github.com/lwshakib/flux-video-downloader/internal/handoff"
	"github.com/lwshakib/flux-video-downloader/internal/native"
	"github.com/lwshakib/flux-video-downloader/internal/session"
)

// DownloaderKey is the session key shared by every extension handoff, so a
// new request arriving mid-download waits for the running one.
const DownloaderKey = "downloader"

const maxRequestBodyBytes = 1 << 20

// ErrOutsideDownloadDir rejects a destination that would leave the download directory.
var ErrOutsideDownloadDir = errors.New("destination must be inside the download directory")

// Logger interface for logging operations.
// Compatible with github.com/charmbracelet/log.Logger.
type Logger interface {
	Debug(msg any, keyvals ...any)
	Info(msg any, keyvals ...any)
	Warn(msg any, keyvals ...any)
	Error(msg any, keyvals ...any)
}

// Options configures a Server.
type Options struct {
	// DownloadDir receives handed-off downloads.
	DownloadDir string
	CookieNames config.CookieNames
	// Reveal opens the folder of a finished download. Nil disables /open.
	Reveal  func(path string) error
	Version string
	Log     Logger
}

// Server serves the control API on top of a Coordinator.
type Server struct {
	ctx   context.Context
	coord *session.Coordinator
	hub   *Hub
	opts  Options
}

// New creates a Server. Sessions it starts live until ctx ends or they are
// cancelled, independent of the HTTP request that created them.
func New(ctx context.Context, coord *session.Coordinator, opts Options) *Server {
	if opts.CookieNames == (config.CookieNames{}) {
		opts.CookieNames = config.Default().CookieNames
	}
	return &Server{ctx: ctx, coord: coord, hub: NewHub(opts.Log), opts: opts}
}

// Hub returns the event hub.
func (s *Server) Hub() *Hub { return s.hub }

// Sink forwards session events to websocket clients and the log.
func (s *Server) Sink(ev session.Event) {
	switch ev.Kind {
	case session.EventError:
		logWarn(s.opts.Log, "session failed", "session", ev.Session, "error", ev.Error)
	case session.EventCompleted:
		logInfo(s.opts.Log, "session completed", "session", ev.Session, "path", ev.FilePath)
	}
	s.hub.Broadcast(ev)
}

// Handler returns the HTTP handler of the service.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /download", s.handleDownload)
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("POST /sessions/{key}", s.handleSessionCommand)
	mux.HandleFunc("POST /open", s.handleOpen)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.Handle("GET /events", s.hub)
	return withCORS(mux)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	logInfo(s.opts.Log, "control service listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.hub.Close()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// command is the body of POST /sessions/{key}.
type command struct {
	Kind    string           `json:"kind"`
	Request *session.Request `json:"request,omitempty"`
}

type sessionReply struct {
	Session string `json:"session"`
	ID      string `json:"id,omitempty"`
	Status  string `json:"status"`
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var p handoff.Payload
	if err := decodeJSONBody(w, r, &p); err != nil || p.URL == "" {
		writeJSON(w, http.StatusBadRequest, handoff.Reply{Success: false, Error: "Invalid request"})
		return
	}
	logInfo(s.opts.Log, "received download request", "url", p.URL, "audio", p.AudioURL != "")

	req := s.requestFromPayload(p)
	_, queued, err := s.coord.Submit(s.ctx, DownloaderKey, req, s.Sink)
	if err != nil {
		writeJSON(w, statusFor(err), handoff.Reply{Success: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, handoff.Reply{Success: true, Queued: queued, Session: DownloaderKey})
}

func (s *Server) requestFromPayload(p handoff.Payload) session.Request {
	req := session.Request{
		URL:      p.URL,
		AudioURL: p.AudioURL,
		Title:    p.Title,
		FilePath: filepath.Join(s.opts.DownloadDir, session.FileName(p.URL, p.Title, p.Filename)),
	}
	if p.Cookies != nil {
		req.Cookies = []fetch.Cookie{
			{Name: s.opts.CookieNames.TokenA, Value: p.Cookies.MsToken},
			{Name: s.opts.CookieNames.TokenB, Value: p.Cookies.TtChainToken},
		}
	}
	return req
}

// destination confines a caller-supplied path to the download directory.
// Relative paths are taken from it.
func (s *Server) destination(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("%w: filePath is required", session.ErrInvalidRequest)
	}
	if s.opts.DownloadDir == "" {
		return "", ErrOutsideDownloadDir
	}
	root := filepath.Clean(s.opts.DownloadDir)
	rel := p
	if filepath.IsAbs(p) {
		var err error
		if rel, err = filepath.Rel(root, filepath.Clean(p)); err != nil {
			return "", ErrOutsideDownloadDir
		}
	}
	if !filepath.IsLocal(rel) || filepath.Clean(rel) == "." {
		return "", ErrOutsideDownloadDir
	}
	return filepath.Join(root, rel), nil
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.coord.Registry().Keys()})
}

func (s *Server) handleSessionCommand(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	var cmd command
	if err := decodeJSONBody(w, r, &cmd); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch cmd.Kind {
	case "start":
		if cmd.Request == nil {
			writeJSONError(w, http.StatusBadRequest, "start needs a request")
			return
		}
		req := *cmd.Request
		dest, err := s.destination(req.FilePath)
		if err != nil {
			logWarn(s.opts.Log, "rejected destination", "session", key, "path", req.FilePath, "origin", r.Header.Get("Origin"))
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		req.FilePath = dest
		sess, err := s.coord.Start(s.ctx, key, req, s.Sink)
		if err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, sessionReply{Session: key, ID: sess.ID(), Status: "started"})
	case "probe":
		if cmd.Request == nil || cmd.Request.URL == "" {
			writeJSONError(w, http.StatusBadRequest, "probe needs a request url")
			return
		}
		writeJSON(w, http.StatusOK, s.coord.PlanFor(r.Context(), *cmd.Request))
	case "pause", "resume", "cancel":
		var err error
		switch cmd.Kind {
		case "pause":
			err = s.coord.Pause(key)
		case "resume":
			err = s.coord.Resume(key)
		default:
			err = s.coord.Cancel(key)
		}
		if err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, sessionReply{Session: key, Status: "ok"})
	default:
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown command %q", cmd.Kind))
	}
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path string `json:"path"`
	}
	if err := decodeJSONBody(w, r, &body); err != nil || body.Path == "" {
		writeJSONError(w, http.StatusBadRequest, "path is required")
		return
	}
	if s.opts.Reveal == nil {
		writeJSONError(w, http.StatusNotImplemented, "reveal is not available")
		return
	}
	path, err := config.ResolvePath(body.Path)
	if err == nil {
		err = s.opts.Reveal(path)
	}
	if err != nil {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":  s.opts.Version,
		"sessions": s.coord.Registry().Len(),
		"clients":  s.hub.Len(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidRequest),
		errors.Is(err, ErrOutsideDownloadDir):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNoSession):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSessionActive),
		errors.Is(err, session.ErrPauseUnsupported),
		errors.Is(err, native.ErrNotPausable),
		errors.Is(err, native.ErrNotResumable):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		return errors.New("invalid JSON payload")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// withCORS lets the extension call the service from its own origin.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func logDebug(logger Logger, msg string, keyvals ...any) {
	if logger != nil {
		logger.Debug(msg, keyvals...)
	}
}

func logInfo(logger Logger, msg string, keyvals ...any) {
	if logger != nil {
		logger.Info(msg, keyvals...)
	}
}

func logWarn(logger Logger, msg string, keyvals ...any) {
	if logger != nil {
		logger.Warn(msg, keyvals...)
	}
}
