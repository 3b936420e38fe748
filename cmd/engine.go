package cmd

import (
	"context"

	"github.com/lwshakib/flux-video-downloader/internal/config"
	"github.com/lwshakib/flux-video-downloader/internal/fetch"
	"github.com/lwshakib/flux-video-downloader/internal/ffmpegexec"
	"github.com/lwshakib/flux-video-downloader/internal/native"
	"github.com/lwshakib/flux-video-downloader/internal/session"
)

// requireFFmpeg locates and runs ffmpeg once. Commands that accept downloads
// refuse to start without it.
func requireFFmpeg(ctx context.Context, c config.Config) (*ffmpegexec.Runner, error) {
	runner, err := ffmpegexec.Check(ctx, c.FFmpegPath, Logger)
	if err != nil {
		return nil, err
	}
	Logger.Debug("ffmpeg located", "path", runner.Path())
	return runner, nil
}

// newCoordinator wires the download engine from configuration. A nil merger
// keeps audio tracks as separate files.
func newCoordinator(c config.Config, merger *ffmpegexec.Runner) *session.Coordinator {
	fetcher := fetch.New(fetch.NewHTTPClient(c.RequestTimeout), fetch.OriginFromConfig(c), Logger)
	host := native.NewGrabHost(nil, c.UserAgent, c.Referer, Logger)

	opts := session.Options{
		TempDir:    c.TempDir,
		Chunking:   c.Chunking,
		Classifier: session.NewClassifier(c.RedirectHosts),
		Native:     native.NewAdapter(host, c.NativeStartTimeout, Logger),
		Log:        Logger,
	}
	if merger != nil {
		opts.Merger = merger
	}
	return session.New(nil, fetcher, opts)
}
