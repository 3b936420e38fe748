package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lwshakib/flux-video-downloader/internal/reveal"
	"github.com/lwshakib/flux-video-downloader/internal/server"
	"github.com/lwshakib/flux-video-downloader/internal/version"
)

var listenFlag string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&listenFlag, "listen", "l", "", "Listen address (default 127.0.0.1:8765)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local service the browser extension hands downloads to",
	Long: `Run the local control service.

Endpoints:
  POST /download         extension hand-off {url, title, filename, audioUrl, cookies}
  POST /sessions/{key}   {"kind": "start"|"pause"|"resume"|"cancel"|"probe", "request": {...}}
  GET  /sessions         keys with a running download
  GET  /events           websocket stream of session events
  POST /open             {"path": ...} reveal a download in the file manager
  GET  /status           service status`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		runner, err := requireFFmpeg(ctx, cfg)
		if err != nil {
			return err
		}
		dir, err := cfg.DownloadDir()
		if err != nil {
			return err
		}
		addr := cfg.ListenAddr
		if listenFlag != "" {
			addr = listenFlag
		}

		srv := server.New(ctx, newCoordinator(cfg, runner), server.Options{
			DownloadDir: dir,
			CookieNames: cfg.CookieNames,
			Reveal:      reveal.Folder,
			Version:     version.Short(),
			Log:         Logger,
		})
		Logger.Info("downloads go to", "dir", dir)
		err = srv.ListenAndServe(ctx, addr)
		if errors.Is(err, context.Canceled) {
			Logger.Info("shutting down")
			return nil
		}
		return err
	},
}
