package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/lwshakib/flux-video-downloader/internal/fetch"
	"github.com/lwshakib/flux-video-downloader/internal/session"
)

var (
	getAudioFlag   string
	getOutFlag     string
	getTitleFlag   string
	getCookieFlags []string
)

func init() {
	rootCmd.AddCommand(getCmd)
	getCmd.Flags().StringVarP(&getAudioFlag, "audio", "a", "", "Separate audio stream URL to merge into the video")
	getCmd.Flags().StringVar(&getOutFlag, "out", "", "Destination file (default: <output-dir>/<title>.<ext>)")
	getCmd.Flags().StringVarP(&getTitleFlag, "title", "t", "", "Title used to name the file")
	getCmd.Flags().StringArrayVarP(&getCookieFlags, "cookie", "c", nil, "Cookie forwarded to the origin as name=value (repeatable)")
}

var getCmd = &cobra.Command{
	Use:   "get <url>",
	Short: "Download a video, merging a separate audio track when given",
	Long: `Download a video into the download directory.

Large files on origins that accept range requests are fetched in parallel
chunks. Links carrying cookies are streamed over a single request.

Examples:
  flux get https://cdn.example.com/clip.mp4
  flux get https://cdn.example.com/v.mp4 --audio https://cdn.example.com/a.m4a -t "My clip"
  flux get https://v16.example.com/obj -c msToken=abc --out ~/Videos/clip.mp4`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		cookies, err := parseCookies(getCookieFlags)
		if err != nil {
			return err
		}
		runner, err := requireFFmpeg(ctx, cfg)
		if err != nil {
			return err
		}

		rawURL := args[0]
		dest := getOutFlag
		if dest == "" {
			dest = filepath.Join(cfg.DownloadLocation, session.FileName(rawURL, getTitleFlag, ""))
		}
		req := session.Request{
			URL:      rawURL,
			AudioURL: getAudioFlag,
			FilePath: dest,
			Title:    getTitleFlag,
			Cookies:  cookies,
		}

		bars := newLegBars(cmd.ErrOrStderr())
		coord := newCoordinator(cfg, runner)
		res, err := coord.Download(ctx, "", req, bars.sink)
		bars.finish()
		if err != nil {
			if errors.Is(err, session.ErrCancelled) || errors.Is(err, context.Canceled) {
				fmt.Fprintln(cmd.OutOrStdout(), warningStyle.Render("⚠ download cancelled"))
				return nil
			}
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %s %s\n",
			successStyle.Render("✓ saved"),
			res.FilePath,
			mutedStyle.Render(fmt.Sprintf("(%s, %s)", humanize.Bytes(uint64(res.Bytes)), res.Strategy)))
		if res.AudioPath != "" {
			fmt.Fprintf(out, "%s %s\n", successStyle.Render("✓ audio"), res.AudioPath)
		}
		for _, w := range res.Warnings {
			fmt.Fprintln(out, warningStyle.Render("⚠ "+w))
		}
		return nil
	},
}

func parseCookies(pairs []string) ([]fetch.Cookie, error) {
	cookies := make([]fetch.Cookie, 0, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid cookie %q, want name=value", p)
		}
		cookies = append(cookies, fetch.Cookie{Name: name, Value: value})
	}
	return cookies, nil
}

// legBars renders one progress bar per leg from session events.
type legBars struct {
	mu   sync.Mutex
	w    io.Writer
	bars map[session.Leg]*progressbar.ProgressBar
}

func newLegBars(w io.Writer) *legBars {
	return &legBars{w: w, bars: map[session.Leg]*progressbar.ProgressBar{}}
}

func (b *legBars) sink(ev session.Event) {
	switch ev.Kind {
	case session.EventProgress:
		b.mu.Lock()
		defer b.mu.Unlock()
		bar, ok := b.bars[ev.Leg]
		if !ok {
			bar = newBar(b.w, string(ev.Leg), ev.Progress.Total)
			b.bars[ev.Leg] = bar
		}
		_ = bar.Set64(ev.Progress.Received)
	case session.EventState:
		Logger.Debug("session state", "state", ev.State)
	case session.EventWarning:
		Logger.Warn(ev.Warning)
	}
}

func (b *legBars) finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, bar := range b.bars {
		_ = bar.Finish()
	}
}

func newBar(w io.Writer, label string, total int64) *progressbar.ProgressBar {
	opts := []progressbar.Option{
		progressbar.OptionSetDescription(fmt.Sprintf("%-6s", label)),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100 * time.Millisecond),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(w) }),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	}
	if total <= 0 {
		opts = append(opts, progressbar.OptionSpinnerType(11))
		total = -1
	}
	return progressbar.NewOptions64(total, opts...)
}
