package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/lwshakib/flux-video-downloader/internal/config"
	"github.com/lwshakib/flux-video-downloader/internal/version"
)

var (
	verboseFlag   bool
	configFlag    string
	outputDirFlag string
	ffmpegFlag    string
)

// Logger is the global logger instance.
var Logger *log.Logger

// cfg is the loaded configuration with flag overrides applied.
var cfg config.Config

var rootCmd = &cobra.Command{
	Use:           "flux",
	Short:         "Fast video downloads with chunked transfers and audio merging",
	Long:          fmt.Sprintf("flux %s\n\nDownload videos with parallel range requests, pair separate audio\ntracks through ffmpeg, and accept hand-offs from the browser extension.", version.Short()),
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		Logger = log.NewWithOptions(os.Stderr, log.Options{
			ReportTimestamp: verboseFlag,
			Level:           log.InfoLevel,
		})
		if verboseFlag {
			Logger.SetLevel(log.DebugLevel)
		}
		return loadConfig(cmd)
	},
}

func loadConfig(cmd *cobra.Command) error {
	path := configFlag
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}
	c, err := config.Load(path)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("output-dir") {
		c.DownloadLocation = outputDirFlag
	}
	if cmd.Flags().Changed("ffmpeg") {
		c.FFmpegPath = ffmpegFlag
	}
	cfg = c
	Logger.Debug("configuration loaded", "path", path, "downloads", cfg.DownloadLocation)
	return nil
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("✗ "+err.Error()))
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("flux %s\n", version.Short()))

	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose debug output")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default ~/.flux/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputDirFlag, "output-dir", "o", "", "Download directory, absolute or relative to home")
	rootCmd.PersistentFlags().StringVar(&ffmpegFlag, "ffmpeg", "", "Path to the ffmpeg binary")
}
