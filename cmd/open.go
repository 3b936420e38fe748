package cmd

import (
	"github.com/spf13/cobra"

	"github.com/lwshakib/flux-video-downloader/internal/config"
	"github.com/lwshakib/flux-video-downloader/internal/reveal"
)

var openCmd = &cobra.Command{
	Use:   "open [path]",
	Short: "Open the folder holding a download (default: the download directory)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		if len(args) == 0 {
			dir, err := cfg.DownloadDir()
			if err != nil {
				return err
			}
			return reveal.Folder(dir)
		}
		path, err := config.ResolvePath(args[0])
		if err != nil {
			return err
		}
		return reveal.Folder(path)
	},
}

func init() {
	rootCmd.AddCommand(openCmd)
}
