package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lwshakib/flux-video-downloader/internal/ffmpegexec"
	"github.com/lwshakib/flux-video-downloader/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information",
	Long:  "Print version, commit, build date and Go version, plus the ffmpeg flux would use.",
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, version.Info())

		runner, err := ffmpegexec.Check(cmd.Context(), cfg.FFmpegPath, nil)
		if err != nil {
			fmt.Fprintf(out, "ffmpeg:     %s\n", warningStyle.Render("not found"))
			return
		}
		v, _ := runner.Version(cmd.Context())
		fmt.Fprintf(out, "ffmpeg:     %s\n            %s\n", runner.Path(), mutedStyle.Render(v))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
