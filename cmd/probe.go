package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lwshakib/flux-video-downloader/internal/session"
)

var probeCookieFlags []string

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().StringArrayVarP(&probeCookieFlags, "cookie", "c", nil, "Cookie forwarded to the origin as name=value (repeatable)")
}

var probeCmd = &cobra.Command{
	Use:   "probe <url>",
	Short: "Show how a URL would be downloaded",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cookies, err := parseCookies(probeCookieFlags)
		if err != nil {
			return err
		}
		plan := newCoordinator(cfg, nil).PlanFor(cmd.Context(), session.Request{URL: args[0], Cookies: cookies})

		size := "unknown"
		if plan.TotalBytes > 0 {
			size = humanize.Bytes(uint64(plan.TotalBytes))
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %s\n", labelStyle.Render("strategy:"), plan.Strategy)
		fmt.Fprintf(out, "%s %s\n", labelStyle.Render("size:    "), size)
		fmt.Fprintf(out, "%s %t\n", labelStyle.Render("ranges:  "), plan.SupportsRange)
		if plan.Strategy == session.FetchChunked {
			fmt.Fprintf(out, "%s %d\n", labelStyle.Render("chunks:  "), plan.ChunkCount)
		}
		return nil
	},
}
