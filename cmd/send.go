package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lwshakib/flux-video-downloader/internal/handoff"
)

var (
	sendAddrFlag     string
	sendTitleFlag    string
	sendFilenameFlag string
	sendAudioFlag    string
	sendMsTokenFlag  string
	sendChainFlag    string
)

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVar(&sendAddrFlag, "addr", "", "Service address (default from config)")
	sendCmd.Flags().StringVarP(&sendTitleFlag, "title", "t", "", "Page title used to name the file")
	sendCmd.Flags().StringVar(&sendFilenameFlag, "filename", "", "File name including extension")
	sendCmd.Flags().StringVarP(&sendAudioFlag, "audio", "a", "", "Separate audio stream URL")
	sendCmd.Flags().StringVar(&sendMsTokenFlag, "ms-token", "", "First session token cookie")
	sendCmd.Flags().StringVar(&sendChainFlag, "chain-token", "", "Second session token cookie")
}

var sendCmd = &cobra.Command{
	Use:   "send <url>",
	Short: "Hand a download to a running flux service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := cfg.ListenAddr
		if sendAddrFlag != "" {
			addr = sendAddrFlag
		}
		p := handoff.Payload{
			URL:      args[0],
			Title:    sendTitleFlag,
			Filename: sendFilenameFlag,
			AudioURL: sendAudioFlag,
		}
		if sendMsTokenFlag != "" || sendChainFlag != "" {
			p.Cookies = &handoff.Tokens{MsToken: sendMsTokenFlag, TtChainToken: sendChainFlag}
		}

		reply, err := handoff.New(addr, Logger).Send(cmd.Context(), p)
		if err != nil {
			return fmt.Errorf("could not reach flux at %s, make sure `flux serve` is running: %w", addr, err)
		}
		msg := "✓ handed off"
		if reply.Queued {
			msg = "✓ queued behind the running download"
		}
		fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render(msg))
		return nil
	},
}
