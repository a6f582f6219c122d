package main

import (
	"github.com/spf13/cobra"
)

var configPath string

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wtdbg",
		Short: "Debugger adapter service: brokers agent access to a paused target under a line-protocol debugger backend",
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to wtdbg.yaml (default: discovered)")
	cmd.AddCommand(serveCmd())
	cmd.AddCommand(tokenCmd())
	cmd.AddCommand(attachCmd())
	cmd.AddCommand(sessionsCmd())
	return cmd
}
