package main

import (
	"github.com/spf13/cobra"

	"github.com/xhad/becabot/pkg/rag"
	"github.com/xhad/becabot/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP and WebSocket chat API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, cfg, log, err := openService(ctx, rag.Options{})
	if err != nil {
		return err
	}
	defer log.Sync()
	defer svc.Close()

	return server.New(svc, cfg.Server, log).Run(ctx)
}
