package main

import (
	"github.com/spf13/cobra"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the NEXUS3 runtime server",
		Long: `Start the runtime server: the agent pool, the shared provider
client, configured MCP servers, and the local JSON-RPC endpoint.

The RPC endpoint binds to a loopback address only. A bearer token is
generated on first start and written to rpc-<port>.token in the user
config directory; clients on the same machine read it from there.

The server refuses to start unless NEXUS_DEV is set: it executes tools
on behalf of any local process holding the token.

Graceful shutdown on SIGINT/SIGTERM or the shutdown_server RPC method.`,
		Example: `  # Start with defaults (port 4100)
  NEXUS_DEV=1 nexus3 serve

  # Custom config and port
  nexus3 serve --config /etc/nexus3/config.yaml --port 4200`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, port, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Override the configured RPC port")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}
