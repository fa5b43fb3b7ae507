// Package main provides the CLI entry point for the NEXUS3 agent
// runtime.
//
// Start the server:
//
//	NEXUS_DEV=1 nexus3 serve --config nexus3.yaml
//
// Talk to a running server:
//
//	nexus3 create --id worker-1 --preset trusted
//	nexus3 send worker-1 "summarize the README"
//	nexus3 status worker-1
//	nexus3 destroy worker-1
//
// Configuration can also be seeded from a .env file in the working
// directory; the provider API key is read from the environment variable
// named by provider.api_key_env (OPENAI_API_KEY by default).
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// .env is optional; absence is not an error.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "nexus3",
		Short:         "NEXUS3 multi-agent LLM runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(buildVersionCmd())
	root.AddCommand(buildServeCmd())
	root.AddCommand(buildCreateCmd())
	root.AddCommand(buildListCmd())
	root.AddCommand(buildDestroyCmd())
	root.AddCommand(buildSendCmd())
	root.AddCommand(buildCancelCmd())
	root.AddCommand(buildStatusCmd())
	root.AddCommand(buildCompactCmd())
	root.AddCommand(buildShutdownCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "nexus3 %s (%s, built %s)\n", version, commit, date)
		},
	}
}
