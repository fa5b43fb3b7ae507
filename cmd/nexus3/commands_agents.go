package main

import (
	"github.com/spf13/cobra"
)

// Flags shared by every client command.
type clientFlags struct {
	host string
	port int
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.host, "host", "127.0.0.1", "Server host")
	cmd.Flags().IntVarP(&f.port, "port", "p", 4100, "Server port")
}

func buildCreateCmd() *cobra.Command {
	var (
		flags        clientFlags
		id           string
		preset       string
		model        string
		systemPrompt string
		disableTools []string
		writePaths   []string
		cwd          string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an agent on the server",
		Example: `  nexus3 create --id worker-1 --preset trusted
  nexus3 create --preset sandboxed --disable-tools fetch_url`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(cmd, flags, createRequest{
				AgentID:           id,
				Preset:            preset,
				Model:             model,
				SystemPrompt:      systemPrompt,
				DisableTools:      disableTools,
				AllowedWritePaths: writePaths,
				CWD:               cwd,
			})
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&id, "id", "", "Agent id (generated when omitted)")
	cmd.Flags().StringVar(&preset, "preset", "sandboxed", "Permission preset: trusted or sandboxed")
	cmd.Flags().StringVar(&model, "model", "", "Model override")
	cmd.Flags().StringVar(&systemPrompt, "system-prompt", "", "System prompt")
	cmd.Flags().StringSliceVar(&disableTools, "disable-tools", nil, "Tool names to disable")
	cmd.Flags().StringSliceVar(&writePaths, "allow-write", nil, "Paths the agent may write under")
	cmd.Flags().StringVar(&cwd, "cwd", "", "Sandbox read root (defaults to server cwd)")
	return cmd
}

func buildListCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agents on the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, flags)
		},
	}
	flags.register(cmd)
	return cmd
}

func buildDestroyCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "destroy <agent-id>",
		Short: "Destroy an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDestroy(cmd, flags, args[0])
		},
	}
	flags.register(cmd)
	return cmd
}

func buildSendCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "send <agent-id> <content>",
		Short: "Send a message and print the reply",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, flags, args[0], args[1])
		},
	}
	flags.register(cmd)
	return cmd
}

func buildCancelCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "cancel <agent-id> <request-id>",
		Short: "Cancel an in-flight request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCancel(cmd, flags, args[0], args[1])
		},
	}
	flags.register(cmd)
	return cmd
}

func buildStatusCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "status <agent-id>",
		Short: "Show an agent's context and token usage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, flags, args[0])
		},
	}
	flags.register(cmd)
	return cmd
}

func buildCompactCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "compact <agent-id>",
		Short: "Force a context compaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompact(cmd, flags, args[0])
		},
	}
	flags.register(cmd)
	return cmd
}

func buildShutdownCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "shutdown",
		Short: "Ask the server to shut down",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShutdown(cmd, flags)
		},
	}
	flags.register(cmd)
	return cmd
}
