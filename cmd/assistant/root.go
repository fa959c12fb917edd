package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var flags runFlags
	root := &cobra.Command{
		Use:   "assistant",
		Short: "Wake-word voice assistant with a streaming chat window",
		Long: "assistant listens in the background for its name, then holds a spoken\n" +
			"conversation with a language model and streams replies into a chat window.",
		// No subcommand runs the assistant.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAssistantCmd(cmd, flags)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags.register(root)

	root.AddCommand(newRunCmd())
	root.AddCommand(newSettingsCmd())
	root.AddCommand(newHistoryCmd())
	root.AddCommand(newProbeCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "assistant version %s\n", version)
		},
	})
	return root
}
