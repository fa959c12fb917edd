package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/antoniostano/heygemini/internal/config"
	"github.com/antoniostano/heygemini/internal/memory"
)

func newHistoryCmd() *cobra.Command {
	var (
		limit          int
		conversationID string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recent turns from the history store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			sqlitePath := cfg.HistorySQLitePath
			if cfg.DatabaseURL == "" && sqlitePath == "" {
				if sqlitePath, err = memory.DefaultSQLitePath(); err != nil {
					return err
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			store, err := memory.NewStore(ctx, cfg.DatabaseURL, sqlitePath)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer store.Close()

			turns, err := store.RecentContext(ctx, conversationID, limit)
			if err != nil {
				return err
			}
			printTurns(cmd, turns)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of turns to print")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "only print turns from this conversation")
	return cmd
}

func printTurns(cmd *cobra.Command, turns []memory.TurnRecord) {
	out := cmd.OutOrStdout()
	if len(turns) == 0 {
		fmt.Fprintln(out, "no turns recorded")
		return
	}
	dim := color.New(color.FgHiBlack)
	user := color.New(color.FgCyan, color.Bold)
	assistant := color.New(color.FgGreen, color.Bold)
	for _, t := range turns {
		dim.Fprintf(out, "%s %s ", t.CreatedAt.Local().Format(time.DateTime), shortID(t.ConversationID))
		if t.Role == "assistant" {
			assistant.Fprint(out, "Assistant: ")
		} else {
			user.Fprint(out, "You: ")
		}
		fmt.Fprintln(out, t.Content)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
