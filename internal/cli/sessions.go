package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/memorialsite/agentgw/internal/config"
	"github.com/memorialsite/agentgw/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect sessions in a durable session store",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recently active first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLister(cmd.Context(), func(l session.Lister) error {
			infos, err := l.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(infos) == 0 {
				fmt.Fprintln(out, "No sessions.")
				return nil
			}
			for _, info := range infos {
				fmt.Fprintf(out, "%-40s %4d turns  last active %s\n",
					info.ID, info.TurnCount, info.LastActiveAt.Local().Format(time.DateTime))
			}
			return nil
		})
	},
}

var sessionsHistoryCmd = &cobra.Command{
	Use:   "history <session-id>",
	Short: "Print the transcript of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLister(cmd.Context(), func(l session.Lister) error {
			turns, err := l.History(cmd.Context(), args[0])
			if errors.Is(err, session.ErrNotFound) {
				return fmt.Errorf("session %s not found", args[0])
			}
			if err != nil {
				return err
			}
			for _, t := range turns {
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n", t.Timestamp.Local().Format(time.DateTime), t.Role, t.Content)
			}
			return nil
		})
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(s session.Store) error {
			if _, err := session.AsLister(s); err != nil {
				return err
			}
			if err := s.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
			return nil
		})
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsHistoryCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
}

func withStore(ctx context.Context, fn func(session.Store) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Session.Driver == "memory" {
		return fmt.Errorf("session driver %q: %w", cfg.Session.Driver, session.ErrNotDurable)
	}
	store, err := openStore(ctx, cfg.Session)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func withLister(ctx context.Context, fn func(session.Lister) error) error {
	return withStore(ctx, func(s session.Store) error {
		l, err := session.AsLister(s)
		if err != nil {
			return err
		}
		return fn(l)
	})
}
