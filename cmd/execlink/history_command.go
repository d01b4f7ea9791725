package main

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/skobkin/execlink/internal/app"
	"github.com/skobkin/execlink/internal/persistence"
)

const shortSessionLen = 8

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded executor output",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withHistory(cmd.Context(), func(db *sql.DB) error {
				entries, err := persistence.NewLogRepo(db).ListRecent(cmd.Context(), limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "No recorded output")
					return nil
				}

				rows := make([][]string, 0, len(entries))
				for _, entry := range entries {
					rows = append(rows, []string{
						strconv.FormatInt(entry.ID, 10),
						entry.At.Local().Format(time.DateTime),
						shortSession(entry.SessionID),
						app.BackendDisplayName(entry.Backend),
						entry.Kind.String(),
						entry.Text,
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"#", "Time", "Session", "Backend", "Kind", "Text"},
					rows,
					[]columnAlignment{alignRight},
				))
				return nil
			})
		},
	}
	historyCmd.Flags().IntVarP(&limit, "limit", "n", app.RecentHistoryLoad, "Number of most recent entries to show")

	historyCmd.AddCommand(newHistoryClearCommand(ctx))

	return historyCmd
}

func newHistoryClearCommand(ctx *commandContext) *cobra.Command {
	var session string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete recorded output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withHistory(cmd.Context(), func(db *sql.DB) error {
				removed, err := persistence.NewLogRepo(db).Clear(cmd.Context(), strings.TrimSpace(session))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "History cleared (%d entries)\n", removed)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "Only delete the output of this session id")
	return cmd
}

func (c *commandContext) withHistory(ctx context.Context, fn func(*sql.DB) error) error {
	paths, err := c.paths()
	if err != nil {
		return err
	}
	db, err := persistence.Open(ctx, paths.DBFile)
	if err != nil {
		return err
	}
	defer func() {
		_ = db.Close()
	}()

	return fn(db)
}

func shortSession(id string) string {
	if len(id) <= shortSessionLen {
		return id
	}
	return id[:shortSessionLen]
}
