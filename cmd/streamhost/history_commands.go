package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"streamhost/internal/ipc"
	"streamhost/internal/journal"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var session string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List journaled stream lifecycle events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.History(ipc.HistoryRequest{Limit: limit, SessionID: session})
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp.Events)
				}
				stdout := cmd.OutOrStdout()
				if len(resp.Events) == 0 {
					fmt.Fprintln(stdout, "No stream events recorded")
					return nil
				}
				fmt.Fprint(stdout, renderTable(
					[]string{"Time", "Session", "Event", "Attempt", "Detail"},
					historyRows(resp.Events),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum events to show")
	cmd.Flags().StringVar(&session, "session", "", "Only show events for this session id")
	return cmd
}

func historyRows(entries []journal.Entry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		attempt := ""
		if entry.Attempt > 0 {
			attempt = strconv.Itoa(entry.Attempt)
		}
		rows = append(rows, []string{
			entry.Time.Local().Format(time.DateTime),
			shortID(entry.SessionID),
			string(entry.Type),
			attempt,
			eventDetail(entry),
		})
	}
	return rows
}

func eventDetail(entry journal.Entry) string {
	switch {
	case entry.Error != "":
		return truncate(firstLine(entry.Error), 60)
	case entry.Delay > 0:
		return "retry in " + entry.Delay.String()
	case entry.PID > 0:
		return fmt.Sprintf("pid %d", entry.PID)
	default:
		return ""
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func newLocksCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "locks",
		Short: "Show contention on the daemon's watched mutexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Locks()
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp.Locks)
				}
				rows := make([][]string, 0, len(resp.Locks))
				for _, snap := range resp.Locks {
					rows = append(rows, []string{
						snap.Name,
						yesNo(snap.Locked),
						strconv.Itoa(snap.Waiters),
						snap.HoldDuration.Round(time.Millisecond).String(),
						snap.MaxWait.Round(time.Microsecond).String(),
						snap.MeanWait.Round(time.Microsecond).String(),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Lock", "Held", "Waiters", "Held For", "Max Wait", "Mean Wait"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight},
				))
				return nil
			})
		},
	}
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
