package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"streamhost/internal/ipc"
)

const logFollowWaitMillis = 1000

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var session string
	var match string
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the daemon log",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := strings.TrimSpace(match)
			if s := strings.TrimSpace(session); s != "" {
				filter = s
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.LogTail(ipc.LogTailRequest{Offset: -1, Limit: lines, Match: filter})
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				for _, line := range resp.Lines {
					fmt.Fprintln(stdout, line)
				}
				if !follow {
					return nil
				}

				followCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				offset := resp.Offset
				for followCtx.Err() == nil {
					resp, err := client.LogTail(ipc.LogTailRequest{
						Offset:     offset,
						Follow:     true,
						WaitMillis: logFollowWaitMillis,
						Match:      filter,
					})
					if err != nil {
						if followCtx.Err() != nil {
							return nil
						}
						return err
					}
					for _, line := range resp.Lines {
						fmt.Fprintln(stdout, line)
					}
					offset = resp.Offset
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to print")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines until interrupted")
	cmd.Flags().StringVar(&session, "session", "", "Only print lines mentioning this session id")
	cmd.Flags().StringVar(&match, "grep", "", "Only print lines containing this text")
	return cmd
}
