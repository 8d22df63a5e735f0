package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"streamhost/internal/ipc"
	"streamhost/internal/stream"
)

func newStreamCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{newStartCommand(ctx), newStopCommand(ctx)}
}

func newStartCommand(ctx *commandContext) *cobra.Command {
	var (
		destination   string
		profiles      []string
		encoder       string
		correlationID string
	)
	cmd := &cobra.Command{
		Use:   "start FILE...",
		Short: "Start streaming the given files on a loop",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files := make([]string, 0, len(args))
			for _, arg := range args {
				abs, err := filepath.Abs(arg)
				if err != nil {
					return fmt.Errorf("resolve %s: %w", arg, err)
				}
				files = append(files, abs)
			}
			req := ipc.StartRequest{
				Files:         files,
				Destination:   destination,
				Profiles:      profiles,
				Encoder:       encoder,
				CorrelationID: correlationID,
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Start(req)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				stdout := cmd.OutOrStdout()
				if !resp.Launched {
					fmt.Fprintf(stdout, "Session %s created but the encoder failed to launch; retrying with backoff\n", resp.SessionID)
					if resp.Message != "" {
						fmt.Fprintf(stdout, "  %s\n", resp.Message)
					}
					return nil
				}
				fmt.Fprintf(stdout, "Streaming %d file(s) as session %s\n", len(files), resp.SessionID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&destination, "destination", "d", "", "Override stream.destination (rtmp://, rtmps://, or srt://)")
	cmd.Flags().StringSliceVarP(&profiles, "profile", "p", nil, "Rendition as WIDTHxHEIGHT@KBPS; repeat for a ladder")
	cmd.Flags().StringVarP(&encoder, "encoder", "e", "", "Override stream.encoder")
	cmd.Flags().StringVar(&correlationID, "correlation-id", "", "Caller-supplied id copied into logs and events")
	return cmd
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the active stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Stop()
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				stdout := cmd.OutOrStdout()
				if resp.Stream.State != stream.StateStopped {
					fmt.Fprintf(stdout, "No stream was active (%s)\n", stateLabel(resp.Stream.State))
					return nil
				}
				fmt.Fprintln(stdout, "Stream stopped")
				return nil
			})
		},
	}
}
