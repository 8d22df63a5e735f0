package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"streamhost/internal/ipc"
	"streamhost/internal/preflight"
)

func newPreflightCommand(ctx *commandContext) *cobra.Command {
	var probeDestination bool
	var local bool
	cmd := &cobra.Command{
		Use:     "preflight",
		Aliases: []string{"deps"},
		Short:   "Check ffmpeg, the encoder, and directory access",
		Long: "Run readiness checks through the daemon, or in this process with --local " +
			"when the daemon is not running.",
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := runPreflight(cmd.Context(), ctx, local, probeDestination)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				if err := writeJSON(cmd, results); err != nil {
					return err
				}
			} else {
				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)
				printSection(stdout, "Preflight", colorize)
				for _, result := range results {
					fmt.Fprintln(stdout, renderStatusLine(result.Name, passKind(result.Passed), result.Detail, colorize))
				}
				fmt.Fprintln(stdout)
				if summary := preflight.Summary(results); summary != "" {
					fmt.Fprintln(stdout, statusIndent+"Failed: "+summary)
				} else {
					fmt.Fprintln(stdout, statusIndent+"All checks passed")
				}
			}
			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d preflight check(s) failed", len(failed))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&probeDestination, "probe-destination", false, "Also dial the configured push destination")
	cmd.Flags().BoolVar(&local, "local", false, "Run checks in this process instead of the daemon")
	return cmd
}

func runPreflight(cmdCtx context.Context, ctx *commandContext, local, probeDestination bool) ([]preflight.Result, error) {
	if local {
		cfg, err := ctx.ensureConfig()
		if err != nil {
			return nil, err
		}
		return preflight.RunAll(cmdCtx, cfg, probeDestination), nil
	}
	var results []preflight.Result
	err := ctx.withClient(func(client *ipc.Client) error {
		resp, err := client.Preflight(probeDestination)
		if err != nil {
			return err
		}
		results = resp.Results
		return nil
	})
	return results, err
}
