package main

import (
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"streamhost/internal/health"
	"streamhost/internal/ipc"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stream state and encoder telemetry",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, online, err := fetchStatus(ctx)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, status)
			}
			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			printSection(stdout, "Daemon", colorize)
			if !online {
				fmt.Fprintln(stdout, renderStatusLine("Daemon", statusWarn, "Not running (run `streamhost daemon start`)", colorize))
				return nil
			}
			fmt.Fprintln(stdout, renderStatusLine("Daemon", statusOK, fmt.Sprintf("Running (pid %d)", status.PID), colorize))
			fmt.Fprintln(stdout)

			printSection(stdout, "Stream", colorize)
			for _, line := range streamLines(status.Stream, colorize) {
				fmt.Fprintln(stdout, line)
			}
			if len(status.Stream.Diagnostics) > 0 {
				fmt.Fprintln(stdout)
				printSection(stdout, "Encoder Diagnostics", colorize)
				for _, line := range status.Stream.Diagnostics {
					fmt.Fprintln(stdout, statusIndent+line)
				}
			}
			return nil
		},
	}
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Run stream and host health checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Health()
				if err != nil {
					return err
				}
				report := resp.Report
				if ctx.jsonOutput() {
					return writeJSON(cmd, report)
				}
				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)
				printSection(stdout, "Health", colorize)
				fmt.Fprintln(stdout, renderStatusLine("Overall", severityKind(report.Severity), report.Summary(), colorize))
				for _, name := range sortedChecks(report.Checks) {
					fmt.Fprintln(stdout, renderStatusLine(name, passKind(report.Checks[name]), "", colorize))
				}
				fmt.Fprintln(stdout)
				printSection(stdout, "Host", colorize)
				fmt.Fprintln(stdout, renderPlainLine("CPU", fmt.Sprintf("%.1f%%", report.Host.CPUPercent)))
				fmt.Fprintln(stdout, renderPlainLine("Memory", fmt.Sprintf("%.1f%%", report.Host.MemoryPercent)))
				fmt.Fprintln(stdout, renderPlainLine("Disk free", humanize.IBytes(report.Host.DiskFreeBytes)))
				return nil
			})
		},
	}
}

// sortedChecks orders checks the way the monitor reports them, with any
// unknown names appended alphabetically.
func sortedChecks(checks map[string]bool) []string {
	order := health.CheckOrder
	seen := make(map[string]bool, len(checks))
	names := make([]string, 0, len(checks))
	for _, name := range order {
		if _, ok := checks[name]; ok {
			names = append(names, name)
			seen[name] = true
		}
	}
	extra := make([]string, 0)
	for name := range checks {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}
