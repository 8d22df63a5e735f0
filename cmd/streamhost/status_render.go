package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"streamhost/internal/health"
	"streamhost/internal/stream"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := fmt.Sprintf("[%s]", statusKindLabel(kind))
	if message != "" {
		statusText += " " + message
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func renderPlainLine(label, value string) string {
	return fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", value)
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func printSection(out io.Writer, title string, colorize bool) {
	for _, line := range renderSectionHeader(title, colorize) {
		fmt.Fprintln(out, line)
	}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// stateLabel renders a supervisor state such as "exited_error" as "Exited Error".
func stateLabel(state stream.State) string {
	if state == "" {
		return "Unknown"
	}
	return cases.Title(language.Und).String(strings.ReplaceAll(string(state), "_", " "))
}

func stateKind(state stream.State) statusKind {
	switch state {
	case stream.StateRunning:
		return statusOK
	case stream.StateStarting, stream.StateBackoff, stream.StateStopping:
		return statusWarn
	case stream.StateExitedError, stream.StateGivenUp:
		return statusError
	default:
		return statusInfo
	}
}

func severityKind(severity health.Severity) statusKind {
	switch severity {
	case health.SeverityOK:
		return statusOK
	case health.SeverityWarning:
		return statusWarn
	case health.SeverityCritical:
		return statusError
	default:
		return statusInfo
	}
}

func passKind(passed bool) statusKind {
	if passed {
		return statusOK
	}
	return statusError
}

// streamLines summarizes a supervisor snapshot for terminal output.
func streamLines(snap stream.Snapshot, colorize bool) []string {
	lines := []string{renderStatusLine("State", stateKind(snap.State), stateLabel(snap.State), colorize)}
	if snap.SessionID == "" {
		return lines
	}
	lines = append(lines, renderPlainLine("Session", snap.SessionID))
	if snap.CorrelationID != "" {
		lines = append(lines, renderPlainLine("Correlation", snap.CorrelationID))
	}
	if snap.Destination != "" {
		lines = append(lines, renderPlainLine("Destination", snap.Destination))
	}
	if snap.PID > 0 {
		lines = append(lines, renderPlainLine("PID", fmt.Sprintf("%d", snap.PID)))
	}
	if snap.Running {
		lines = append(lines,
			renderPlainLine("Uptime", formatUptime(snap.Uptime)),
			renderPlainLine("Bitrate", fmt.Sprintf("%d / %d kbps", snap.Metrics.BitrateKbps, snap.TargetBitrateKbps)),
			renderPlainLine("FPS", fmt.Sprintf("%.2f (speed %.2fx)", snap.Metrics.FPS, snap.Metrics.Speed)),
			renderPlainLine("Frames", fmt.Sprintf("%s (%s dropped)", humanize.Comma(snap.Metrics.Frame), humanize.Comma(snap.Metrics.DroppedFrames))),
		)
	}
	lines = append(lines, renderPlainLine("Restarts", fmt.Sprintf("%d (%d consecutive failures)", snap.RestartAttempts, snap.ConsecutiveFailures)))
	if !snap.LastSuccess.IsZero() {
		lines = append(lines, renderPlainLine("Last success", humanize.Time(snap.LastSuccess)))
	}
	if snap.LastError != "" {
		lines = append(lines, renderStatusLine("Last error", statusError, firstLine(snap.LastError), colorize))
	}
	return lines
}

func formatUptime(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	return d.Truncate(time.Second).String()
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
