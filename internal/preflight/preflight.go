package preflight

import (
	"context"
	"fmt"
	"strings"

	"streamhost/internal/config"
	"streamhost/internal/deps"
	"streamhost/internal/ffmpeg"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// RunAll executes every local check for cfg. The destination dial is
// included only when probeDestination is set since it leaves the host.
func RunAll(ctx context.Context, cfg *config.Config, probeDestination bool) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Preview directory", cfg.Paths.PreviewDir),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckDirectoryAccess("Temp directory", cfg.Paths.TempDir),
	}

	ff := deps.CheckFFmpeg(ctx, cfg.Stream.FFmpegBinary)
	results = append(results, fromStatus(ff))
	if ff.Available {
		enc := ffmpeg.SelectEncoder(cfg.Stream.Encoder, cfg.Stream.Preset)
		results = append(results, fromStatus(deps.CheckEncoder(ctx, ff.Command, enc.Codec)))
	}

	if probeDestination {
		results = append(results, CheckDestination(ctx, cfg.Stream.Destination))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

// Summary joins failed results into one line.
func Summary(results []Result) string {
	parts := make([]string, 0, len(results))
	for _, r := range Failed(results) {
		parts = append(parts, fmt.Sprintf("%s: %s", r.Name, r.Detail))
	}
	return strings.Join(parts, "; ")
}

func fromStatus(s deps.Status) Result {
	if !s.Available {
		return Result{Name: s.Name, Detail: s.Detail}
	}
	detail := s.Command
	if s.Version != "" {
		detail = fmt.Sprintf("%s (version %s)", s.Command, s.Version)
	}
	return Result{Name: s.Name, Passed: true, Detail: detail}
}
