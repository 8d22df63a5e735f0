package deps

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeStub(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestCheckBinaries(t *testing.T) {
	present := writeStub(t, t.TempDir(), "present", "exit 0\n")
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Optional", Command: "also-not-present", Optional: true},
		{Name: "Blank"},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Detail != "" {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be unavailable with detail, got %#v", results[1])
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
	if results[3].Detail != "command not configured" {
		t.Fatalf("unexpected blank detail: %q", results[3].Detail)
	}

	missing := Missing(results)
	if len(missing) != 2 || missing[0].Name != "Missing" || missing[1].Name != "Blank" {
		t.Fatalf("unexpected missing set %#v", missing)
	}
}

func TestCheckFFmpegVersion(t *testing.T) {
	bin := writeStub(t, t.TempDir(), "ffmpeg", "echo 'ffmpeg version 7.1-test Copyright (c) 2000-2024'\n")
	status := CheckFFmpeg(context.Background(), bin)
	if !status.Available {
		t.Fatalf("expected ffmpeg available, got %#v", status)
	}
	if status.Version != "7.1-test" {
		t.Fatalf("version = %q", status.Version)
	}
}

func TestCheckFFmpegFailingProbe(t *testing.T) {
	bin := writeStub(t, t.TempDir(), "ffmpeg", "exit 3\n")
	status := CheckFFmpeg(context.Background(), bin)
	if status.Available || status.Detail == "" {
		t.Fatalf("expected probe failure, got %#v", status)
	}
}

func TestCheckFFmpegPathLookup(t *testing.T) {
	binDir := t.TempDir()
	writeStub(t, binDir, "ffmpeg", "echo 'ffmpeg version 6.0'\n")
	t.Setenv("PATH", binDir)

	status := CheckFFmpeg(context.Background(), "")
	if !status.Available || status.Command != filepath.Join(binDir, "ffmpeg") {
		t.Fatalf("unexpected status %#v", status)
	}
}

func TestCheckEncoder(t *testing.T) {
	bin := writeStub(t, t.TempDir(), "ffmpeg", `cat <<'LIST'
Encoders:
 V..... = Video
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC (codec h264)
 A....D aac                  AAC (Advanced Audio Coding)
LIST
`)
	if status := CheckEncoder(context.Background(), bin, "libx264"); !status.Available {
		t.Fatalf("expected libx264 available, got %#v", status)
	}
	if status := CheckEncoder(context.Background(), bin, "h264_nvenc"); status.Available || status.Detail == "" {
		t.Fatalf("expected h264_nvenc missing, got %#v", status)
	}
}
