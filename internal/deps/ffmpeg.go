package deps

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ProbeTimeout bounds each ffmpeg invocation made by the checks.
const ProbeTimeout = 10 * time.Second

// CheckFFmpeg resolves binary and records the version it reports.
func CheckFFmpeg(ctx context.Context, binary string) Status {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	status := CheckBinaries([]Requirement{{
		Name:        "FFmpeg",
		Command:     binary,
		Description: "Encodes the HLS ladder and the RTMP push",
	}})[0]
	if !status.Available {
		return status
	}

	out, err := probe(ctx, status.Command, "-hide_banner", "-version")
	if err != nil {
		status.Available = false
		status.Detail = fmt.Sprintf("%s -version failed: %v", status.Command, err)
		return status
	}
	status.Version = parseVersion(out)
	return status
}

// CheckEncoder reports whether binary was built with codec, such as
// h264_nvenc for a hardware encoder selection.
func CheckEncoder(ctx context.Context, binary, codec string) Status {
	status := Status{
		Name:        "Encoder " + codec,
		Command:     binary,
		Description: "Video codec selected by stream.encoder",
	}
	out, err := probe(ctx, binary, "-hide_banner", "-encoders")
	if err != nil {
		status.Detail = fmt.Sprintf("list encoders: %v", err)
		return status
	}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && fields[1] == codec {
			status.Available = true
			return status
		}
	}
	status.Detail = fmt.Sprintf("%s does not list encoder %q", binary, codec)
	return status
}

func probe(ctx context.Context, binary string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, binary, args...).Output()
	if err != nil {
		return nil, err
	}
	return out, nil
}

// parseVersion extracts "7.1" from "ffmpeg version 7.1 Copyright ...".
func parseVersion(out []byte) string {
	line, _, _ := strings.Cut(string(out), "\n")
	fields := strings.Fields(line)
	for i, f := range fields {
		if f == "version" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return strings.TrimSpace(line)
}
