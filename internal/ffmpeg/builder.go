package ffmpeg

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"streamhost/internal/launchplan"
)

const (
	MasterPlaylist  = "master.m3u8"
	SegmentPattern  = "segment_%v_%05d.ts"
	PlaylistPattern = "stream_%v.m3u8"

	// ProgressFD is the child descriptor carrying -progress output. The
	// supervisor passes the write end of a pipe as ExtraFiles[0].
	ProgressFD = 3
)

// Options carries the encoder settings that do not vary per broadcast.
type Options struct {
	Binary          string
	PreviewDir      string
	SegmentSeconds  int
	PlaylistSize    int
	ProgressTarget  string
	AudioBitrate    string
	AudioSampleRate int
	AudioChannels   int
}

func (o Options) withDefaults() Options {
	if o.Binary == "" {
		o.Binary = "ffmpeg"
	}
	if o.SegmentSeconds <= 0 {
		o.SegmentSeconds = 4
	}
	if o.PlaylistSize <= 0 {
		o.PlaylistSize = 6
	}
	if o.ProgressTarget == "" {
		o.ProgressTarget = "pipe:" + strconv.Itoa(ProgressFD)
	}
	if o.AudioBitrate == "" {
		o.AudioBitrate = "160k"
	}
	if o.AudioSampleRate <= 0 {
		o.AudioSampleRate = 48000
	}
	if o.AudioChannels <= 0 {
		o.AudioChannels = 2
	}
	return o
}

// Build constructs the complete ffmpeg argument slice for plan. args[0] is
// the binary. The output is deterministic for identical inputs.
func Build(plan launchplan.Plan, manifestPath string, opts Options) ([]string, error) {
	if strings.TrimSpace(manifestPath) == "" {
		return nil, errors.New("manifest path is required")
	}
	if len(plan.Profiles) == 0 {
		return nil, fmt.Errorf("%w: at least one profile is required", launchplan.ErrInvalidPlan)
	}
	if strings.TrimSpace(opts.PreviewDir) == "" {
		return nil, errors.New("preview directory is required")
	}
	if strings.TrimSpace(plan.Destination) == "" {
		return nil, fmt.Errorf("%w: destination is required", launchplan.ErrInvalidPlan)
	}
	opts = opts.withDefaults()
	enc := SelectEncoder(plan.Encoder, plan.Preset)
	gop := strconv.Itoa(GOPSize(plan.FPS))
	n := len(plan.Profiles)

	args := make([]string, 0, 64+24*n)

	// --- Preamble ---
	args = append(args, opts.Binary,
		"-hide_banner",
		"-loglevel", "warning",
		"-nostats",
		"-progress", opts.ProgressTarget,
		"-y",
	)

	// --- Hardware decode hint (must precede the input it applies to) ---
	if enc.HWAccel != "" {
		args = append(args, "-hwaccel", enc.HWAccel)
	}

	// --- Input ---
	args = append(args, "-re", "-f", "concat", "-safe", "0", "-i", manifestPath)

	// --- Filter graph ---
	args = append(args, "-filter_complex", filterGraph(plan.Profiles))

	// --- HLS ladder ---
	for i, profile := range plan.Profiles {
		idx := strconv.Itoa(i)
		rate := profile.BitrateKbps
		args = append(args,
			"-map", "[v"+idx+"]",
			"-map", "0:a:0",
			"-c:v:"+idx, enc.Codec,
			"-b:v:"+idx, kbps(rate),
			"-maxrate:v:"+idx, kbps(rate),
			"-bufsize:v:"+idx, kbps(2*rate),
		)
		if enc.Preset != "" {
			args = append(args, "-preset:v:"+idx, enc.Preset)
		}
		args = append(args,
			"-profile:v:"+idx, "high",
			"-g:v:"+idx, gop,
			"-keyint_min:v:"+idx, gop,
			"-sc_threshold:v:"+idx, "0",
		)
	}
	args = appendAudio(args, opts)

	dir := filepath.ToSlash(opts.PreviewDir)
	args = append(args,
		"-f", "hls",
		"-hls_time", strconv.Itoa(opts.SegmentSeconds),
		"-hls_list_size", strconv.Itoa(opts.PlaylistSize),
		"-hls_playlist_type", "event",
		"-hls_flags", "delete_segments+independent_segments+program_date_time",
		"-master_pl_name", MasterPlaylist,
		"-hls_segment_filename", dir+"/"+SegmentPattern,
		"-var_stream_map", VariantMap(plan.Profiles),
		dir+"/"+PlaylistPattern,
	)

	// --- Live push of the primary profile ---
	primary := plan.Primary()
	args = append(args,
		"-map", "[vpush]",
		"-map", "0:a:0",
		"-c:v", enc.Codec,
		"-b:v", kbps(primary.BitrateKbps),
		"-maxrate", kbps(primary.BitrateKbps),
		"-bufsize", kbps(2*primary.BitrateKbps),
	)
	if enc.Preset != "" {
		args = append(args, "-preset", enc.Preset)
	}
	args = append(args,
		"-profile:v", "high",
		"-g", gop,
		"-keyint_min", gop,
		"-sc_threshold", "0",
	)
	args = appendAudio(args, opts)
	args = append(args, "-f", "flv", plan.Destination)

	return args, nil
}

// filterGraph splits the decoded video into one branch per profile plus a
// dedicated branch for the push output, since a labelled pad can only be
// consumed once.
func filterGraph(profiles []launchplan.Profile) string {
	var b strings.Builder
	b.WriteString("[0:v]split=")
	b.WriteString(strconv.Itoa(len(profiles) + 1))
	for i := range profiles {
		fmt.Fprintf(&b, "[v%din]", i)
	}
	b.WriteString("[vpushin]")
	for i, p := range profiles {
		fmt.Fprintf(&b, ";[v%din]scale=%d:%d[v%d]", i, p.Width, p.Height, i)
	}
	primary := profiles[0]
	fmt.Fprintf(&b, ";[vpushin]scale=%d:%d[vpush]", primary.Width, primary.Height)
	return b.String()
}

// VariantMap renders the -var_stream_map value. ffmpeg derives each
// variant's BANDWIDTH attribute from the -b:v/-maxrate set per profile.
func VariantMap(profiles []launchplan.Profile) string {
	names := VariantNames(profiles)
	entries := make([]string, len(profiles))
	for i := range profiles {
		entries[i] = fmt.Sprintf("v:%d,a:%d,name:%s", i, i, names[i])
	}
	return strings.Join(entries, " ")
}

// VariantNames returns the %v substitution for each profile, unique within the ladder.
func VariantNames(profiles []launchplan.Profile) []string {
	used := make(map[string]int, len(profiles))
	names := make([]string, len(profiles))
	for i, p := range profiles {
		base := sanitizeName(p.Resolution())
		name := base
		if count := used[base]; count > 0 {
			name = fmt.Sprintf("%s-%d", base, count)
		}
		used[base]++
		names[i] = name
	}
	return names
}

func appendAudio(args []string, opts Options) []string {
	return append(args,
		"-c:a", "aac",
		"-b:a", opts.AudioBitrate,
		"-ac", strconv.Itoa(opts.AudioChannels),
		"-ar", strconv.Itoa(opts.AudioSampleRate),
	)
}

func kbps(rate int) string {
	return strconv.Itoa(rate) + "k"
}

func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "variant"
	}
	return b.String()
}
