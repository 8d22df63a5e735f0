package ffmpeg

import "strings"

// Encoder is the concrete video codec chosen for an encoder identifier.
type Encoder struct {
	Codec   string
	HWAccel string
	Preset  string
}

// SelectEncoder maps an encoder identifier onto a codec and hardware hint.
// Unknown identifiers fall back to libx264.
func SelectEncoder(id, preset string) Encoder {
	preset = strings.TrimSpace(preset)
	switch strings.ToLower(strings.TrimSpace(id)) {
	case "nvenc":
		return Encoder{Codec: "h264_nvenc", HWAccel: "cuda", Preset: orDefault(preset, "p4")}
	case "qsv":
		return Encoder{Codec: "h264_qsv", HWAccel: "qsv", Preset: orDefault(preset, "medium")}
	case "videotoolbox":
		// h264_videotoolbox has no -preset option.
		return Encoder{Codec: "h264_videotoolbox", HWAccel: "videotoolbox"}
	default:
		return Encoder{Codec: "libx264", Preset: orDefault(preset, "veryfast")}
	}
}

// IsHardware reports whether the encoder relies on a hardware device.
func (e Encoder) IsHardware() bool {
	return e.HWAccel != ""
}

// GOPSize returns the keyframe interval for fps: two seconds of frames, at least 30.
func GOPSize(fps int) int {
	return max(2*fps, 30)
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
