package telemetry

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Metrics is the latest progress snapshot reported by the encoder. It is
// passed and stored by value; an update produces a new value rather than
// modifying a shared one.
type Metrics struct {
	Frame         int64     `json:"frame"`
	FPS           float64   `json:"fps"`
	BitrateKbps   int64     `json:"bitrate_kbps"`
	Speed         float64   `json:"speed"`
	DroppedFrames int64     `json:"dropped_frames"`
	BufferLevel   *float64  `json:"buffer_level,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ParseError reports a recognized progress key whose value is not numeric.
type ParseError struct {
	Key   string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse progress %s=%q: %v", e.Key, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Apply returns m updated with one progress field. The bool result is false
// for keys that are not tracked. On a parse error m is returned unchanged.
func Apply(m Metrics, key, value string) (Metrics, bool, error) {
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)

	fail := func(err error) (Metrics, bool, error) {
		return m, true, &ParseError{Key: key, Value: value, Err: err}
	}

	next := m
	switch key {
	case "frame":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fail(err)
		}
		next.Frame = n
	case "fps":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fail(err)
		}
		next.FPS = f
	case "bitrate":
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(value, "kbits/s")), 64)
		if err != nil {
			return fail(err)
		}
		next.BitrateKbps = int64(f)
	case "speed":
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(value, "x")), 64)
		if err != nil {
			return fail(err)
		}
		next.Speed = f
	case "drop_frames":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fail(err)
		}
		next.DroppedFrames = n
	case "buffer_level":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fail(err)
		}
		next.BufferLevel = &f
	default:
		return m, false, nil
	}
	return next, true, nil
}

// Sink receives parsed telemetry. Implementations synchronize internally.
type Sink interface {
	ApplyProgress(key, value string)
	AppendDiagnostic(line string)
}

// Dispatch routes one line from the progress channel: key=value pairs go
// to ApplyProgress, anything else is diagnostic output.
func Dispatch(line string, sink Sink) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		sink.AppendDiagnostic(line)
		return
	}
	sink.ApplyProgress(key, value)
}
