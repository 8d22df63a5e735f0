package launchplan

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

var (
	// ErrInvalidPlan marks a plan that can never launch as written.
	ErrInvalidPlan = errors.New("invalid launch plan")
	// ErrMissingInput marks a plan that references a file that does not exist.
	ErrMissingInput = errors.New("input file missing")
)

const maxFPS = 240

// Profile is one rung of the adaptive bitrate ladder.
type Profile struct {
	Width       int `json:"width"`
	Height      int `json:"height"`
	BitrateKbps int `json:"bitrate_kbps"`
}

// Resolution renders the profile size as WIDTHxHEIGHT.
func (p Profile) Resolution() string {
	return fmt.Sprintf("%dx%d", p.Width, p.Height)
}

func (p Profile) String() string {
	return fmt.Sprintf("%s@%d", p.Resolution(), p.BitrateKbps)
}

// ParseResolution parses "1920x1080" into its dimensions.
func ParseResolution(value string) (int, int, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(value)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("resolution %q: expected WIDTHxHEIGHT", value)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return 0, 0, fmt.Errorf("resolution %q: invalid width", value)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return 0, 0, fmt.Errorf("resolution %q: invalid height", value)
	}
	return width, height, nil
}

// ParseProfile parses "1920x1080@4500" (bitrate in kbps).
func ParseProfile(value string) (Profile, error) {
	res, rate, ok := strings.Cut(strings.TrimSpace(value), "@")
	if !ok {
		return Profile{}, fmt.Errorf("profile %q: expected WIDTHxHEIGHT@KBPS", value)
	}
	width, height, err := ParseResolution(res)
	if err != nil {
		return Profile{}, fmt.Errorf("profile %q: %w", value, err)
	}
	bitrate, err := strconv.Atoi(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(rate)), "k"))
	if err != nil || bitrate <= 0 {
		return Profile{}, fmt.Errorf("profile %q: invalid bitrate", value)
	}
	return Profile{Width: width, Height: height, BitrateKbps: bitrate}, nil
}

// ParseProfiles parses a list of profile strings, preserving order.
func ParseProfiles(values []string) ([]Profile, error) {
	profiles := make([]Profile, 0, len(values))
	for _, value := range values {
		p, err := ParseProfile(value)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// Plan describes one broadcast: what to play, where to push it, and how to
// encode it. Profiles are ordered highest quality first.
type Plan struct {
	Files         []string  `json:"files"`
	Destination   string    `json:"destination"`
	Profiles      []Profile `json:"profiles"`
	Encoder       string    `json:"encoder"`
	Preset        string    `json:"preset,omitempty"`
	FPS           int       `json:"fps"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// Clone returns a deep copy so the caller's slices cannot alias supervisor state.
func (p Plan) Clone() Plan {
	out := p
	out.Files = append([]string(nil), p.Files...)
	out.Profiles = append([]Profile(nil), p.Profiles...)
	return out
}

// Primary returns the highest quality profile, the one pushed to Destination.
func (p Plan) Primary() Profile {
	if len(p.Profiles) == 0 {
		return Profile{}
	}
	return p.Profiles[0]
}

// Validate checks the plan shape and that every input file exists. All
// failures are fatal: retrying the same plan cannot succeed.
func (p Plan) Validate() error {
	if len(p.Files) == 0 {
		return fmt.Errorf("%w: no input files", ErrInvalidPlan)
	}
	if strings.TrimSpace(p.Destination) == "" {
		return fmt.Errorf("%w: destination is required", ErrInvalidPlan)
	}
	if len(p.Profiles) == 0 {
		return fmt.Errorf("%w: at least one profile is required", ErrInvalidPlan)
	}
	for i, profile := range p.Profiles {
		if profile.Width <= 0 || profile.Height <= 0 {
			return fmt.Errorf("%w: profile %d has invalid resolution %s", ErrInvalidPlan, i, profile.Resolution())
		}
		if profile.BitrateKbps <= 0 {
			return fmt.Errorf("%w: profile %d has invalid bitrate %d", ErrInvalidPlan, i, profile.BitrateKbps)
		}
	}
	if p.FPS <= 0 || p.FPS > maxFPS {
		return fmt.Errorf("%w: fps %d outside 1..%d", ErrInvalidPlan, p.FPS, maxFPS)
	}
	for _, file := range p.Files {
		info, err := os.Stat(file)
		switch {
		case errors.Is(err, os.ErrNotExist):
			return fmt.Errorf("%w: %s", ErrMissingInput, file)
		case err != nil:
			return fmt.Errorf("%w: stat %s: %v", ErrInvalidPlan, file, err)
		case !info.Mode().IsRegular():
			return fmt.Errorf("%w: %s is not a regular file", ErrInvalidPlan, file)
		}
	}
	return nil
}
