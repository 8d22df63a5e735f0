package concat

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"streamhost/internal/launchplan"
)

const (
	// DirPrefix names every manifest directory so orphans can be swept later.
	DirPrefix = "streamhost_playlist_"
	// FileName is the manifest file inside its directory.
	FileName = "playlist.txt"
)

// Options controls where manifests are written and how paths are escaped.
type Options struct {
	TempDir string
	GOOS    string
}

// Manifest is an ephemeral concat list plus the temp directory that owns it.
type Manifest struct {
	dir     string
	path    string
	entries []string

	once       sync.Once
	cleanupErr error
}

// Build resolves files to absolute paths, checks each exists, and writes a
// concat manifest into a fresh temp directory. A missing file wraps
// launchplan.ErrMissingInput. On any failure nothing is left on disk.
func Build(files []string, opts Options) (*Manifest, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no input files", launchplan.ErrInvalidPlan)
	}
	goos := opts.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}

	entries := make([]string, 0, len(files))
	for _, file := range files {
		abs, err := filepath.Abs(file)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", file, err)
		}
		if _, err := os.Stat(abs); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", launchplan.ErrMissingInput, abs)
			}
			return nil, fmt.Errorf("stat %s: %w", abs, err)
		}
		entries = append(entries, abs)
	}

	dir, err := os.MkdirTemp(opts.TempDir, DirPrefix)
	if err != nil {
		return nil, fmt.Errorf("create manifest dir: %w", err)
	}
	m := &Manifest{dir: dir, path: filepath.Join(dir, FileName), entries: entries}

	var b strings.Builder
	for _, entry := range entries {
		b.WriteString(EscapeLine(entry, goos))
		b.WriteByte('\n')
	}
	if err := os.WriteFile(m.path, []byte(b.String()), 0o600); err != nil {
		_ = m.Cleanup()
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	return m, nil
}

// EscapeLine renders a single concat "file" directive for path.
func EscapeLine(path, goos string) string {
	if goos == "windows" {
		escaped := strings.ReplaceAll(path, `\`, `\\`)
		escaped = strings.ReplaceAll(escaped, `"`, `\"`)
		return `file "` + escaped + `"`
	}
	return "file '" + strings.ReplaceAll(path, "'", `'\''`) + "'"
}

// Path returns the manifest file path passed to the encoder.
func (m *Manifest) Path() string { return m.path }

// Dir returns the temp directory owning the manifest.
func (m *Manifest) Dir() string { return m.dir }

// Entries returns the resolved absolute input paths in playback order.
func (m *Manifest) Entries() []string {
	return append([]string(nil), m.entries...)
}

// Cleanup removes the manifest directory. Only the first call does any work;
// later calls return the first result.
func (m *Manifest) Cleanup() error {
	if m == nil {
		return nil
	}
	m.once.Do(func() {
		if err := os.RemoveAll(m.dir); err != nil {
			m.cleanupErr = fmt.Errorf("remove manifest dir %s: %w", m.dir, err)
		}
	})
	return m.cleanupErr
}
