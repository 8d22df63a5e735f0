package ffmpeg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const minStaleAge = 30 * time.Second

// StaleAge is how old a preview artifact must be before PruneStale removes it.
func StaleAge(segmentSeconds int) time.Duration {
	return max(3*time.Duration(segmentSeconds)*time.Second, minStaleAge)
}

// PruneStale removes entries in dir last modified before now minus
// StaleAge(segmentSeconds). Names listed in keep are never touched.
//
// Callers must hold the preview directory guard and must not have an
// encoder writing into dir.
func PruneStale(dir string, segmentSeconds int, now time.Time, keep ...string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read preview dir: %w", err)
	}
	skip := make(map[string]struct{}, len(keep))
	for _, name := range keep {
		skip[name] = struct{}{}
	}
	cutoff := now.Add(-StaleAge(segmentSeconds))

	removed := 0
	var errs []error
	for _, entry := range entries {
		if _, ok := skip[entry.Name()]; ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
