package preflight

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MarkerFile records the time of the last passing check in the data dir.
const MarkerFile = ".doctor-passed"

// MarkPassed records that checks passed at now.
func MarkPassed(dataDir string, now time.Time) error {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("create marker directory: %w", err)
	}
	content := []byte(now.UTC().Format(time.RFC3339))
	return os.WriteFile(filepath.Join(dataDir, MarkerFile), content, 0644)
}

// ClearMarker removes the marker after a failed check.
func ClearMarker(dataDir string) error {
	err := os.Remove(filepath.Join(dataDir, MarkerFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove marker file: %w", err)
	}
	return nil
}

// LastPassed returns when checks last passed. ok is false when no readable
// marker exists.
func LastPassed(dataDir string) (t time.Time, ok bool) {
	content, err := os.ReadFile(filepath.Join(dataDir, MarkerFile))
	if err != nil {
		return time.Time{}, false
	}
	t, err = time.Parse(time.RFC3339, strings.TrimSpace(string(content)))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
