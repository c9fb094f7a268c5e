package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lestrrat-go/strftime"
)

// DefaultLogFilePattern names one log file per day.
const DefaultLogFilePattern = "cvosc-%Y%m%d.log"

// OpenLogFile expands pattern with strftime conversion specifiers
// against the current time and opens the resulting path for append,
// creating parent directories as needed. An empty pattern returns
// (nil, nil): no log file.
func OpenLogFile(pattern string) (*os.File, error) {
	if pattern == "" {
		return nil, nil
	}
	path, err := strftime.Format(pattern, time.Now())
	if err != nil {
		return nil, fmt.Errorf("telemetry: log file pattern %q: %w", pattern, err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("telemetry: creating log directory %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("telemetry: opening log file %s: %w", path, err)
	}
	return f, nil
}
