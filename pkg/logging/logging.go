package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"
)

// LogConfig holds the configuration for a LogBackend.
type LogConfig struct {
	// LogFile is the path of the rotated log file. Empty disables file
	// logging and only stderr is written to.
	LogFile string

	// DebugLevel is either a single level applied to all subsystems or a
	// comma separated list of SUBSYS=level pairs.
	DebugLevel string

	// MaxLogFiles is the number of rotated files kept around. Zero keeps
	// the rotator default.
	MaxLogFiles int
}

// LogBackend hands out per-subsystem loggers that write to stderr and,
// when configured, a size-rotated log file.
type LogBackend struct {
	backend *slog.Backend
	rotator *rotator.Rotator

	mu      sync.Mutex
	loggers map[string]slog.Logger
	level   string
}

// logWriter duplicates writes to stderr and the log rotator.
type logWriter struct {
	r *rotator.Rotator
}

func (w logWriter) Write(p []byte) (int, error) {
	os.Stderr.Write(p)
	if w.r != nil {
		w.r.Write(p)
	}
	return len(p), nil
}

// NewLogBackend creates a log backend from the given config.
func NewLogBackend(cfg LogConfig) (*LogBackend, error) {
	b := &LogBackend{
		loggers: make(map[string]slog.Logger),
		level:   cfg.DebugLevel,
	}
	if b.level == "" {
		b.level = "info"
	}
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0700); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		maxRolls := cfg.MaxLogFiles
		if maxRolls <= 0 {
			maxRolls = 8
		}
		r, err := rotator.New(cfg.LogFile, 32*1024, false, maxRolls)
		if err != nil {
			return nil, fmt.Errorf("failed to create log rotator: %w", err)
		}
		b.rotator = r
	}
	b.backend = slog.NewBackend(io.Writer(logWriter{r: b.rotator}))
	if _, err := parseDebugLevel(b.level, nil); err != nil {
		return nil, err
	}
	return b, nil
}

// Logger returns the logger for the given subsystem tag, creating it on
// first use with the backend's configured level.
func (b *LogBackend) Logger(subsystem string) slog.Logger {
	b.mu.Lock()
	defer b.mu.Unlock()
	if l, ok := b.loggers[subsystem]; ok {
		return l
	}
	l := b.backend.Logger(subsystem)
	lvl, _ := parseDebugLevel(b.level, &subsystem)
	l.SetLevel(lvl)
	b.loggers[subsystem] = l
	return l
}

// SetLogLevels reconfigures the levels of all existing and future loggers.
func (b *LogBackend) SetLogLevels(debugLevel string) error {
	if _, err := parseDebugLevel(debugLevel, nil); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.level = debugLevel
	for tag, l := range b.loggers {
		lvl, _ := parseDebugLevel(debugLevel, &tag)
		l.SetLevel(lvl)
	}
	return nil
}

// Close flushes and closes the log rotator.
func (b *LogBackend) Close() error {
	if b.rotator != nil {
		return b.rotator.Close()
	}
	return nil
}

// Subsystems returns the tags of all loggers created so far, sorted.
func (b *LogBackend) Subsystems() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	tags := make([]string, 0, len(b.loggers))
	for tag := range b.loggers {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// parseDebugLevel resolves the level for a subsystem from a debug level
// spec. The spec is either a bare level name applied to everything or a
// comma separated list of SUBSYS=level pairs; pairs for other subsystems
// are ignored. Passing a nil subsystem only validates the spec.
func parseDebugLevel(spec string, subsystem *string) (slog.Level, error) {
	if !strings.Contains(spec, "=") {
		lvl, ok := slog.LevelFromString(spec)
		if !ok {
			return slog.LevelInfo, fmt.Errorf("invalid debug level %q", spec)
		}
		return lvl, nil
	}
	result := slog.LevelInfo
	for _, pair := range strings.Split(spec, ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			return slog.LevelInfo, fmt.Errorf("invalid debug level pair %q", pair)
		}
		lvl, ok := slog.LevelFromString(parts[1])
		if !ok {
			return slog.LevelInfo, fmt.Errorf("invalid debug level %q", parts[1])
		}
		if subsystem != nil && parts[0] == *subsystem {
			result = lvl
		}
	}
	return result, nil
}
