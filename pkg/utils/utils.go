package utils

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

// GenerateCode builds a random string of length chars drawn from alphabet.
func GenerateCode(rng *rand.Rand, alphabet string, length int) string {
	var sb strings.Builder
	sb.Grow(length)
	for i := 0; i < length; i++ {
		sb.WriteByte(alphabet[rng.Intn(len(alphabet))])
	}
	return sb.String()
}

// Single returns the only element of items for which pred is true, or
// false when no element or more than one matches.
func Single[T any](items []T, pred func(T) bool) (T, bool) {
	var found T
	var count int
	for _, item := range items {
		if pred(item) {
			found = item
			count++
		}
	}
	if count != 1 {
		var zero T
		return zero, false
	}
	return found, true
}

// EnsureDataDirExists creates the datadir and necessary subdirectories if they don't exist
func EnsureDataDirExists(datadir string) error {
	// Create main datadir
	if err := os.MkdirAll(datadir, 0700); err != nil {
		return fmt.Errorf("failed to create datadir %s: %v", datadir, err)
	}

	// Create logs subdirectory
	logsDir := filepath.Join(datadir, "logs")
	if err := os.MkdirAll(logsDir, 0700); err != nil {
		return fmt.Errorf("failed to create logs directory %s: %v", logsDir, err)
	}

	return nil
}
