package rasterizer

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CleanupTemps removes temporary files and directories left by the mutool
// engine (cropsrc-*, croppage-*) older than maxAge. It returns how many
// entries were removed.
func CleanupTemps(dir string, maxAge time.Duration) int {
	if dir == "" {
		dir = os.TempDir()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	now := time.Now()
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, srcTempPrefix) && !strings.HasPrefix(name, pageTempPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < maxAge {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, name)); err == nil {
			removed++
		}
	}
	return removed
}
