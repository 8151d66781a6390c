package files

import (
	"os"
	"path/filepath"
	"time"
)

// maxSweepDepth bounds the cleanup walk so a malformed tree (symlink loops,
// runaway nesting) cannot stall the sweep.
const maxSweepDepth = 8

// SweepResult summarizes one retention sweep.
type SweepResult struct {
	FilesRemoved int
	DirsRemoved  int
	Errors       int
}

// Sweep deletes files under the root older than the retention period and
// removes directories the sweep fully emptied. The walk is an explicit
// stack-based iteration with a bounded depth rather than recursion.
func (m *Manager) Sweep(retention time.Duration, now time.Time) SweepResult {
	var res SweepResult
	cutoff := now.Add(-retention)

	type frame struct {
		dir   string
		depth int
	}

	// first pass: delete stale files, collecting visited directories
	stack := []frame{{dir: m.root, depth: 0}}
	var dirs []frame
	for len(stack) > 0 {
		fr := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(fr.dir)
		if err != nil {
			res.Errors++
			continue
		}
		for _, e := range entries {
			p := filepath.Join(fr.dir, e.Name())
			if e.IsDir() {
				if fr.depth+1 <= maxSweepDepth {
					stack = append(stack, frame{dir: p, depth: fr.depth + 1})
					dirs = append(dirs, frame{dir: p, depth: fr.depth + 1})
				}
				continue
			}
			info, err := e.Info()
			if err != nil {
				res.Errors++
				continue
			}
			if info.ModTime().Before(cutoff) {
				if err := os.Remove(p); err != nil {
					res.Errors++
					continue
				}
				res.FilesRemoved++
			}
		}
	}

	// second pass: drop emptied directories, deepest first
	for i := len(dirs) - 1; i >= 0; i-- {
		entries, err := os.ReadDir(dirs[i].dir)
		if err != nil || len(entries) > 0 {
			continue
		}
		if err := os.Remove(dirs[i].dir); err == nil {
			res.DirsRemoved++
		}
	}

	if res.FilesRemoved > 0 || res.DirsRemoved > 0 {
		m.log.Info().
			Int("files", res.FilesRemoved).
			Int("dirs", res.DirsRemoved).
			Int("errors", res.Errors).
			Msg("retention sweep completed")
	}
	return res
}
