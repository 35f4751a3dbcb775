// Package retention deletes aged certificates and leaked scratch data.
package retention

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"
)

// DefaultScratchGrace is the longest a pipeline run is expected to take.
// Scratch data younger than this is never swept, whatever max age says.
const DefaultScratchGrace = time.Hour

// RetentionError records one entry the sweep could not inspect or delete.
type RetentionError struct {
	Path string
	Err  error
}

func (e *RetentionError) Error() string {
	return fmt.Sprintf("retention: %s: %v", e.Path, e.Err)
}

func (e *RetentionError) Unwrap() error { return e.Err }

// Report summarises a sweep.
type Report struct {
	DeletedCount int
	FreedBytes   int64
	Errors       []*RetentionError
}

// Sweeper deletes files older than MaxAge.
type Sweeper struct {
	MaxAge       time.Duration
	ScratchGrace time.Duration // zero means DefaultScratchGrace

	now func() time.Time
}

// Sweep runs a sweep with the default scratch grace period.
func Sweep(outputDir, scratchDir string, maxAge time.Duration) Report {
	return (&Sweeper{MaxAge: maxAge}).Sweep(outputDir, scratchDir)
}

// Sweep scans outputDir for regular files and scratchDir for per-run
// directories, deleting whatever is older than the threshold. Failures are
// collected in the report and never stop the scan. Missing directories are
// treated as empty.
func (s *Sweeper) Sweep(outputDir, scratchDir string) Report {
	now := time.Now()
	if s.now != nil {
		now = s.now()
	}

	grace := s.ScratchGrace
	if grace <= 0 {
		grace = DefaultScratchGrace
	}
	scratchAge := s.MaxAge
	if scratchAge < grace {
		scratchAge = grace
	}

	var r Report
	if outputDir != "" {
		s.sweepOutput(&r, outputDir, now.Add(-s.MaxAge))
	}
	if scratchDir != "" {
		s.sweepScratch(&r, scratchDir, now.Add(-scratchAge))
	}

	log.Printf("[INFO] Retention sweep complete: deleted=%d freed_bytes=%d errors=%d", r.DeletedCount, r.FreedBytes, len(r.Errors))
	return r
}

func (s *Sweeper) sweepOutput(r *Report, dir string, cutoff time.Time) {
	entries, ok := readDir(r, dir)
	if !ok {
		return
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			r.fail(path, err)
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			r.fail(path, err)
			continue
		}
		r.DeletedCount++
		r.FreedBytes += info.Size()
	}
}

func (s *Sweeper) sweepScratch(r *Report, dir string, cutoff time.Time) {
	entries, ok := readDir(r, dir)
	if !ok {
		return
	}
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())

		if entry.Type().IsRegular() {
			info, err := entry.Info()
			if err != nil {
				r.fail(path, err)
				continue
			}
			if info.ModTime().Before(cutoff) {
				if err := os.Remove(path); err != nil {
					r.fail(path, err)
					continue
				}
				r.DeletedCount++
				r.FreedBytes += info.Size()
			}
			continue
		}
		if !entry.IsDir() {
			continue
		}

		// A run directory is judged by its newest entry, so a run still
		// writing files is never removed.
		newest, files, size, err := inspectTree(path)
		if err != nil {
			r.fail(path, err)
			continue
		}
		if !newest.Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			r.fail(path, err)
			continue
		}
		r.DeletedCount += files
		r.FreedBytes += size
	}
}

func inspectTree(root string) (newest time.Time, files int, size int64, err error) {
	err = filepath.WalkDir(root, func(_ string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		if info.Mode().IsRegular() {
			files++
			size += info.Size()
		}
		return nil
	})
	return newest, files, size, err
}

func readDir(r *Report, dir string) ([]os.DirEntry, bool) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false
	}
	if err != nil {
		r.fail(dir, err)
		return nil, false
	}
	return entries, true
}

func (r *Report) fail(path string, err error) {
	log.Printf("[WARN] Retention sweep skipped entry: path=%s error=%v", path, err)
	r.Errors = append(r.Errors, &RetentionError{Path: path, Err: err})
}
