// Package staging materializes a session's files: a shallow copy of an
// optional source directory followed by the entry script.
package staging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// ErrInvalidEntryName is returned for entry names that are not a plain file name.
var ErrInvalidEntryName = errors.New("invalid entry file name")

// Failure records one source entry that could not be staged.
type Failure struct {
	Name string
	Err  error
}

func (f Failure) Error() string {
	return fmt.Sprintf("stage %s: %v", f.Name, f.Err)
}

// Report summarizes one Stage call.
type Report struct {
	Copied   []string
	Skipped  []string
	Failures []Failure
	Bytes    int64
}

type Stager struct {
	fs   afero.Fs
	skip map[string]struct{}
	log  *zap.Logger
}

// New returns a Stager that never copies source directories named in skipDirs.
func New(fs afero.Fs, skipDirs []string, log *zap.Logger) *Stager {
	skip := make(map[string]struct{}, len(skipDirs))
	for _, d := range skipDirs {
		skip[d] = struct{}{}
	}
	return &Stager{fs: fs, skip: skip, log: log}
}

// ValidateEntryName checks that name is a plain file name.
func ValidateEntryName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return fmt.Errorf("%w: %q", ErrInvalidEntryName, name)
	}
	return nil
}

// Stage copies the immediate entries of sourceDir into stagingDir and then
// writes entryContent to entryName.
//
// Directories are copied only when no destination of that name exists yet;
// files are always overwritten. Per-entry failures are logged and reported
// but do not stop staging. Only an invalid entry name or a failed write of
// the entry script is returned as an error.
func (s *Stager) Stage(stagingDir, entryName, entryContent, sourceDir string) (Report, error) {
	var report Report
	if err := ValidateEntryName(entryName); err != nil {
		return report, err
	}

	if sourceDir != "" {
		s.copySource(stagingDir, entryName, sourceDir, &report)
	}

	entryPath := filepath.Join(stagingDir, entryName)
	if err := afero.WriteFile(s.fs, entryPath, []byte(entryContent), 0o644); err != nil {
		return report, fmt.Errorf("write entry script: %w", err)
	}
	report.Bytes += int64(len(entryContent))

	if sourceDir != "" {
		s.log.Debug("staged source directory",
			zap.String("staging_dir", stagingDir),
			zap.Int("copied", len(report.Copied)),
			zap.Int("skipped", len(report.Skipped)),
			zap.Int("failed", len(report.Failures)),
			zap.String("size", units.HumanSize(float64(report.Bytes))))
	}
	return report, nil
}

func (s *Stager) copySource(stagingDir, entryName, sourceDir string, report *Report) {
	if ok, err := afero.DirExists(s.fs, sourceDir); err != nil || !ok {
		if err != nil {
			s.fail(report, sourceDir, err)
		}
		return
	}

	entries, err := afero.ReadDir(s.fs, sourceDir)
	if err != nil {
		s.fail(report, sourceDir, err)
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		src := filepath.Join(sourceDir, name)
		dst := filepath.Join(stagingDir, name)

		switch {
		case entry.Mode()&os.ModeSymlink != 0:
			report.Skipped = append(report.Skipped, name)

		case entry.IsDir():
			if s.skipDir(name) {
				report.Skipped = append(report.Skipped, name)
				continue
			}
			if _, err := s.fs.Stat(dst); err == nil {
				report.Skipped = append(report.Skipped, name)
				continue
			}
			n, err := s.copyTree(src, dst, stagingDir)
			if err != nil {
				s.fail(report, name, err)
				continue
			}
			report.Copied = append(report.Copied, name)
			report.Bytes += n

		case entry.Mode().IsRegular():
			if name == entryName {
				continue
			}
			n, err := s.copyFile(src, dst, entry)
			if err != nil {
				s.fail(report, name, err)
				continue
			}
			report.Copied = append(report.Copied, name)
			report.Bytes += n

		default:
			// Sockets, devices and pipes.
			report.Skipped = append(report.Skipped, name)
		}
	}
}

func (s *Stager) skipDir(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	_, ok := s.skip[name]
	return ok
}

// copyTree copies src into a scratch directory next to dst and renames it
// into place, so a failed copy never leaves a partial dst behind.
func (s *Stager) copyTree(src, dst, stagingDir string) (int64, error) {
	tmp, err := afero.TempDir(s.fs, stagingDir, ".staging-")
	if err != nil {
		return 0, err
	}

	var total int64
	walkErr := afero.Walk(s.fs, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(tmp, rel)

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			return nil
		case info.IsDir():
			return s.fs.MkdirAll(target, info.Mode().Perm()|0o700)
		case info.Mode().IsRegular():
			n, err := s.copyFile(path, target, info)
			total += n
			return err
		default:
			return nil
		}
	})
	if walkErr == nil {
		walkErr = s.fs.Rename(tmp, dst)
	}
	if walkErr != nil {
		_ = s.fs.RemoveAll(tmp)
		return 0, walkErr
	}
	return total, nil
}

// copyFile copies src over dst keeping permission bits and modification time.
func (s *Stager) copyFile(src, dst string, info os.FileInfo) (int64, error) {
	in, err := s.fs.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := s.fs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return n, err
	}

	if err := s.fs.Chmod(dst, info.Mode().Perm()); err != nil {
		return n, err
	}
	if err := s.fs.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return n, err
	}
	return n, nil
}

func (s *Stager) fail(report *Report, name string, err error) {
	s.log.Warn("staging entry failed", zap.String("entry", name), zap.Error(err))
	report.Failures = append(report.Failures, Failure{Name: name, Err: err})
}
