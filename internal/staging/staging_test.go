package staging

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var defaultSkip = []string{"__pycache__", "venv", ".venv", "env", "node_modules", ".git", ".mypy_cache", ".pytest_cache"}

func newMemStager(t *testing.T) (*Stager, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/stage", 0o755))
	require.NoError(t, fs.MkdirAll("/src", 0o755))
	return New(fs, defaultSkip, zaptest.NewLogger(t)), fs
}

func writeFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
}

func readFile(t *testing.T, fs afero.Fs, path string) string {
	t.Helper()
	b, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	return string(b)
}

func TestStageEntryOnly(t *testing.T) {
	s, fs := newMemStager(t)

	report, err := s.Stage("/stage", "script.py", "print('hi')", "")
	require.NoError(t, err)

	assert.Equal(t, "print('hi')", readFile(t, fs, "/stage/script.py"))
	assert.Empty(t, report.Copied)
	assert.Equal(t, int64(len("print('hi')")), report.Bytes)
}

func TestStageEntryAlwaysOverwritten(t *testing.T) {
	s, fs := newMemStager(t)

	_, err := s.Stage("/stage", "script.py", "v1", "")
	require.NoError(t, err)
	_, err = s.Stage("/stage", "script.py", "v2", "")
	require.NoError(t, err)

	assert.Equal(t, "v2", readFile(t, fs, "/stage/script.py"))
}

func TestStageCopiesFilesAndDirs(t *testing.T) {
	s, fs := newMemStager(t)
	writeFile(t, fs, "/src/data.txt", "42")
	writeFile(t, fs, "/src/helper.py", "def f(): return 1")
	writeFile(t, fs, "/src/assets/img/logo.txt", "logo")

	report, err := s.Stage("/stage", "main.py", "import helper", "/src")
	require.NoError(t, err)

	assert.Equal(t, "42", readFile(t, fs, "/stage/data.txt"))
	assert.Equal(t, "def f(): return 1", readFile(t, fs, "/stage/helper.py"))
	assert.Equal(t, "logo", readFile(t, fs, "/stage/assets/img/logo.txt"))
	assert.ElementsMatch(t, []string{"data.txt", "helper.py", "assets"}, report.Copied)
	assert.Empty(t, report.Failures)
}

func TestStageSkipsHousekeepingDirs(t *testing.T) {
	s, fs := newMemStager(t)
	for _, d := range []string{"__pycache__", "venv", "node_modules", ".git", ".hidden", "env"} {
		writeFile(t, fs, filepath.Join("/src", d, "x"), "x")
	}
	writeFile(t, fs, "/src/pkg/mod.py", "")

	report, err := s.Stage("/stage", "script.py", "", "/src")
	require.NoError(t, err)

	for _, d := range []string{"__pycache__", "venv", "node_modules", ".git", ".hidden", "env"} {
		exists, err := afero.Exists(fs, filepath.Join("/stage", d))
		require.NoError(t, err)
		assert.False(t, exists, d)
	}
	assert.Equal(t, []string{"pkg"}, report.Copied)
	assert.Len(t, report.Skipped, 6)
}

func TestStageDotFilesAreCopied(t *testing.T) {
	s, fs := newMemStager(t)
	writeFile(t, fs, "/src/.env", "KEY=1")

	_, err := s.Stage("/stage", "script.py", "", "/src")
	require.NoError(t, err)

	// Only dot-prefixed directories are skipped.
	assert.Equal(t, "KEY=1", readFile(t, fs, "/stage/.env"))
}

func TestStageDirectoriesAreNonDestructive(t *testing.T) {
	s, fs := newMemStager(t)
	writeFile(t, fs, "/src/assets/a.txt", "first")

	_, err := s.Stage("/stage", "script.py", "", "/src")
	require.NoError(t, err)

	writeFile(t, fs, "/src/assets/a.txt", "second")
	writeFile(t, fs, "/src/assets/b.txt", "new")

	report, err := s.Stage("/stage", "script.py", "", "/src")
	require.NoError(t, err)

	assert.Equal(t, "first", readFile(t, fs, "/stage/assets/a.txt"))
	exists, err := afero.Exists(fs, "/stage/assets/b.txt")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Contains(t, report.Skipped, "assets")
}

func TestStageFilesAreOverwritten(t *testing.T) {
	s, fs := newMemStager(t)
	writeFile(t, fs, "/src/data.txt", "first")
	_, err := s.Stage("/stage", "script.py", "", "/src")
	require.NoError(t, err)

	writeFile(t, fs, "/src/data.txt", "second")
	_, err = s.Stage("/stage", "script.py", "", "/src")
	require.NoError(t, err)

	assert.Equal(t, "second", readFile(t, fs, "/stage/data.txt"))
}

func TestStageEntryNotCopiedFromSource(t *testing.T) {
	s, fs := newMemStager(t)
	writeFile(t, fs, "/src/script.py", "from source")

	_, err := s.Stage("/stage", "script.py", "from request", "/src")
	require.NoError(t, err)

	assert.Equal(t, "from request", readFile(t, fs, "/stage/script.py"))
}

func TestStageMissingSourceDir(t *testing.T) {
	s, fs := newMemStager(t)

	report, err := s.Stage("/stage", "script.py", "x", "/does/not/exist")
	require.NoError(t, err)

	assert.Equal(t, "x", readFile(t, fs, "/stage/script.py"))
	assert.Empty(t, report.Failures)
}

func TestStagePerEntryFailureIsReported(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "ok.txt"), []byte("ok"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "clash.txt"), []byte("clash"), 0o644))
	// A directory in the way of a file copy.
	require.NoError(t, os.MkdirAll(filepath.Join(dst, "clash.txt"), 0o755))

	s := New(afero.NewOsFs(), defaultSkip, zaptest.NewLogger(t))
	report, err := s.Stage(dst, "script.py", "x", src)
	require.NoError(t, err)

	require.Len(t, report.Failures, 1)
	assert.Equal(t, "clash.txt", report.Failures[0].Name)
	assert.Contains(t, report.Failures[0].Error(), "clash.txt")

	ok, err := os.ReadFile(filepath.Join(dst, "ok.txt"))
	require.NoError(t, err)
	assert.Equal(t, "ok", string(ok))
	entry, err := os.ReadFile(filepath.Join(dst, "script.py"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(entry))
}

func TestStageInvalidEntryName(t *testing.T) {
	s, _ := newMemStager(t)

	for _, name := range []string{"", ".", "..", "../x.py", "a/b.py", `a\b.py`} {
		_, err := s.Stage("/stage", name, "x", "")
		assert.ErrorIs(t, err, ErrInvalidEntryName, name)
	}
}

func TestStagePreservesModeAndMtime(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	path := filepath.Join(src, "run.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh"), 0o755))
	mtime := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	s := New(afero.NewOsFs(), defaultSkip, zaptest.NewLogger(t))
	_, err := s.Stage(dst, "script.py", "", src)
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dst, "run.sh"))
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(mtime))
	if runtime.GOOS != "windows" {
		assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	}
}

func TestStageSkipsSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret"), []byte("s"), 0o600))

	src := t.TempDir()
	dst := t.TempDir()
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret"), filepath.Join(src, "link")))
	require.NoError(t, os.Symlink(outside, filepath.Join(src, "linkdir")))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "pkg"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret"), filepath.Join(src, "pkg", "nested")))

	s := New(afero.NewOsFs(), defaultSkip, zaptest.NewLogger(t))
	report, err := s.Stage(dst, "script.py", "", src)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"link", "linkdir"}, report.Skipped)
	_, err = os.Lstat(filepath.Join(dst, "link"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Lstat(filepath.Join(dst, "pkg", "nested"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dst, "pkg"))
	assert.NoError(t, err)
}
