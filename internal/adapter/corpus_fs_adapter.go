// Package adapter contains filesystem and process adapters for the aflcov CLI.
package adapter

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	m "aflcov.dev/pkg/aflcov/internal/model"
)

// ErrCorpusNotFound is returned when no queue directory exists under the
// fuzzing directory the user pointed at.
var ErrCorpusNotFound = errors.New("no queue directory found")

// ErrOutputDirExists is returned when the output directory already exists and
// overwriting was not requested.
var ErrOutputDirExists = errors.New("output directory already exists")

// CorpusFSAdapter abstracts the filesystem operations the engine relies on:
// corpus enumeration, output directory lifecycle, and raw artifact plumbing.
// It hides direct `os` access so the domain layer can be tested without
// touching the disk.
type CorpusFSAdapter interface {
	// ListQueue enumerates the test cases under an AFL output directory.
	// Both single-instance (<dir>/queue) and multi-instance sync layouts
	// (<dir>/<instance>/queue) are supported. The returned sequence is
	// sorted by (instance, file name) so enumerating an unchanged corpus
	// twice yields the same order.
	ListQueue(root m.Path) ([]m.TestCase, error)

	// InitOutputDir creates dir, deleting a previous one first when
	// overwrite is set. Returns ErrOutputDirExists when dir exists and
	// overwrite is false.
	InitOutputDir(dir m.Path, overwrite bool) error

	// MkdirAll creates a directory and any missing parents.
	MkdirAll(path m.Path) error

	// RemoveAll removes a path and everything under it.
	RemoveAll(path m.Path) error

	// Remove removes a single file, ignoring already-gone files.
	Remove(path m.Path) error

	// ReadFile loads a file from disk and returns its contents.
	ReadFile(path m.Path) ([]byte, error)

	// WriteFile writes content to a file with the given permissions.
	WriteFile(path m.Path, content []byte, perm os.FileMode) error

	// Rename moves oldpath to newpath, replacing newpath if it exists.
	Rename(oldpath, newpath m.Path) error

	// Symlink creates a symbolic link at link pointing to target.
	Symlink(target, link m.Path) error

	// Glob returns the paths matching a filepath.Glob pattern, sorted.
	Glob(pattern string) ([]m.Path, error)

	// WalkSuffix returns every file under root whose name has the given
	// suffix, sorted.
	WalkSuffix(root m.Path, suffix string) ([]m.Path, error)

	// FileExists reports whether path exists and is a regular file.
	FileExists(path m.Path) bool

	// DirExists reports whether path exists and is a directory.
	DirExists(path m.Path) bool

	// LookPath resolves a command name against PATH.
	LookPath(cmd string) error
}

// LocalCorpusFSAdapter is the concrete CorpusFSAdapter backed by the local
// filesystem.
type LocalCorpusFSAdapter struct{}

// NewLocalCorpusFSAdapter constructs a LocalCorpusFSAdapter ready to be wired
// into the engine.
func NewLocalCorpusFSAdapter() *LocalCorpusFSAdapter {
	return &LocalCorpusFSAdapter{}
}

// ListQueue enumerates queue entries under an AFL fuzzing directory.
func (a *LocalCorpusFSAdapter) ListQueue(root m.Path) ([]m.TestCase, error) {
	type instanceQueue struct {
		name string
		dir  string
	}

	var queues []instanceQueue

	// The user may point at a single instance directory (output/default) or
	// at the top-level sync directory (output).
	if a.DirExists(m.Path(filepath.Join(string(root), "queue"))) {
		queues = append(queues, instanceQueue{
			name: "default",
			dir:  filepath.Join(string(root), "queue"),
		})
	} else {
		entries, err := os.ReadDir(string(root))
		if err != nil {
			return nil, fmt.Errorf("read fuzzing dir %s: %w", root, err)
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}

			queueDir := filepath.Join(string(root), entry.Name(), "queue")
			if a.DirExists(m.Path(queueDir)) {
				queues = append(queues, instanceQueue{name: entry.Name(), dir: queueDir})
			}
		}
	}

	if len(queues) == 0 {
		return nil, fmt.Errorf("%w under %s", ErrCorpusNotFound, root)
	}

	sort.Slice(queues, func(i, j int) bool { return queues[i].name < queues[j].name })

	var cases []m.TestCase

	for _, q := range queues {
		entries, err := os.ReadDir(q.dir)
		if err != nil {
			return nil, fmt.Errorf("read queue %s: %w", q.dir, err)
		}

		names := make([]string, 0, len(entries))

		for _, entry := range entries {
			// Queue entries are files named id:...; .state and crash/hang
			// siblings never live inside queue/ but nested dirs do.
			if entry.IsDir() || !strings.HasPrefix(entry.Name(), "id:") {
				continue
			}

			names = append(names, entry.Name())
		}

		sort.Strings(names)

		for _, name := range names {
			path := filepath.Join(q.dir, name)

			info, err := os.Stat(path)
			if err != nil {
				return nil, fmt.Errorf("stat queue entry %s: %w", path, err)
			}

			cases = append(cases, m.TestCase{
				ID:       q.name + "/" + name,
				Instance: q.name,
				Path:     m.Path(path),
				Size:     info.Size(),
				Order:    len(cases),
			})
		}
	}

	slog.Info("collected queue files", "root", root, "instances", len(queues), "cases", len(cases))

	return cases, nil
}

// InitOutputDir prepares the campaign output directory.
func (a *LocalCorpusFSAdapter) InitOutputDir(dir m.Path, overwrite bool) error {
	if _, err := os.Stat(string(dir)); err == nil {
		if !overwrite {
			return fmt.Errorf("%w: %s", ErrOutputDirExists, dir)
		}

		slog.Warn("deleting previous output directory", "dir", dir)

		if err := os.RemoveAll(string(dir)); err != nil {
			return fmt.Errorf("remove previous output dir: %w", err)
		}
	}

	return os.MkdirAll(string(dir), 0o750)
}

// MkdirAll creates a directory and any missing parents.
func (a *LocalCorpusFSAdapter) MkdirAll(path m.Path) error {
	return os.MkdirAll(string(path), 0o750)
}

// RemoveAll removes a path and everything under it.
func (a *LocalCorpusFSAdapter) RemoveAll(path m.Path) error {
	return os.RemoveAll(string(path))
}

// Remove removes a single file, ignoring already-gone files.
func (a *LocalCorpusFSAdapter) Remove(path m.Path) error {
	err := os.Remove(string(path))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return nil
}

// ReadFile loads file contents from disk.
func (a *LocalCorpusFSAdapter) ReadFile(path m.Path) ([]byte, error) {
	return os.ReadFile(string(path))
}

// WriteFile writes content to a file with the given permissions.
func (a *LocalCorpusFSAdapter) WriteFile(path m.Path, content []byte, perm os.FileMode) error {
	return os.WriteFile(string(path), content, perm)
}

// Rename moves oldpath to newpath, replacing newpath if it exists.
func (a *LocalCorpusFSAdapter) Rename(oldpath, newpath m.Path) error {
	return os.Rename(string(oldpath), string(newpath))
}

// Symlink creates a symbolic link at link pointing to target.
func (a *LocalCorpusFSAdapter) Symlink(target, link m.Path) error {
	return os.Symlink(string(target), string(link))
}

// Glob returns the paths matching pattern, sorted.
func (a *LocalCorpusFSAdapter) Glob(pattern string) ([]m.Path, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}

	sort.Strings(matches)

	paths := make([]m.Path, 0, len(matches))
	for _, match := range matches {
		paths = append(paths, m.Path(match))
	}

	return paths, nil
}

// WalkSuffix returns every file under root with the given suffix, sorted.
func (a *LocalCorpusFSAdapter) WalkSuffix(root m.Path, suffix string) ([]m.Path, error) {
	var paths []m.Path

	err := filepath.Walk(string(root), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() && strings.HasSuffix(path, suffix) {
			paths = append(paths, m.Path(path))
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })

	return paths, nil
}

// FileExists reports whether path exists and is a regular file.
func (a *LocalCorpusFSAdapter) FileExists(path m.Path) bool {
	info, err := os.Stat(string(path))
	return err == nil && info.Mode().IsRegular()
}

// DirExists reports whether path exists and is a directory.
func (a *LocalCorpusFSAdapter) DirExists(path m.Path) bool {
	info, err := os.Stat(string(path))
	return err == nil && info.IsDir()
}

// LookPath resolves a command name against PATH. Absolute and relative paths
// are checked directly.
func (a *LocalCorpusFSAdapter) LookPath(cmd string) error {
	if strings.ContainsRune(cmd, os.PathSeparator) {
		if a.FileExists(m.Path(cmd)) {
			return nil
		}

		return fmt.Errorf("%s: %w", cmd, os.ErrNotExist)
	}

	_, err := exec.LookPath(cmd)

	return err
}
