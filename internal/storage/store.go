package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// ErrNoArchive indicates a directory contains no supported archive file.
var ErrNoArchive = errors.New("no archive file found")

var archiveExtensions = []string{".zip", ".tar", ".tgz", ".gz"}

// Store performs the filesystem side of assignment state: locating archives,
// reading and writing memo outputs, and atomic document writes serialised per
// path.
type Store struct {
	layout Layout
	locks  *xsync.MapOf[string, *sync.Mutex]
}

// NewStore creates a store over the given layout.
func NewStore(layout Layout) *Store {
	return &Store{
		layout: layout,
		locks:  xsync.NewMapOf[string, *sync.Mutex](),
	}
}

// Layout exposes the path resolver backing this store.
func (s *Store) Layout() Layout {
	return s.layout
}

// FirstArchiveIn returns the first supported archive (.zip, .tar, .tgz, .gz)
// in the given directory.
func (s *Store) FirstArchiveIn(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read archive dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		for _, allowed := range archiveExtensions {
			if ext == allowed {
				return filepath.Join(dir, entry.Name()), nil
			}
		}
	}

	return "", fmt.Errorf("%w in %s", ErrNoArchive, dir)
}

// WriteMemoOutput persists the captured memo output blob for a task.
func (s *Store) WriteMemoOutput(moduleID, assignmentID uint, taskNumber int, blob []byte) error {
	path := s.layout.MemoOutputPath(moduleID, assignmentID, taskNumber)
	return s.WriteFileAtomic(path, blob)
}

// ReadMemoOutput loads the captured memo output blob for a task.
func (s *Store) ReadMemoOutput(moduleID, assignmentID uint, taskNumber int) ([]byte, error) {
	return os.ReadFile(s.layout.MemoOutputPath(moduleID, assignmentID, taskNumber))
}

// MemoOutputExists reports whether the memo output for a task is on disk.
func (s *Store) MemoOutputExists(moduleID, assignmentID uint, taskNumber int) bool {
	_, err := os.Stat(s.layout.MemoOutputPath(moduleID, assignmentID, taskNumber))
	return err == nil
}

// ClearMemoOutputs removes all captured memo outputs for an assignment.
func (s *Store) ClearMemoOutputs(moduleID, assignmentID uint) error {
	dir := s.layout.MemoOutputDir(moduleID, assignmentID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clear memo outputs: %w", err)
	}
	return nil
}

// WriteFileAtomic writes content via a temp file and rename, serialised per
// destination path so concurrent writers cannot interleave.
func (s *Store) WriteFileAtomic(path string, content []byte) error {
	mu, _ := s.locks.LoadOrStore(path, &sync.Mutex{})
	mu.Lock()
	defer mu.Unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	tmp := filepath.Join(dir, fmt.Sprintf(".%s.tmp", uuid.NewString()))
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename into place: %w", err)
	}

	return nil
}

// NewWorkDir allocates a fresh scratch directory for one sandbox run.
func (s *Store) NewWorkDir() (string, error) {
	dir := filepath.Join(os.TempDir(), "fitchfork-run-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	return dir, nil
}
