// Package store provides content store implementations for generated files
package store

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/taskmesh/taskmesh/pkg/logger"
	"github.com/taskmesh/taskmesh/pkg/utils"
)

// MemoryStore keeps file content in memory. It backs tests and runs that
// don't write through to a checkout.
type MemoryStore struct {
	mu      sync.RWMutex
	files   map[string]string
	commits []Commit
}

// Commit records a single write-back
type Commit struct {
	ID      string
	Path    string
	Content string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files: make(map[string]string),
	}
}

// Fetch returns the current content of a file
func (s *MemoryStore) Fetch(_ context.Context, path string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	content, ok := s.files[utils.NormalizePath(path)]
	if !ok {
		return "", fmt.Errorf("no content for %s", path)
	}
	return content, nil
}

// Commit stores content and returns a commit id
func (s *MemoryStore) Commit(_ context.Context, path, content string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New().String()
	s.files[utils.NormalizePath(path)] = content
	s.commits = append(s.commits, Commit{ID: id, Path: path, Content: content})
	return id, nil
}

// Commits returns all recorded commits in order
func (s *MemoryStore) Commits() []Commit {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Commit, len(s.commits))
	copy(out, s.commits)
	return out
}

// FileStore reads and writes generated files under a project root. Reads
// go through a cache that is invalidated by fsnotify events, so content
// fetched repeatedly within a cycle doesn't hit the disk each time while
// edits made underneath the coordinator are still picked up.
type FileStore struct {
	root    string
	logger  logger.Logger
	watcher *fsnotify.Watcher

	mu    sync.RWMutex
	cache map[string]string
}

// NewFileStore creates a file store rooted at the given directory
func NewFileStore(root string, log logger.Logger) (*FileStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store root: %w", err)
	}

	s := &FileStore{
		root:   abs,
		logger: log,
		cache:  make(map[string]string),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// Degrade to uncached reads rather than failing construction
		if log != nil {
			log.Warn("File watching unavailable, reads will not be cached",
				logger.WithField("error", err))
		}
		return s, nil
	}
	s.watcher = watcher

	s.watchTree(abs)

	go s.watchLoop()

	return s, nil
}

// Fetch returns the current content of a file relative to the root
func (s *FileStore) Fetch(_ context.Context, path string) (string, error) {
	if !utils.IsSafePath(path) {
		return "", fmt.Errorf("unsafe path: %s", path)
	}
	key := utils.NormalizePath(path)

	if s.watcher != nil {
		s.mu.RLock()
		content, ok := s.cache[key]
		s.mu.RUnlock()
		if ok {
			return content, nil
		}
	}

	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(key)))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}

	if s.watcher != nil {
		s.mu.Lock()
		s.cache[key] = string(data)
		s.mu.Unlock()
	}

	return string(data), nil
}

// Commit writes content to disk and returns a commit id
func (s *FileStore) Commit(_ context.Context, path, content string) (string, error) {
	if !utils.IsSafePath(path) {
		return "", fmt.Errorf("unsafe path: %s", path)
	}
	key := utils.NormalizePath(path)
	full := filepath.Join(s.root, filepath.FromSlash(key))

	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	// MkdirAll may have created directories no watch covers yet
	if s.watcher != nil {
		for dir := filepath.Dir(full); ; dir = filepath.Dir(dir) {
			if err := s.watcher.Add(dir); err != nil && s.logger != nil {
				s.logger.Warn("Failed to watch directory", logger.WithField("error", err))
			}
			if dir == s.root {
				break
			}
		}
	}

	s.mu.Lock()
	s.cache[key] = content
	s.mu.Unlock()

	return uuid.New().String(), nil
}

// Close stops the file watcher
func (s *FileStore) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// Private methods

// watchTree registers a directory and every directory below it.
// fsnotify watches are not recursive, so each nested checkout
// directory needs its own watch.
func (s *FileStore) watchTree(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if addErr := s.watcher.Add(path); addErr != nil && s.logger != nil {
			s.logger.Warn("Failed to watch directory", logger.WithField("error", addErr))
		}
		return nil
	})
}

func (s *FileStore) watchLoop() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			// Directories created under the root need their own watch
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					s.watchTree(event.Name)
					continue
				}
			}
			if event.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			rel, err := filepath.Rel(s.root, event.Name)
			if err != nil {
				continue
			}
			key := utils.NormalizePath(filepath.ToSlash(rel))
			s.mu.Lock()
			delete(s.cache, key)
			s.mu.Unlock()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			if s.logger != nil {
				s.logger.Warn("File watcher error", logger.WithField("error", err))
			}
		}
	}
}
