package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DiskStore persists artifacts under a local root directory by sessionID/path.
type DiskStore struct {
	root string
}

func NewDiskStore(root string) *DiskStore {
	return &DiskStore{root: strings.TrimSpace(root)}
}

func (s *DiskStore) Put(_ context.Context, sessionID, path string, content []byte, _ string) error {
	fullPath, err := s.pathFor(sessionID, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(fullPath, content, 0o644)
}

func (s *DiskStore) Get(_ context.Context, sessionID, path string) ([]byte, error) {
	fullPath, err := s.pathFor(sessionID, path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fullPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

// ContentType guesses the type from the file extension.
func (s *DiskStore) ContentType(_, path string) string {
	if strings.HasSuffix(path, ".md") {
		return "text/markdown; charset=utf-8"
	}
	return mime.TypeByExtension(filepath.Ext(path))
}

func (s *DiskStore) GetURL(_ context.Context, _, _ string) (string, error) {
	return "", nil
}

func (s *DiskStore) List(_ context.Context, sessionID string) ([]string, error) {
	sessionRoot, err := s.sessionRoot(sessionID)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, 32)
	walkErr := filepath.WalkDir(sessionRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(sessionRoot, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if walkErr != nil {
		if os.IsNotExist(walkErr) {
			return []string{}, nil
		}
		return nil, walkErr
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *DiskStore) DeleteAll(_ context.Context, sessionID string) error {
	sessionRoot, err := s.sessionRoot(sessionID)
	if err != nil {
		return err
	}
	return os.RemoveAll(sessionRoot)
}

// Dir returns the directory holding a session's files.
func (s *DiskStore) Dir(sessionID string) (string, error) {
	return s.sessionRoot(sessionID)
}

func (s *DiskStore) sessionRoot(sessionID string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("store is nil")
	}
	if s.root == "" {
		return "", fmt.Errorf("%w: root is required", ErrInvalidPath)
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", fmt.Errorf("%w: session_id is required", ErrInvalidPath)
	}
	if strings.Contains(sessionID, "..") || strings.ContainsAny(sessionID, `/\`) {
		return "", fmt.Errorf("%w: invalid session_id %q", ErrInvalidPath, sessionID)
	}
	return filepath.Join(s.root, sessionID), nil
}

func (s *DiskStore) pathFor(sessionID, path string) (string, error) {
	sessionRoot, err := s.sessionRoot(sessionID)
	if err != nil {
		return "", err
	}
	_, path, err = normalize(sessionID, path)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("%w: absolute path %q", ErrInvalidPath, path)
	}
	return filepath.Join(sessionRoot, filepath.FromSlash(path)), nil
}
