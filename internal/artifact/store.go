package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Store persists files produced during a session (scene images, exported
// briefs). Paths are relative to the session.
type Store interface {
	Put(ctx context.Context, sessionID, path string, content []byte, contentType string) error
	Get(ctx context.Context, sessionID, path string) ([]byte, error)
	GetURL(ctx context.Context, sessionID, path string) (string, error)
	List(ctx context.Context, sessionID string) ([]string, error)
	DeleteAll(ctx context.Context, sessionID string) error
}

var (
	ErrNotFound    = errors.New("artifact not found")
	ErrInvalidPath = errors.New("invalid artifact path")
)

func normalize(sessionID, path string) (string, string, error) {
	sessionID = strings.TrimSpace(sessionID)
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	if sessionID == "" {
		return "", "", fmt.Errorf("%w: session_id is required", ErrInvalidPath)
	}
	if path == "" {
		return "", "", fmt.Errorf("%w: path is required", ErrInvalidPath)
	}
	if strings.Contains(path, "..") {
		return "", "", fmt.Errorf("%w: %q escapes the session", ErrInvalidPath, path)
	}
	return sessionID, path, nil
}

func objectKey(sessionID, path string) string {
	return sessionID + "/" + path
}
