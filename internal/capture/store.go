// internal/capture/store.go
package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pageharness/internal/browser"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Manifest is the JSON sidecar written next to every stored payload.
type Manifest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	TimestampMs int64  `json:"timestamp_ms"`
	CapturedAt  string `json:"captured_at"`
	Kind        string `json:"kind"`
	ContentType string `json:"content_type"`
	File        string `json:"file"`
	Bytes       int    `json:"bytes"`
	Cause       string `json:"cause,omitempty"`
}

// DirStore writes artifacts into a directory.
type DirStore struct {
	dir    string
	logger *zap.Logger
}

var _ Store = (*DirStore)(nil)

// NewDirStore creates the directory (a leading ~ is expanded) if needed.
func NewDirStore(dir string, logger *zap.Logger) (*DirStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	expanded, err := homedir.Expand(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to expand artifact dir %q: %w", dir, err)
	}
	if err := os.MkdirAll(expanded, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact dir %q: %w", expanded, err)
	}
	return &DirStore{dir: expanded, logger: logger.Named("store")}, nil
}

// Dir returns the resolved directory.
func (s *DirStore) Dir() string { return s.dir }

// Save implements Store.
func (s *DirStore) Save(ctx context.Context, a Artifact) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	file := a.Name + extension(a.Kind)
	path := filepath.Join(s.dir, file)
	if err := os.WriteFile(path, a.Payload, 0o644); err != nil {
		return "", fmt.Errorf("failed to write artifact payload: %w", err)
	}

	m := Manifest{
		ID:          a.ID,
		Name:        a.Name,
		TimestampMs: a.TimestampMs,
		CapturedAt:  time.UnixMilli(a.TimestampMs).UTC().Format(time.RFC3339Nano),
		Kind:        string(a.Kind),
		ContentType: a.ContentType,
		File:        file,
		Bytes:       len(a.Payload),
	}
	if a.Cause != nil {
		m.Cause = a.Cause.Error()
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return path, fmt.Errorf("failed to encode artifact manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, a.Name+".json"), data, 0o644); err != nil {
		return path, fmt.Errorf("failed to write artifact manifest: %w", err)
	}
	s.logger.Debug("Artifact stored.", zap.String("path", path))
	return path, nil
}

func extension(kind browser.SnapshotKind) string {
	switch kind {
	case browser.SnapshotImage:
		return ".png"
	case browser.SnapshotHTML:
		return ".html"
	default:
		return ".txt"
	}
}
