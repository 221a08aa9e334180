// Package store persists opaque byte streams addressed by a URI, with a
// crash-safe write contract: data lands in a temp file that is atomically
// renamed over the destination.
package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	cerrors "github.com/birdrest/birdrest/core/errors"
)

// Store is the byte-stream contract shared by the running-document file and
// the rendered target-format file.
type Store interface {
	Load() ([]byte, error)
	Save(data []byte) error
	URI() string
}

// FileStore is the plain filesystem implementation.
type FileStore struct {
	uri    string
	logger *slog.Logger
}

func NewFileStore(uri string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{uri: uri, logger: logger}
}

func (s *FileStore) URI() string { return s.uri }

func (s *FileStore) Load() ([]byte, error) {
	data, err := os.ReadFile(s.uri)
	if err != nil {
		return nil, cerrors.Wrap(fmt.Errorf("read %s: %w", s.uri, err), cerrors.KindIO)
	}
	return data, nil
}

// Save writes data through <uri>.tmp and renames it into place. A
// zero-length input is a no-op success. If the rename fails the original
// file is unchanged and the temp is removed.
func (s *FileStore) Save(data []byte) error {
	if len(data) == 0 {
		s.logger.Warn("no data to save", "uri", s.uri)
		return nil
	}

	tempPath := s.uri + ".tmp"
	tempFile, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return cerrors.Wrap(fmt.Errorf("create temp file %s: %w", tempPath, err), cerrors.KindIO)
	}
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return cerrors.Wrap(fmt.Errorf("write temp file %s: %w", tempPath, err), cerrors.KindIO)
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		return cerrors.Wrap(fmt.Errorf("sync temp file %s: %w", tempPath, err), cerrors.KindIO)
	}
	if err := tempFile.Close(); err != nil {
		return cerrors.Wrap(fmt.Errorf("close temp file %s: %w", tempPath, err), cerrors.KindIO)
	}

	if err := os.Rename(tempPath, s.uri); err != nil {
		return cerrors.Wrap(fmt.Errorf("rename %s onto %s: %w", tempPath, s.uri, err), cerrors.KindIO)
	}
	cleanup = false

	// Best effort: remove a leftover temp from an earlier crashed write and
	// flush the directory entry.
	_ = os.Remove(tempPath)
	if dirHandle, err := os.Open(filepath.Dir(s.uri)); err == nil {
		_ = dirHandle.Sync()
		_ = dirHandle.Close()
	}
	return nil
}
