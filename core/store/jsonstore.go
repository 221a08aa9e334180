package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/birdrest/birdrest/core/document"
	cerrors "github.com/birdrest/birdrest/core/errors"
)

// JSONFileStore layers document semantics over FileStore. On load, sibling
// files in the primary's directory are overlaid additively: a sibling may
// introduce new subtrees but never overwrite or delete existing values.
// Siblings are visited in lexicographic name order so a load is reproducible.
type JSONFileStore struct {
	file   *FileStore
	logger *slog.Logger
}

func NewJSONFileStore(uri string, logger *slog.Logger) *JSONFileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &JSONFileStore{file: NewFileStore(uri, logger), logger: logger}
}

func (s *JSONFileStore) URI() string { return s.file.URI() }

func (s *JSONFileStore) Load() ([]byte, error) {
	primary, err := s.file.Load()
	if err != nil {
		return nil, err
	}
	doc, err := document.Parse(primary)
	if err != nil {
		return nil, cerrors.Wrap(fmt.Errorf("parse %s: %w", s.URI(), err), cerrors.KindParse)
	}

	doc, err = s.overlaySiblings(doc)
	if err != nil {
		return nil, err
	}
	if doc.Len() == 0 {
		return nil, cerrors.Wrap(fmt.Errorf("document %s is empty", s.URI()), cerrors.KindParse)
	}
	return doc.Serialize(), nil
}

func (s *JSONFileStore) overlaySiblings(doc *document.Node) (*document.Node, error) {
	directory := filepath.Dir(s.URI())
	entries, err := os.ReadDir(directory)
	if err != nil {
		return nil, cerrors.Wrap(fmt.Errorf("list %s: %w", directory, err), cerrors.KindIO)
	}

	primaryBase := filepath.Base(s.URI())
	// os.ReadDir returns entries sorted by name, which fixes the overlay
	// order.
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == primaryBase {
			continue
		}
		siblingPath := filepath.Join(directory, entry.Name())
		data, err := os.ReadFile(siblingPath)
		if err != nil {
			return nil, cerrors.Wrap(fmt.Errorf("read overlay %s: %w", siblingPath, err), cerrors.KindIO)
		}
		sibling, err := document.Parse(data)
		if err != nil {
			return nil, cerrors.Wrap(fmt.Errorf("parse overlay %s: %w", siblingPath, err), cerrors.KindParse)
		}

		additions := make([]document.Operation, 0, 4)
		for _, operation := range document.Diff(doc, sibling) {
			if operation.Op == document.OpAdd {
				additions = append(additions, operation)
			}
		}
		if len(additions) == 0 {
			continue
		}
		merged, err := document.Apply(doc, additions)
		if err != nil {
			return nil, cerrors.Wrap(fmt.Errorf("overlay %s: %w", siblingPath, err), cerrors.KindParse)
		}
		s.logger.Debug("overlaid sibling document", "path", siblingPath, "additions", len(additions))
		doc = merged
	}
	return doc, nil
}

// Save pretty-prints the document before delegating to the atomic write.
func (s *JSONFileStore) Save(data []byte) error {
	if len(data) == 0 {
		return cerrors.Wrap(fmt.Errorf("no document data to save into %s", s.URI()), cerrors.KindParse)
	}
	doc, err := document.Parse(data)
	if err != nil {
		return cerrors.Wrap(fmt.Errorf("parse document for %s: %w", s.URI(), err), cerrors.KindParse)
	}
	return s.file.Save(doc.SerializeIndent(4))
}
