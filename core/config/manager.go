// Package config owns the in-memory configuration document: loading it from
// a bound store, serializing it, diffing it against another document,
// applying patches, and cloning it for candidate use.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/gowebpki/jcs"

	"github.com/birdrest/birdrest/core/document"
	cerrors "github.com/birdrest/birdrest/core/errors"
	"github.com/birdrest/birdrest/core/store"
)

// Manager holds one structured document. It is not safe for concurrent use;
// callers serialize access (the dispatcher holds the candidate lock).
type Manager struct {
	storage store.Store
	doc     *document.Node
	loaded  bool
	logger  *slog.Logger
}

func NewManager(storage store.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{storage: storage, logger: logger}
}

// Load reads from the bound store and replaces the in-memory document. On
// failure the previous document is kept.
func (m *Manager) Load() error {
	data, err := m.storage.Load()
	if err != nil {
		m.logger.Error("failed to load config data", "uri", m.storage.URI(), "error", err)
		return err
	}
	doc, err := document.Parse(data)
	if err != nil {
		m.logger.Error("failed to parse config data", "uri", m.storage.URI(), "error", err)
		return cerrors.Wrap(fmt.Errorf("parse config from %s: %w", m.storage.URI(), err), cerrors.KindParse)
	}
	m.doc = doc
	m.loaded = true
	m.logger.Debug("loaded config", "uri", m.storage.URI(), "fingerprint", m.Fingerprint())
	return nil
}

// Serialize emits the current document in canonical (compact, order
// preserving) form.
func (m *Manager) Serialize() ([]byte, error) {
	if !m.loaded {
		return nil, cerrors.New(cerrors.KindInternal, "config has not been loaded yet")
	}
	return m.doc.Serialize(), nil
}

// Diff parses other and returns the patch that transforms the current
// document into it.
func (m *Manager) Diff(other []byte) ([]byte, error) {
	if !m.loaded {
		return nil, cerrors.New(cerrors.KindInternal, "config has not been loaded yet")
	}
	if len(other) == 0 {
		return nil, cerrors.New(cerrors.KindParse, "document to diff against is empty")
	}
	otherDoc, err := document.Parse(other)
	if err != nil {
		return nil, cerrors.Wrap(fmt.Errorf("parse document to diff against: %w", err), cerrors.KindParse)
	}
	operations := document.Diff(m.doc, otherDoc)
	return document.MarshalPatch(operations), nil
}

// ApplyPatch applies a serialized patch in place; on failure the document is
// unchanged.
func (m *Manager) ApplyPatch(patch []byte) error {
	if !m.loaded {
		return cerrors.New(cerrors.KindInternal, "config has not been loaded yet")
	}
	operations, err := document.ParsePatch(patch)
	if err != nil {
		return cerrors.Wrap(err, cerrors.KindParse)
	}
	applied, err := document.Apply(m.doc, operations)
	if err != nil {
		return cerrors.Wrap(fmt.Errorf("apply patch: %w", err), cerrors.KindParse)
	}
	m.doc = applied
	return nil
}

// Clone produces an independent manager whose document equals the source at
// the moment of cloning.
func (m *Manager) Clone() *Manager {
	return &Manager{
		storage: m.storage,
		doc:     m.doc.Clone(),
		loaded:  m.loaded,
		logger:  m.logger,
	}
}

// Document exposes the tree for the renderer.
func (m *Manager) Document() *document.Node {
	return m.doc
}

// Fingerprint is a short digest of the RFC 8785 canonical form, used to
// correlate log lines across load/commit cycles. It is empty until a
// document is loaded.
func (m *Manager) Fingerprint() string {
	if !m.loaded {
		return ""
	}
	canonical, err := jcs.Transform(m.doc.Serialize())
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:6])
}
