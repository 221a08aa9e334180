// Package schema validates configuration documents against the JSON Schema
// loaded once at startup.
package schema

import (
	"fmt"
	"log/slog"

	"github.com/kaptinlin/jsonschema"

	cerrors "github.com/birdrest/birdrest/core/errors"
	"github.com/birdrest/birdrest/core/store"
)

// Validator compiles the schema from its bound store at construction and
// never reloads it during the process lifetime.
type Validator struct {
	schema *jsonschema.Schema
	logger *slog.Logger
}

func NewValidator(storage store.Store, logger *slog.Logger) (*Validator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := storage.Load()
	if err != nil {
		return nil, fmt.Errorf("load schema from %s: %w", storage.URI(), err)
	}
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	compiled, err := compiler.Compile(data)
	if err != nil {
		return nil, cerrors.Wrap(fmt.Errorf("compile schema from %s: %w", storage.URI(), err), cerrors.KindSchema)
	}
	logger.Info("loaded schema", "uri", storage.URI())
	return &Validator{schema: compiled, logger: logger}, nil
}

// Validate checks a serialized document against the schema and returns a
// human-readable reason on failure.
func (v *Validator) Validate(data []byte) error {
	result := v.schema.ValidateJSON(data)
	if result.IsValid() {
		return nil
	}
	err := cerrors.Wrap(fmt.Errorf("schema validation failed: %v", result.Errors), cerrors.KindSchema)
	v.logger.Debug("document rejected by schema", "error", err)
	return err
}
