package schema

import (
	"os"
	"path/filepath"
	"testing"

	cerrors "github.com/birdrest/birdrest/core/errors"
	"github.com/birdrest/birdrest/core/store"
)

const testSchema = `{
    "type": "object",
    "properties": {
        "router-id": {"type": "string"},
        "bgp": {"type": "object"}
    },
    "required": ["router-id"],
    "additionalProperties": false
}`

func newValidator(t *testing.T, schemaData string) *Validator {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schema.json")
	if err := os.WriteFile(path, []byte(schemaData), 0o644); err != nil {
		t.Fatalf("seed schema: %v", err)
	}
	validator, err := NewValidator(store.NewFileStore(path, nil), nil)
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	return validator
}

func TestValidateAccepts(t *testing.T) {
	validator := newValidator(t, testSchema)
	if err := validator.Validate([]byte(`{"router-id":"10.0.0.1","bgp":{}}`)); err != nil {
		t.Fatalf("expected valid document, got %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	validator := newValidator(t, testSchema)
	cases := []struct {
		name string
		doc  string
	}{
		{"missing required", `{"bgp":{}}`},
		{"wrong type", `{"router-id":42}`},
		{"unknown property", `{"router-id":"10.0.0.1","extra":true}`},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			err := validator.Validate([]byte(testCase.doc))
			if err == nil {
				t.Fatal("expected schema violation")
			}
			if cerrors.KindOf(err) != cerrors.KindSchema {
				t.Fatalf("unexpected kind: %q", cerrors.KindOf(err))
			}
		})
	}
}

func TestNewValidatorFailures(t *testing.T) {
	if _, err := NewValidator(store.NewFileStore(filepath.Join(t.TempDir(), "missing.json"), nil), nil); err == nil {
		t.Fatal("expected failure for missing schema file")
	}
	path := filepath.Join(t.TempDir(), "schema.json")
	if err := os.WriteFile(path, []byte(`{broken`), 0o644); err != nil {
		t.Fatalf("seed schema: %v", err)
	}
	if _, err := NewValidator(store.NewFileStore(path, nil), nil); err == nil {
		t.Fatal("expected failure for malformed schema")
	}
}
