// Package render translates the structured configuration document into the
// BIRD daemon's declarative configuration language.
//
// Rendering is a pure function of the document: sections are emitted in a
// fixed order, every iteration follows document order, and no partial output
// is ever returned. Bit-exact stability of the output matters because the
// daemon re-reads the file on every configure cycle.
package render

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/birdrest/birdrest/core/document"
	cerrors "github.com/birdrest/birdrest/core/errors"
)

const indentWidth = 4

// listKind tags every defined-list name so duplicate names are caught even
// across kinds (the daemon's symbol table is flat).
type listKind string

const (
	kindASPathList         listKind = "as-path-list"
	kindCommunityList      listKind = "community-list"
	kindExtCommunityList   listKind = "ext-community-list"
	kindLargeCommunityList listKind = "large-community-list"
	kindPrefixV4List       listKind = "prefix-v4-list"
	kindPrefixV6List       listKind = "prefix-v6-list"
	kindPolicyList         listKind = "policy-list"
)

type renderer struct {
	out     bytes.Buffer
	defined map[string]listKind
}

// Render translates the document. On failure a descriptive RenderError is
// returned and no output is produced.
func Render(doc *document.Node) ([]byte, error) {
	if doc == nil || doc.Kind() != document.KindObject {
		return nil, cerrors.New(cerrors.KindRender, "document root is not an object")
	}
	r := &renderer{defined: make(map[string]listKind)}
	if err := r.renderAll(doc); err != nil {
		return nil, cerrors.Wrap(err, cerrors.KindRender)
	}
	return r.out.Bytes(), nil
}

func (r *renderer) renderAll(doc *document.Node) error {
	r.renderPreamble()
	if err := r.renderRouterID(doc); err != nil {
		return err
	}
	r.renderDevice()
	r.renderKernel()
	r.renderDirect()
	if bgp := doc.Child("bgp"); bgp != nil {
		if err := r.renderBGP(bgp); err != nil {
			return err
		}
	}
	if static := doc.Child("static"); static != nil {
		if err := r.renderStatic(static); err != nil {
			return err
		}
	}
	return nil
}

func (r *renderer) renderPreamble() {
	r.out.WriteString("# Generated configuration. Do not edit by hand.\n")
	r.out.WriteString("log syslog all;\n\n")
}

func (r *renderer) renderRouterID(doc *document.Node) error {
	routerID := doc.Child("router-id")
	if routerID == nil {
		return nil
	}
	if routerID.Kind() != document.KindString || routerID.StringValue() == "" {
		return fmt.Errorf("router-id must be a non-empty string")
	}
	fmt.Fprintf(&r.out, "router id %s;\n\n", routerID.StringValue())
	return nil
}

func (r *renderer) renderDevice() {
	r.out.WriteString("protocol device {\n}\n\n")
}

func (r *renderer) renderKernel() {
	r.out.WriteString("protocol kernel {\n    ipv4 {\n        export all;\n    };\n}\n\n")
	r.out.WriteString("protocol kernel {\n    ipv6 {\n        export all;\n    };\n}\n\n")
}

func (r *renderer) renderDirect() {
	r.out.WriteString("protocol direct {\n}\n\n")
}

func (r *renderer) renderBGP(bgp *document.Node) error {
	if bgp.Kind() != document.KindObject {
		return fmt.Errorf("bgp is not an object")
	}

	// List definitions come first, in a fixed order, so every later
	// reference resolves against an already defined name.
	listSections := []struct {
		key  string
		kind listKind
	}{
		{"as-path-lists", kindASPathList},
		{"community-lists", kindCommunityList},
		{"ext-community-lists", kindExtCommunityList},
		{"large-community-lists", kindLargeCommunityList},
		{"prefix-v4-lists", kindPrefixV4List},
		{"prefix-v6-lists", kindPrefixV6List},
	}
	for _, section := range listSections {
		if err := r.renderListSection(bgp.Child(section.key), section.kind); err != nil {
			return err
		}
	}
	if err := r.renderPolicies(bgp.Child("policies")); err != nil {
		return err
	}
	if err := r.renderSessions(bgp.Child("sessions")); err != nil {
		return err
	}
	return nil
}

// define records a list name in the uniqueness map. Duplicate names are
// rejected even across kinds.
func (r *renderer) define(name string, kind listKind) error {
	if name == "" {
		return fmt.Errorf("%s with an empty name", kind)
	}
	if existing, ok := r.defined[name]; ok {
		return fmt.Errorf("duplicate list name %q: already defined as %s", name, existing)
	}
	r.defined[name] = kind
	return nil
}

// resolve checks a named reference against the uniqueness map.
func (r *renderer) resolve(name string, kinds ...listKind) error {
	defined, ok := r.defined[name]
	if !ok {
		return fmt.Errorf("reference to undefined list %q", name)
	}
	for _, kind := range kinds {
		if defined == kind {
			return nil
		}
	}
	return fmt.Errorf("reference to %q expects %s, but it is defined as %s",
		name, strings.Join(kindNames(kinds), " or "), defined)
}

func kindNames(kinds []listKind) []string {
	names := make([]string, len(kinds))
	for i, kind := range kinds {
		names[i] = string(kind)
	}
	return names
}

func (r *renderer) indent(depth int) {
	r.out.WriteString(strings.Repeat(" ", depth*indentWidth))
}

// stringItems collects a list body that is either a single string or an
// array of strings.
func stringItems(node *document.Node) ([]string, error) {
	switch node.Kind() {
	case document.KindString:
		return []string{node.StringValue()}, nil
	case document.KindArray:
		items := make([]string, 0, node.Len())
		for _, item := range node.Items() {
			if item.Kind() != document.KindString {
				return nil, fmt.Errorf("list element is not a string")
			}
			items = append(items, item.StringValue())
		}
		return items, nil
	default:
		return nil, fmt.Errorf("list body is neither a string nor an array")
	}
}
