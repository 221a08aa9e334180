package render

import (
	"fmt"
	"strings"

	"github.com/birdrest/birdrest/core/document"
)

func (r *renderer) renderListSection(section *document.Node, kind listKind) error {
	if section == nil {
		return nil
	}
	if section.Kind() != document.KindObject {
		return fmt.Errorf("%s section is not an object", kind)
	}
	for _, field := range section.Fields() {
		if err := r.define(field.Name, kind); err != nil {
			return err
		}
		var rendered string
		var err error
		switch kind {
		case kindASPathList:
			rendered, err = renderASPathList(field.Value)
		case kindCommunityList, kindExtCommunityList, kindLargeCommunityList:
			rendered, err = renderCommunityList(field.Value)
		case kindPrefixV4List:
			rendered, err = renderPrefixList(field.Value, false)
		case kindPrefixV6List:
			rendered, err = renderPrefixList(field.Value, true)
		default:
			err = fmt.Errorf("unhandled list kind %s", kind)
		}
		if err != nil {
			return fmt.Errorf("%s %q: %w", kind, field.Name, err)
		}
		fmt.Fprintf(&r.out, "define %s = %s;\n", field.Name, rendered)
	}
	if section.Len() > 0 {
		r.out.WriteByte('\n')
	}
	return nil
}

func renderASPathList(body *document.Node) (string, error) {
	items, err := stringItems(body)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "", fmt.Errorf("list is empty")
	}
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}
	if len(quoted) == 1 {
		return quoted[0], nil
	}
	return "[" + strings.Join(quoted, ", ") + "]", nil
}

// renderCommunityList rewrites every colon in an element to a comma and
// wraps the element in parentheses: "65000:100" becomes "(65000,100)".
// Single-element lists are emitted without the enclosing bracket.
func renderCommunityList(body *document.Node) (string, error) {
	items, err := stringItems(body)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "", fmt.Errorf("list is empty")
	}
	rewritten := make([]string, len(items))
	for i, item := range items {
		if !strings.Contains(item, ":") {
			return "", fmt.Errorf("community value %q has no colon separator", item)
		}
		rewritten[i] = "(" + strings.ReplaceAll(item, ":", ",") + ")"
	}
	if len(rewritten) == 1 {
		return rewritten[0], nil
	}
	return "[" + strings.Join(rewritten, ", ") + "]", nil
}

func renderPrefixList(body *document.Node, ipv6 bool) (string, error) {
	if body.Kind() != document.KindArray {
		return "", fmt.Errorf("prefix list body is not an array")
	}
	if body.Len() == 0 {
		return "", fmt.Errorf("list is empty")
	}
	expanded := make([]string, 0, body.Len())
	for _, item := range body.Items() {
		entry, err := expandPrefixEntry(item, ipv6)
		if err != nil {
			return "", err
		}
		expanded = append(expanded, entry)
	}
	if len(expanded) == 1 {
		return expanded[0], nil
	}
	return "[" + strings.Join(expanded, ", ") + "]", nil
}
