package document

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Patch operation kinds, the accepted subset of RFC 6902.
const (
	OpAdd     = "add"
	OpRemove  = "remove"
	OpReplace = "replace"
)

// Operation is a single patch step with a JSON Pointer path.
type Operation struct {
	Op    string
	Path  string
	Value *Node
}

// Diff computes the operations that transform a into b. Applying the result
// to a yields a document equal to b, provided shared siblings keep a
// consistent relative order on both sides (the patch language cannot express
// pure reordering).
func Diff(a, b *Node) []Operation {
	operations := make([]Operation, 0, 8)
	diffValue(a, b, "", &operations)
	return operations
}

func diffValue(a, b *Node, path string, operations *[]Operation) {
	if a.Kind() != b.Kind() {
		*operations = append(*operations, Operation{Op: OpReplace, Path: path, Value: b.Clone()})
		return
	}
	switch a.Kind() {
	case KindObject:
		for _, field := range a.fields {
			other := b.Child(field.Name)
			childPath := path + "/" + EscapePointerSegment(field.Name)
			if other == nil {
				*operations = append(*operations, Operation{Op: OpRemove, Path: childPath})
				continue
			}
			diffValue(field.Value, other, childPath, operations)
		}
		for _, field := range b.fields {
			if a.Child(field.Name) == nil {
				childPath := path + "/" + EscapePointerSegment(field.Name)
				*operations = append(*operations, Operation{Op: OpAdd, Path: childPath, Value: field.Value.Clone()})
			}
		}
	case KindArray:
		common := len(a.items)
		if len(b.items) < common {
			common = len(b.items)
		}
		for i := 0; i < common; i++ {
			diffValue(a.items[i], b.items[i], path+"/"+strconv.Itoa(i), operations)
		}
		// Remove the left tail highest-index-first so intermediate indices
		// stay valid while the patch is applied.
		for i := len(a.items) - 1; i >= common; i-- {
			*operations = append(*operations, Operation{Op: OpRemove, Path: path + "/" + strconv.Itoa(i)})
		}
		for i := common; i < len(b.items); i++ {
			*operations = append(*operations, Operation{Op: OpAdd, Path: path + "/-", Value: b.items[i].Clone()})
		}
	default:
		if !a.Equal(b) {
			*operations = append(*operations, Operation{Op: OpReplace, Path: path, Value: b.Clone()})
		}
	}
}

// Apply returns a new document with the operations applied; the receiver
// document is never modified, so a failed patch leaves the caller's state
// untouched.
func Apply(doc *Node, operations []Operation) (*Node, error) {
	result := doc.Clone()
	for i, operation := range operations {
		var err error
		result, err = applyOne(result, operation)
		if err != nil {
			return nil, fmt.Errorf("operation %d (%s %s): %w", i, operation.Op, operation.Path, err)
		}
	}
	return result, nil
}

func applyOne(doc *Node, operation Operation) (*Node, error) {
	segments, err := splitPointer(operation.Path)
	if err != nil {
		return nil, err
	}

	switch operation.Op {
	case OpAdd, OpReplace:
		if operation.Value == nil {
			return nil, fmt.Errorf("missing value")
		}
	case OpRemove:
	default:
		return nil, fmt.Errorf("unsupported op %q", operation.Op)
	}

	if len(segments) == 0 {
		if operation.Op == OpRemove {
			return nil, fmt.Errorf("cannot remove the document root")
		}
		return operation.Value.Clone(), nil
	}

	parent, err := resolveParent(doc, segments)
	if err != nil {
		return nil, err
	}
	last := segments[len(segments)-1]

	switch parent.Kind() {
	case KindObject:
		if err := applyObject(parent, operation, last); err != nil {
			return nil, err
		}
	case KindArray:
		if err := applyArray(parent, operation, last); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("path traverses a %s value", parent.Kind())
	}
	return doc, nil
}

func applyObject(parent *Node, operation Operation, key string) error {
	existing := parent.Child(key)
	switch operation.Op {
	case OpAdd:
		// RFC 6902 add: replaces an existing member in place (keeping its
		// position), appends a new one at the end of the sibling order.
		parent.Set(key, operation.Value.Clone())
	case OpReplace:
		if existing == nil {
			return fmt.Errorf("no member %q to replace", key)
		}
		parent.Set(key, operation.Value.Clone())
	case OpRemove:
		if !parent.Delete(key) {
			return fmt.Errorf("no member %q to remove", key)
		}
	}
	return nil
}

func applyArray(parent *Node, operation Operation, segment string) error {
	if segment == "-" {
		if operation.Op != OpAdd {
			return fmt.Errorf("index - is only valid for add")
		}
		parent.items = append(parent.items, operation.Value.Clone())
		return nil
	}
	index, err := strconv.Atoi(segment)
	if err != nil || index < 0 {
		return fmt.Errorf("invalid array index %q", segment)
	}
	switch operation.Op {
	case OpAdd:
		if index > len(parent.items) {
			return fmt.Errorf("index %d out of range for add", index)
		}
		parent.items = append(parent.items, nil)
		copy(parent.items[index+1:], parent.items[index:])
		parent.items[index] = operation.Value.Clone()
	case OpReplace:
		if index >= len(parent.items) {
			return fmt.Errorf("index %d out of range for replace", index)
		}
		parent.items[index] = operation.Value.Clone()
	case OpRemove:
		if index >= len(parent.items) {
			return fmt.Errorf("index %d out of range for remove", index)
		}
		parent.items = append(parent.items[:index], parent.items[index+1:]...)
	}
	return nil
}

func resolveParent(doc *Node, segments []string) (*Node, error) {
	current := doc
	for _, segment := range segments[:len(segments)-1] {
		switch current.Kind() {
		case KindObject:
			child := current.Child(segment)
			if child == nil {
				return nil, fmt.Errorf("no member %q", segment)
			}
			current = child
		case KindArray:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(current.items) {
				return nil, fmt.Errorf("invalid array index %q", segment)
			}
			current = current.items[index]
		default:
			return nil, fmt.Errorf("path traverses a %s value", current.Kind())
		}
	}
	return current, nil
}

func splitPointer(pointer string) ([]string, error) {
	if pointer == "" {
		return nil, nil
	}
	if !strings.HasPrefix(pointer, "/") {
		return nil, fmt.Errorf("pointer %q does not start with /", pointer)
	}
	raw := strings.Split(pointer[1:], "/")
	segments := make([]string, len(raw))
	for i, segment := range raw {
		segments[i] = UnescapePointerSegment(segment)
	}
	return segments, nil
}

func EscapePointerSegment(segment string) string {
	segment = strings.ReplaceAll(segment, "~", "~0")
	return strings.ReplaceAll(segment, "/", "~1")
}

func UnescapePointerSegment(segment string) string {
	segment = strings.ReplaceAll(segment, "~1", "/")
	return strings.ReplaceAll(segment, "~0", "~")
}

// MarshalPatch encodes operations as a JSON Patch array.
func MarshalPatch(operations []Operation) []byte {
	var buffer bytes.Buffer
	buffer.WriteByte('[')
	for i, operation := range operations {
		if i > 0 {
			buffer.WriteByte(',')
		}
		buffer.WriteString(`{"op":`)
		writeJSONString(&buffer, operation.Op)
		buffer.WriteString(`,"path":`)
		writeJSONString(&buffer, operation.Path)
		if operation.Value != nil {
			buffer.WriteString(`,"value":`)
			buffer.Write(operation.Value.Serialize())
		}
		buffer.WriteByte('}')
	}
	buffer.WriteByte(']')
	return buffer.Bytes()
}

// ParsePatch decodes a JSON Patch array into operations.
func ParsePatch(data []byte) ([]Operation, error) {
	root, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse patch: %w", err)
	}
	if root.Kind() != KindArray {
		return nil, fmt.Errorf("patch is not an array")
	}
	operations := make([]Operation, 0, root.Len())
	for i, item := range root.Items() {
		if item.Kind() != KindObject {
			return nil, fmt.Errorf("patch entry %d is not an object", i)
		}
		opNode := item.Child("op")
		pathNode := item.Child("path")
		if opNode == nil || opNode.Kind() != KindString {
			return nil, fmt.Errorf("patch entry %d is missing op", i)
		}
		if pathNode == nil || pathNode.Kind() != KindString {
			return nil, fmt.Errorf("patch entry %d is missing path", i)
		}
		operation := Operation{Op: opNode.StringValue(), Path: pathNode.StringValue()}
		switch operation.Op {
		case OpAdd, OpReplace:
			value := item.Child("value")
			if value == nil {
				return nil, fmt.Errorf("patch entry %d is missing value", i)
			}
			operation.Value = value.Clone()
		case OpRemove:
		default:
			return nil, fmt.Errorf("patch entry %d has unsupported op %q", i, operation.Op)
		}
		operations = append(operations, operation)
	}
	return operations, nil
}
