// Package document implements the ordered configuration document tree.
//
// Sibling order is preserved across parse, serialize, diff, and patch. The
// target-format renderer is order-sensitive, so this preservation is a hard
// invariant: an object is a slice of fields, never a map.
package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

type Kind int

const (
	KindNull Kind = iota
	KindObject
	KindArray
	KindString
	KindNumber
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	default:
		return "null"
	}
}

// Field is one named property of an object node.
type Field struct {
	Name  string
	Value *Node
}

// Node is a single value in the document tree.
type Node struct {
	kind    Kind
	fields  []Field
	items   []*Node
	str     string
	num     json.Number
	boolean bool
}

func NewObject() *Node             { return &Node{kind: KindObject} }
func NewArray() *Node              { return &Node{kind: KindArray} }
func NewString(value string) *Node { return &Node{kind: KindString, str: value} }
func NewBool(value bool) *Node     { return &Node{kind: KindBool, boolean: value} }
func NewNull() *Node               { return &Node{kind: KindNull} }

func NewNumber(text string) *Node {
	return &Node{kind: KindNumber, num: json.Number(text)}
}

func NewInt(value int64) *Node {
	return &Node{kind: KindNumber, num: json.Number(fmt.Sprintf("%d", value))}
}

func (n *Node) Kind() Kind { return n.kind }

// Fields returns the ordered properties of an object node.
func (n *Node) Fields() []Field {
	if n == nil || n.kind != KindObject {
		return nil
	}
	return n.fields
}

// Items returns the elements of an array node.
func (n *Node) Items() []*Node {
	if n == nil || n.kind != KindArray {
		return nil
	}
	return n.items
}

func (n *Node) StringValue() string      { return n.str }
func (n *Node) NumberValue() json.Number { return n.num }
func (n *Node) BoolValue() bool          { return n.boolean }

// Int returns the node's numeric value as an int64.
func (n *Node) Int() (int64, error) {
	if n == nil || n.kind != KindNumber {
		return 0, fmt.Errorf("not a number")
	}
	return n.num.Int64()
}

// Child returns the value of the named property of an object node, or nil.
func (n *Node) Child(name string) *Node {
	if n == nil || n.kind != KindObject {
		return nil
	}
	for _, field := range n.fields {
		if field.Name == name {
			return field.Value
		}
	}
	return nil
}

// Set assigns a property on an object node: an existing field keeps its
// position, a new field is appended.
func (n *Node) Set(name string, value *Node) {
	for i := range n.fields {
		if n.fields[i].Name == name {
			n.fields[i].Value = value
			return
		}
	}
	n.fields = append(n.fields, Field{Name: name, Value: value})
}

// Delete removes a property from an object node, preserving the order of
// the remaining siblings. It reports whether the property existed.
func (n *Node) Delete(name string) bool {
	for i := range n.fields {
		if n.fields[i].Name == name {
			n.fields = append(n.fields[:i], n.fields[i+1:]...)
			return true
		}
	}
	return false
}

// Append adds an element to an array node.
func (n *Node) Append(value *Node) {
	n.items = append(n.items, value)
}

// Len returns the number of fields or items.
func (n *Node) Len() int {
	switch n.kind {
	case KindObject:
		return len(n.fields)
	case KindArray:
		return len(n.items)
	default:
		return 0
	}
}

// Clone produces a deep copy sharing no state with the receiver.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	clone := &Node{kind: n.kind, str: n.str, num: n.num, boolean: n.boolean}
	if n.fields != nil {
		clone.fields = make([]Field, len(n.fields))
		for i, field := range n.fields {
			clone.fields[i] = Field{Name: field.Name, Value: field.Value.Clone()}
		}
	}
	if n.items != nil {
		clone.items = make([]*Node, len(n.items))
		for i, item := range n.items {
			clone.items[i] = item.Clone()
		}
	}
	return clone
}

// Equal reports deep equality including sibling order.
func (n *Node) Equal(other *Node) bool {
	if n == nil || other == nil {
		return n == other
	}
	if n.kind != other.kind {
		return false
	}
	switch n.kind {
	case KindObject:
		if len(n.fields) != len(other.fields) {
			return false
		}
		for i := range n.fields {
			if n.fields[i].Name != other.fields[i].Name {
				return false
			}
			if !n.fields[i].Value.Equal(other.fields[i].Value) {
				return false
			}
		}
		return true
	case KindArray:
		if len(n.items) != len(other.items) {
			return false
		}
		for i := range n.items {
			if !n.items[i].Equal(other.items[i]) {
				return false
			}
		}
		return true
	case KindString:
		return n.str == other.str
	case KindNumber:
		return n.num == other.num
	case KindBool:
		return n.boolean == other.boolean
	default:
		return true
	}
}

// Parse decodes a document, preserving property order.
func Parse(data []byte) (*Node, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	node, err := parseValue(decoder)
	if err != nil {
		return nil, err
	}
	if decoder.More() {
		return nil, fmt.Errorf("trailing data after document")
	}
	return node, nil
}

func parseValue(decoder *json.Decoder) (*Node, error) {
	token, err := decoder.Token()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("unexpected end of document")
		}
		return nil, err
	}
	return parseToken(decoder, token)
}

func parseToken(decoder *json.Decoder, token json.Token) (*Node, error) {
	switch value := token.(type) {
	case json.Delim:
		switch value {
		case '{':
			node := NewObject()
			for decoder.More() {
				keyToken, err := decoder.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyToken.(string)
				if !ok {
					return nil, fmt.Errorf("object key is not a string")
				}
				child, err := parseValue(decoder)
				if err != nil {
					return nil, err
				}
				node.fields = append(node.fields, Field{Name: key, Value: child})
			}
			if _, err := decoder.Token(); err != nil { // closing '}'
				return nil, err
			}
			return node, nil
		case '[':
			node := NewArray()
			for decoder.More() {
				child, err := parseValue(decoder)
				if err != nil {
					return nil, err
				}
				node.items = append(node.items, child)
			}
			if _, err := decoder.Token(); err != nil { // closing ']'
				return nil, err
			}
			return node, nil
		default:
			return nil, fmt.Errorf("unexpected delimiter %q", value)
		}
	case string:
		return NewString(value), nil
	case json.Number:
		return &Node{kind: KindNumber, num: value}, nil
	case bool:
		return NewBool(value), nil
	case nil:
		return NewNull(), nil
	default:
		return nil, fmt.Errorf("unexpected token %v", token)
	}
}

// Serialize emits the compact form.
func (n *Node) Serialize() []byte {
	var buffer bytes.Buffer
	n.encode(&buffer, -1, 0)
	return buffer.Bytes()
}

// SerializeIndent emits the pretty form with the given indent width.
func (n *Node) SerializeIndent(indent int) []byte {
	var buffer bytes.Buffer
	n.encode(&buffer, indent, 0)
	buffer.WriteByte('\n')
	return buffer.Bytes()
}

func (n *Node) encode(buffer *bytes.Buffer, indent, depth int) {
	switch n.kind {
	case KindObject:
		if len(n.fields) == 0 {
			buffer.WriteString("{}")
			return
		}
		buffer.WriteByte('{')
		for i, field := range n.fields {
			if i > 0 {
				buffer.WriteByte(',')
			}
			writeNewlineIndent(buffer, indent, depth+1)
			writeJSONString(buffer, field.Name)
			buffer.WriteByte(':')
			if indent >= 0 {
				buffer.WriteByte(' ')
			}
			field.Value.encode(buffer, indent, depth+1)
		}
		writeNewlineIndent(buffer, indent, depth)
		buffer.WriteByte('}')
	case KindArray:
		if len(n.items) == 0 {
			buffer.WriteString("[]")
			return
		}
		buffer.WriteByte('[')
		for i, item := range n.items {
			if i > 0 {
				buffer.WriteByte(',')
			}
			writeNewlineIndent(buffer, indent, depth+1)
			item.encode(buffer, indent, depth+1)
		}
		writeNewlineIndent(buffer, indent, depth)
		buffer.WriteByte(']')
	case KindString:
		writeJSONString(buffer, n.str)
	case KindNumber:
		buffer.WriteString(n.num.String())
	case KindBool:
		if n.boolean {
			buffer.WriteString("true")
		} else {
			buffer.WriteString("false")
		}
	default:
		buffer.WriteString("null")
	}
}

func writeNewlineIndent(buffer *bytes.Buffer, indent, depth int) {
	if indent < 0 {
		return
	}
	buffer.WriteByte('\n')
	buffer.WriteString(strings.Repeat(" ", indent*depth))
}

func writeJSONString(buffer *bytes.Buffer, value string) {
	encoded, err := json.Marshal(value)
	if err != nil {
		// json.Marshal of a string cannot fail; keep the document emittable.
		encoded = []byte(`""`)
	}
	buffer.Write(encoded)
}
