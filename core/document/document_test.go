package document

import (
	"strings"
	"testing"
)

func mustParse(t *testing.T, data string) *Node {
	t.Helper()
	node, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("parse %q: %v", data, err)
	}
	return node
}

func TestParsePreservesPropertyOrder(t *testing.T) {
	doc := mustParse(t, `{"zulu":1,"alpha":2,"mike":{"second":true,"first":false}}`)

	fields := doc.Fields()
	if len(fields) != 3 {
		t.Fatalf("expected 3 fields, got %d", len(fields))
	}
	if fields[0].Name != "zulu" || fields[1].Name != "alpha" || fields[2].Name != "mike" {
		t.Fatalf("unexpected field order: %v %v %v", fields[0].Name, fields[1].Name, fields[2].Name)
	}
	nested := doc.Child("mike").Fields()
	if nested[0].Name != "second" || nested[1].Name != "first" {
		t.Fatalf("nested order not preserved: %v %v", nested[0].Name, nested[1].Name)
	}
}

func TestSerializeRoundTripIsByteStable(t *testing.T) {
	raw := `{"router-id":"10.0.0.1","bgp":{"sessions":{"upstream":{"as":65001}}},"count":3}`
	doc := mustParse(t, raw)
	if got := string(doc.Serialize()); got != raw {
		t.Fatalf("round trip changed bytes:\n in: %s\nout: %s", raw, got)
	}
	// A second serialization of the same tree must be identical.
	if got := string(doc.Serialize()); got != raw {
		t.Fatalf("second serialization differs: %s", got)
	}
}

func TestSerializeIndent(t *testing.T) {
	doc := mustParse(t, `{"a":[1,2],"b":{}}`)
	pretty := string(doc.SerializeIndent(4))
	want := "{\n    \"a\": [\n        1,\n        2\n    ],\n    \"b\": {}\n}\n"
	if pretty != want {
		t.Fatalf("unexpected pretty form:\n%q\nwant:\n%q", pretty, want)
	}
}

func TestParseRejectsMalformedInput(t *testing.T) {
	cases := []string{``, `{`, `{"a":}`, `{"a":1} trailing`, `[1,`}
	for _, input := range cases {
		if _, err := Parse([]byte(input)); err == nil {
			t.Fatalf("expected parse failure for %q", input)
		}
	}
}

func TestParseNumberFormatting(t *testing.T) {
	doc := mustParse(t, `{"asn":4200000000,"weight":1.50}`)
	if got := doc.Child("asn").NumberValue().String(); got != "4200000000" {
		t.Fatalf("unexpected number text: %s", got)
	}
	if got := string(doc.Serialize()); !strings.Contains(got, "1.50") {
		t.Fatalf("number formatting not preserved: %s", got)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	doc := mustParse(t, `{"a":{"b":1},"list":[1,2]}`)
	clone := doc.Clone()
	clone.Child("a").Set("b", NewInt(99))
	clone.Child("list").Append(NewInt(3))

	if got, _ := doc.Child("a").Child("b").Int(); got != 1 {
		t.Fatalf("mutating clone leaked into source: %d", got)
	}
	if doc.Child("list").Len() != 2 {
		t.Fatalf("mutating clone array leaked into source")
	}
	if !doc.Equal(mustParse(t, `{"a":{"b":1},"list":[1,2]}`)) {
		t.Fatal("source changed after clone mutation")
	}
}

func TestEqualIsOrderSensitive(t *testing.T) {
	a := mustParse(t, `{"x":1,"y":2}`)
	b := mustParse(t, `{"y":2,"x":1}`)
	if a.Equal(b) {
		t.Fatal("expected order-sensitive inequality")
	}
	if !a.Equal(a.Clone()) {
		t.Fatal("expected clone equality")
	}
}

func TestSetKeepsPositionDeleteKeepsOrder(t *testing.T) {
	doc := mustParse(t, `{"a":1,"b":2,"c":3}`)
	doc.Set("b", NewInt(20))
	fields := doc.Fields()
	if fields[1].Name != "b" {
		t.Fatalf("set moved the field: %v", fields)
	}
	doc.Delete("a")
	fields = doc.Fields()
	if len(fields) != 2 || fields[0].Name != "b" || fields[1].Name != "c" {
		t.Fatalf("delete disturbed sibling order: %v", fields)
	}
	doc.Set("d", NewInt(4))
	if doc.Fields()[2].Name != "d" {
		t.Fatal("new field not appended at the end")
	}
}
