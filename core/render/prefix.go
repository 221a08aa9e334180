package render

import (
	"fmt"
	"net/netip"

	"github.com/birdrest/birdrest/core/document"
)

// expandPrefixEntry renders one prefix-list element, which is either a bare
// CIDR string or an object {prefix, ge?, le?}. The optional bounds expand to
// a "{min,max}" suffix under the family's range rules.
func expandPrefixEntry(entry *document.Node, ipv6 bool) (string, error) {
	switch entry.Kind() {
	case document.KindString:
		prefix, err := parseFamilyPrefix(entry.StringValue(), ipv6)
		if err != nil {
			return "", err
		}
		return prefix.String(), nil
	case document.KindObject:
	default:
		return "", fmt.Errorf("prefix entry is neither a string nor an object")
	}

	prefixNode := entry.Child("prefix")
	if prefixNode == nil || prefixNode.Kind() != document.KindString {
		return "", fmt.Errorf("prefix entry is missing the prefix property")
	}
	prefix, err := parseFamilyPrefix(prefixNode.StringValue(), ipv6)
	if err != nil {
		return "", err
	}

	ge, hasGE, err := optionalBound(entry, "ge")
	if err != nil {
		return "", err
	}
	le, hasLE, err := optionalBound(entry, "le")
	if err != nil {
		return "", err
	}
	if !hasGE && !hasLE {
		return prefix.String(), nil
	}

	familyMax := 32
	if ipv6 {
		familyMax = 128
	}
	length := prefix.Bits()

	var minLen, maxLen int
	switch {
	case hasGE && hasLE:
		minLen, maxLen = ge, le
		if !(length <= minLen && minLen <= maxLen) {
			return "", fmt.Errorf("prefix %s: range {%d,%d} violates len <= ge <= le", prefix, minLen, maxLen)
		}
	case hasGE:
		if length > ge {
			return "", fmt.Errorf("prefix %s: ge %d is shorter than the prefix length", prefix, ge)
		}
		minLen, maxLen = ge, familyMax
	default: // only le
		if length > le {
			return "", fmt.Errorf("prefix %s: le %d is shorter than the prefix length", prefix, le)
		}
		minLen, maxLen = length, le
	}
	if maxLen > familyMax {
		return "", fmt.Errorf("prefix %s: bound %d exceeds the family maximum %d", prefix, maxLen, familyMax)
	}
	return fmt.Sprintf("%s{%d,%d}", prefix, minLen, maxLen), nil
}

func optionalBound(entry *document.Node, name string) (int, bool, error) {
	node := entry.Child(name)
	if node == nil {
		return 0, false, nil
	}
	value, err := node.Int()
	if err != nil {
		return 0, false, fmt.Errorf("%s bound is not an integer", name)
	}
	if value < 0 {
		return 0, false, fmt.Errorf("%s bound is negative", name)
	}
	return int(value), true, nil
}

func parseFamilyPrefix(value string, ipv6 bool) (netip.Prefix, error) {
	prefix, err := netip.ParsePrefix(value)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid prefix %q: %w", value, err)
	}
	if prefix.Addr().Is4() == ipv6 {
		family := "IPv4"
		if ipv6 {
			family = "IPv6"
		}
		return netip.Prefix{}, fmt.Errorf("prefix %q does not belong to the %s family", value, family)
	}
	return prefix, nil
}
