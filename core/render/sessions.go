package render

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/birdrest/birdrest/core/document"
)

func (r *renderer) renderSessions(sessions *document.Node) error {
	if sessions == nil {
		return nil
	}
	if sessions.Kind() != document.KindObject {
		return fmt.Errorf("sessions section is not an object")
	}
	for _, field := range sessions.Fields() {
		if err := r.renderSession(field.Name, field.Value); err != nil {
			return fmt.Errorf("session %q: %w", field.Name, err)
		}
	}
	return nil
}

func (r *renderer) renderSession(name string, session *document.Node) error {
	if session.Kind() != document.KindObject {
		return fmt.Errorf("session body is not an object")
	}

	fmt.Fprintf(&r.out, "protocol bgp '%s' {\n", name)

	if node := session.Child("router-id"); node != nil {
		if node.Kind() != document.KindString || node.StringValue() == "" {
			return fmt.Errorf("router-id must be a non-empty string")
		}
		r.indent(1)
		fmt.Fprintf(&r.out, "router id %s;\n", node.StringValue())
	}

	if err := r.renderLocal(session.Child("local")); err != nil {
		return err
	}
	if err := r.renderNeighbor(session.Child("peer")); err != nil {
		return err
	}

	if node := session.Child("multihop"); node != nil {
		hops, err := node.Int()
		if err != nil || hops < 1 {
			return fmt.Errorf("multihop must be a positive integer")
		}
		r.indent(1)
		fmt.Fprintf(&r.out, "multihop %d;\n", hops)
	}
	if node := session.Child("next-hop-self"); node != nil && node.BoolValue() {
		r.indent(1)
		r.out.WriteString("next hop self;\n")
	}

	for _, family := range []string{"ipv4", "ipv6"} {
		if err := r.renderFamilyBlock(family, session.Child(family)); err != nil {
			return err
		}
	}

	r.out.WriteString("}\n\n")
	return nil
}

func (r *renderer) renderLocal(local *document.Node) error {
	if local == nil {
		return nil
	}
	if local.Kind() != document.KindObject {
		return fmt.Errorf("local endpoint is not an object")
	}
	parts := make([]string, 0, 2)
	if node := local.Child("address"); node != nil {
		address, err := netip.ParseAddr(node.StringValue())
		if err != nil {
			return fmt.Errorf("local address %q: %w", node.StringValue(), err)
		}
		parts = append(parts, address.String())
	}
	if node := local.Child("as"); node != nil {
		asn, err := node.Int()
		if err != nil {
			return fmt.Errorf("local as is not an integer")
		}
		parts = append(parts, fmt.Sprintf("as %d", asn))
	}
	if len(parts) == 0 {
		return fmt.Errorf("local endpoint is empty")
	}
	r.indent(1)
	fmt.Fprintf(&r.out, "local %s;\n", strings.Join(parts, " "))
	return nil
}

// renderNeighbor emits the neighbor statement: a plain address, an accepted
// range, or a link-local address pinned to an interface.
func (r *renderer) renderNeighbor(peer *document.Node) error {
	if peer == nil {
		return fmt.Errorf("session has no peer")
	}
	if peer.Kind() != document.KindObject {
		return fmt.Errorf("peer is not an object")
	}

	asNode := peer.Child("as")
	if asNode == nil {
		return fmt.Errorf("peer has no as number")
	}
	asn, err := asNode.Int()
	if err != nil {
		return fmt.Errorf("peer as is not an integer")
	}

	var target string
	switch {
	case peer.Child("range") != nil:
		prefix, err := netip.ParsePrefix(peer.Child("range").StringValue())
		if err != nil {
			return fmt.Errorf("peer range %q: %w", peer.Child("range").StringValue(), err)
		}
		target = fmt.Sprintf("range %s", prefix)
	case peer.Child("address") != nil:
		address, err := netip.ParseAddr(peer.Child("address").StringValue())
		if err != nil {
			return fmt.Errorf("peer address %q: %w", peer.Child("address").StringValue(), err)
		}
		if address.Is6() && address.IsLinkLocalUnicast() {
			interfaceNode := peer.Child("interface")
			if interfaceNode == nil || interfaceNode.StringValue() == "" {
				return fmt.Errorf("link-local peer %s needs an interface", address)
			}
			target = fmt.Sprintf("%s%%'%s'", address, interfaceNode.StringValue())
		} else {
			target = address.String()
		}
	default:
		return fmt.Errorf("peer has neither an address nor a range")
	}

	if portNode := peer.Child("port"); portNode != nil {
		port, err := portNode.Int()
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("peer port is not a valid port number")
		}
		target += fmt.Sprintf(" port %d", port)
	}

	r.indent(1)
	fmt.Fprintf(&r.out, "neighbor %s as %d;\n", target, asn)
	return nil
}

func (r *renderer) renderFamilyBlock(family string, block *document.Node) error {
	if block == nil {
		return nil
	}
	if block.Kind() != document.KindObject {
		return fmt.Errorf("%s block is not an object", family)
	}
	r.indent(1)
	fmt.Fprintf(&r.out, "%s {\n", family)
	if node := block.Child("next-hop-self"); node != nil && node.BoolValue() {
		r.indent(2)
		r.out.WriteString("next hop self;\n")
	}
	for _, direction := range []string{"import", "export"} {
		node := block.Child(direction)
		if node == nil {
			continue
		}
		reference := node.StringValue()
		if node.Kind() != document.KindString || reference == "" {
			return fmt.Errorf("%s %s must name a policy", family, direction)
		}
		if err := r.resolve(reference, kindPolicyList); err != nil {
			return err
		}
		r.indent(2)
		fmt.Fprintf(&r.out, "%s filter %s;\n", direction, reference)
	}
	r.indent(1)
	r.out.WriteString("};\n")
	return nil
}
