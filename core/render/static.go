package render

import (
	"fmt"
	"net/netip"

	"github.com/birdrest/birdrest/core/document"
)

func (r *renderer) renderStatic(static *document.Node) error {
	if static.Kind() != document.KindObject {
		return fmt.Errorf("static section is not an object")
	}
	for _, family := range []string{"ipv4", "ipv6"} {
		routes := static.Child(family)
		if routes == nil {
			continue
		}
		if routes.Kind() != document.KindArray {
			return fmt.Errorf("static %s is not an array", family)
		}
		r.out.WriteString("protocol static {\n")
		r.indent(1)
		r.out.WriteString(family + ";\n")
		for i, route := range routes.Items() {
			if err := r.renderRoute(route, family == "ipv6"); err != nil {
				return fmt.Errorf("static %s route %d: %w", family, i, err)
			}
		}
		r.out.WriteString("}\n\n")
	}
	return nil
}

func (r *renderer) renderRoute(route *document.Node, ipv6 bool) error {
	if route.Kind() != document.KindObject {
		return fmt.Errorf("route is not an object")
	}
	prefixNode := route.Child("prefix")
	if prefixNode == nil || prefixNode.Kind() != document.KindString {
		return fmt.Errorf("route has no prefix")
	}
	prefix, err := parseFamilyPrefix(prefixNode.StringValue(), ipv6)
	if err != nil {
		return err
	}

	switch {
	case route.Child("via") != nil:
		nexthop, err := netip.ParseAddr(route.Child("via").StringValue())
		if err != nil {
			return fmt.Errorf("nexthop %q: %w", route.Child("via").StringValue(), err)
		}
		line := fmt.Sprintf("route %s via %s", prefix, nexthop)
		if deviceNode := route.Child("device"); deviceNode != nil {
			if deviceNode.StringValue() == "" {
				return fmt.Errorf("device name is empty")
			}
			line += fmt.Sprintf(" dev %q", deviceNode.StringValue())
		}
		if onlinkNode := route.Child("onlink"); onlinkNode != nil && onlinkNode.BoolValue() {
			line += " onlink"
		}
		r.indent(1)
		r.out.WriteString(line + ";\n")
	case route.Child("device") != nil:
		deviceName := route.Child("device").StringValue()
		if deviceName == "" {
			return fmt.Errorf("device name is empty")
		}
		r.indent(1)
		fmt.Fprintf(&r.out, "route %s via %q;\n", prefix, deviceName)
	case route.Child("type") != nil:
		routeType := route.Child("type").StringValue()
		switch routeType {
		case "blackhole", "unreachable":
		default:
			return fmt.Errorf("unknown route type %q", routeType)
		}
		r.indent(1)
		fmt.Fprintf(&r.out, "route %s %s;\n", prefix, routeType)
	default:
		return fmt.Errorf("route has no nexthop, device, or type")
	}
	return nil
}
