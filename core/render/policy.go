package render

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/birdrest/birdrest/core/document"
)

func (r *renderer) renderPolicies(policies *document.Node) error {
	if policies == nil {
		return nil
	}
	if policies.Kind() != document.KindObject {
		return fmt.Errorf("policies section is not an object")
	}
	for _, field := range policies.Fields() {
		if err := r.define(field.Name, kindPolicyList); err != nil {
			return err
		}
		if err := r.renderPolicy(field.Name, field.Value); err != nil {
			return fmt.Errorf("policy %q: %w", field.Name, err)
		}
	}
	return nil
}

func (r *renderer) renderPolicy(name string, policy *document.Node) error {
	if policy.Kind() != document.KindObject {
		return fmt.Errorf("policy body is not an object")
	}
	terms := policy.Child("terms")
	if terms == nil || terms.Kind() != document.KindObject {
		return fmt.Errorf("policy has no terms object")
	}

	defaultAction, err := terminalAction(policy.Child("default-action"), "reject")
	if err != nil {
		return err
	}

	fmt.Fprintf(&r.out, "filter %s {\n", name)
	for _, term := range terms.Fields() {
		if err := r.renderTerm(term.Name, term.Value); err != nil {
			return fmt.Errorf("term %q: %w", term.Name, err)
		}
	}
	r.indent(1)
	r.out.WriteString(defaultAction + ";\n")
	r.out.WriteString("}\n\n")
	return nil
}

func (r *renderer) renderTerm(name string, term *document.Node) error {
	if term.Kind() != document.KindObject {
		return fmt.Errorf("term body is not an object")
	}

	joiner, err := matchJoiner(term.Child("match-type"))
	if err != nil {
		return err
	}
	checks, err := r.operandChecks(term.Child("if-match"))
	if err != nil {
		return err
	}
	actions, err := r.termActions(term.Child("then"))
	if err != nil {
		return err
	}

	r.indent(1)
	fmt.Fprintf(&r.out, "# term %s\n", name)
	r.indent(1)
	fmt.Fprintf(&r.out, "if (%s) then {\n", strings.Join(checks, joiner))
	for _, action := range actions {
		r.indent(2)
		r.out.WriteString(action + ";\n")
	}
	r.indent(1)
	r.out.WriteString("}\n")
	return nil
}

func matchJoiner(node *document.Node) (string, error) {
	if node == nil {
		return " && ", nil
	}
	switch node.StringValue() {
	case "ALL":
		return " && ", nil
	case "ANY":
		return " || ", nil
	default:
		return "", fmt.Errorf("unknown match-type %q", node.StringValue())
	}
}

// operandChecks renders the if-match conjunction operands in their fixed
// emission order. At least one operand must be present.
func (r *renderer) operandChecks(ifMatch *document.Node) ([]string, error) {
	if ifMatch == nil || ifMatch.Kind() != document.KindObject {
		return nil, fmt.Errorf("if-match is missing")
	}
	checks := make([]string, 0, 4)

	listChecks := []struct {
		key      string
		operator string
		attr     string
		kinds    []listKind
	}{
		{"as-path-eq", "=", "bgp_path", []listKind{kindASPathList}},
		{"as-path-in", "~", "bgp_path", []listKind{kindASPathList}},
		{"community-eq", "=", "bgp_community", []listKind{kindCommunityList}},
		{"community-in", "~", "bgp_community", []listKind{kindCommunityList}},
		{"ext-community-eq", "=", "bgp_ext_community", []listKind{kindExtCommunityList}},
		{"ext-community-in", "~", "bgp_ext_community", []listKind{kindExtCommunityList}},
	}
	for _, check := range listChecks {
		node := ifMatch.Child(check.key)
		if node == nil {
			continue
		}
		reference := node.StringValue()
		if node.Kind() != document.KindString || reference == "" {
			return nil, fmt.Errorf("%s must name a list", check.key)
		}
		if err := r.resolve(reference, check.kinds...); err != nil {
			return nil, err
		}
		checks = append(checks, fmt.Sprintf("%s %s %s", check.attr, check.operator, reference))
	}

	if node := ifMatch.Child("net-eq"); node != nil {
		prefix, err := netip.ParsePrefix(node.StringValue())
		if err != nil {
			return nil, fmt.Errorf("net-eq %q is not a prefix: %w", node.StringValue(), err)
		}
		checks = append(checks, fmt.Sprintf("net = %s", prefix))
	}
	if node := ifMatch.Child("net-in"); node != nil {
		reference := node.StringValue()
		if node.Kind() != document.KindString || reference == "" {
			return nil, fmt.Errorf("net-in must name a prefix list")
		}
		if err := r.resolve(reference, kindPrefixV4List, kindPrefixV6List); err != nil {
			return nil, err
		}
		checks = append(checks, fmt.Sprintf("net ~ %s", reference))
	}
	if node := ifMatch.Child("net-type-eq"); node != nil {
		netType, err := netTypeSymbol(node.StringValue())
		if err != nil {
			return nil, err
		}
		checks = append(checks, fmt.Sprintf("net.type = %s", netType))
	}
	if node := ifMatch.Child("source-protocol-eq"); node != nil {
		source, err := sourceProtocolSymbol(node.StringValue())
		if err != nil {
			return nil, err
		}
		checks = append(checks, fmt.Sprintf("source = %s", source))
	}

	if len(checks) == 0 {
		return nil, fmt.Errorf("if-match has no operand checks")
	}
	return checks, nil
}

func netTypeSymbol(value string) (string, error) {
	switch value {
	case "ipv4":
		return "NET_IP4", nil
	case "ipv6":
		return "NET_IP6", nil
	default:
		return "", fmt.Errorf("unknown net type %q", value)
	}
}

func sourceProtocolSymbol(value string) (string, error) {
	switch value {
	case "static":
		return "RTS_STATIC", nil
	case "bgp":
		return "RTS_BGP", nil
	case "direct":
		return "RTS_DEVICE", nil
	case "kernel":
		return "RTS_INHERIT", nil
	default:
		return "", fmt.Errorf("unknown source protocol %q", value)
	}
}

// termActions renders the then-block statements in their fixed order,
// terminated by the accept/reject verdict.
func (r *renderer) termActions(then *document.Node) ([]string, error) {
	actions := make([]string, 0, 4)
	var verdictNode *document.Node
	if then != nil {
		if then.Kind() != document.KindObject {
			return nil, fmt.Errorf("then is not an object")
		}
		if node := then.Child("as-path-prepend"); node != nil {
			asn, err := node.Int()
			if err != nil {
				return nil, fmt.Errorf("as-path-prepend is not an integer")
			}
			actions = append(actions, fmt.Sprintf("bgp_path.prepend(%d)", asn))
		}
		if node := then.Child("community-add"); node != nil {
			community, err := communityLiteral(node.StringValue())
			if err != nil {
				return nil, fmt.Errorf("community-add: %w", err)
			}
			actions = append(actions, fmt.Sprintf("bgp_community.add(%s)", community))
		}
		if node := then.Child("community-remove"); node != nil {
			community, err := communityLiteral(node.StringValue())
			if err != nil {
				return nil, fmt.Errorf("community-remove: %w", err)
			}
			actions = append(actions, fmt.Sprintf("bgp_community.delete(%s)", community))
		}
		if node := then.Child("local-preference-set"); node != nil {
			preference, err := node.Int()
			if err != nil {
				return nil, fmt.Errorf("local-preference-set is not an integer")
			}
			actions = append(actions, fmt.Sprintf("bgp_local_pref = %d", preference))
		}
		if node := then.Child("med-set"); node != nil {
			med, err := node.Int()
			if err != nil {
				return nil, fmt.Errorf("med-set is not an integer")
			}
			actions = append(actions, fmt.Sprintf("bgp_med = %d", med))
		}
		verdictNode = then.Child("action")
	}

	verdict, err := terminalAction(verdictNode, "accept")
	if err != nil {
		return nil, err
	}
	return append(actions, verdict), nil
}

func communityLiteral(value string) (string, error) {
	if !strings.Contains(value, ":") {
		return "", fmt.Errorf("community value %q has no colon separator", value)
	}
	return "(" + strings.ReplaceAll(value, ":", ",") + ")", nil
}

func terminalAction(node *document.Node, fallback string) (string, error) {
	if node == nil {
		return fallback, nil
	}
	switch node.StringValue() {
	case "permit":
		return "accept", nil
	case "deny":
		return "reject", nil
	default:
		return "", fmt.Errorf("unknown action %q", node.StringValue())
	}
}
