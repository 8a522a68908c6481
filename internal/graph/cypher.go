// internal/graph/cypher.go
package graph

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// isValidIdentifier guards labels, keys and relationship types, which
// Cypher cannot take as parameters.
func isValidIdentifier(s string) bool {
	return identifierRe.MatchString(s)
}

func validateRef(ref NodeRef) error {
	if !isValidIdentifier(ref.Label) {
		return fmt.Errorf("invalid node label: %q", ref.Label)
	}
	if !isValidIdentifier(ref.Key) {
		return fmt.Errorf("invalid key property: %q", ref.Key)
	}
	return nil
}

func mergeNodeQuery(n Node) (string, map[string]any, error) {
	if len(n.Labels) == 0 {
		return "", nil, fmt.Errorf("node needs at least one label")
	}
	ref := n.Ref()
	if err := validateRef(ref); err != nil {
		return "", nil, err
	}
	for _, l := range n.Labels[1:] {
		if !isValidIdentifier(l) {
			return "", nil, fmt.Errorf("invalid node label: %q", l)
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "MERGE (n:%s {%s: $value}) ", ref.Label, ref.Key)
	sb.WriteString("ON CREATE SET n += $onCreate ")
	sb.WriteString("ON MATCH SET n += $onMatch")
	if len(n.Labels) > 1 {
		fmt.Fprintf(&sb, " SET n:%s", strings.Join(n.Labels[1:], ":"))
	}

	params := map[string]any{
		"value":    n.Value,
		"onCreate": orEmpty(n.OnCreate),
		"onMatch":  orEmpty(n.OnMatch),
	}
	return sb.String(), params, nil
}

func mergeEdgeQuery(e Edge) (string, map[string]any, error) {
	if err := validateRef(e.From); err != nil {
		return "", nil, err
	}
	if err := validateRef(e.To); err != nil {
		return "", nil, err
	}
	if !isValidIdentifier(e.Type) {
		return "", nil, fmt.Errorf("invalid relationship type: %q", e.Type)
	}
	cypher := fmt.Sprintf(
		"MATCH (a:%s {%s: $from}) MATCH (b:%s {%s: $to}) MERGE (a)-[:%s]->(b) RETURN count(*) AS merged",
		e.From.Label, e.From.Key, e.To.Label, e.To.Key, e.Type,
	)
	return cypher, map[string]any{"from": e.From.Value, "to": e.To.Value}, nil
}

func setPropertiesQuery(ref NodeRef, props map[string]any) (string, map[string]any, error) {
	if err := validateRef(ref); err != nil {
		return "", nil, err
	}
	cypher := fmt.Sprintf("MATCH (n:%s {%s: $value}) SET n += $props RETURN count(n) AS matched", ref.Label, ref.Key)
	return cypher, map[string]any{"value": ref.Value, "props": orEmpty(props)}, nil
}

func nodeQuery(ref NodeRef) (string, map[string]any, error) {
	if err := validateRef(ref); err != nil {
		return "", nil, err
	}
	cypher := fmt.Sprintf("MATCH (n:%s {%s: $value}) RETURN properties(n) AS props", ref.Label, ref.Key)
	return cypher, map[string]any{"value": ref.Value}, nil
}

func countIncomingQuery(ref NodeRef, relType string, transitive bool) (string, map[string]any, error) {
	if err := validateRef(ref); err != nil {
		return "", nil, err
	}
	if !isValidIdentifier(relType) {
		return "", nil, fmt.Errorf("invalid relationship type: %q", relType)
	}
	hops := ""
	if transitive {
		hops = "*"
	}
	cypher := fmt.Sprintf(
		"MATCH (n:%s {%s: $value}) RETURN COUNT { (n)<-[:%s%s]-() } AS count",
		ref.Label, ref.Key, relType, hops,
	)
	return cypher, map[string]any{"value": ref.Value}, nil
}

func incomingQuery(ref NodeRef, relType string) (string, map[string]any, error) {
	if err := validateRef(ref); err != nil {
		return "", nil, err
	}
	if !isValidIdentifier(relType) {
		return "", nil, fmt.Errorf("invalid relationship type: %q", relType)
	}
	cypher := fmt.Sprintf(
		"MATCH (src)-[:%s]->(n:%s {%s: $value}) RETURN labels(src) AS labels, properties(src) AS props",
		relType, ref.Label, ref.Key,
	)
	return cypher, map[string]any{"value": ref.Value}, nil
}

func findQuery(label string, match map[string]any) (string, map[string]any, error) {
	if !isValidIdentifier(label) {
		return "", nil, fmt.Errorf("invalid node label: %q", label)
	}
	keys := make([]string, 0, len(match))
	for k := range match {
		if !isValidIdentifier(k) {
			return "", nil, fmt.Errorf("invalid property: %q", k)
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var sb strings.Builder
	fmt.Fprintf(&sb, "MATCH (n:%s)", label)
	params := make(map[string]any, len(keys))
	for i, k := range keys {
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		name := fmt.Sprintf("p%d", i)
		if _, ok := match[k].(string); ok {
			fmt.Fprintf(&sb, "toLower(n.%s) = toLower($%s)", k, name)
		} else {
			fmt.Fprintf(&sb, "n.%s = $%s", k, name)
		}
		params[name] = match[k]
	}
	sb.WriteString(" RETURN labels(n) AS labels, properties(n) AS props")
	return sb.String(), params, nil
}

func deleteSubtreeQuery(ref NodeRef) (string, map[string]any, error) {
	if err := validateRef(ref); err != nil {
		return "", nil, err
	}
	cypher := fmt.Sprintf(`MATCH (r:%s {%s: $value})
OPTIONAL MATCH (upstream)-[*]->(r)
WITH r, collect(DISTINCT upstream) + r AS found
WITH r, [n IN found WHERE n = r OR none(o IN [(n)-->(x) | x] WHERE NOT o IN found)] AS nodes
WITH nodes, size(nodes) AS total
FOREACH (d IN nodes | DETACH DELETE d)
RETURN total`, ref.Label, ref.Key)
	return cypher, map[string]any{"value": ref.Value}, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
