package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a DiagramModel as a Mermaid state diagram.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("stateDiagram-v2\n")
	if model.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", model.Title)
	}

	// Places are aliased so reserved words like "end" stay legal.
	for _, node := range model.Nodes {
		fmt.Fprintf(&b, "    state %q as %s\n", mermaidEscapeLabel(node.Label), mermaidSafeID(node.ID))
	}

	for _, node := range model.Nodes {
		switch node.Kind {
		case NodeKindStart:
			fmt.Fprintf(&b, "    [*] --> %s\n", mermaidSafeID(node.ID))
		case NodeKindEnd:
			fmt.Fprintf(&b, "    %s --> [*]\n", mermaidSafeID(node.ID))
		}
	}

	for _, edge := range model.Edges {
		fmt.Fprintf(&b, "    %s --> %s : %s\n",
			mermaidSafeID(edge.From), mermaidSafeID(edge.To), mermaidEdgeLabel(edge))
	}

	b.WriteString("\n")
	b.WriteString("    classDef current fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef visited fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")

	for _, node := range model.Nodes {
		switch {
		case node.Current:
			fmt.Fprintf(&b, "    class %s current\n", mermaidSafeID(node.ID))
		case node.Visited:
			fmt.Fprintf(&b, "    class %s visited\n", mermaidSafeID(node.ID))
		}
	}

	return b.String()
}

func mermaidEdgeLabel(edge Edge) string {
	label := mermaidEscapeLabel(edge.Label)
	switch edge.Kind {
	case EdgeKindManual:
		return label + " (manual)"
	case EdgeKindOnError:
		return label + " (onError)"
	default:
		return label
	}
}

// mermaidSafeID converts a place to a Mermaid identifier. The prefix keeps
// places from colliding with diagram keywords.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_", ":", "_", "/", "_")
	return "p_" + r.Replace(id)
}

// mermaidEscapeLabel strips characters that end a Mermaid label early.
func mermaidEscapeLabel(s string) string {
	return strings.NewReplacer("\"", "'", ":", " ", "\n", " ").Replace(firstLine(s))
}
