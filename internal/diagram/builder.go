package diagram

import (
	"fmt"

	"github.com/rendis/waypoint/pkg/schema"
)

// Overlay marks an instance's position on the graph.
type Overlay struct {
	Place   string
	Visited []string
}

// Build constructs a DiagramModel from a workflow definition. A nil overlay
// renders the bare graph.
func Build(def *schema.WorkflowDefinition, overlay *Overlay) (*DiagramModel, error) {
	if def == nil {
		return nil, fmt.Errorf("diagram: nil workflow definition")
	}

	places := placeOrder(def)
	nodeIndex := make(map[string]*Node, len(places))
	nodes := make([]*Node, 0, len(places))
	for _, p := range places {
		n := &Node{ID: p, Label: p, Kind: kindOf(p)}
		nodes = append(nodes, n)
		nodeIndex[p] = n
	}

	if overlay != nil {
		for _, p := range overlay.Visited {
			if n, ok := nodeIndex[p]; ok {
				n.Visited = true
			}
		}
		if n, ok := nodeIndex[overlay.Place]; ok {
			n.Current = true
			n.Visited = true
		}
	}

	edges, err := buildEdges(def, places)
	if err != nil {
		return nil, err
	}

	return &DiagramModel{
		Title:  def.Name,
		Nodes:  nodes,
		Edges:  edges,
		Levels: buildLevels(places, edges),
	}, nil
}

// placeOrder returns start, the declared places, then end.
func placeOrder(def *schema.WorkflowDefinition) []string {
	out := []string{schema.PlaceStart}
	for _, p := range def.Places {
		if p == schema.PlaceStart || p == schema.PlaceEnd {
			continue
		}
		out = append(out, p)
	}
	return append(out, schema.PlaceEnd)
}

func kindOf(place string) NodeKind {
	switch place {
	case schema.PlaceStart:
		return NodeKindStart
	case schema.PlaceEnd:
		return NodeKindEnd
	default:
		return NodeKindPlace
	}
}

// buildEdges expands every transition into one edge per source place.
// A "*" source covers every place except end.
func buildEdges(def *schema.WorkflowDefinition, places []string) ([]Edge, error) {
	known := make(map[string]bool, len(places))
	for _, p := range places {
		known[p] = true
	}

	var edges []Edge
	for _, tr := range def.Transitions {
		if !known[tr.To] {
			return nil, fmt.Errorf("diagram: transition %q targets undeclared place %q", tr.ID, tr.To)
		}
		kind := EdgeKindAutomatic
		if !tr.Automatic() {
			kind = EdgeKindManual
		}
		for _, src := range sources(tr.From, places) {
			edges = append(edges, Edge{From: src, To: tr.To, Label: tr.ID, Kind: kind})
			if tr.OnError != "" && known[tr.OnError] {
				edges = append(edges, Edge{From: src, To: tr.OnError, Label: tr.ID, Kind: EdgeKindOnError})
			}
		}
	}
	return edges, nil
}

func sources(from schema.FromPlaces, places []string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, f := range from {
		if f != schema.PlaceAny {
			add(f)
			continue
		}
		for _, p := range places {
			if p != schema.PlaceEnd {
				add(p)
			}
		}
	}
	return out
}

// buildLevels assigns each place the breadth-first distance from start.
// End always sits on the last level; unreachable places share the level
// before it.
func buildLevels(places []string, edges []Edge) [][]string {
	adj := make(map[string][]string)
	for _, e := range edges {
		adj[e.From] = append(adj[e.From], e.To)
	}

	depth := map[string]int{schema.PlaceStart: 0}
	queue := []string{schema.PlaceStart}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if _, ok := depth[next]; ok || next == schema.PlaceEnd {
				continue
			}
			depth[next] = depth[cur] + 1
			queue = append(queue, next)
		}
	}

	maxDepth := 0
	for _, d := range depth {
		maxDepth = max(maxDepth, d)
	}
	orphanLevel := maxDepth + 1
	endLevel := orphanLevel
	for _, p := range places {
		if _, ok := depth[p]; !ok && p != schema.PlaceEnd {
			endLevel = orphanLevel + 1
			break
		}
	}

	levels := make([][]string, endLevel+1)
	for _, p := range places {
		switch d, ok := depth[p]; {
		case p == schema.PlaceEnd:
			levels[endLevel] = append(levels[endLevel], p)
		case ok:
			levels[d] = append(levels[d], p)
		default:
			levels[orphanLevel] = append(levels[orphanLevel], p)
		}
	}
	return levels
}
