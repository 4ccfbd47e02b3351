package diagram

// NodeKind classifies a diagram node.
type NodeKind string

const (
	NodeKindPlace NodeKind = "place"
	NodeKindStart NodeKind = "start"
	NodeKindEnd   NodeKind = "end"
)

// EdgeKind classifies how a transition reaches its target.
type EdgeKind string

const (
	// EdgeKindAutomatic edges fire on their own when the condition holds.
	EdgeKindAutomatic EdgeKind = "automatic"
	// EdgeKindManual edges fire only when requested.
	EdgeKindManual EdgeKind = "manual"
	// EdgeKindOnError edges are taken when a tool call fails.
	EdgeKindOnError EdgeKind = "onError"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node is one place.
type Node struct {
	ID    string
	Label string
	Kind  NodeKind
	// Current marks the place an instance occupies.
	Current bool
	// Visited marks places an instance has passed through.
	Visited bool
}

// Edge is one transition between two places.
type Edge struct {
	From  string
	To    string
	Label string
	Kind  EdgeKind
}
