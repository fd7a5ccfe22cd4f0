package flow

// Node is a compiled step: same shape as StepDefinition, plus a stable
// index, depth, parent index, and precomputed child/sibling index sets.
type Node struct {
	Action                     string
	MaxRetries                 int
	ContinueOnPermanentFailure bool
	ForwardResponse            bool
	NoWait                     bool
	Async                      bool

	Index          int
	Depth          int
	ParentIndex    int // -1 for a root-level node
	ChildIndices   []int
	SiblingIndices []int // other nodes sharing this node's parent, excluding self
}

func (n *Node) IsRoot() bool {
	return n.ParentIndex < 0
}

// DAG is the compiled, immutable form of a Definition. It carries no
// execution state and may be shared across any number of transactions.
type DAG struct {
	Nodes       []*Node
	RootIndices []int
	actionIndex map[string]int
}

func (d *DAG) IndexOf(action string) (int, bool) {
	idx, ok := d.actionIndex[action]
	return idx, ok
}
