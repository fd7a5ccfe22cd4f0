package flow

type queueEntry struct {
	def         *StepDefinition
	parentIndex int
	depth       int
}

// Compile walks a Definition breadth-first and produces an immutable DAG.
func Compile(def *Definition) (*DAG, error) {
	if def == nil || len(def.Next) == 0 {
		return nil, InvalidFlowError{Reason: "flow has no root steps"}
	}

	dag := &DAG{
		actionIndex: make(map[string]int),
	}

	queue := make([]queueEntry, 0, len(def.Next))
	for _, step := range def.Next {
		queue = append(queue, queueEntry{def: step, parentIndex: -1, depth: 0})
	}

	for len(queue) > 0 {
		entry := queue[0]
		queue = queue[1:]

		if entry.def.Action == "" {
			return nil, InvalidFlowError{Reason: "step has empty action identifier"}
		}
		if _, exists := dag.actionIndex[entry.def.Action]; exists {
			return nil, InvalidFlowError{Reason: "duplicate action identifier " + entry.def.Action}
		}

		maxRetries := DefaultMaxRetries
		if entry.def.MaxRetries != nil {
			maxRetries = *entry.def.MaxRetries
		}

		node := &Node{
			Action:                     entry.def.Action,
			MaxRetries:                 maxRetries,
			ContinueOnPermanentFailure: entry.def.ContinueOnPermanentFailure,
			ForwardResponse:            entry.def.ForwardResponse,
			NoWait:                     entry.def.NoWait,
			Async:                      entry.def.Async,
			Index:                      len(dag.Nodes),
			Depth:                      entry.depth,
			ParentIndex:                entry.parentIndex,
		}
		dag.Nodes = append(dag.Nodes, node)
		dag.actionIndex[node.Action] = node.Index

		if entry.parentIndex < 0 {
			dag.RootIndices = append(dag.RootIndices, node.Index)
		} else {
			parent := dag.Nodes[entry.parentIndex]
			parent.ChildIndices = append(parent.ChildIndices, node.Index)
		}

		for _, child := range entry.def.Next {
			queue = append(queue, queueEntry{def: child, parentIndex: node.Index, depth: entry.depth + 1})
		}
	}

	assignSiblings(dag)
	return dag, nil
}

func assignSiblings(dag *DAG) {
	byParent := make(map[int][]int)
	for _, n := range dag.Nodes {
		byParent[n.ParentIndex] = append(byParent[n.ParentIndex], n.Index)
	}
	for _, n := range dag.Nodes {
		group := byParent[n.ParentIndex]
		if len(group) < 2 {
			continue
		}
		siblings := make([]int, 0, len(group)-1)
		for _, idx := range group {
			if idx != n.Index {
				siblings = append(siblings, idx)
			}
		}
		n.SiblingIndices = siblings
	}
}
