package orchestrator

import (
	"sync"

	"github.com/flowforge/txorchestrator/flow"
)

type resumeTarget struct {
	NodeIndex   int
	HandlerType HandlerType
}

// nodeRecord is the per-node execution state carried by a Transaction.
type nodeRecord struct {
	State              NodeState
	InvokeAttempts     int
	CompensateAttempts int
	LastResponse       map[string]any
	FailureReason      error
	DispatchID         string
}

// NodeStatus is a read-only snapshot of one step's execution state.
type NodeStatus struct {
	State              NodeState
	InvokeAttempts     int
	CompensateAttempts int
	LastResponse       map[string]any
	FailureReason      error
	DispatchID         string
}

// Transaction is one run of a flow, created by Orchestrator.BeginTransaction
// and mutated only through Orchestrator's Resume/RegisterStepSuccess/
// RegisterStepFailure. Callers must serialize their own calls per
// transaction. Exported fields and NodeStatus are read without locking, so
// they may be read from a Listener or between calls, not while another
// goroutine is inside one of those calls.
type Transaction struct {
	ID             string
	FlowName       string
	InitialPayload map[string]any
	Status         Status

	IsPartiallyCompleted bool

	mu       sync.Mutex
	dag      *flow.DAG
	handler  Handler
	records  []nodeRecord
	keyIndex map[string]resumeTarget

	invokedOrder      []int
	compensationQueue []int
	compensateSeeds   []int

	finished bool
}

func (t *Transaction) NodeStatus(action string) (NodeStatus, bool) {
	idx, ok := t.dag.IndexOf(action)
	if !ok {
		return NodeStatus{}, false
	}
	r := t.records[idx]
	return NodeStatus{
		State:              r.State,
		InvokeAttempts:     r.InvokeAttempts,
		CompensateAttempts: r.CompensateAttempts,
		LastResponse:       r.LastResponse,
		FailureReason:      r.FailureReason,
		DispatchID:         r.DispatchID,
	}, true
}
