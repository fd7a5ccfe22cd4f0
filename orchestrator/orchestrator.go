package orchestrator

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowforge/txorchestrator/flow"
	"github.com/flowforge/txorchestrator/internal/logger"
	"go.uber.org/zap"
)

// Orchestrator drives transactions over one compiled flow.
type Orchestrator struct {
	flowName string
	dag      *flow.DAG

	mu        sync.RWMutex
	listeners map[Event][]Listener
}

// New compiles definition and returns an Orchestrator.
func New(flowName string, definition *flow.Definition) (*Orchestrator, error) {
	dag, err := flow.Compile(definition)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		flowName:  flowName,
		dag:       dag,
		listeners: make(map[Event][]Listener),
	}, nil
}

// GetKeyName builds the idempotency sub-key for one dispatch direction of
// one step within one transaction.
func GetKeyName(idempotencyKey, action string, handlerType HandlerType) string {
	return idempotencyKey + ":" + action + ":" + strings.ToLower(string(handlerType))
}

func (o *Orchestrator) On(event Event, listener Listener) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners[event] = append(o.listeners[event], listener)
}

func (o *Orchestrator) emit(event Event, tx *Transaction) {
	o.mu.RLock()
	ls := append([]Listener(nil), o.listeners[event]...)
	o.mu.RUnlock()
	for _, l := range ls {
		l(tx)
	}
}

// BeginTransaction allocates transaction state for one run of the flow. An
// empty idempotencyKey gets a generated UUID.
func (o *Orchestrator) BeginTransaction(idempotencyKey string, handler Handler, initialPayload map[string]any) *Transaction {
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}
	if initialPayload == nil {
		initialPayload = map[string]any{}
	}
	records := make([]nodeRecord, len(o.dag.Nodes))
	for i := range records {
		records[i].State = NodeIdle
	}
	return &Transaction{
		ID:             idempotencyKey,
		FlowName:       o.flowName,
		InitialPayload: initialPayload,
		Status:         StatusNotStarted,
		dag:            o.dag,
		handler:        handler,
		records:        records,
		keyIndex:       make(map[string]resumeTarget),
	}
}

func (o *Orchestrator) Resume(ctx context.Context, tx *Transaction) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.Status.Terminal() {
		return nil
	}
	if tx.Status == StatusNotStarted {
		tx.Status = StatusInvoking
		o.emit(EventBegin, tx)
	}
	o.emit(EventResume, tx)
	return o.drive(ctx, tx)
}

// parseSubKey recovers the (action, handlerType) a sub-key names directly
// from the DAG, so a step that was never dispatched can still be found even
// though tx.keyIndex has no entry for it yet.
func (o *Orchestrator) parseSubKey(tx *Transaction, subKey string) (int, HandlerType, bool) {
	prefix := tx.ID + ":"
	if !strings.HasPrefix(subKey, prefix) {
		return 0, "", false
	}
	rest := subKey[len(prefix):]
	sep := strings.LastIndex(rest, ":")
	if sep < 0 {
		return 0, "", false
	}
	action, kind := rest[:sep], rest[sep+1:]
	var handlerType HandlerType
	switch kind {
	case "invoke":
		handlerType = HandlerInvoke
	case "compensate":
		handlerType = HandlerCompensate
	default:
		return 0, "", false
	}
	idx, ok := o.dag.IndexOf(action)
	if !ok {
		return 0, "", false
	}
	return idx, handlerType, true
}

// RegisterStepSuccess is the external completion signal for an async step.
func (o *Orchestrator) RegisterStepSuccess(ctx context.Context, tx *Transaction, subKey string, response map[string]any) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	idx, handlerType, ok := o.parseSubKey(tx, subKey)
	if !ok {
		return UnknownKeyError{SubKey: subKey}
	}
	delete(tx.keyIndex, subKey)
	rec := &tx.records[idx]

	switch handlerType {
	case HandlerInvoke:
		rec.State = NodeInvokedOK
		rec.LastResponse = response
		tx.invokedOrder = append(tx.invokedOrder, idx)
		o.emit(EventStepSuccess, tx)
		if tx.Status == StatusWaitingToCompensate {
			if o.hasPendingAsync(tx) {
				return nil
			}
			return o.beginCompensationFromSeeds(ctx, tx)
		}
		return o.drive(ctx, tx)
	default: // HandlerCompensate
		rec.State = NodeCompensated
		o.emit(EventStepSuccess, tx)
		return o.driveCompensation(ctx, tx)
	}
}

// RegisterStepFailure is the external failure signal for an async step.
func (o *Orchestrator) RegisterStepFailure(ctx context.Context, tx *Transaction, subKey string, failureReason error) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	idx, handlerType, ok := o.parseSubKey(tx, subKey)
	if !ok {
		return UnknownKeyError{SubKey: subKey}
	}
	rec := &tx.records[idx]
	node := o.dag.Nodes[idx]

	if rec.State == NodeIdle {
		return InvalidResumeStateError{}
	}

	switch handlerType {
	case HandlerInvoke:
		rec.FailureReason = &StepInvokeFailure{Action: node.Action, Cause: failureReason}
		if rec.InvokeAttempts <= node.MaxRetries {
			rec.InvokeAttempts++
			rec.DispatchID = uuid.NewString()
			payload := o.buildPayload(tx, node, HandlerInvoke, rec.InvokeAttempts)
			tx.keyIndex[GetKeyName(tx.ID, node.Action, HandlerInvoke)] = resumeTarget{NodeIndex: idx, HandlerType: HandlerInvoke}
			o.dispatchAsyncIgnored(ctx, tx, node, HandlerInvoke, payload)
			return nil
		}
		delete(tx.keyIndex, subKey)
		if node.ContinueOnPermanentFailure {
			rec.State = NodePermanentFailureSkipped
			tx.IsPartiallyCompleted = true
			o.emit(EventStepFailure, tx)
			if tx.Status == StatusWaitingToCompensate {
				if o.hasPendingAsync(tx) {
					return nil
				}
				return o.beginCompensationFromSeeds(ctx, tx)
			}
			return o.drive(ctx, tx)
		}
		rec.State = NodeInvokeFailed
		o.emit(EventStepFailure, tx)
		// An unconfirmed async invoke may already have fired its side
		// effect, so it is still a compensation candidate.
		return o.requestCompensation(ctx, tx, idx)

	default: // HandlerCompensate
		rec.FailureReason = &StepCompensateFailure{Action: node.Action, Cause: failureReason}
		if rec.CompensateAttempts <= node.MaxRetries {
			rec.CompensateAttempts++
			rec.DispatchID = uuid.NewString()
			payload := o.buildPayload(tx, node, HandlerCompensate, rec.CompensateAttempts)
			tx.keyIndex[GetKeyName(tx.ID, node.Action, HandlerCompensate)] = resumeTarget{NodeIndex: idx, HandlerType: HandlerCompensate}
			o.dispatchAsyncIgnored(ctx, tx, node, HandlerCompensate, payload)
			return nil
		}
		delete(tx.keyIndex, subKey)
		o.emit(EventStepFailure, tx)
		tx.Status = StatusFailed
		o.emit(EventFailed, tx)
		o.finish(tx)
		return nil
	}
}

type invokeOutcome int

const (
	outcomeSuccess invokeOutcome = iota
	outcomeSkipped
	outcomeExhausted
	outcomePending
)

// drive assumes tx.mu is held.
func (o *Orchestrator) drive(ctx context.Context, tx *Transaction) error {
	if tx.Status.Terminal() || tx.Status == StatusCompensating || tx.Status == StatusWaitingToCompensate {
		return nil
	}

	for {
		ready := o.computeReadySet(tx)
		if len(ready) == 0 {
			if o.hasPendingAsync(tx) {
				return nil
			}
			tx.Status = StatusDone
			o.finish(tx)
			return nil
		}

		for _, idx := range ready {
			tx.records[idx].State = NodeInvoking
		}

		compensationNeeded := false
		for _, idx := range ready {
			node := o.dag.Nodes[idx]
			switch o.invokeNode(ctx, tx, node) {
			case outcomeExhausted:
				compensationNeeded = true
			}
		}

		if compensationNeeded {
			return o.requestCompensation(ctx, tx)
		}
	}
}

// computeReadySet returns, in ascending node index, the Idle nodes that are
// roots or whose parent is already InvokedOK/PermanentFailureSkipped, or
// (for a NoWait parent) already committed to this same pass.
func (o *Orchestrator) computeReadySet(tx *Transaction) []int {
	ready := make(map[int]bool)
	for changed := true; changed; {
		changed = false
		for _, node := range o.dag.Nodes {
			idx := node.Index
			if ready[idx] || tx.records[idx].State != NodeIdle {
				continue
			}
			if node.IsRoot() {
				ready[idx] = true
				changed = true
				continue
			}
			parentState := tx.records[node.ParentIndex].State
			if parentState == NodeInvokedOK || parentState == NodePermanentFailureSkipped {
				ready[idx] = true
				changed = true
				continue
			}
			parentNode := o.dag.Nodes[node.ParentIndex]
			if parentNode.NoWait && ready[node.ParentIndex] {
				ready[idx] = true
				changed = true
				continue
			}
		}
	}

	out := make([]int, 0, len(ready))
	for idx := range ready {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// hasPendingAsync reports whether any node is still Invoking. A synchronous
// node always leaves Invoking within the call that put it there, so this can
// only find an outstanding async dispatch.
func (o *Orchestrator) hasPendingAsync(tx *Transaction) bool {
	for i := range tx.records {
		if tx.records[i].State == NodeInvoking {
			return true
		}
	}
	return false
}

func (o *Orchestrator) invokeNode(ctx context.Context, tx *Transaction, node *flow.Node) invokeOutcome {
	rec := &tx.records[node.Index]
	rec.DispatchID = uuid.NewString()
	o.emit(EventStepBegin, tx)

	if node.Async {
		rec.InvokeAttempts++
		payload := o.buildPayload(tx, node, HandlerInvoke, rec.InvokeAttempts)
		tx.keyIndex[GetKeyName(tx.ID, node.Action, HandlerInvoke)] = resumeTarget{NodeIndex: node.Index, HandlerType: HandlerInvoke}
		o.dispatchAsyncIgnored(ctx, tx, node, HandlerInvoke, payload)
		return outcomePending
	}

	for {
		rec.InvokeAttempts++
		rec.DispatchID = uuid.NewString()
		payload := o.buildPayload(tx, node, HandlerInvoke, rec.InvokeAttempts)
		resp, err := tx.handler(ctx, node.Action, HandlerInvoke, payload)
		if err == nil {
			rec.State = NodeInvokedOK
			rec.LastResponse = resp
			tx.invokedOrder = append(tx.invokedOrder, node.Index)
			o.emit(EventStepSuccess, tx)
			return outcomeSuccess
		}

		rec.FailureReason = &StepInvokeFailure{Action: node.Action, Cause: err}
		logger.Debug("step invoke failed", zap.String("action", node.Action), zap.Int("attempt", rec.InvokeAttempts), zap.Error(err))
		if rec.InvokeAttempts <= node.MaxRetries {
			continue
		}

		if node.ContinueOnPermanentFailure {
			rec.State = NodePermanentFailureSkipped
			tx.IsPartiallyCompleted = true
			o.emit(EventStepFailure, tx)
			return outcomeSkipped
		}
		rec.State = NodeInvokeFailed
		o.emit(EventStepFailure, tx)
		return outcomeExhausted
	}
}

// dispatchAsyncIgnored fires the handler but ignores its outcome: state
// transitions for async nodes come only from RegisterStepSuccess/Failure.
func (o *Orchestrator) dispatchAsyncIgnored(ctx context.Context, tx *Transaction, node *flow.Node, handlerType HandlerType, payload Payload) {
	_, err := tx.handler(ctx, node.Action, handlerType, payload)
	if err != nil {
		logger.Debug("async dispatch returned an error, ignored pending external resolution",
			zap.String("action", node.Action), zap.String("handlerType", string(handlerType)), zap.Error(err))
	}
}

func (o *Orchestrator) requestCompensation(ctx context.Context, tx *Transaction, forced ...int) error {
	tx.compensateSeeds = append(tx.compensateSeeds, forced...)
	if o.hasPendingAsync(tx) {
		tx.Status = StatusWaitingToCompensate
		return nil
	}
	return o.beginCompensationFromSeeds(ctx, tx)
}

func (o *Orchestrator) beginCompensationFromSeeds(ctx context.Context, tx *Transaction) error {
	seeded := make(map[int]bool, len(tx.compensateSeeds))
	queue := make([]int, 0, len(tx.compensateSeeds)+len(tx.invokedOrder))
	for _, idx := range tx.compensateSeeds {
		queue = append(queue, idx)
		seeded[idx] = true
	}
	for i := len(tx.invokedOrder) - 1; i >= 0; i-- {
		idx := tx.invokedOrder[i]
		if !seeded[idx] && tx.records[idx].State == NodeInvokedOK {
			queue = append(queue, idx)
		}
	}
	tx.compensateSeeds = nil

	if len(queue) == 0 {
		tx.Status = StatusFailed
		o.emit(EventFailed, tx)
		o.finish(tx)
		return nil
	}

	tx.Status = StatusCompensating
	tx.compensationQueue = queue
	o.emit(EventCompensateBegin, tx)
	return o.driveCompensation(ctx, tx)
}

// driveCompensation walks tx.compensationQueue front to back (already in
// reverse invocation order), suspending if it reaches an async node.
func (o *Orchestrator) driveCompensation(ctx context.Context, tx *Transaction) error {
	if tx.Status.Terminal() {
		return nil
	}
	if tx.Status != StatusCompensating {
		tx.Status = StatusCompensating
	}

	for len(tx.compensationQueue) > 0 {
		idx := tx.compensationQueue[0]
		tx.compensationQueue = tx.compensationQueue[1:]

		node := o.dag.Nodes[idx]
		rec := &tx.records[idx]
		// NodeInvokeFailed here is a forced seed (an unconfirmed async
		// invoke) rather than a normal InvokedOK completion.
		if rec.State != NodeInvokedOK && rec.State != NodeInvokeFailed {
			continue
		}
		rec.State = NodeCompensating

		if node.Async {
			rec.CompensateAttempts++
			rec.DispatchID = uuid.NewString()
			payload := o.buildPayload(tx, node, HandlerCompensate, rec.CompensateAttempts)
			tx.keyIndex[GetKeyName(tx.ID, node.Action, HandlerCompensate)] = resumeTarget{NodeIndex: idx, HandlerType: HandlerCompensate}
			o.dispatchAsyncIgnored(ctx, tx, node, HandlerCompensate, payload)
			return nil
		}

		for {
			rec.CompensateAttempts++
			rec.DispatchID = uuid.NewString()
			payload := o.buildPayload(tx, node, HandlerCompensate, rec.CompensateAttempts)
			_, err := tx.handler(ctx, node.Action, HandlerCompensate, payload)
			if err == nil {
				rec.State = NodeCompensated
				o.emit(EventStepSuccess, tx)
				break
			}

			rec.FailureReason = &StepCompensateFailure{Action: node.Action, Cause: err}
			if rec.CompensateAttempts <= node.MaxRetries {
				continue
			}
			o.emit(EventStepFailure, tx)
			tx.Status = StatusFailed
			o.emit(EventFailed, tx)
			o.finish(tx)
			return nil
		}
	}

	tx.Status = StatusReverted
	o.emit(EventReverted, tx)
	o.finish(tx)
	return nil
}

func (o *Orchestrator) finish(tx *Transaction) {
	if tx.finished {
		return
	}
	tx.finished = true
	o.emit(EventFinish, tx)
}

func (o *Orchestrator) buildPayload(tx *Transaction, node *flow.Node, handlerType HandlerType, attempt int) Payload {
	data := make(map[string]any, len(tx.InitialPayload)+1)
	for k, v := range tx.InitialPayload {
		data[k] = v
	}
	if !node.IsRoot() {
		parentNode := o.dag.Nodes[node.ParentIndex]
		if parentNode.ForwardResponse {
			data["_response"] = tx.records[node.ParentIndex].LastResponse
		}
	}

	return Payload{
		Metadata: Metadata{
			Producer:       o.flowName,
			ReplyToTopic:   "trans:" + o.flowName,
			IdempotencyKey: GetKeyName(tx.ID, node.Action, handlerType),
			DispatchID:     tx.records[node.Index].DispatchID,
			Action:         node.Action,
			ActionType:     strings.ToLower(string(handlerType)),
			Attempt:        attempt,
			TimestampMs:    time.Now().UnixMilli(),
		},
		Data: data,
	}
}
