// Package tree implements the execution tree: an append-friendly, ordered
// record of llm_call and gadget nodes with O(1) lookup by ID, monotonic
// status transitions, and an ordered event-subscriber bus. The tree is
// shared between a parent agent loop and every subagent it spawns.
package tree

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zbigniewsobiecki/llmist/pkg/models"
)

// Subscriber receives tree events in the strict order operations were
// applied. A subscriber must not mutate the tree synchronously from within
// its own invocation (spec.md §5); implementations here hold the tree's
// lock while delivering, so a reentrant mutation would deadlock — a
// deliberate way of surfacing the violation rather than silently allowing
// it.
type Subscriber func(models.TreeEvent)

// Tree is safe for concurrent use: a parent agent loop and any subagent
// gadgets it spawns mutate the same instance from different goroutines.
type Tree struct {
	mu          sync.Mutex
	nodes       map[string]*models.Node
	order       []string // insertion order, for deterministic iteration
	subscribers []subscriberEntry
	nextSubID   uint64
}

type subscriberEntry struct {
	id uint64
	fn Subscriber
}

// New creates an empty execution tree.
func New() *Tree {
	return &Tree{nodes: make(map[string]*models.Node)}
}

// OnAll registers a subscriber that receives every tree event from this
// point forward, in operation order. The returned function unsubscribes;
// calling it more than once is a no-op.
func (t *Tree) OnAll(sub Subscriber) func() {
	t.mu.Lock()
	id := t.nextSubID
	t.nextSubID++
	t.subscribers = append(t.subscribers, subscriberEntry{id: id, fn: sub})
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			for i, e := range t.subscribers {
				if e.id == id {
					t.subscribers = append(t.subscribers[:i], t.subscribers[i+1:]...)
					break
				}
			}
		})
	}
}

// emit must be called while holding t.mu, so subscriber delivery for one
// operation completes before the next operation's lock acquisition can
// proceed — satisfying the ordering guarantee in spec.md §4.D.
func (t *Tree) emit(ev models.TreeEvent) {
	if ev.Node.LLMCall != nil {
		data := *ev.Node.LLMCall
		ev.Node.LLMCall = &data
	}
	if ev.Node.Gadget != nil {
		data := *ev.Node.Gadget
		ev.Node.Gadget = &data
	}
	for _, e := range t.subscribers {
		e.fn(ev)
	}
}

func newNodeID() string {
	return uuid.NewString()
}

// AddLLMCallInput carries addLLMCall's parameters.
type AddLLMCallInput struct {
	Iteration int
	Model     string
	ParentID  string // empty for a root (non-subagent) llm_call
}

// AddLLMCall appends a new llm_call node in the running state.
func (t *Tree) AddLLMCall(in AddLLMCallInput) models.Node {
	t.mu.Lock()
	defer t.mu.Unlock()

	node := &models.Node{
		ID:       newNodeID(),
		Kind:     models.NodeLLMCall,
		ParentID: in.ParentID,
		LLMCall: &models.LLMCallData{
			Iteration: in.Iteration,
			Model:     in.Model,
			Status:    models.LLMCallRunning,
		},
	}
	t.insert(node)
	t.emit(models.TreeEvent{Type: models.TreeEventLLMCallAdded, Node: *node})
	return *node
}

// CompleteLLMCallInput carries completeLLMCall's optional fields.
type CompleteLLMCallInput struct {
	Response     string
	Usage        *models.Usage
	FinishReason string
	Cost         float64
}

// CompleteLLMCall transitions an llm_call node from running to complete.
func (t *Tree) CompleteLLMCall(id string, in CompleteLLMCallInput) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, err := t.requireLLMCall(id)
	if err != nil {
		return err
	}
	if node.LLMCall.Status != models.LLMCallRunning {
		return fmt.Errorf("tree: llm_call %s: cannot complete from status %s", id, node.LLMCall.Status)
	}
	node.LLMCall.Status = models.LLMCallComplete
	node.LLMCall.Response = in.Response
	node.LLMCall.Usage = in.Usage
	node.LLMCall.FinishReason = in.FinishReason
	node.LLMCall.Cost = in.Cost

	t.emit(models.TreeEvent{Type: models.TreeEventLLMCallCompleted, Node: *node})
	return nil
}

// FailLLMCall transitions an llm_call node from running to failed.
func (t *Tree) FailLLMCall(id string, cause error, retryable bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, err := t.requireLLMCall(id)
	if err != nil {
		return err
	}
	if node.LLMCall.Status != models.LLMCallRunning {
		return fmt.Errorf("tree: llm_call %s: cannot fail from status %s", id, node.LLMCall.Status)
	}
	node.LLMCall.Status = models.LLMCallFailed
	if cause != nil {
		node.LLMCall.Error = cause.Error()
	}
	node.LLMCall.Retryable = retryable

	t.emit(models.TreeEvent{Type: models.TreeEventLLMCallFailed, Node: *node})
	return nil
}

// RecordGadgetCall appends the gadget's node ID to its parent llm_call's
// CallIDs collection, in arrival order. Called once per gadget_call event
// the parser emits for a given llm_call.
func (t *Tree) RecordGadgetCall(llmCallID, gadgetNodeID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, err := t.requireLLMCall(llmCallID)
	if err != nil {
		return err
	}
	node.LLMCall.CallIDs = append(node.LLMCall.CallIDs, gadgetNodeID)
	return nil
}

// AddGadgetInput carries addGadget's parameters.
type AddGadgetInput struct {
	InvocationID string
	Name         string
	Parameters   map[string]any
	ParentID     string // the llm_call node this invocation was parsed from
	Dependencies []string
}

// AddGadget appends a new gadget node in the pending state.
func (t *Tree) AddGadget(in AddGadgetInput) models.Node {
	t.mu.Lock()
	defer t.mu.Unlock()

	node := &models.Node{
		ID:       newNodeID(),
		Kind:     models.NodeGadget,
		ParentID: in.ParentID,
		Gadget: &models.GadgetData{
			InvocationID: in.InvocationID,
			Name:         in.Name,
			Parameters:   in.Parameters,
			Dependencies: in.Dependencies,
			Status:       models.GadgetPending,
		},
	}
	t.insert(node)
	t.emit(models.TreeEvent{Type: models.TreeEventGadgetAdded, Node: *node})
	return *node
}

// StartGadget transitions a gadget node from pending to running.
func (t *Tree) StartGadget(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, err := t.requireGadget(id)
	if err != nil {
		return err
	}
	if node.Gadget.Status != models.GadgetPending {
		return fmt.Errorf("tree: gadget %s: cannot start from status %s", id, node.Gadget.Status)
	}
	node.Gadget.Status = models.GadgetRunning
	node.Gadget.StartedAt = time.Now()

	t.emit(models.TreeEvent{Type: models.TreeEventGadgetStarted, Node: *node})
	return nil
}

// CompleteGadgetInput carries completeGadget's optional fields. Exactly one
// of Result or Error should be set by the caller (a failed execution sets
// Error and leaves Result empty).
type CompleteGadgetInput struct {
	Result          string
	Error           string
	ExecutionTimeMs int64
	Cost            float64
	Media           []models.MediaRef
}

// CompleteGadget transitions a gadget node from running to complete or
// failed, depending on whether in.Error is set.
func (t *Tree) CompleteGadget(id string, in CompleteGadgetInput) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, err := t.requireGadget(id)
	if err != nil {
		return err
	}
	if node.Gadget.Status != models.GadgetRunning {
		return fmt.Errorf("tree: gadget %s: cannot complete from status %s", id, node.Gadget.Status)
	}
	node.Gadget.Result = in.Result
	node.Gadget.Error = in.Error
	node.Gadget.ExecutionTimeMs = in.ExecutionTimeMs
	node.Gadget.Cost = in.Cost
	node.Gadget.Media = in.Media
	node.Gadget.CompletedAt = time.Now()
	if in.Error != "" {
		node.Gadget.Status = models.GadgetFailed
	} else {
		node.Gadget.Status = models.GadgetComplete
	}

	t.emit(models.TreeEvent{Type: models.TreeEventGadgetCompleted, Node: *node})
	return nil
}

// SkipGadget transitions a gadget node from pending to skipped, because a
// dependency (failedDepID) failed with failedDepError.
func (t *Tree) SkipGadget(id, failedDepID, failedDepError, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, err := t.requireGadget(id)
	if err != nil {
		return err
	}
	if node.Gadget.Status != models.GadgetPending {
		return fmt.Errorf("tree: gadget %s: cannot skip from status %s", id, node.Gadget.Status)
	}
	node.Gadget.Status = models.GadgetSkipped
	node.Gadget.SkipReason = reason
	node.Gadget.CompletedAt = time.Now()

	t.emit(models.TreeEvent{
		Type:           models.TreeEventGadgetSkipped,
		Node:           *node,
		FailedDepID:    failedDepID,
		FailedDepError: failedDepError,
		SkipReason:     reason,
	})
	return nil
}

// All returns every node in insertion order, for debugging and tests. Not
// part of spec.md's operation list.
func (t *Tree) All() []models.Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.Node, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.nodes[id])
	}
	return out
}

// GetNode returns a copy of the node with the given ID.
func (t *Tree) GetNode(id string) (models.Node, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return models.Node{}, false
	}
	return *n, true
}

// GetAncestors walks from id to the root, inclusive of id itself, returning
// nodes ordered from id outward (id first, root last).
func (t *Tree) GetAncestors(id string) []models.Node {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []models.Node
	cur := id
	seen := make(map[string]bool)
	for cur != "" {
		if seen[cur] {
			break // defensive: a malformed parent chain must not spin forever
		}
		seen[cur] = true
		n, ok := t.nodes[cur]
		if !ok {
			break
		}
		out = append(out, *n)
		cur = n.ParentID
	}
	return out
}

// SubagentContext derives the nearest enclosing gadget for id by walking
// ancestors, per spec.md §4.D/§8: depth counts gadget ancestors (not llm_call
// ancestors) between id and the root, inclusive of the nearest one found.
func (t *Tree) SubagentContext(id string) (models.SubagentContext, bool) {
	ancestors := t.GetAncestors(id)
	depth := 0
	var nearest *models.Node
	for i := 1; i < len(ancestors); i++ { // skip id itself (ancestors[0])
		if ancestors[i].Kind == models.NodeGadget {
			depth++
			if nearest == nil {
				nearest = &ancestors[i]
			}
		}
	}
	if nearest == nil {
		return models.SubagentContext{}, false
	}
	return models.SubagentContext{
		ParentGadgetInvocationID: nearest.Gadget.InvocationID,
		Depth:                    depth,
	}, true
}

func (t *Tree) insert(n *models.Node) {
	t.nodes[n.ID] = n
	t.order = append(t.order, n.ID)
}

func (t *Tree) requireLLMCall(id string) (*models.Node, error) {
	n, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("tree: no such node %s", id)
	}
	if n.Kind != models.NodeLLMCall {
		return nil, fmt.Errorf("tree: node %s is not an llm_call node", id)
	}
	return n, nil
}

func (t *Tree) requireGadget(id string) (*models.Node, error) {
	n, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("tree: no such node %s", id)
	}
	if n.Kind != models.NodeGadget {
		return nil, fmt.Errorf("tree: node %s is not a gadget node", id)
	}
	return n, nil
}
