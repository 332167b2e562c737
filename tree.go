package ticktree

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/kestrelrobotics/ticktree/blackboard"
)

// StateChange is one observed node transition, delivered to observers
// in tick order.
type StateChange struct {
	NodeUID  uint16
	NodeName string
	Previous Status
	Current  Status
}

// Tree is the composition root: it owns the instantiated node
// hierarchy, the stack of blackboard scopes, and the Runtime that
// drives every timing-dependent behavior.
type Tree struct {
	id         string
	instanceID string
	root       *Node
	scopes     []*blackboard.Blackboard
	runtime    Runtime
	log        *slog.Logger

	obsMu     sync.RWMutex
	observers []func(StateChange)
}

// ID returns the registered tree ID this instance was built from.
func (t *Tree) ID() string { return t.id }

// InstanceID returns the unique identifier of this instantiation.
func (t *Tree) InstanceID() string { return t.instanceID }

// Root returns the root node.
func (t *Tree) Root() *Node { return t.root }

// Blackboard returns the top-level scope.
func (t *Tree) Blackboard() *blackboard.Blackboard {
	return t.scopes[0]
}

// Scopes returns every blackboard scope of the tree, top-level first,
// then subtree scopes in instantiation order.
func (t *Tree) Scopes() []*blackboard.Blackboard {
	return t.scopes
}

// Runtime returns the injected Runtime.
func (t *Tree) Runtime() Runtime { return t.runtime }

// OnStateChange registers an observer called synchronously on every
// node transition. Observers must be fast and must not tick the tree.
func (t *Tree) OnStateChange(fn func(StateChange)) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, fn)
}

func (t *Tree) notifyStateChange(n *Node, prev, next Status) {
	t.obsMu.RLock()
	observers := t.observers
	t.obsMu.RUnlock()
	if len(observers) == 0 {
		return
	}
	change := StateChange{NodeUID: n.uid, NodeName: n.display, Previous: prev, Current: next}
	for _, fn := range observers {
		fn(change)
	}
}

// TickOnce performs a single root tick. A returned error is a hard
// error that short-circuited the tick; the tree is left ready to be
// halted by the caller.
func (t *Tree) TickOnce(ctx context.Context) (Status, error) {
	st, err := t.root.ExecuteTick(ctx)
	if err != nil {
		t.log.Error("tick error", "tree", t.id, "error", err)
		return st, err
	}
	t.log.Debug("tick", "tree", t.id, "status", st.String())
	return st, nil
}

// TickWhileRunning ticks the root until it resolves, yielding to the
// Runtime between ticks so concurrent tasks can progress. It returns
// the root's terminal verdict, or the first hard error.
func (t *Tree) TickWhileRunning(ctx context.Context) (Status, error) {
	for {
		st, err := t.TickOnce(ctx)
		if err != nil || st != Running {
			return st, err
		}
		if err := t.runtime.Yield(ctx); err != nil {
			return Failure, err
		}
	}
}

// Halt cancels the tree: every Running descendant is halted depth-first
// left-to-right, releasing pending deadlines and resetting counters.
func (t *Tree) Halt(ctx context.Context) error {
	return t.root.Halt(ctx)
}

// Nodes returns every node in depth-first order.
func (t *Tree) Nodes() []*Node {
	var out []*Node
	var walk func(n *Node)
	walk = func(n *Node) {
		out = append(out, n)
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(t.root)
	return out
}

func newTree(id string, root *Node, scopes []*blackboard.Blackboard, rt Runtime, log *slog.Logger) *Tree {
	if rt == nil {
		rt = &SystemRuntime{}
	}
	if log == nil {
		log = slog.Default()
	}
	t := &Tree{
		id:         id,
		instanceID: uuid.NewString(),
		root:       root,
		scopes:     scopes,
		runtime:    rt,
		log:        log,
	}
	for _, n := range t.Nodes() {
		n.tree = t
	}
	return t
}
