package ticktree

import (
	"context"
	"fmt"
)

// Kind classifies a behavior type. Kinds differ only in their default
// child-count validation; the tick contract is the same for all.
type Kind int

const (
	// ActionKind is a leaf that does work.
	ActionKind Kind = iota
	// ConditionKind is a leaf that observes and never returns Running.
	ConditionKind
	// ControlKind has one or more children and routes ticks among them.
	ControlKind
	// DecoratorKind wraps exactly one child.
	DecoratorKind
	// SubTreeKind is the scope boundary inserted for <SubTree> references.
	SubTreeKind
)

func (k Kind) String() string {
	switch k {
	case ActionKind:
		return "Action"
	case ConditionKind:
		return "Condition"
	case ControlKind:
		return "Control"
	case DecoratorKind:
		return "Decorator"
	case SubTreeKind:
		return "SubTree"
	}
	return "Unknown"
}

// Behavior is the tick contract every node type implements. Tick runs
// one activation step and returns Running to be called again, or a
// terminal verdict. A returned error is a hard error: it short-circuits
// the whole tick and propagates to the root, distinct from Failure.
//
// Each node owns a private Behavior instance, so implementations keep
// per-activation state (indices, counters, deadlines) in plain fields.
type Behavior interface {
	Tick(ctx context.Context, n *Node) (Status, error)
}

// Starter is implemented by behaviors that need setup when a fresh
// activation begins (state was Idle).
type Starter interface {
	Start(ctx context.Context, n *Node) error
}

// Halter is implemented by behaviors that hold resources or counters
// across ticks. Halt is called when a Running node is preempted, after
// its children were halted; it must release pending deadlines and reset
// internal counters.
type Halter interface {
	Halt(ctx context.Context, n *Node) error
}

// PortProvider is implemented by behaviors that declare ports.
type PortProvider interface {
	Ports() PortList
}

// childValidator lets a behavior tighten its kind's default child-count
// rule (e.g. IfThenElse accepts 2 or 3 children).
type childValidator interface {
	validateChildren(count int) error
}

// validateChildCount applies the kind default unless the behavior
// overrides it.
func validateChildCount(kind Kind, b Behavior, count int) error {
	if v, ok := b.(childValidator); ok {
		return v.validateChildren(count)
	}
	switch kind {
	case ActionKind, ConditionKind:
		if count != 0 {
			return fmt.Errorf("%w: leaf has %d children", ErrChildCount, count)
		}
	case DecoratorKind, SubTreeKind:
		if count != 1 {
			return fmt.Errorf("%w: decorator has %d children, needs 1", ErrChildCount, count)
		}
	case ControlKind:
		if count < 1 {
			return fmt.Errorf("%w: control has no children", ErrChildCount)
		}
	}
	return nil
}

// SimpleFunc is the callable form of a leaf behavior: a plain function
// from node context to verdict, for behaviors with no lifecycle state.
type SimpleFunc func(ctx context.Context, n *Node) (Status, error)

type simpleBehavior struct {
	fn    SimpleFunc
	ports PortList
}

func (s *simpleBehavior) Tick(ctx context.Context, n *Node) (Status, error) {
	return s.fn(ctx, n)
}

func (s *simpleBehavior) Ports() PortList { return s.ports }
