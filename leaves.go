package ticktree

import (
	"context"
	"fmt"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/kestrelrobotics/ticktree/script"
	"github.com/kestrelrobotics/ticktree/value"
)

// AlwaysSuccess succeeds immediately.
type AlwaysSuccess struct{}

// Tick implements Behavior.
func (AlwaysSuccess) Tick(ctx context.Context, n *Node) (Status, error) {
	return Success, nil
}

// AlwaysFailure fails immediately.
type AlwaysFailure struct{}

// Tick implements Behavior.
func (AlwaysFailure) Tick(ctx context.Context, n *Node) (Status, error) {
	return Failure, nil
}

// ScriptAction evaluates a script against the blackboard. It succeeds
// unless evaluation errors, in which case the verdict is Failure.
type ScriptAction struct{}

// Ports implements PortProvider.
func (ScriptAction) Ports() PortList {
	return PortList{Input[string]("code", "script to evaluate")}
}

// Tick implements Behavior.
func (ScriptAction) Tick(ctx context.Context, n *Node) (Status, error) {
	code, err := InputValue[string](n, "code")
	if err != nil {
		return Failure, err
	}
	prog, err := script.Compile(code)
	if err != nil {
		n.Logger().Warn("script parse error", "node", n.Path(), "error", err)
		return Failure, nil
	}
	if _, err := prog.Run(n.Env()); err != nil {
		n.Logger().Warn("script error", "node", n.Path(), "error", err)
		return Failure, nil
	}
	return Success, nil
}

// SetBlackboard copies its value port into the entry named by
// output_key.
type SetBlackboard struct{}

// Ports implements PortProvider.
func (SetBlackboard) Ports() PortList {
	return PortList{
		Input[string]("value", "value to store"),
		Output[string]("output_key", "entry to write"),
	}
}

// Tick implements Behavior.
func (SetBlackboard) Tick(ctx context.Context, n *Node) (Status, error) {
	v, err := InputValue[string](n, "value")
	if err != nil {
		return Failure, err
	}
	if err := SetOutput(n, "output_key", v); err != nil {
		return Failure, err
	}
	return Success, nil
}

// UnsetBlackboard removes the entry named by its key port. Removing an
// absent entry still succeeds.
type UnsetBlackboard struct{}

// Ports implements PortProvider.
func (UnsetBlackboard) Ports() PortList {
	return PortList{Input[string]("key", "name of the entry to remove")}
}

// Tick implements Behavior.
func (UnsetBlackboard) Tick(ctx context.Context, n *Node) (Status, error) {
	key, err := InputValue[string](n, "key")
	if err != nil {
		return Failure, err
	}
	if err := n.Blackboard().Unset(key); err != nil {
		return Failure, err
	}
	return Success, nil
}

// Sleep returns Running until its duration has elapsed on the Runtime
// clock, then succeeds. The deadline is absolute, stored at activation;
// halting drops it so the next activation starts fresh.
type Sleep struct {
	deadline time.Time
}

// Ports implements PortProvider.
func (s *Sleep) Ports() PortList {
	return PortList{Input[uint64]("msec", "milliseconds to sleep")}
}

// Start implements Starter.
func (s *Sleep) Start(ctx context.Context, n *Node) error {
	msec, err := InputValue[uint64](n, "msec")
	if err != nil {
		return err
	}
	s.deadline = n.Runtime().Now().Add(time.Duration(msec) * time.Millisecond)
	return nil
}

// Tick implements Behavior.
func (s *Sleep) Tick(ctx context.Context, n *Node) (Status, error) {
	if n.Runtime().Now().Before(s.deadline) {
		return Running, nil
	}
	return Success, nil
}

// Halt implements Halter.
func (s *Sleep) Halt(ctx context.Context, n *Node) error {
	s.deadline = time.Time{}
	return nil
}

// PopFromQueue pops one element from a shared queue into its output
// port, failing when the queue is empty.
type PopFromQueue[T any] struct{}

// Ports implements PortProvider.
func (PopFromQueue[T]) Ports() PortList {
	return PortList{
		InOut[*value.SharedQueue[T]]("queue", "queue to pop from"),
		Output[T]("popped_item", "the popped element"),
	}
}

// Tick implements Behavior.
func (PopFromQueue[T]) Tick(ctx context.Context, n *Node) (Status, error) {
	queue, err := InputValue[*value.SharedQueue[T]](n, "queue")
	if err != nil {
		return Failure, err
	}
	item, ok := queue.PopFront()
	if !ok {
		return Failure, nil
	}
	if err := SetOutput(n, "popped_item", item); err != nil {
		return Failure, err
	}
	return Success, nil
}

// ChangeStateAfter returns Running for a configured number of ticks and
// then resolves to a configured verdict. It exists to script tree
// timing in tests and examples without writing a custom behavior.
type ChangeStateAfter struct {
	ticked int64
}

// Ports implements PortProvider.
func (c *ChangeStateAfter) Ports() PortList {
	return PortList{
		InputDefault[string]("state", "SUCCESS", "verdict to resolve to"),
		InputDefault[int64]("after", "0", "Running ticks before resolving"),
	}
}

// Start implements Starter.
func (c *ChangeStateAfter) Start(ctx context.Context, n *Node) error {
	c.ticked = 0
	return nil
}

// Tick implements Behavior.
func (c *ChangeStateAfter) Tick(ctx context.Context, n *Node) (Status, error) {
	after, err := InputValue[int64](n, "after")
	if err != nil {
		return Failure, err
	}
	if c.ticked < after {
		c.ticked++
		return Running, nil
	}
	raw, err := InputValue[string](n, "state")
	if err != nil {
		return Failure, err
	}
	verdict, err := ParseStatus(raw)
	if err != nil {
		return Failure, err
	}
	return verdict, nil
}

// Halt implements Halter.
func (c *ChangeStateAfter) Halt(ctx context.Context, n *Node) error {
	c.ticked = 0
	return nil
}

// WasEntryUpdated succeeds on the first activation after any write to
// the watched entry and fails otherwise. The stamp updates on every
// observation.
type WasEntryUpdated struct {
	stamp uint64
}

// Ports implements PortProvider.
func (w *WasEntryUpdated) Ports() PortList {
	return PortList{Input[string]("entry", "blackboard entry to watch, as {key}")}
}

// Tick implements Behavior.
func (w *WasEntryUpdated) Tick(ctx context.Context, n *Node) (Status, error) {
	key, ok := n.PortKey("entry")
	if !ok {
		return Failure, fmt.Errorf("%w: port \"entry\" must reference a blackboard key", ErrPortBinding)
	}
	seq, err := n.Blackboard().SequenceOf(key)
	if err != nil {
		return Failure, nil
	}
	changed := seq > w.stamp
	w.stamp = seq
	if changed {
		return Success, nil
	}
	return Failure, nil
}

// ScriptCondition evaluates a script and maps its truthiness onto
// Success or Failure. Script errors fail the condition.
type ScriptCondition struct{}

// Ports implements PortProvider.
func (ScriptCondition) Ports() PortList {
	return PortList{Input[string]("code", "script whose truthiness is the verdict")}
}

// Tick implements Behavior.
func (ScriptCondition) Tick(ctx context.Context, n *Node) (Status, error) {
	code, err := InputValue[string](n, "code")
	if err != nil {
		return Failure, err
	}
	prog, err := script.Compile(code)
	if err != nil {
		n.Logger().Warn("script parse error", "node", n.Path(), "error", err)
		return Failure, nil
	}
	truthy, err := prog.RunBool(n.Env())
	if err != nil {
		n.Logger().Warn("script error", "node", n.Path(), "error", err)
		return Failure, nil
	}
	if truthy {
		return Success, nil
	}
	return Failure, nil
}

// exprCache holds compiled expr-lang programs, shared across every
// ExprCondition instance.
var exprCache = script.NewCache[*vm.Program](script.DefaultCacheSize)

// ExprCondition evaluates a boolean expr-lang expression against a
// snapshot of the local blackboard scope. It complements
// ScriptCondition with the richer expr operator set (contains, in,
// matches, ...) for conditions that never need to write.
type ExprCondition struct{}

// Ports implements PortProvider.
func (ExprCondition) Ports() PortList {
	return PortList{Input[string]("code", "expr-lang boolean expression")}
}

// Tick implements Behavior.
func (ExprCondition) Tick(ctx context.Context, n *Node) (Status, error) {
	code, err := InputValue[string](n, "code")
	if err != nil {
		return Failure, err
	}
	prog, ok := exprCache.Get(code)
	if !ok {
		prog, err = expr.Compile(code, expr.AllowUndefinedVariables(), expr.AsBool())
		if err != nil {
			n.Logger().Warn("expr compile error", "node", n.Path(), "error", err)
			return Failure, nil
		}
		exprCache.Put(code, prog)
	}
	env := map[string]any{}
	for k, e := range n.Blackboard().Snapshot() {
		env[k] = e.Value
	}
	result, err := expr.Run(prog, env)
	if err != nil {
		n.Logger().Warn("expr eval error", "node", n.Path(), "error", err)
		return Failure, nil
	}
	if b, ok := result.(bool); ok && b {
		return Success, nil
	}
	return Failure, nil
}
