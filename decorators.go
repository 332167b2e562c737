package ticktree

import (
	"context"
	"fmt"
	"time"

	"github.com/kestrelrobotics/ticktree/script"
	"github.com/kestrelrobotics/ticktree/value"
)

// Inverter swaps the terminal verdicts of its child.
type Inverter struct{}

// Tick implements Behavior.
func (Inverter) Tick(ctx context.Context, n *Node) (Status, error) {
	st, err := n.Children()[0].ExecuteTick(ctx)
	if err != nil {
		return Failure, err
	}
	switch st {
	case Success:
		return Failure, nil
	case Failure:
		return Success, nil
	}
	return st, nil
}

// ForceState maps both terminal verdicts of the child onto a fixed one;
// Running and Skipped pass through.
type ForceState struct {
	Verdict Status
}

// Tick implements Behavior.
func (f *ForceState) Tick(ctx context.Context, n *Node) (Status, error) {
	st, err := n.Children()[0].ExecuteTick(ctx)
	if err != nil {
		return Failure, err
	}
	if st.IsCompleted() {
		return f.Verdict, nil
	}
	return st, nil
}

// KeepRunningUntilFailure re-arms the child after every Success and
// only resolves on Failure.
type KeepRunningUntilFailure struct{}

// Tick implements Behavior.
func (KeepRunningUntilFailure) Tick(ctx context.Context, n *Node) (Status, error) {
	st, err := n.Children()[0].ExecuteTick(ctx)
	if err != nil {
		return Failure, err
	}
	if st == Success {
		return Running, nil
	}
	return st, nil
}

// Repeat ticks its child through num_cycles successful completions.
// Any Failure fails the whole decorator; -1 repeats forever.
type Repeat struct {
	cycles    int64
	completed int64
}

// Ports implements PortProvider.
func (r *Repeat) Ports() PortList {
	return PortList{Input[int64]("num_cycles", "successful cycles before returning Success; -1 forever")}
}

// Start implements Starter.
func (r *Repeat) Start(ctx context.Context, n *Node) error {
	cycles, err := InputValue[int64](n, "num_cycles")
	if err != nil {
		return err
	}
	r.cycles = cycles
	r.completed = 0
	return nil
}

// Tick implements Behavior.
func (r *Repeat) Tick(ctx context.Context, n *Node) (Status, error) {
	if r.cycles >= 0 && r.completed >= r.cycles {
		r.completed = 0
		return Success, nil
	}
	st, err := n.Children()[0].ExecuteTick(ctx)
	if err != nil {
		return Failure, err
	}
	switch st {
	case Running:
		return Running, nil
	case Failure:
		r.completed = 0
		return Failure, nil
	case Skipped:
		return Skipped, nil
	}
	r.completed++
	if r.cycles >= 0 && r.completed >= r.cycles {
		r.completed = 0
		return Success, nil
	}
	// The next cycle starts on the next tick from the parent, not
	// within this one.
	return Running, nil
}

// Halt implements Halter.
func (r *Repeat) Halt(ctx context.Context, n *Node) error {
	r.completed = 0
	return nil
}

// RetryUntilSuccessful retries a failing child up to num_attempts
// times, resolving on the first Success.
type RetryUntilSuccessful struct {
	attempts int64
	tried    int64
}

// Ports implements PortProvider.
func (r *RetryUntilSuccessful) Ports() PortList {
	return PortList{Input[int64]("num_attempts", "attempts before giving up; -1 forever")}
}

// Start implements Starter.
func (r *RetryUntilSuccessful) Start(ctx context.Context, n *Node) error {
	attempts, err := InputValue[int64](n, "num_attempts")
	if err != nil {
		return err
	}
	r.attempts = attempts
	r.tried = 0
	return nil
}

// Tick implements Behavior.
func (r *RetryUntilSuccessful) Tick(ctx context.Context, n *Node) (Status, error) {
	st, err := n.Children()[0].ExecuteTick(ctx)
	if err != nil {
		return Failure, err
	}
	switch st {
	case Success:
		r.tried = 0
		return Success, nil
	case Failure:
		r.tried++
		if r.attempts >= 0 && r.tried >= r.attempts {
			r.tried = 0
			return Failure, nil
		}
		return Running, nil
	}
	return st, nil
}

// Halt implements Halter.
func (r *RetryUntilSuccessful) Halt(ctx context.Context, n *Node) error {
	r.tried = 0
	return nil
}

// RunOnce ticks its child through a single activation and replays the
// outcome forever after: Skipped by default, or the cached verdict when
// then_skip is false. The cache survives halts on purpose, otherwise
// the child would not run exactly once.
type RunOnce struct {
	done    bool
	verdict Status
}

// Ports implements PortProvider.
func (r *RunOnce) Ports() PortList {
	return PortList{InputDefault[bool]("then_skip", "true", "return Skipped after the first completion instead of the cached verdict")}
}

// Tick implements Behavior.
func (r *RunOnce) Tick(ctx context.Context, n *Node) (Status, error) {
	if r.done {
		thenSkip, err := InputValue[bool](n, "then_skip")
		if err != nil {
			return Failure, err
		}
		if thenSkip {
			return Skipped, nil
		}
		return r.verdict, nil
	}
	st, err := n.Children()[0].ExecuteTick(ctx)
	if err != nil {
		return Failure, err
	}
	if st.IsCompleted() {
		r.done = true
		r.verdict = st
	}
	return st, nil
}

// EntryUpdated ticks its child only when the watched blackboard entry
// was written since the previous observation; otherwise it skips. The
// stamp updates on every observation. A Running child keeps getting
// ticked without re-checking.
type EntryUpdated struct {
	stamp uint64
}

// Ports implements PortProvider.
func (e *EntryUpdated) Ports() PortList {
	return PortList{Input[string]("entry", "blackboard entry to watch, as {key}")}
}

// Tick implements Behavior.
func (e *EntryUpdated) Tick(ctx context.Context, n *Node) (Status, error) {
	child := n.Children()[0]
	if child.State() == Running {
		return child.ExecuteTick(ctx)
	}
	key, ok := n.PortKey("entry")
	if !ok {
		return Failure, fmt.Errorf("%w: port \"entry\" must reference a blackboard key", ErrPortBinding)
	}
	seq, err := n.Blackboard().SequenceOf(key)
	if err != nil {
		return Failure, nil
	}
	changed := seq > e.stamp
	e.stamp = seq
	if !changed {
		return Skipped, nil
	}
	return child.ExecuteTick(ctx)
}

// Timeout fails and halts its child when the child is still Running
// past the deadline. The deadline is absolute, computed from the
// Runtime clock at activation, so re-checks do not drift.
type Timeout struct {
	deadline time.Time
}

// Ports implements PortProvider.
func (t *Timeout) Ports() PortList {
	return PortList{Input[uint64]("msec", "milliseconds before the child is preempted")}
}

// Start implements Starter.
func (t *Timeout) Start(ctx context.Context, n *Node) error {
	msec, err := InputValue[uint64](n, "msec")
	if err != nil {
		return err
	}
	t.deadline = n.Runtime().Now().Add(time.Duration(msec) * time.Millisecond)
	return nil
}

// Tick implements Behavior.
func (t *Timeout) Tick(ctx context.Context, n *Node) (Status, error) {
	child := n.Children()[0]
	if !n.Runtime().Now().Before(t.deadline) {
		if err := child.Halt(ctx); err != nil {
			return Failure, err
		}
		return Failure, nil
	}
	return child.ExecuteTick(ctx)
}

// Halt implements Halter.
func (t *Timeout) Halt(ctx context.Context, n *Node) error {
	t.deadline = time.Time{}
	return nil
}

// Delay holds back the first tick of its child until the delay has
// elapsed, then passes ticks through unchanged.
type Delay struct {
	deadline time.Time
	waiting  bool
}

// Ports implements PortProvider.
func (d *Delay) Ports() PortList {
	return PortList{Input[uint64]("delay_msec", "milliseconds to wait before the first child tick")}
}

// Start implements Starter.
func (d *Delay) Start(ctx context.Context, n *Node) error {
	msec, err := InputValue[uint64](n, "delay_msec")
	if err != nil {
		return err
	}
	d.deadline = n.Runtime().Now().Add(time.Duration(msec) * time.Millisecond)
	d.waiting = true
	return nil
}

// Tick implements Behavior.
func (d *Delay) Tick(ctx context.Context, n *Node) (Status, error) {
	if d.waiting {
		if n.Runtime().Now().Before(d.deadline) {
			return Running, nil
		}
		d.waiting = false
	}
	return n.Children()[0].ExecuteTick(ctx)
}

// Halt implements Halter.
func (d *Delay) Halt(ctx context.Context, n *Node) error {
	d.waiting = false
	d.deadline = time.Time{}
	return nil
}

// Loop drains a shared queue one element per activation, publishing
// each element on the value port and ticking the child. The child's
// Success advances to the next element on the next tick; an empty
// queue resolves to Success.
type Loop[T any] struct{}

// Ports implements PortProvider.
func (Loop[T]) Ports() PortList {
	return PortList{
		InOut[*value.SharedQueue[T]]("queue", "shared queue drained one element per activation"),
		Output[T]("value", "the element popped for the current iteration"),
	}
}

// Tick implements Behavior.
func (Loop[T]) Tick(ctx context.Context, n *Node) (Status, error) {
	child := n.Children()[0]
	if child.State() != Running {
		queue, err := InputValue[*value.SharedQueue[T]](n, "queue")
		if err != nil {
			return Failure, err
		}
		item, ok := queue.PopFront()
		if !ok {
			return Success, nil
		}
		if err := SetOutput(n, "value", item); err != nil {
			return Failure, err
		}
	}
	st, err := child.ExecuteTick(ctx)
	if err != nil {
		return Failure, err
	}
	if st == Success {
		return Running, nil
	}
	return st, nil
}

// Precondition evaluates a script before the child runs and returns a
// configured verdict instead of ticking when the script is falsy.
type Precondition struct{}

// Ports implements PortProvider.
func (Precondition) Ports() PortList {
	return PortList{
		Input[string]("if", "script; the child ticks only when truthy"),
		InputDefault[Status]("else", "FAILURE", "verdict returned when the script is falsy"),
	}
}

// Tick implements Behavior.
func (Precondition) Tick(ctx context.Context, n *Node) (Status, error) {
	child := n.Children()[0]
	if child.State() != Running {
		code, err := InputValue[string](n, "if")
		if err != nil {
			return Failure, err
		}
		prog, err := script.Compile(code)
		if err != nil {
			return Failure, err
		}
		truthy, err := prog.RunBool(n.Env())
		if err != nil {
			n.Logger().Warn("precondition script error", "node", n.Path(), "error", err)
			truthy = false
		}
		if !truthy {
			verdict, err := InputValue[Status](n, "else")
			if err != nil {
				return Failure, err
			}
			return verdict, nil
		}
	}
	return child.ExecuteTick(ctx)
}
