package ticktree

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/kestrelrobotics/ticktree/blackboard"
	"github.com/kestrelrobotics/ticktree/script"
)

// Node is one element of an instantiated tree: a Behavior instance
// wired to a blackboard scope through its port bindings, plus the state
// machine every node obeys.
//
// State transitions form the cycle Idle → Running* → terminal, and back
// to Idle when the next activation begins. Parents drive children only
// through ExecuteTick and Halt.
type Node struct {
	uid        uint16
	registered string
	display    string
	kind       Kind
	state      Status
	bb         *blackboard.Blackboard
	bindings   map[string]portBinding
	behavior   Behavior
	children   []*Node
	pre        *script.Program
	post       *script.Program
	tree       *Tree
}

// UID returns the node's depth-first creation index, unique within its
// tree.
func (n *Node) UID() uint16 { return n.uid }

// Name returns the display name: the XML "name" attribute when given,
// otherwise the registered name.
func (n *Node) Name() string { return n.display }

// Registered returns the behavior type name used in XML.
func (n *Node) Registered() string { return n.registered }

// Kind returns the behavior classification.
func (n *Node) Kind() Kind { return n.kind }

// State returns the node's current state.
func (n *Node) State() Status { return n.state }

// Children returns the node's children in declaration order.
func (n *Node) Children() []*Node { return n.children }

// Blackboard returns the scope the node's ports resolve in.
func (n *Node) Blackboard() *blackboard.Blackboard { return n.bb }

// Path identifies the node for logs and blackboard write attribution.
func (n *Node) Path() string {
	return fmt.Sprintf("%s#%d", n.display, n.uid)
}

// Runtime returns the owning tree's Runtime.
func (n *Node) Runtime() Runtime {
	if n.tree == nil || n.tree.runtime == nil {
		return defaultRuntime
	}
	return n.tree.runtime
}

// Logger returns the owning tree's logger.
func (n *Node) Logger() *slog.Logger {
	if n.tree == nil || n.tree.log == nil {
		return slog.Default()
	}
	return n.tree.log
}

var defaultRuntime Runtime = &SystemRuntime{}

// ExecuteTick runs one activation step: precondition, Start on a fresh
// activation, the behavior's Tick, then the postcondition once the
// verdict is terminal. A terminal state left over from the previous
// activation resets to Idle first.
func (n *Node) ExecuteTick(ctx context.Context) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Failure, fmt.Errorf("%s: %w", n.Path(), ErrHalted)
	}
	if n.state.IsTerminal() {
		n.setState(Idle)
	}
	if n.state != Running && n.pre != nil {
		ok, err := n.pre.RunBool(n.Env())
		if err != nil {
			n.Logger().Warn("precondition error", "node", n.Path(), "error", err)
			ok = false
		}
		if !ok {
			n.setState(Skipped)
			return Skipped, nil
		}
	}
	if n.state == Idle {
		if s, ok := n.behavior.(Starter); ok {
			if err := s.Start(ctx, n); err != nil {
				return Failure, fmt.Errorf("%s: start: %w", n.Path(), err)
			}
		}
		n.setState(Running)
	}
	st, err := n.behavior.Tick(ctx, n)
	if err != nil {
		return Failure, fmt.Errorf("%s: %w", n.Path(), err)
	}
	if st == Idle {
		return Failure, fmt.Errorf("%s: behavior returned Idle", n.Path())
	}
	if st.IsTerminal() && n.post != nil {
		env := script.Overlay(n.Env(), map[string]any{"status": st.String()})
		if _, err := n.post.Run(env); err != nil {
			n.Logger().Warn("postcondition error", "node", n.Path(), "error", err)
			st = Failure
		}
	}
	n.setState(st)
	return st, nil
}

// Halt preempts the node: children first, depth-first left-to-right,
// then the behavior's own Halt when it was Running, then the state
// resets to Idle.
func (n *Node) Halt(ctx context.Context) error {
	var firstErr error
	for _, c := range n.children {
		if err := c.Halt(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if n.state == Running {
		if h, ok := n.behavior.(Halter); ok {
			if err := h.Halt(ctx, n); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("%s: halt: %w", n.Path(), err)
			}
		}
	}
	if n.state != Idle {
		n.setState(Idle)
	}
	return firstErr
}

// HaltChildren halts every child, left-to-right.
func (n *Node) HaltChildren(ctx context.Context) error {
	var firstErr error
	for _, c := range n.children {
		if err := c.Halt(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// HaltChildrenAfter halts the children with index > i, left-to-right.
// Reactive controls use it to enforce that at most one child stays
// Running.
func (n *Node) HaltChildrenAfter(ctx context.Context, i int) error {
	var firstErr error
	for j := i + 1; j < len(n.children); j++ {
		if err := n.children[j].Halt(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (n *Node) setState(s Status) {
	if s == n.state {
		return
	}
	prev := n.state
	n.state = s
	if n.tree != nil {
		n.tree.notifyStateChange(n, prev, s)
	}
}

// Env adapts the node's blackboard scope to the script evaluator:
// identifiers resolve as blackboard keys, with narrow numeric entries
// widened to the script domain and assignments narrowed back to the
// entry's existing type.
func (n *Node) Env() script.Env {
	return nodeEnv{n: n}
}

type nodeEnv struct{ n *Node }

func (e nodeEnv) Lookup(name string) (any, bool) {
	entry, err := e.n.bb.Get(name)
	if err != nil {
		return nil, false
	}
	return widen(entry.Value), true
}

func (e nodeEnv) Assign(name string, v any) error {
	entry, err := e.n.bb.Get(name)
	if err == nil {
		narrowed, err := narrow(v, entry.Value)
		if err != nil {
			return err
		}
		v = narrowed
	}
	return e.n.bb.SetFrom(e.n.Path(), name, v)
}

// widen lifts a blackboard value into the script value domain.
func widen(v any) any {
	switch t := v.(type) {
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return int64(t)
	case int:
		return int64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}

// narrow converts a script value back to the type of the entry it
// overwrites, range-checked.
func narrow(v, existing any) (any, error) {
	i, isInt := v.(int64)
	f, isFloat := v.(float64)
	switch existing.(type) {
	case int8:
		if isInt {
			return narrowInt[int8](i, math.MinInt8, math.MaxInt8)
		}
	case int16:
		if isInt {
			return narrowInt[int16](i, math.MinInt16, math.MaxInt16)
		}
	case int32:
		if isInt {
			return narrowInt[int32](i, math.MinInt32, math.MaxInt32)
		}
	case int64:
		if isInt {
			return i, nil
		}
	case uint8:
		if isInt {
			return narrowInt[uint8](i, 0, math.MaxUint8)
		}
	case uint16:
		if isInt {
			return narrowInt[uint16](i, 0, math.MaxUint16)
		}
	case uint32:
		if isInt {
			return narrowInt[uint32](i, 0, math.MaxUint32)
		}
	case uint64:
		if isInt && i >= 0 {
			return uint64(i), nil
		}
	case float32:
		if isFloat {
			return float32(f), nil
		}
		if isInt {
			return float32(i), nil
		}
	case float64:
		if isFloat {
			return f, nil
		}
		if isInt {
			return float64(i), nil
		}
	default:
		return v, nil
	}
	return nil, fmt.Errorf("%w: cannot store %T into entry of type %T", ErrTypeMismatch, v, existing)
}

func narrowInt[T int8 | int16 | int32 | uint8 | uint16 | uint32](i, lo, hi int64) (any, error) {
	if i < lo || i > hi {
		return nil, fmt.Errorf("%w: %d out of range [%d, %d]", ErrTypeMismatch, i, lo, hi)
	}
	return T(i), nil
}
