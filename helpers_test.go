package ticktree

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrelrobotics/ticktree/blackboard"
)

// mockLeaf is a scriptable action: it returns the scripted statuses one
// tick at a time, repeating the last forever, and counts lifecycle
// calls.
type mockLeaf struct {
	results []Status
	idx     int
	ticks   int
	starts  int
	halts   int
}

func leafReturning(results ...Status) *mockLeaf {
	return &mockLeaf{results: results}
}

func (m *mockLeaf) Start(ctx context.Context, n *Node) error {
	m.starts++
	return nil
}

func (m *mockLeaf) Tick(ctx context.Context, n *Node) (Status, error) {
	m.ticks++
	st := m.results[m.idx]
	if m.idx < len(m.results)-1 {
		m.idx++
	}
	return st, nil
}

func (m *mockLeaf) Halt(ctx context.Context, n *Node) error {
	m.halts++
	return nil
}

var testUID atomic.Uint32

// newTestNode wires a behavior into a standalone node, binding any
// declared ports to their defaults.
func newTestNode(t *testing.T, kind Kind, b Behavior, children ...*Node) *Node {
	t.Helper()
	n := &Node{
		uid:        uint16(testUID.Add(1)),
		registered: fmt.Sprintf("%T", b),
		display:    fmt.Sprintf("%T", b),
		kind:       kind,
		bb:         blackboard.New(),
		bindings:   map[string]portBinding{},
		behavior:   b,
		children:   children,
	}
	if pp, ok := b.(PortProvider); ok {
		for _, decl := range pp.Ports() {
			binding, err := bindPort(decl, "", false)
			require.NoError(t, err)
			n.bindings[decl.Name] = binding
		}
	}
	return n
}

func leafNode(t *testing.T, results ...Status) (*Node, *mockLeaf) {
	t.Helper()
	m := leafReturning(results...)
	return newTestNode(t, ActionKind, m), m
}

// setPortLiteral overrides one port binding with a literal.
func setPortLiteral(t *testing.T, n *Node, name, raw string) {
	t.Helper()
	decl, ok := n.bindings[name]
	require.True(t, ok, "port %q", name)
	binding, err := bindPort(decl.decl, raw, true)
	require.NoError(t, err)
	n.bindings[name] = binding
}

// setPortKey binds a port to a blackboard key.
func setPortKey(t *testing.T, n *Node, name, key string) {
	t.Helper()
	decl, ok := n.bindings[name]
	require.True(t, ok, "port %q", name)
	binding, err := bindPort(decl.decl, "{"+key+"}", true)
	require.NoError(t, err)
	n.bindings[name] = binding
}

// tickUntilTerminal drives a node to its terminal verdict, bounded so a
// broken behavior cannot hang the test.
func tickUntilTerminal(t *testing.T, n *Node) Status {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		st, err := n.ExecuteTick(ctx)
		require.NoError(t, err)
		if st != Running {
			return st
		}
	}
	t.Fatal("node did not resolve within 1000 ticks")
	return Idle
}
