package monitor

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kestrelrobotics/ticktree"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func buildTree(t *testing.T) *ticktree.Tree {
	t.Helper()
	factory := ticktree.NewFactory()
	tree, err := factory.CreateTreeFromXML(`
		<root BTCPP_format="4">
		  <BehaviorTree ID="Main">
		    <Sequence name="loop">
		      <AlwaysSuccess name="first"/>
		      <AlwaysSuccess name="second"/>
		    </Sequence>
		  </BehaviorTree>
		</root>`)
	require.NoError(t, err)
	return tree
}

func TestTopologyAndDeltas(t *testing.T) {
	tree := buildTree(t)
	srv, err := Listen(tree, "127.0.0.1:0", nil)
	require.NoError(t, err)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveDone := make(chan struct{})
	go func() {
		defer close(serveDone)
		_ = srv.Serve(ctx)
	}()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	reader := bufio.NewReader(conn)

	dec := json.NewDecoder(reader)
	var topo Message
	require.NoError(t, dec.Decode(&topo))
	require.Equal(t, "topology", topo.Type)
	assert.Equal(t, "Main", topo.TreeID)
	assert.NotEmpty(t, topo.Instance)
	require.Len(t, topo.Nodes, 3)
	assert.Equal(t, "loop", topo.Nodes[0].Name)
	assert.Equal(t, []uint16{2, 3}, topo.Nodes[0].Children)

	// One tick produces a stream of state deltas with increasing
	// sequence numbers.
	st, err := tree.TickOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, ticktree.Success, st)
	var lastSeq uint64
	sawRootSuccess := false
	for !sawRootSuccess {
		var msg Message
		require.NoError(t, dec.Decode(&msg))
		require.Equal(t, "state", msg.Type)
		assert.Greater(t, msg.Seq, lastSeq)
		lastSeq = msg.Seq
		if msg.Name == "loop" && msg.Status == "SUCCESS" {
			sawRootSuccess = true
		}
	}

	cancel()
	select {
	case <-serveDone:
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestCloseDisconnectsClients(t *testing.T) {
	tree := buildTree(t)
	srv, err := Listen(tree, "127.0.0.1:0", nil)
	require.NoError(t, err)

	ctx := context.Background()
	serveDone := make(chan struct{})
	go func() {
		defer close(serveDone)
		_ = srv.Serve(ctx)
	}()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var topo Message
	require.NoError(t, json.NewDecoder(bufio.NewReader(conn)).Decode(&topo))
	require.Equal(t, "topology", topo.Type)

	require.NoError(t, srv.Close())
	select {
	case <-serveDone:
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}

	// Ticking after close must not block or panic even though the
	// observer hook stays registered.
	_, err = tree.TickOnce(ctx)
	require.NoError(t, err)
}
