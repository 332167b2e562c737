// Package monitor publishes a live view of a running tree over TCP,
// in the spirit of the Groot2 bridge: one topology snapshot when a
// client connects, then a stream of per-tick state deltas as JSON
// lines.
//
// The publisher never applies back-pressure to the tick loop: deltas
// for a slow consumer are dropped, and the consumer can tell from the
// sequence numbers.
package monitor

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/kestrelrobotics/ticktree"
)

// TopologyNode describes one node of the monitored tree.
type TopologyNode struct {
	UID        uint16   `json:"uid"`
	Name       string   `json:"name"`
	Registered string   `json:"registered"`
	Kind       string   `json:"kind"`
	Children   []uint16 `json:"children,omitempty"`
}

// Message is one JSON line on the wire.
type Message struct {
	Type     string         `json:"type"` // "topology" or "state"
	TreeID   string         `json:"tree_id,omitempty"`
	Instance string         `json:"instance,omitempty"`
	Nodes    []TopologyNode `json:"nodes,omitempty"`
	Seq      uint64         `json:"seq,omitempty"`
	UID      uint16         `json:"uid,omitempty"`
	Name     string         `json:"name,omitempty"`
	Previous string         `json:"previous,omitempty"`
	Status   string         `json:"status,omitempty"`
}

// Server monitors one tree. Create with Listen, then drive with Serve.
type Server struct {
	tree *ticktree.Tree
	ln   net.Listener
	log  *slog.Logger

	mu     sync.Mutex
	seq    uint64
	conns  map[net.Conn]chan Message
	closed bool
}

// Listen binds addr (e.g. "127.0.0.1:1667") and subscribes to the
// tree's state changes. Call Serve to accept clients and Close to shut
// down.
func Listen(tree *ticktree.Tree, addr string, log *slog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		tree:  tree,
		ln:    ln,
		log:   log,
		conns: map[net.Conn]chan Message{},
	}
	tree.OnStateChange(s.broadcast)
	return s, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve accepts clients until Close or ctx cancellation. Each client
// receives the topology once, then the delta stream.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.serveConn(conn)
	}
}

// Close stops accepting and disconnects every client.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
	return s.ln.Close()
}

// broadcast fans a state change out to every connected client,
// dropping the delta for clients whose buffer is full.
func (s *Server) broadcast(change ticktree.StateChange) {
	s.mu.Lock()
	s.seq++
	msg := Message{
		Type:     "state",
		Seq:      s.seq,
		UID:      change.NodeUID,
		Name:     change.NodeName,
		Previous: change.Previous.String(),
		Status:   change.Current.String(),
	}
	for conn, ch := range s.conns {
		select {
		case ch <- msg:
		default:
			s.log.Debug("monitor client lagging, delta dropped", "remote", conn.RemoteAddr())
		}
	}
	s.mu.Unlock()
}

func (s *Server) topology() Message {
	nodes := s.tree.Nodes()
	out := make([]TopologyNode, 0, len(nodes))
	for _, n := range nodes {
		tn := TopologyNode{
			UID:        n.UID(),
			Name:       n.Name(),
			Registered: n.Registered(),
			Kind:       n.Kind().String(),
		}
		for _, c := range n.Children() {
			tn.Children = append(tn.Children, c.UID())
		}
		out = append(out, tn)
	}
	return Message{
		Type:     "topology",
		TreeID:   s.tree.ID(),
		Instance: s.tree.InstanceID(),
		Nodes:    out,
	}
}

func (s *Server) serveConn(conn net.Conn) {
	ch := make(chan Message, 256)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conns[conn] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	// The reader goroutine exists only to observe the peer closing the
	// connection; clients never send data.
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = io.Copy(io.Discard, conn)
	}()

	enc := json.NewEncoder(conn)
	if err := enc.Encode(s.topology()); err != nil {
		return
	}
	for {
		select {
		case msg := <-ch:
			if err := enc.Encode(msg); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
