package endpoint_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/mobsya/thymio-broker/internal/backend"
	"github.com/mobsya/thymio-broker/internal/compiler"
	"github.com/mobsya/thymio-broker/internal/endpoint"
	"github.com/mobsya/thymio-broker/internal/metrics"
	"github.com/mobsya/thymio-broker/internal/node"
	"github.com/mobsya/thymio-broker/internal/registry"
	"github.com/mobsya/thymio-broker/internal/token"
	"github.com/mobsya/thymio-broker/internal/transport"
	"github.com/mobsya/thymio-broker/internal/wire"
)

// testServer wires a registry+listener pair without internal/broker, so
// the test can drive a single connection directly against an Endpoint.
type testServer struct {
	ln  transport.Listener
	reg *registry.Registry
	sim *backend.Simulated
}

func startTestServer(t *testing.T) *testServer {
	t.Helper()
	ln, err := transport.ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	sim := backend.NewSimulated()
	reg := registry.New(sim)
	tok := token.New()
	mon := metrics.New(time.Hour)
	cfg := endpoint.Config{OutboundQueueCapacity: 64, MaxMessageSize: wire.DefaultMaxMessageSize}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for {
			conn, err := ln.Accept(ctx)
			if err != nil {
				return
			}
			ep := endpoint.New(ctx, conn, reg, tok, compiler.Dummy{}, cfg, mon)
			go ep.Run()
		}
	}()
	t.Cleanup(func() {
		cancel()
		ln.Close()
	})
	return &testServer{ln: ln, reg: reg, sim: sim}
}

// testClient is a bare wire-protocol client speaking directly over a
// dialed net.Conn, bypassing the transport package entirely, so the
// test exercises the endpoint from the outside exactly as a real
// client would.
type testClient struct {
	t    *testing.T
	conn net.Conn
}

func dial(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(msg wire.AnyMessage) {
	c.t.Helper()
	payload, err := wire.Encode(msg)
	if err != nil {
		c.t.Fatalf("encode %s: %v", msg.Kind(), err)
	}
	if err := wire.WriteFrame(c.conn, payload); err != nil {
		c.t.Fatalf("write %s: %v", msg.Kind(), err)
	}
}

func (c *testClient) recv() wire.AnyMessage {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	payload, err := wire.ReadFrame(c.conn, wire.DefaultMaxMessageSize)
	if err != nil {
		c.t.Fatalf("read frame: %v", err)
	}
	msg, err := wire.Decode(payload)
	if err != nil {
		c.t.Fatalf("decode: %v", err)
	}
	return msg
}

func (c *testClient) handshake() {
	c.t.Helper()
	c.send(wire.ConnectionHandshake{
		ProtocolVersion:    endpoint.ProtocolVersion,
		MinProtocolVersion: endpoint.MinSupportedProtocolVersion,
		MaxMessageSize:     wire.DefaultMaxMessageSize,
	})
	reply := c.recv()
	hs, ok := reply.(wire.ConnectionHandshake)
	if !ok {
		c.t.Fatalf("expected ConnectionHandshake reply, got %s", reply.Kind())
	}
	if hs.ProtocolVersion == 0 {
		c.t.Fatalf("handshake was rejected (protocolVersion=0)")
	}
	// Steady state opens with the full registry snapshot.
	snap := c.recv()
	if _, ok := snap.(wire.NodesChanged); !ok {
		c.t.Fatalf("expected NodesChanged after handshake, got %s", snap.Kind())
	}
}

func TestHandshakeThenListNodes(t *testing.T) {
	srv := startTestServer(t)
	id, err := srv.sim.AddNode("n1", node.TypeThymio2, node.CapabilityRename, nil, nil)
	if err != nil {
		t.Fatalf("AddNode: %v", err)
	}

	c := dial(t, srv.ln.Addr())
	c.handshake()

	c.send(wire.RequestListOfNodes{RequestID: 1})
	listMsg := c.recv()
	list, ok := listMsg.(wire.NodesChanged)
	if !ok {
		t.Fatalf("expected NodesChanged, got %s", listMsg.Kind())
	}
	if len(list.Nodes) != 1 || list.Nodes[0].ID != id {
		t.Fatalf("expected the one registered node, got %+v", list.Nodes)
	}
	done := c.recv()
	if _, ok := done.(wire.RequestCompleted); !ok {
		t.Fatalf("expected RequestCompleted, got %s", done.Kind())
	}
}

func TestHandshakeVersionMismatchClosesConnection(t *testing.T) {
	srv := startTestServer(t)
	c := dial(t, srv.ln.Addr())

	c.send(wire.ConnectionHandshake{
		ProtocolVersion:    endpoint.MinSupportedProtocolVersion - 1,
		MinProtocolVersion: endpoint.MinSupportedProtocolVersion - 1,
		MaxMessageSize:     wire.DefaultMaxMessageSize,
	})
	reply := c.recv()
	hs, ok := reply.(wire.ConnectionHandshake)
	if !ok {
		t.Fatalf("expected ConnectionHandshake reply, got %s", reply.Kind())
	}
	if hs.ProtocolVersion != 0 {
		t.Fatalf("expected protocolVersion=0 on a disjoint version range, got %d", hs.ProtocolVersion)
	}

	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := c.conn.Read(buf); err == nil {
		t.Fatalf("expected the connection to be closed after a version mismatch")
	}
}

func TestLockContentionAcrossConnections(t *testing.T) {
	srv := startTestServer(t)
	id, err := srv.sim.AddNode("n1", node.TypeThymio2, 0, nil, nil)
	if err != nil {
		t.Fatalf("AddNode: %v", err)
	}

	a := dial(t, srv.ln.Addr())
	a.handshake()
	b := dial(t, srv.ln.Addr())
	b.handshake()

	a.send(wire.LockNode{RequestID: 1, NodeID: id})
	if _, ok := a.recv().(wire.RequestCompleted); !ok {
		t.Fatalf("expected connection A to acquire the lock")
	}

	b.send(wire.LockNode{RequestID: 1, NodeID: id})
	errMsg, ok := b.recv().(wire.Error)
	if !ok {
		t.Fatalf("expected connection B's lock attempt to fail")
	}
	if errMsg.ErrorType != wire.ErrorNodeBusy {
		t.Fatalf("expected node_busy, got %v", errMsg.ErrorType)
	}
}

func TestSetVariablesWithoutLockFails(t *testing.T) {
	srv := startTestServer(t)
	id, err := srv.sim.AddNode("n1", node.TypeThymio2, 0, []node.VariableDescription{{Name: "x"}}, nil)
	if err != nil {
		t.Fatalf("AddNode: %v", err)
	}

	c := dial(t, srv.ln.Addr())
	c.handshake()

	c.send(wire.SetNodeVariables{RequestID: 1, NodeID: id})
	errMsg, ok := c.recv().(wire.Error)
	if !ok {
		t.Fatalf("expected an error response without a lock")
	}
	if errMsg.ErrorType != wire.ErrorUnknownNode {
		t.Fatalf("expected unknown_node, got %v", errMsg.ErrorType)
	}
}

func TestCompileFailureReportsDiagnostic(t *testing.T) {
	srv := startTestServer(t)
	id, err := srv.sim.AddNode("n1", node.TypeThymio2, 0, nil, nil)
	if err != nil {
		t.Fatalf("AddNode: %v", err)
	}

	c := dial(t, srv.ln.Addr())
	c.handshake()

	c.send(wire.LockNode{RequestID: 1, NodeID: id})
	if _, ok := c.recv().(wire.RequestCompleted); !ok {
		t.Fatalf("expected the lock to succeed")
	}

	c.send(wire.CompileAndLoadCodeOnVM{RequestID: 2, NodeID: id, Program: "call leds.top(!)"})
	failure, ok := c.recv().(wire.CompilationResultFailure)
	if !ok {
		t.Fatalf("expected CompilationResultFailure for the '!' trigger")
	}
	if failure.Line != 1 {
		t.Fatalf("expected the dummy compiler to report line 1, got %d", failure.Line)
	}
}
