package network

import (
	"bufio"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/chatlink/relay-node/pkg/crypto"
	"github.com/chatlink/relay-node/pkg/protocol"
)

// stubVerifier is an in-memory credential backend for tests.
type stubVerifier map[string]string

func (v stubVerifier) VerifyCredentials(username, password string) bool {
	pass, ok := v[username]
	return ok && pass == password
}

// recordMonitor captures monitor events for assertions.
type recordMonitor struct {
	mu     sync.Mutex
	logs   []string
	joined []string
	left   []string
}

func (m *recordMonitor) AppendLog(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, text)
}

func (m *recordMonitor) NotifyClientJoined(username string, _ time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.joined = append(m.joined, username)
}

func (m *recordMonitor) NotifyClientLeft(username string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.left = append(m.left, username)
}

func (m *recordMonitor) leftNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.left...)
}

func startTestRelay(t *testing.T) (*RelayServer, *recordMonitor) {
	t.Helper()

	monitor := &recordMonitor{}
	creds := stubVerifier{"alice": "pw-a", "bob": "pw-b", "carol": "pw-c"}

	// Port 0 picks a free ephemeral port.
	rs := NewRelayServer(0, creds, monitor)
	if err := rs.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { rs.Stop() })

	return rs, monitor
}

// testClient drives one client connection against the relay.
type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dialRelay(t *testing.T, rs *RelayServer) *testClient {
	t.Helper()

	conn, err := net.Dial("tcp", rs.Addr().String())
	if err != nil {
		t.Fatalf("dial relay: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return &testClient{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *testClient) send(p *protocol.Packet) {
	c.t.Helper()
	if err := protocol.WritePacket(c.conn, p); err != nil {
		c.t.Fatalf("send packet: %v", err)
	}
}

func (c *testClient) sendRaw(line string) {
	c.t.Helper()
	if _, err := c.conn.Write([]byte(line)); err != nil {
		c.t.Fatalf("send raw: %v", err)
	}
}

func (c *testClient) recv(timeout time.Duration) *protocol.Packet {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(timeout))
	defer c.conn.SetReadDeadline(time.Time{})

	p, err := protocol.ReadPacket(c.r)
	if err != nil {
		c.t.Fatalf("recv packet: %v", err)
	}
	return p
}

// recvNone asserts no packet arrives within d.
func (c *testClient) recvNone(d time.Duration) {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(d))
	defer c.conn.SetReadDeadline(time.Time{})

	if p, err := protocol.ReadPacket(c.r); err == nil {
		c.t.Fatalf("unexpected packet received: %+v", p)
	}
}

// expectClosed asserts the server has closed the connection.
func (c *testClient) expectClosed(timeout time.Duration) {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(timeout))
	defer c.conn.SetReadDeadline(time.Time{})

	if p, err := protocol.ReadPacket(c.r); err == nil {
		c.t.Fatalf("expected closed connection, got packet %+v", p)
	} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
		c.t.Fatal("expected closed connection, read timed out instead")
	}
}

func (c *testClient) login(username, password string) {
	c.t.Helper()
	c.send(&protocol.Packet{Kind: protocol.KindAuth, Sender: username, Password: password})

	ack := c.recv(2 * time.Second)
	if ack.Kind != protocol.KindAuth || ack.Sender != protocol.ServerName {
		c.t.Fatalf("auth ack = %+v, want Auth from %s", ack, protocol.ServerName)
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestAuthSuccess(t *testing.T) {
	rs, monitor := startTestRelay(t)

	alice := dialRelay(t, rs)
	alice.login("alice", "pw-a")

	if got := rs.Registry().Count(); got != 1 {
		t.Errorf("Registry().Count() = %d, want 1", got)
	}

	monitor.mu.Lock()
	joined := append([]string(nil), monitor.joined...)
	monitor.mu.Unlock()
	if len(joined) != 1 || joined[0] != "alice" {
		t.Errorf("joined = %v, want [alice]", joined)
	}
}

func TestAuthFailure(t *testing.T) {
	rs, _ := startTestRelay(t)

	alice := dialRelay(t, rs)
	alice.send(&protocol.Packet{Kind: protocol.KindAuth, Sender: "alice", Password: "wrong"})

	errPkt := alice.recv(2 * time.Second)
	if errPkt.Kind != protocol.KindError {
		t.Fatalf("reply kind = %v, want Error", errPkt.Kind)
	}
	if errPkt.Password == "" {
		t.Error("Error packet carries no message in the Password field")
	}

	// No retry within the connection: the server closes it.
	alice.expectClosed(2 * time.Second)

	if got := rs.Registry().Count(); got != 0 {
		t.Errorf("Registry().Count() = %d, want 0 after failed auth", got)
	}
}

func TestBroadcastExclusivity(t *testing.T) {
	rs, _ := startTestRelay(t)

	alice := dialRelay(t, rs)
	alice.login("alice", "pw-a")
	bob := dialRelay(t, rs)
	bob.login("bob", "pw-b")
	carol := dialRelay(t, rs)
	carol.login("carol", "pw-c")

	data, iv, err := crypto.EncryptText("hello everyone", nil)
	if err != nil {
		t.Fatal(err)
	}
	alice.send(&protocol.Packet{Kind: protocol.KindMessage, Sender: "alice", Data: data, IV: iv})

	for _, c := range []*testClient{bob, carol} {
		got := c.recv(2 * time.Second)
		if got.Kind != protocol.KindMessage || got.Sender != "alice" {
			t.Fatalf("recipient got %+v", got)
		}
		if plain := crypto.DecryptText(got.Data, nil, got.IV); plain != "hello everyone" {
			t.Errorf("payload decrypted to %q", plain)
		}
	}

	// The sender never receives its own broadcast.
	alice.recvNone(200 * time.Millisecond)
}

func TestPrivateDeliveryCaseInsensitive(t *testing.T) {
	rs, _ := startTestRelay(t)

	alice := dialRelay(t, rs)
	alice.login("alice", "pw-a")
	bob := dialRelay(t, rs)
	bob.login("bob", "pw-b")
	carol := dialRelay(t, rs)
	carol.login("carol", "pw-c")

	alice.send(&protocol.Packet{
		Kind:      protocol.KindMessage,
		Sender:    "alice",
		Recipient: "Bob", // registered as "bob"
		Data:      []byte("ciphertext"),
		IV:        make([]byte, 16),
	})

	got := bob.recv(2 * time.Second)
	if got.Recipient != "Bob" || got.Sender != "alice" {
		t.Errorf("bob got %+v", got)
	}

	// Addressed delivery reaches exactly one session.
	carol.recvNone(200 * time.Millisecond)
	alice.recvNone(50 * time.Millisecond)
}

func TestUnauthenticatedPacketsNotRouted(t *testing.T) {
	rs, _ := startTestRelay(t)

	bob := dialRelay(t, rs)
	bob.login("bob", "pw-b")

	intruder := dialRelay(t, rs)
	intruder.send(&protocol.Packet{Kind: protocol.KindMessage, Sender: "ghost", Data: []byte("pre-auth")})
	intruder.send(&protocol.Packet{Kind: protocol.KindVideo, Sender: "ghost"})

	// Pre-auth frames are silently dropped, never routed.
	bob.recvNone(200 * time.Millisecond)

	// The connection is still usable: a valid Auth afterwards succeeds.
	intruder.login("alice", "pw-a")
	waitFor(t, func() bool { return rs.Registry().Count() == 2 }, "second login not registered")
}

func TestPrivateSendToUnknownRecipientDropped(t *testing.T) {
	rs, _ := startTestRelay(t)

	alice := dialRelay(t, rs)
	alice.login("alice", "pw-a")
	bob := dialRelay(t, rs)
	bob.login("bob", "pw-b")

	alice.send(&protocol.Packet{
		Kind:      protocol.KindMessage,
		Sender:    "alice",
		Recipient: "carol", // never connected
		Data:      []byte("x"),
	})

	// Fire-and-forget: nobody receives it and the sender gets no error.
	bob.recvNone(200 * time.Millisecond)
	alice.recvNone(50 * time.Millisecond)
}

func TestRepeatedAuthIgnored(t *testing.T) {
	rs, monitor := startTestRelay(t)

	alice := dialRelay(t, rs)
	alice.login("alice", "pw-a")
	bob := dialRelay(t, rs)
	bob.login("bob", "pw-b")

	// A second Auth after login does not re-authenticate: no ack comes back
	// and the session keeps its identity.
	alice.send(&protocol.Packet{Kind: protocol.KindAuth, Sender: "bob", Password: "pw-b"})
	alice.recvNone(200 * time.Millisecond)

	waitFor(t, func() bool {
		monitor.mu.Lock()
		defer monitor.mu.Unlock()
		for _, line := range monitor.logs {
			if line == "ignored repeated Auth from alice" {
				return true
			}
		}
		return false
	}, "repeated Auth was not logged as ignored")

	// Addressed delivery still finds the original identity.
	bob.send(&protocol.Packet{Kind: protocol.KindMessage, Sender: "bob", Recipient: "alice", Data: []byte("y")})
	got := alice.recv(2 * time.Second)
	if got.Sender != "bob" {
		t.Errorf("alice got %+v", got)
	}
}

func TestMalformedFrameClosesOnlyThatConnection(t *testing.T) {
	rs, _ := startTestRelay(t)

	alice := dialRelay(t, rs)
	alice.login("alice", "pw-a")
	bob := dialRelay(t, rs)
	bob.login("bob", "pw-b")

	bob.sendRaw("this is not a frame\n")
	bob.expectClosed(2 * time.Second)

	waitFor(t, func() bool { return rs.Registry().Count() == 1 }, "malformed sender not deregistered")

	// Sibling sessions are unaffected.
	carol := dialRelay(t, rs)
	carol.login("carol", "pw-c")
	alice.send(&protocol.Packet{Kind: protocol.KindMessage, Sender: "alice", Data: []byte("still up")})
	if got := carol.recv(2 * time.Second); got.Sender != "alice" {
		t.Errorf("carol got %+v", got)
	}
}

func TestDisconnectCleanupAndBestEffort(t *testing.T) {
	rs, monitor := startTestRelay(t)

	alice := dialRelay(t, rs)
	alice.login("alice", "pw-a")
	bob := dialRelay(t, rs)
	bob.login("bob", "pw-b")
	carol := dialRelay(t, rs)
	carol.login("carol", "pw-c")

	bob.conn.Close()
	waitFor(t, func() bool { return rs.Registry().Count() == 2 }, "departed session not removed")

	waitFor(t, func() bool {
		for _, name := range monitor.leftNames() {
			if name == "bob" {
				return true
			}
		}
		return false
	}, "monitor not notified of departure")

	// Broadcast after the departure still reaches the remaining peer.
	alice.send(&protocol.Packet{Kind: protocol.KindMessage, Sender: "alice", Data: []byte("anyone there")})
	if got := carol.recv(2 * time.Second); got.Sender != "alice" {
		t.Errorf("carol got %+v", got)
	}
}

func TestKeyExchangePassThrough(t *testing.T) {
	rs, _ := startTestRelay(t)

	alice := dialRelay(t, rs)
	alice.login("alice", "pw-a")
	bob := dialRelay(t, rs)
	bob.login("bob", "pw-b")

	keyMaterial := []byte("dh-public-key-material")
	alice.send(&protocol.Packet{
		Kind:      protocol.KindKeyExchange,
		Sender:    "alice",
		Recipient: "bob",
		Data:      keyMaterial,
	})

	got := bob.recv(2 * time.Second)
	if got.Kind != protocol.KindKeyExchange || string(got.Data) != string(keyMaterial) {
		t.Errorf("key-exchange packet altered in transit: %+v", got)
	}
}

func TestServerStopClosesSessions(t *testing.T) {
	rs, _ := startTestRelay(t)

	alice := dialRelay(t, rs)
	alice.login("alice", "pw-a")

	if err := rs.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	alice.expectClosed(2 * time.Second)

	// Stop is idempotent.
	if err := rs.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestStatsCountsRelayedPackets(t *testing.T) {
	rs, _ := startTestRelay(t)

	alice := dialRelay(t, rs)
	alice.login("alice", "pw-a")
	bob := dialRelay(t, rs)
	bob.login("bob", "pw-b")

	alice.send(&protocol.Packet{Kind: protocol.KindMessage, Sender: "alice", Data: []byte("one")})
	bob.recv(2 * time.Second)

	// The counter increments in the sender's read loop, which may still be
	// a hair behind the recipient's read.
	waitFor(t, func() bool { return rs.Registry().Relayed() >= 1 }, "relayed counter never incremented")

	stats := rs.Stats()
	if stats["connected_clients"] != 2 {
		t.Errorf("connected_clients = %v, want 2", stats["connected_clients"])
	}
}
