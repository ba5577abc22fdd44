package network

import (
	"bufio"
	"errors"
	"io"
	"log"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/chatlink/relay-node/pkg/crypto"
	"github.com/chatlink/relay-node/pkg/protocol"
)

// UnknownUser is the username sentinel before authentication succeeds.
const UnknownUser = "Unknown"

// authFailedMessage is sent to the client in the Error packet when login
// fails. The legacy client displays it verbatim.
const authFailedMessage = "invalid username or password"

// CredentialVerifier is the relay's view of the account backend. It must be
// safe to call from multiple sessions concurrently.
type CredentialVerifier interface {
	VerifyCredentials(username, password string) bool
}

// Session owns one client connection: its read loop, its authenticated
// identity, and the serialized write path other sessions fan into via the
// registry. The transport is closed exactly once, by whichever of read-loop
// exit or server shutdown gets there first.
type Session struct {
	id       string
	conn     net.Conn
	reader   *bufio.Reader
	registry *Registry
	creds    CredentialVerifier
	monitor  Monitor

	// writeMu serializes Send calls; concurrent broadcasts from sibling
	// read loops land here.
	writeMu sync.Mutex

	closeOnce sync.Once

	mu            sync.RWMutex
	username      string
	authenticated bool
}

// NewSession wraps an accepted connection. The caller starts the read loop
// with Run, usually in its own goroutine.
func NewSession(conn net.Conn, registry *Registry, creds CredentialVerifier, monitor Monitor) *Session {
	if monitor == nil {
		monitor = NopMonitor{}
	}
	return &Session{
		id:       uuid.NewString(),
		conn:     conn,
		reader:   bufio.NewReader(conn),
		registry: registry,
		creds:    creds,
		monitor:  monitor,
		username: UnknownUser,
	}
}

// ID returns the connection's correlation ID for logs.
func (s *Session) ID() string {
	return s.id
}

// Username returns the authenticated name, or UnknownUser before login.
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// Authenticated reports whether the session passed the credential check.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// Run executes the blocking read loop: decode one frame at a time, gate on
// authentication, then route. End-of-stream, a malformed frame, and a
// transport error all end the loop the same way. Nothing escapes to the
// acceptor or to sibling sessions.
func (s *Session) Run() {
	defer s.teardown()

	for {
		pkt, err := protocol.ReadPacket(s.reader)
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				log.Printf("session %s: read loop ended: %v", s.id, err)
			}
			return
		}

		if !s.Authenticated() {
			if pkt.Kind != protocol.KindAuth {
				// Silently drop anything received before a successful
				// login; the legacy server did the same.
				continue
			}
			if !s.handleAuth(pkt) {
				return
			}
			continue
		}

		if pkt.Kind == protocol.KindAuth {
			// Already logged in. A repeated Auth is ignored rather than
			// re-run, so a session cannot swap identity mid-stream.
			s.monitor.AppendLog("ignored repeated Auth from " + s.Username())
			continue
		}

		s.route(pkt)
	}
}

// handleAuth runs the credential check for the first Auth frame. Returns
// false when the session must close (failed login).
func (s *Session) handleAuth(pkt *protocol.Packet) bool {
	if !s.creds.VerifyCredentials(pkt.Sender, pkt.Password) {
		s.monitor.AppendLog("login failed for " + pkt.Sender)
		if err := s.Send(protocol.NewError(authFailedMessage)); err != nil {
			log.Printf("session %s: failed to send auth error: %v", s.id, err)
		}
		return false
	}

	s.mu.Lock()
	s.username = pkt.Sender
	s.authenticated = true
	s.mu.Unlock()

	s.registry.Add(s)
	s.monitor.AppendLog(pkt.Sender + " logged in")

	if err := s.Send(protocol.NewAuthAck()); err != nil {
		log.Printf("session %s: failed to send auth ack: %v", s.id, err)
	}

	return true
}

// route hands one authenticated packet to the registry, producing a log line
// first. The decrypt is best-effort observability only: the relay tries the
// well-known key (it never holds negotiated ones) and routing proceeds no
// matter what comes back.
func (s *Session) route(pkt *protocol.Packet) {
	switch pkt.Kind {
	case protocol.KindMessage:
		target := "All"
		if !pkt.Broadcast() {
			target = pkt.Recipient
		}
		preview := crypto.DecryptText(pkt.Data, nil, pkt.IV)
		s.monitor.AppendLog("message: " + s.Username() + " -> " + target + ": " + preview)
	case protocol.KindFile:
		// Never log payload bytes, only the name.
		s.monitor.AppendLog("file: " + s.Username() + " sent " + pkt.FileName)
	}

	if pkt.Broadcast() {
		s.registry.Broadcast(pkt, s)
	} else {
		s.registry.SendPrivate(pkt.Recipient, pkt)
	}
}

// Send serializes one frame to the connection. Concurrent callers are
// serialized by the write mutex. Failures are returned for the caller to log;
// delivery stays best-effort.
func (s *Session) Send(pkt *protocol.Packet) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return protocol.WritePacket(s.conn, pkt)
}

// Close force-closes the transport, interrupting a blocked read. Safe to call
// multiple times and from any goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.conn.Close()
	})
}

// teardown runs exactly once when the read loop exits for any reason.
func (s *Session) teardown() {
	s.registry.Remove(s)
	s.Close()
}
