package network

import (
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chatlink/relay-node/pkg/protocol"
)

// Registry is the shared set of live sessions. It is the only state in the
// relay touched by multiple read loops concurrently, so every mutation and
// lookup goes through its mutex. The raw set is never handed out.
//
// Duplicate usernames are not rejected; a private send reaches whichever
// matching session the lookup finds first. This mirrors the legacy server
// behavior (see DESIGN.md).
type Registry struct {
	mu       sync.RWMutex
	sessions map[*Session]struct{}

	monitor Monitor
	relayed atomic.Uint64
}

// NewRegistry creates an empty registry reporting to monitor.
func NewRegistry(monitor Monitor) *Registry {
	if monitor == nil {
		monitor = NopMonitor{}
	}
	return &Registry{
		sessions: make(map[*Session]struct{}),
		monitor:  monitor,
	}
}

// Add registers a session after it authenticates and notifies the monitor of
// the join.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	r.sessions[s] = struct{}{}
	r.mu.Unlock()

	r.monitor.NotifyClientJoined(s.Username(), time.Now())
}

// Remove deregisters a session. The monitor hears about the departure only if
// the session had authenticated (and was therefore announced on the way in).
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	_, present := r.sessions[s]
	delete(r.sessions, s)
	r.mu.Unlock()

	if present && s.Authenticated() {
		r.monitor.NotifyClientLeft(s.Username())
	}
}

// Broadcast delivers p to every authenticated session except exclude.
// Delivery is best-effort per recipient: a session that fails or departs
// mid-broadcast does not affect the others, and a session joining
// mid-broadcast may or may not receive this packet.
func (r *Registry) Broadcast(p *protocol.Packet, exclude *Session) {
	for _, target := range r.snapshot() {
		if target == exclude || !target.Authenticated() {
			continue
		}

		if err := target.Send(p); err != nil {
			log.Printf("broadcast to %s failed: %v", target.Username(), err)
			continue
		}
		r.relayed.Add(1)
	}
}

// SendPrivate delivers p to the first authenticated session whose username
// matches recipientName, case-insensitively. No match means the packet is
// silently dropped; the sender is never told.
func (r *Registry) SendPrivate(recipientName string, p *protocol.Packet) {
	for _, target := range r.snapshot() {
		if !target.Authenticated() || !strings.EqualFold(target.Username(), recipientName) {
			continue
		}

		if err := target.Send(p); err != nil {
			log.Printf("private send to %s failed: %v", target.Username(), err)
			return
		}
		r.relayed.Add(1)
		return
	}

	log.Printf("private packet for %q dropped (recipient not connected)", recipientName)
}

// CloseAll force-closes every session, interrupting blocked reads. Used on
// server shutdown.
func (r *Registry) CloseAll() {
	for _, s := range r.snapshot() {
		s.Close()
	}
}

// Count returns the number of authenticated sessions.
func (r *Registry) Count() int {
	n := 0
	for _, s := range r.snapshot() {
		if s.Authenticated() {
			n++
		}
	}
	return n
}

// Usernames returns the names of all authenticated sessions.
func (r *Registry) Usernames() []string {
	var names []string
	for _, s := range r.snapshot() {
		if s.Authenticated() {
			names = append(names, s.Username())
		}
	}
	return names
}

// Relayed returns the number of packets delivered since startup.
func (r *Registry) Relayed() uint64 {
	return r.relayed.Load()
}

// snapshot copies the session set under the read lock so that sends happen
// outside it. Broadcast is therefore not atomic with respect to concurrent
// joins and leaves, which is the intended best-effort contract.
func (r *Registry) snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}
