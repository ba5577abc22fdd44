// Package network implements the relay engine: the connection acceptor, the
// per-connection session state machine, and the registry that routes packets
// between authenticated sessions.
package network

import (
	"fmt"
	"log"
	"net"
	"sync/atomic"
	"time"
)

// RelayServer accepts client connections and spawns a Session per connection.
type RelayServer struct {
	port     int
	creds    CredentialVerifier
	monitor  Monitor
	registry *Registry

	listener  net.Listener
	stopped   atomic.Bool
	startTime time.Time
}

// NewRelayServer creates a relay listening on port once started. A nil
// monitor disables operator notifications.
func NewRelayServer(port int, creds CredentialVerifier, monitor Monitor) *RelayServer {
	if monitor == nil {
		monitor = NopMonitor{}
	}
	return &RelayServer{
		port:     port,
		creds:    creds,
		monitor:  monitor,
		registry: NewRegistry(monitor),
	}
}

// Registry exposes the session registry (for the status API).
func (rs *RelayServer) Registry() *Registry {
	return rs.registry
}

// Start binds the listener and launches the accept loop. Bind failure is the
// only error surfaced to the operator at startup.
func (rs *RelayServer) Start() error {
	addr := fmt.Sprintf(":%d", rs.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	rs.listener = listener
	rs.startTime = time.Now()
	log.Printf("Relay server listening on %s", listener.Addr())
	rs.monitor.AppendLog("relay server started on " + listener.Addr().String())

	go rs.acceptLoop()

	return nil
}

// Addr returns the bound listener address (useful when started on port 0).
func (rs *RelayServer) Addr() net.Addr {
	if rs.listener == nil {
		return nil
	}
	return rs.listener.Addr()
}

// Stop terminates the accept loop and force-closes every live session,
// interrupting their blocked reads. In-flight sends may fail; they are logged
// by their senders and not retried.
func (rs *RelayServer) Stop() error {
	if !rs.stopped.CompareAndSwap(false, true) {
		return nil
	}

	var err error
	if rs.listener != nil {
		err = rs.listener.Close()
	}

	rs.registry.CloseAll()
	rs.monitor.AppendLog("relay server stopped")

	return err
}

// acceptLoop accepts incoming connections until the listener closes.
func (rs *RelayServer) acceptLoop() {
	for {
		conn, err := rs.listener.Accept()
		if err != nil {
			if !rs.stopped.Load() {
				log.Printf("Accept error: %v", err)
			}
			return
		}

		log.Printf("New connection from %s", conn.RemoteAddr())

		session := NewSession(conn, rs.registry, rs.creds, rs.monitor)
		go session.Run()
	}
}

// Stats returns relay statistics for the status API and heartbeat log.
func (rs *RelayServer) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"connected_clients": rs.registry.Count(),
		"packets_relayed":   rs.registry.Relayed(),
	}

	if !rs.startTime.IsZero() {
		stats["uptime_seconds"] = uint64(time.Since(rs.startTime).Seconds())
	}

	return stats
}
