package api

import "time"

// The relay calls these from session read loops; they only take the mutex
// briefly and never block on I/O.

// AppendLog adds a line to the rolling log, evicting the oldest entry once
// the buffer is full.
func (s *Server) AppendLog(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logs = append(s.logs, LogEntry{Time: time.Now(), Text: text})
	if len(s.logs) > s.logCap {
		s.logs = s.logs[len(s.logs)-s.logCap:]
	}
}

// NotifyClientJoined records a client in the live table. A duplicate login
// under the same name overwrites the previous entry; the relay itself does
// not reject duplicates.
func (s *Server) NotifyClientJoined(username string, joinedAt time.Time) {
	s.mu.Lock()
	s.clients[username] = joinedAt
	s.mu.Unlock()

	s.AppendLog("---> " + username + " joined")
}

// NotifyClientLeft drops a client from the live table.
func (s *Server) NotifyClientLeft(username string) {
	s.mu.Lock()
	delete(s.clients, username)
	s.mu.Unlock()

	s.AppendLog("<--- " + username + " left")
}
