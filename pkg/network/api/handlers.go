package api

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// ClientInfo describes one connected client.
type ClientInfo struct {
	Username string    `json:"username"`
	JoinedAt time.Time `json:"joinedAt"`
}

// ClientsResponse lists connected clients.
type ClientsResponse struct {
	Success bool         `json:"success"`
	Count   int          `json:"count"`
	Clients []ClientInfo `json:"clients"`
}

// LogsResponse returns the tail of the rolling log.
type LogsResponse struct {
	Success bool       `json:"success"`
	Count   int        `json:"count"`
	Logs    []LogEntry `json:"logs"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now(),
	})
}

// handleClients handles GET /api/v1/clients
func (s *Server) handleClients(c *gin.Context) {
	s.mu.RLock()
	clients := make([]ClientInfo, 0, len(s.clients))
	for username, joinedAt := range s.clients {
		clients = append(clients, ClientInfo{Username: username, JoinedAt: joinedAt})
	}
	s.mu.RUnlock()

	sort.Slice(clients, func(i, j int) bool {
		return clients[i].JoinedAt.Before(clients[j].JoinedAt)
	})

	c.JSON(http.StatusOK, ClientsResponse{
		Success: true,
		Count:   len(clients),
		Clients: clients,
	})
}

// handleLogs handles GET /api/v1/logs?limit=N
func (s *Server) handleLogs(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "Invalid limit",
				Message: "limit must be a positive number",
			})
			return
		}
		limit = parsed
	}

	s.mu.RLock()
	logs := s.logs
	if len(logs) > limit {
		logs = logs[len(logs)-limit:]
	}
	tail := append([]LogEntry(nil), logs...)
	s.mu.RUnlock()

	c.JSON(http.StatusOK, LogsResponse{
		Success: true,
		Count:   len(tail),
		Logs:    tail,
	})
}

// handleStats handles GET /api/v1/stats
func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stats":   s.relay.Stats(),
	})
}
