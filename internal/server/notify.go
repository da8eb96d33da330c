package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/openlectern/lectern/internal/api"
)

// handleWebSocket upgrades connections for version-change notifications.
// Connected clients receive a VersionEvent whenever the stored sync
// version changes - a push variant of the /api/meta probe.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	// Send the current version immediately so late joiners can compare.
	if version, err := s.db.CurrentVersion(r.Context()); err == nil {
		s.sendVersion(conn, version)
	}

	go s.readLoop(conn)
}

// readLoop keeps the connection alive and handles client disconnects.
// Client messages are not processed.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		_, _, err := conn.Read(s.ctx)
		if err != nil {
			return
		}
	}
}

// removeClient safely removes a client connection.
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}

// versionPollLoop watches the stored sync version and broadcasts changes.
// The importer runs out of process, so the server observes its writes by
// polling the ledger at a coarse interval.
func (s *Server) versionPollLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	var last int64 = -1

	for {
		select {
		case <-s.ctx.Done():
			return

		case <-ticker.C:
			version, err := s.db.CurrentVersion(s.ctx)
			if err != nil {
				s.logger.Printf("Version poll failed: %v", err)
				continue
			}
			if last >= 0 && version != last {
				s.logger.Printf("Version changed: %d -> %d", last, version)
				s.broadcastVersion(version)
			}
			last = version
		}
	}
}

// broadcastVersion sends a VersionEvent to every connected client.
func (s *Server) broadcastVersion(version int64) {
	s.clientsMu.RLock()
	clients := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		clients = append(clients, conn)
	}
	s.clientsMu.RUnlock()

	for _, conn := range clients {
		s.sendVersion(conn, version)
	}
}

// sendVersion writes one VersionEvent, dropping the client on failure.
func (s *Server) sendVersion(conn *websocket.Conn, version int64) {
	event := api.VersionEvent{
		Type:        "version",
		SyncVersion: version,
		Timestamp:   time.Now(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Printf("Failed to marshal version event: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = conn.Write(ctx, websocket.MessageText, data)
	cancel()

	if err != nil {
		s.logger.Printf("Failed to send to client: %v", err)
		s.removeClient(conn)
	}
}
