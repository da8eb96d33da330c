// Package server exposes the canonical store over HTTP: the sync status
// delta endpoint, batched and single-item hydration, the metadata probe,
// and a WebSocket channel that announces version changes.
//
// All endpoints are read-only; the store is mutated only by the importer.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/openlectern/lectern/internal/api"
	"github.com/openlectern/lectern/internal/content"
	"github.com/openlectern/lectern/internal/store"
)

// maxBatchKeys bounds one chapter batch request. Clients chunk large key
// lists well below this (10 per request).
const maxBatchKeys = 100

// Config holds server configuration.
type Config struct {
	// Addr to listen on (default ":8080").
	Addr string

	// VersionPollInterval is how often the stored sync version is checked
	// for the WebSocket broadcast (default 3s).
	VersionPollInterval time.Duration

	// Logger for server activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:                ":8080",
		VersionPollInterval: 3 * time.Second,
		Logger:              log.Default(),
	}
}

// Server serves the sync API for one canonical store.
type Server struct {
	db       *store.DB
	addr     string
	listener net.Listener
	server   *http.Server

	// WebSocket client management
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	pollInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// New creates a sync API server over an opened store.
func New(db *store.DB, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if config.VersionPollInterval <= 0 {
		config.VersionPollInterval = 3 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		db:           db,
		addr:         config.Addr,
		clients:      make(map[*websocket.Conn]bool),
		pollInterval: config.VersionPollInterval,
		ctx:          ctx,
		cancel:       cancel,
		logger:       config.Logger,
	}
}

// Start begins listening. Non-blocking; use Stop to shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sync/status", s.handleStatus)
	mux.HandleFunc("POST /api/chapters/batch", s.handleChapterBatch)
	mux.HandleFunc("GET /api/timeline", s.handleTimeline)
	mux.HandleFunc("GET /api/prophecies", s.handleProphecies)
	mux.HandleFunc("GET /api/persons/{id}", s.handlePerson)
	mux.HandleFunc("GET /api/plans/{id}", s.handlePlan)
	mux.HandleFunc("GET /api/meta", s.handleMeta)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.wg.Add(1)
	go s.versionPollLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Sync API listening on %s", s.addr)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.logger.Println("Stopping sync API server")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()

	s.logger.Println("Sync API server stopped")
	return nil
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// handleStatus answers "what changed since version N". Unknown or zero
// versions fail open to the full catalog.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	since := int64(0)
	if raw := r.URL.Query().Get("since"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "invalid since parameter")
			return
		}
		since = v
	}

	status, err := s.db.Status(r.Context(), since)
	if err != nil {
		s.logger.Printf("Status query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "status query failed")
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// handleChapterBatch hydrates a bounded list of chapter keys. Missing keys
// are omitted from the result, never errored.
func (s *Server) handleChapterBatch(w http.ResponseWriter, r *http.Request) {
	var req api.ChapterBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Keys) == 0 {
		writeJSON(w, http.StatusOK, api.ChapterBatchResponse{Chapters: map[string]json.RawMessage{}})
		return
	}
	if len(req.Keys) > maxBatchKeys {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("too many keys: %d (max %d)", len(req.Keys), maxBatchKeys))
		return
	}

	keys := req.Keys
	if req.Translation != "" {
		keys = nil
		prefix := req.Translation + "/"
		for _, key := range req.Keys {
			if strings.HasPrefix(key, prefix) {
				keys = append(keys, key)
			}
		}
	}

	records, err := s.db.GetRecords(r.Context(), content.TypeChapters, keys)
	if err != nil {
		s.logger.Printf("Chapter batch failed: %v", err)
		writeError(w, http.StatusInternalServerError, "batch hydration failed")
		return
	}

	writeJSON(w, http.StatusOK, api.ChapterBatchResponse{Chapters: records})
}

// handleTimeline serves the singleton timeline aggregate.
func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	s.serveRecord(w, r, content.TypeTimeline, content.SingletonKey(content.TypeTimeline))
}

// handleProphecies serves the singleton prophecies aggregate.
func (s *Server) handleProphecies(w http.ResponseWriter, r *http.Request) {
	s.serveRecord(w, r, content.TypeProphecies, content.SingletonKey(content.TypeProphecies))
}

// handlePerson serves one person record by id.
func (s *Server) handlePerson(w http.ResponseWriter, r *http.Request) {
	s.serveRecord(w, r, content.TypePersons, r.PathValue("id"))
}

// handlePlan serves one reading plan record by id.
func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	s.serveRecord(w, r, content.TypeReadingPlans, r.PathValue("id"))
}

// serveRecord writes one hydrated record, or 404 for unknown keys.
func (s *Server) serveRecord(w http.ResponseWriter, r *http.Request, contentType, key string) {
	payload, err := s.db.GetRecord(r.Context(), contentType, key)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		s.logger.Printf("Record lookup %s/%s failed: %v", contentType, key, err)
		writeError(w, http.StatusInternalServerError, "record lookup failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// handleMeta serves the cheap is-anything-new probe.
func (s *Server) handleMeta(w http.ResponseWriter, r *http.Request) {
	meta, err := s.db.Meta(r.Context())
	if err != nil {
		s.logger.Printf("Meta query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "meta query failed")
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.RLock()
	clientCount := len(s.clients)
	s.clientsMu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"clients": clientCount,
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
