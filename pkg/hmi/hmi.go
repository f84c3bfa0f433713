// Package hmi exposes the runtime to operator frontends over HTTP and
// WebSocket: a status snapshot, a command surface and a pushed status
// stream.
package hmi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"berryplc/pkg/journal"
	"berryplc/pkg/log"
	"berryplc/pkg/metrics"
	"berryplc/pkg/plc"
	"berryplc/pkg/stepgen"
)

// Controller is the slice of the runtime the HMI drives. *plc.Runtime
// satisfies it.
type Controller interface {
	Status() plc.Status
	Start() error
	Stop()
	Estop()
	ClearEstop()
	Estopped() bool
	Move(axis string, steps float64) (*stepgen.Move, error)
	Jog(axis string, speed, steps float64) (*stepgen.Move, error)
	CancelMove(axis string) error
}

// Config holds server configuration.
type Config struct {
	// Addr is the HTTP listen address (e.g. ":8080").
	Addr string

	Controller Controller

	Logger *log.Logger

	// Metrics, when set, is served at /metrics.
	Metrics *metrics.Registry

	// Journal, when set, is queryable at /journal.
	Journal *journal.Journal

	// BroadcastPeriod is the status push interval (default 250ms).
	BroadcastPeriod time.Duration
}

// Server serves the HMI endpoints.
type Server struct {
	ctl     Controller
	logger  *log.Logger
	metrics *metrics.Registry
	journal *journal.Journal
	period  time.Duration

	httpServer *http.Server
	addr       string

	upgrader websocket.Upgrader

	clientMu sync.RWMutex
	clients  map[int64]*wsClient
	nextID   int64

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a server and starts its status broadcast loop.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New("hmi")
	}
	period := cfg.BroadcastPeriod
	if period == 0 {
		period = 250 * time.Millisecond
	}
	s := &Server{
		ctl:     cfg.Controller,
		logger:  logger,
		metrics: cfg.Metrics,
		journal: cfg.Journal,
		period:  period,
		addr:    cfg.Addr,
		clients: make(map[int64]*wsClient),
		stop:    make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	go s.broadcastLoop()
	return s
}

// Handler returns the HTTP handler serving every endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/start", s.handleStart)
	mux.HandleFunc("/stop", s.handleStop)
	mux.HandleFunc("/estop", s.handleEstop)
	mux.HandleFunc("/estop/clear", s.handleClearEstop)
	mux.HandleFunc("/move", s.handleMove)
	mux.HandleFunc("/jog", s.handleJog)
	mux.HandleFunc("/cancel", s.handleCancel)
	mux.HandleFunc("/ws", s.handleWebSocket)
	if s.journal != nil {
		mux.HandleFunc("/journal", s.handleJournal)
	}
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return s.corsMiddleware(mux)
}

// Start serves on the configured address. Blocks until Stop.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}
	s.logger.Info("hmi listening on %s", s.addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop halts the broadcast loop, closes every client and the listener.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() { close(s.stop) })

	s.clientMu.Lock()
	for _, c := range s.clients {
		c.close()
	}
	s.clients = make(map[int64]*wsClient)
	s.clientMu.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

type moveRequest struct {
	Axis  string  `json:"axis"`
	Steps float64 `json:"steps"`
	Speed float64 `json:"speed,omitempty"`
}

type axisRequest struct {
	Axis string `json:"axis"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.ctl.Status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.ctl.Start(); err != nil {
		s.writeError(w, http.StatusConflict, err)
		return
	}
	s.writeJSON(w, map[string]any{"running": true})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.ctl.Stop()
	s.writeJSON(w, map[string]any{"running": false})
}

func (s *Server) handleEstop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.ctl.Estop()
	s.writeJSON(w, map[string]any{"estop": true})
}

func (s *Server) handleClearEstop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.ctl.ClearEstop()
	s.writeJSON(w, map[string]any{"estop": false})
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, err := s.ctl.Move(req.Axis, req.Steps); err != nil {
		s.writeError(w, http.StatusConflict, err)
		return
	}
	s.writeJSON(w, map[string]any{"axis": req.Axis, "steps": req.Steps})
}

func (s *Server) handleJog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, err := s.ctl.Jog(req.Axis, req.Speed, req.Steps); err != nil {
		s.writeError(w, http.StatusConflict, err)
		return
	}
	s.writeJSON(w, map[string]any{"axis": req.Axis, "steps": req.Steps, "speed": req.Speed})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req axisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.ctl.CancelMove(req.Axis); err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeJSON(w, map[string]any{"axis": req.Axis, "cancelled": true})
}

// handleJournal serves recent events. Query parameters: since (RFC3339,
// default one hour ago), limit, type (repeatable).
func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-time.Hour)
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		since = t
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		limit = n
	}
	var types []journal.EventType
	for _, v := range r.URL.Query()["type"] {
		types = append(types, journal.EventType(v))
	}
	events, err := s.journal.Query(r.Context(), since, limit, types...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, map[string]any{"events": events})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"error": err.Error()})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed: %v", err)
		return
	}

	c := &wsClient{
		id:     atomic.AddInt64(&s.nextID, 1),
		conn:   conn,
		server: s,
		sendCh: make(chan any, 64),
		done:   make(chan struct{}),
	}

	s.clientMu.Lock()
	s.clients[c.id] = c
	s.clientMu.Unlock()
	s.logger.Debug("hmi client %d connected", c.id)

	go c.writePump()

	// First frame is the current status so the frontend renders
	// immediately instead of waiting a broadcast period.
	c.send(statusEvent{Event: "status", Data: s.ctl.Status()})

	c.readPump()
}

func (s *Server) removeClient(c *wsClient) {
	s.clientMu.Lock()
	delete(s.clients, c.id)
	s.clientMu.Unlock()
	s.logger.Debug("hmi client %d disconnected", c.id)
}

func (s *Server) broadcastLoop() {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		s.clientMu.RLock()
		if len(s.clients) == 0 {
			s.clientMu.RUnlock()
			continue
		}
		msg := statusEvent{Event: "status", Data: s.ctl.Status()}
		for _, c := range s.clients {
			c.send(msg)
		}
		s.clientMu.RUnlock()
	}
}
