package status

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// MetricsSource renders collected metrics; *metrics.InmemSink satisfies it.
type MetricsSource interface {
	DisplayMetrics(resp http.ResponseWriter, req *http.Request) (interface{}, error)
}

// Server exposes the board over HTTP and a websocket stream.
type Server struct {
	port    int
	robotID int
	router  *mux.Router
	server  *http.Server
	board   *Board
	metrics MetricsSource

	// StreamInterval is how often /ws checks the board for a new cycle.
	StreamInterval time.Duration

	mutex    sync.Mutex
	listener net.Listener
}

// NewServer creates a status server. metrics may be nil.
func NewServer(robotID, port int, board *Board, metrics MetricsSource) *Server {
	router := mux.NewRouter()

	s := &Server{
		robotID: robotID,
		port:    port,
		router:  router,
		board:   board,
		metrics: metrics,
		server: &http.Server{
			Addr:              ":" + strconv.Itoa(port),
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		StreamInterval: 200 * time.Millisecond,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	s.router.HandleFunc("/victims", s.handleVictims).Methods(http.MethodGet)
	s.router.HandleFunc("/pose", s.handlePose).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.handleWebsocket)
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Stop. It returns http.ErrServerClosed after Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen on port %d", s.port)
	}
	s.mutex.Lock()
	s.listener = ln
	s.mutex.Unlock()

	log.Printf("[STATUS] Server started on %s", ln.Addr())
	return s.server.Serve(ln)
}

// Stop shuts down the status server
func (s *Server) Stop() error {
	log.Printf("[STATUS] Stopping server on port %d", s.port)
	return s.server.Close()
}

// Addr returns the bound address, nil before Start.
func (s *Server) Addr() net.Addr {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// handleHealth provides a basic health-check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, published := s.board.Latest()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"robot_id": s.robotID,
		"run_id":   s.board.RunID(),
		"status":   "healthy",
		"port":     s.port,
		"running":  published,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.latest(w)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleVictims(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.latest(w)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"robot_id": snap.Agent.RobotID,
		"count":    len(snap.Agent.Victims),
		"victims":  snap.Agent.Victims,
	})
}

func (s *Server) handlePose(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.latest(w)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"robot_id": snap.Agent.RobotID,
		"pose":     snap.Agent.Pose,
		"accuracy": snap.Agent.Accuracy,
		"go_ahead": snap.Agent.GoAhead,
		"peers":    snap.Peers,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		s.sendError(w, http.StatusNotImplemented, "metrics disabled")
		return
	}
	data, err := s.metrics.DisplayMetrics(w, r)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, data)
}

// handleWebsocket streams every new snapshot until the client disconnects.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[STATUS] Websocket upgrade failed: %v", err)
		return
	}
	defer c.Close()

	// Reading is mandatory to notice the client closing the socket.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.StreamInterval)
	defer ticker.Stop()

	last := int64(-1)
	for {
		if snap, ok := s.board.Latest(); ok && snap.Cycle != last {
			if err := c.WriteJSON(snap); err != nil {
				return
			}
			last = snap.Cycle
		}
		select {
		case <-closed:
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) latest(w http.ResponseWriter) (Snapshot, bool) {
	snap, ok := s.board.Latest()
	if !ok {
		s.sendError(w, http.StatusServiceUnavailable, "no cycle completed yet")
	}
	return snap, ok
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Robot-ID", strconv.Itoa(s.robotID))
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[STATUS] Error encoding response: %v", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]interface{}{
		"error":    msg,
		"robot_id": s.robotID,
	})
}

// GetStats returns status server statistics
func (s *Server) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"status_port": s.port,
		"robot_id":    s.robotID,
	}
}
