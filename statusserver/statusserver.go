// Package statusserver exposes the supervisor's persisted state over
// HTTP and WebSocket for external monitoring. Grounded on the
// teacher's scheduler/server.go WebServer (health/ready/ws endpoint
// trio, broadcast-on-ticker pattern, gorilla/websocket upgrade and
// client registry), re-purposed from miner/market status to
// schedule/block status. It reads the same backup files the
// supervisor already writes every tick rather than reaching into
// worker.Supervisor's internals, so the supervisor's single-threaded
// tick loop needs no added locking just to serve a status page.
package statusserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gostonefire/mygrid/backup"
)

// Server serves read-only supervisor status derived from the backup
// and schedule directories.
type Server struct {
	backupDir   string
	scheduleDir string
	port        int
	startTime   time.Time
	server      *http.Server
	upgrader    websocket.Upgrader
	clients     sync.Map
	broadcast   chan []byte
	done        chan struct{}
}

// NewServer returns a Server for the given backup/schedule
// directories. A non-positive port disables the server, mirroring the
// teacher's NewWebServer(nil-if-disabled) convention.
func NewServer(backupDir, scheduleDir string, port int) *Server {
	if port <= 0 {
		return nil
	}

	mux := http.NewServeMux()
	s := &Server{
		backupDir:   backupDir,
		scheduleDir: scheduleDir,
		port:        port,
		startTime:   time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		broadcast: make(chan []byte, 256),
		done:      make(chan struct{}),
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}

	mux.HandleFunc("/api/health", s.healthHandler)
	mux.HandleFunc("/api/ready", s.readinessHandler)
	mux.HandleFunc("/api/ws", s.wsHandler)

	return s
}

// Start launches the broadcast loop, the periodic status ticker and
// the HTTP listener. Errors from the listener are logged, not
// returned, so a status-page failure never takes the supervisor down.
func (s *Server) Start() {
	if s == nil {
		return
	}
	go s.handleBroadcasts()
	go s.broadcastStatus()
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("statusserver: listen error: %v\n", err)
		}
	}()
}

// Stop gracefully shuts the server down and closes any open WebSocket
// connections.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	close(s.done)
	s.clients.Range(func(key, _ any) bool {
		if conn, ok := key.(*websocket.Conn); ok {
			conn.Close()
		}
		return true
	})
	return s.server.Shutdown(ctx)
}

// statusDoc is the JSON shape served by /api/health and broadcast over
// /api/ws.
type statusDoc struct {
	Status      string    `json:"status"`
	Timestamp   string    `json:"timestamp"`
	Uptime      string    `json:"uptime"`
	HasSchedule bool      `json:"has_schedule"`
	ScheduledAt time.Time `json:"scheduled_at,omitempty"`
	BlockCount  int       `json:"block_count,omitempty"`
	ActiveBlock *blockDoc `json:"active_block,omitempty"`
}

type blockDoc struct {
	BlockID   int    `json:"block_id"`
	BlockType string `json:"block_type"`
	Status    string `json:"status"`
	SOCIn     int    `json:"soc_in"`
	SOCOut    int    `json:"soc_out"`
}

func (s *Server) buildStatus() statusDoc {
	now := time.Now()
	doc := statusDoc{
		Status:    "healthy",
		Timestamp: now.UTC().Format(time.RFC3339),
		Uptime:    formatUptime(time.Since(s.startTime)),
	}

	if sched, ok, err := backup.LoadSchedule(s.scheduleDir, now); err == nil && ok {
		doc.HasSchedule = true
		doc.ScheduledAt = sched.DateTime
		doc.BlockCount = len(sched.Blocks)
	} else {
		doc.Status = "degraded"
	}

	if b, ok, err := backup.LoadActiveBlock(s.backupDir, now); err == nil && ok {
		doc.ActiveBlock = &blockDoc{
			BlockID:   b.BlockID,
			BlockType: string(b.BlockType),
			Status:    string(b.Status.Kind),
			SOCIn:     b.SOCIn,
			SOCOut:    b.SOCOut,
		}
	}

	return doc
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	doc := s.buildStatus()
	w.Header().Set("Content-Type", "application/json")
	if doc.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(doc)
}

func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	doc := s.buildStatus()
	w.Header().Set("Content-Type", "application/json")
	ready := map[string]any{"ready": doc.HasSchedule, "timestamp": doc.Timestamp}
	if !doc.HasSchedule {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(ready)
}

func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.clients.Store(conn, true)

	defer func() {
		s.clients.Delete(conn)
		conn.Close()
	}()

	if err := conn.WriteJSON(s.buildStatus()); err != nil {
		return
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) handleBroadcasts() {
	for {
		select {
		case message := <-s.broadcast:
			s.clients.Range(func(key, _ any) bool {
				conn, ok := key.(*websocket.Conn)
				if !ok {
					return true
				}
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					conn.Close()
					s.clients.Delete(conn)
				}
				return true
			})
		case <-s.done:
			return
		}
	}
}

func (s *Server) broadcastStatus() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hasClients := false
			s.clients.Range(func(_, _ any) bool {
				hasClients = true
				return false
			})
			if !hasClients {
				continue
			}
			message, err := json.Marshal(s.buildStatus())
			if err != nil {
				continue
			}
			s.broadcast <- message
		case <-s.done:
			return
		}
	}
}

func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	sec := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, sec)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, sec)
	}
	return fmt.Sprintf("%ds", sec)
}
