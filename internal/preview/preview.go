// Package preview streams per-frame summaries to live viewers over a
// websocket.
package preview

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/lanegen/internal/httputil"
	"github.com/banshee-data/lanegen/internal/monitoring"
	"github.com/banshee-data/lanegen/internal/version"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10
)

// Summary describes one processed tick.
type Summary struct {
	Type      string  `json:"type"`
	Tick      uint64  `json:"tick"`
	Index     int     `json:"index"`
	Saved     bool    `json:"saved"`
	Skip      string  `json:"skip,omitempty"`
	LaneCount int     `json:"lane_count"`
	RoadID    int     `json:"road_id"`
	Speed     float64 `json:"speed"`
	SpeedText string  `json:"speed_text,omitempty"`
	FilePath  string  `json:"file_path,omitempty"`
}

// Server fans summaries out to every connected client.
type Server struct {
	upgrader websocket.Upgrader
	mu       sync.Mutex
	clients  map[*websocket.Conn]*sync.Mutex
	sent     int
	last     *Summary
}

// NewServer returns a server with no clients.
func NewServer() *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]*sync.Mutex),
	}
}

// Handler serves /ws, /healthz and /status.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", httputil.GETOnly(s.handleHealth))
	mux.HandleFunc("/status", httputil.GETOnly(s.handleStatus))
	return mux
}

// ListenAndServe serves Handler on addr and broadcasts summaries until ctx
// is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string, summaries <-chan Summary) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	go s.Run(ctx, summaries)

	monitoring.Logf("[preview] listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Run broadcasts summaries until ctx is done or the channel closes.
func (s *Server) Run(ctx context.Context, summaries <-chan Summary) {
	for {
		select {
		case <-ctx.Done():
			return
		case sum, ok := <-summaries:
			if !ok {
				return
			}
			s.Broadcast(sum)
		}
	}
}

// Broadcast sends one summary to every client, dropping clients whose
// writes fail.
func (s *Server) Broadcast(sum Summary) {
	if sum.Type == "" {
		sum.Type = "frame"
	}
	payload, err := json.Marshal(sum)
	if err != nil {
		return
	}

	var stale []*websocket.Conn
	s.mu.Lock()
	s.sent++
	s.last = &sum
	for conn, writeMu := range s.clients {
		if err := writeMessage(conn, writeMu, websocket.TextMessage, payload); err != nil {
			stale = append(stale, conn)
		}
	}
	s.mu.Unlock()
	for _, conn := range stale {
		s.removeClient(conn)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	writeMu := &sync.Mutex{}
	s.mu.Lock()
	s.clients[conn] = writeMu
	s.mu.Unlock()

	hello := map[string]any{"type": "hello", "version": version.Version}
	if err := writeJSON(conn, writeMu, hello); err != nil {
		s.removeClient(conn)
		return
	}

	go func() {
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingEvery)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := writeMessage(conn, writeMu, websocket.PingMessage, nil); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()
		defer close(done)
		defer s.removeClient(conn)
		// Clients only listen; reading drives pong handling and detects close.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	payload := map[string]any{
		"ws_clients": len(s.clients),
		"sent":       s.sent,
	}
	if s.last != nil {
		payload["last"] = *s.last
	}
	s.mu.Unlock()

	httputil.WriteJSON(w, http.StatusOK, payload)
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	conn.Close()
}

func writeJSON(conn *websocket.Conn, writeMu *sync.Mutex, payload any) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(payload)
}

func writeMessage(conn *websocket.Conn, writeMu *sync.Mutex, messageType int, payload []byte) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, payload)
}
