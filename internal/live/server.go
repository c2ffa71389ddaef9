// Package live streams sync progress and connectivity changes to websocket
// clients.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/marcus/offtask/internal/connectivity"
	tsync "github.com/marcus/offtask/internal/sync"
)

// MessageType tags every message on the feed.
type MessageType string

const (
	MessageTypeProgress     MessageType = "progress"
	MessageTypeConnectivity MessageType = "connectivity"
)

const (
	writeTimeout  = 5 * time.Second
	broadcastSize = 64
)

// Message is one JSON frame sent to clients.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Progress  *tsync.Progress `json:"progress,omitempty"`
	Online    *bool           `json:"online,omitempty"`
}

// ProgressMessage wraps a progress snapshot.
func ProgressMessage(p tsync.Progress) Message {
	return Message{Type: MessageTypeProgress, Progress: &p}
}

// ConnectivityMessage wraps an online/offline state.
func ConnectivityMessage(online bool) Message {
	return Message{Type: MessageTypeConnectivity, Online: &online}
}

// Server manages websocket clients and fans messages out to them.
type Server struct {
	addr     string
	listener net.Listener
	http     *http.Server
	snapshot func() []Message

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a feed. snapshot, if set, supplies the messages every
// new client receives on connect.
func NewServer(addr string, snapshot func() []Message) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		addr:      addr,
		snapshot:  snapshot,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, broadcastSize),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.wg.Add(1)
	go s.broadcastLoop()
	return s
}

// Handler serves GET /progress (websocket) and GET /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /progress", s.handleWebSocket)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// Start listens on the configured address.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		slog.Info("live: listening", "addr", ln.Addr().String())
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("live: serve", "err", err)
		}
	}()
	return nil
}

// Stop closes every client and shuts the listener down.
func (s *Server) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	var err error
	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := s.http.Shutdown(ctx); serr != nil {
			err = fmt.Errorf("live shutdown: %w", serr)
		}
	}
	s.wg.Wait()
	return err
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Broadcast queues msg for every client. Drops when the queue is full.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		slog.Warn("live: broadcast queue full, dropping message", "type", msg.Type)
	}
}

// Pump forwards progress snapshots and connectivity edges until ctx is done
// or both channels close.
func (s *Server) Pump(ctx context.Context, progress <-chan tsync.Progress, edges <-chan connectivity.Edge) {
	for progress != nil || edges != nil {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-progress:
			if !ok {
				progress = nil
				continue
			}
			s.Broadcast(ProgressMessage(p))
		case e, ok := <-edges:
			if !ok {
				edges = nil
				continue
			}
			msg := ConnectivityMessage(e.Online)
			msg.Timestamp = e.At
			s.Broadcast(msg)
		}
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}
			data, err := json.Marshal(msg)
			if err != nil {
				slog.Warn("live: marshal", "err", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				if err := s.write(conn, data); err != nil {
					slog.Debug("live: send failed", "err", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) write(conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("live: websocket upgrade failed", "err", err)
		return
	}

	if s.snapshot != nil {
		for _, msg := range s.snapshot() {
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}
			data, _ := json.Marshal(msg)
			if err := s.write(conn, data); err != nil {
				_ = conn.Close(websocket.StatusInternalError, "snapshot failed")
				return
			}
		}
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	count := len(s.clients)
	s.clientsMu.Unlock()
	slog.Debug("live: client connected", "clients", count)

	s.readLoop(conn)
}

// readLoop blocks until the client goes away.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, ok := s.clients[conn]; !ok {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, conn)
	count := len(s.clients)
	s.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	slog.Debug("live: client disconnected", "clients", count)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}
