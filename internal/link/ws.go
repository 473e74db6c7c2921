package link

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/san-kum/quadfc/internal/auth"
	"github.com/san-kum/quadfc/internal/dispatch"
	"github.com/san-kum/quadfc/internal/telemetry"
)

const (
	writeWait   = 2 * time.Second
	pongWait    = 30 * time.Second
	pingPeriod  = pongWait * 9 / 10
	clientQueue = 16
)

// Hub fans telemetry out to websocket subscribers. A client whose queue is
// full is disconnected rather than allowed to slow the others.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*wsClient
	enc     telemetry.Encoding
	log     *slog.Logger
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.send) })
}

// NewHub returns an empty hub.
func NewHub(enc telemetry.Encoding, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		clients: make(map[string]*wsClient),
		enc:     enc,
		log:     log.With("component", "ws-hub"),
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) Name() string { return "websocket" }

// Send queues s for every subscriber.
func (h *Hub) Send(_ context.Context, s telemetry.Snapshot) error {
	payload, err := h.enc.Marshal(s)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.log.Warn("dropping slow telemetry client", "client", id)
			delete(h.clients, id)
			c.close()
		}
	}
	return nil
}

func (h *Hub) register(conn *websocket.Conn) *wsClient {
	c := &wsClient{id: uuid.NewString(), conn: conn, send: make(chan []byte, clientQueue)}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.log.Info("telemetry client connected", "client", c.id, "remote", conn.RemoteAddr().String())
	return c
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		c.close()
	}
	h.mu.Unlock()
	h.log.Info("telemetry client disconnected", "client", c.id)
}

// Server exposes the command and telemetry websockets.
type Server struct {
	verifier *auth.Verifier
	hub      *Hub
	out      chan<- dispatch.Envelope
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer returns a server forwarding commands to out. A nil verifier
// disables authentication.
func NewServer(v *auth.Verifier, hub *Hub, out chan<- dispatch.Envelope, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		verifier: v,
		hub:      hub,
		out:      out,
		log:      log.With("component", "ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws/command", s.serveCommand)
	mux.HandleFunc("/ws/telemetry", s.serveTelemetry)
	return mux
}

// ListenAndServe serves until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Info("websocket server listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request, roles ...string) bool {
	if s.verifier == nil {
		return true
	}
	c, err := s.verifier.Authorize(r, roles...)
	if err != nil {
		s.log.Warn("websocket auth failed", "path", r.URL.Path, "error", err)
		http.Error(w, err.Error(), auth.StatusCode(err))
		return false
	}
	s.log.Debug("websocket authorized", "subject", c.Subject, "path", r.URL.Path)
	return true
}

func (s *Server) serveCommand(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r, auth.RolePilot) {
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	acks := make(chan dispatch.Ack, clientQueue)
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			select {
			case <-done:
				return
			case ack := <-acks:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(ack); err != nil {
					return
				}
			}
		}
	}()

	reply := func(a dispatch.Ack) {
		select {
		case acks <- a:
		default:
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("command connection closed", "error", err)
			}
			return
		}
		var e dispatch.Event
		if err := json.Unmarshal(data, &e); err != nil {
			reply(dispatch.Ack{Event: "unknown", Status: dispatch.StatusIgnored, Reason: "invalid JSON", At: time.Now()})
			continue
		}
		select {
		case s.out <- dispatch.Envelope{Event: e, Reply: reply}:
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) serveTelemetry(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r, auth.RolePilot, auth.RoleObserver) {
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", "error", err)
		return
	}
	c := s.hub.register(conn)
	defer s.hub.unregister(c)

	// reader: handles pongs and detects close
	go func() {
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	msgType := websocket.TextMessage
	if s.hub.enc == telemetry.MsgPack {
		msgType = websocket.BinaryMessage
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer conn.Close()
	for {
		select {
		case payload, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(msgType, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
