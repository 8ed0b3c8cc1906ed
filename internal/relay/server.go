package relay

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/healthchat/backend/internal/auth"
	"github.com/healthchat/backend/internal/model/chat"
	"github.com/healthchat/backend/internal/service/ai"
)

// Store is what the relay needs from persistence.
type Store interface {
	FindSessionOwner(ctx context.Context, sessionID string) (string, error)
	ListUserSessions(ctx context.Context, userID string) ([]string, error)
	CreateMessage(ctx context.Context, message chat.MessageCreate) (chat.Message, error)
}

// Options tunes transport limits of the relay.
type Options struct {
	SendBuffer    int
	PongWait      time.Duration
	WriteWait     time.Duration
	MaxFrameBytes int64
	FrameRate     float64
	FrameBurst    int
	CheckOrigin   func(r *http.Request) bool
}

// DefaultOptions returns the limits used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		SendBuffer:    256,
		PongWait:      60 * time.Second,
		WriteWait:     10 * time.Second,
		MaxFrameBytes: 64 << 10,
		FrameRate:     20,
		FrameBurst:    40,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.SendBuffer <= 0 {
		o.SendBuffer = def.SendBuffer
	}
	if o.PongWait <= 0 {
		o.PongWait = def.PongWait
	}
	if o.WriteWait <= 0 {
		o.WriteWait = def.WriteWait
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = def.MaxFrameBytes
	}
	if o.CheckOrigin == nil {
		o.CheckOrigin = func(*http.Request) bool { return true }
	}
	return o
}

// Server is the chat relay. It authenticates WebSocket upgrades, binds
// connections to sessions and fans messages out to session members.
type Server struct {
	store       Store
	verifier    auth.Verifier
	asker       ai.Asker
	metrics     *Metrics
	opts        Options
	registry    *Registry
	broadcaster *Broadcaster
	upgrader    websocket.Upgrader

	mu      sync.Mutex
	conns   map[*Conn]struct{}
	closing bool
}

// NewServer wires a relay. asker may be nil, in which case user turns
// never get a bot reply. metrics may be nil.
func NewServer(store Store, verifier auth.Verifier, asker ai.Asker, metrics *Metrics, opts Options) *Server {
	if asker == nil {
		asker = ai.Disabled{}
	}
	opts = opts.withDefaults()
	registry := NewRegistry()
	return &Server{
		store:       store,
		verifier:    verifier,
		asker:       asker,
		metrics:     metrics,
		opts:        opts,
		registry:    registry,
		broadcaster: NewBroadcaster(registry, metrics),
		upgrader: websocket.Upgrader{
			CheckOrigin:     opts.CheckOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		conns: make(map[*Conn]struct{}),
	}
}

// Registry exposes the membership table.
func (s *Server) Registry() *Registry { return s.registry }

// ServeHTTP authenticates and upgrades one relay connection, then serves
// its frames until the peer goes away.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	if closing {
		http.Error(w, "relay shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[relay] upgrade failed: %v", err)
		return
	}

	conn := newConn(ws, identity.UserID, identity.Email, s.opts)
	if !s.track(conn) {
		ws.Close()
		return
	}
	s.metrics.connOpened()
	log.Printf("[relay] user connected user=%s conn=%d", conn.UserID(), conn.ID())

	go conn.writeLoop(s.opts.WriteWait, s.opts.PongWait*9/10)

	s.broadcaster.Reply(conn, Frame{
		Type: TypeConnectionEstablished,
		Data: map[string]any{
			"message": "Connected to chat server",
			"userId":  conn.UserID(),
		},
	})

	// in-flight persistence and AI calls finish even if the peer leaves
	ctx := context.WithoutCancel(r.Context())
	s.readLoop(ctx, conn)
	s.disconnect(conn)
}

// authenticate is the gate in front of the upgrade. A rejected request
// never becomes a connection.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	token := auth.TokenFromRequest(r)
	if token == "" {
		log.Printf("[relay] connection rejected: token required remote=%s", r.RemoteAddr)
		http.Error(w, "Token required", http.StatusUnauthorized)
		return auth.Identity{}, false
	}
	identity, err := s.verifier.Verify(token)
	if err != nil {
		log.Printf("[relay] connection rejected: %v remote=%s", err, r.RemoteAddr)
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return auth.Identity{}, false
	}
	return identity, true
}

func (s *Server) readLoop(ctx context.Context, conn *Conn) {
	ws := conn.ws
	ws.SetReadLimit(s.opts.MaxFrameBytes)
	ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Printf("[relay] read error user=%s conn=%d: %v", conn.UserID(), conn.ID(), err)
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))

		if !conn.allow() {
			s.replyError(conn, CodeRateLimited, "Too many messages, slow down")
			continue
		}
		s.handleFrame(ctx, conn, raw)
	}
}

// disconnect removes conn from its session, tells the remaining members
// and stops the writer.
func (s *Server) disconnect(conn *Conn) {
	s.untrack(conn)
	if sessionID := s.registry.Leave(conn); sessionID != "" {
		s.broadcaster.Send(sessionID, Frame{
			Type: TypeUserLeft,
			Data: map[string]any{
				"userId":    conn.UserID(),
				"email":     conn.Email(),
				"sessionId": sessionID,
			},
		}, conn)
	}
	conn.close()
	s.metrics.connClosed()
	log.Printf("[relay] user disconnected user=%s conn=%d", conn.UserID(), conn.ID())
}

func (s *Server) track(conn *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn *Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// Close stops accepting upgrades and closes every open connection.
func (s *Server) Close() {
	s.mu.Lock()
	s.closing = true
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
	log.Printf("[relay] closed %d connections", len(conns))
}
