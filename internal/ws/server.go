package ws

import (
	"context"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fathima-sithara/travel-chat/internal/chat"
	"github.com/fathima-sithara/travel-chat/internal/metrics"
)

type TokenValidator interface {
	Validate(token string) (string, error)
}

// Server runs one chat session per websocket.
type Server struct {
	ctx       context.Context
	svc       chat.Services
	jv        TokenValidator
	log       *zap.SugaredLogger
	readLimit int64

	mu    sync.Mutex
	conns map[string]*Connection
}

func NewServer(ctx context.Context, svc chat.Services, jv TokenValidator, readLimit int64, log *zap.SugaredLogger) *Server {
	if readLimit <= 0 {
		readLimit = 8 << 20
	}
	return &Server{ctx: ctx, svc: svc, jv: jv, log: log, readLimit: readLimit, conns: make(map[string]*Connection)}
}

// Upgrade authenticates the `token` query parameter before the handshake.
func (s *Server) Upgrade() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"error": "websocket upgrade required"})
		}
		token := c.Query("token")
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing token"})
		}
		uid, err := s.jv.Validate(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
		}
		c.Locals("user_id", uid)
		return c.Next()
	}
}

func (s *Server) Handle() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		uid, _ := conn.Locals("user_id").(string)
		if uid == "" {
			_ = conn.Close()
			return
		}

		c := newConnection(uuid.NewString(), conn, s.log.With("user", uid))
		c.session = chat.NewSession(s.ctx, uid, s.svc, c.emit, s.log)
		s.register(c)
		defer s.unregister(c)

		if err := c.session.Start(); err != nil {
			s.log.Warnw("session start", "user", uid, "err", err)
			return
		}
		go c.writePump()
		c.readPump(s.ctx, s.readLimit)
	})
}

func (s *Server) register(c *Connection) {
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
	metrics.Connections.Inc()
}

func (s *Server) unregister(c *Connection) {
	c.stop()
	c.session.Shutdown()
	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
	metrics.Connections.Dec()
}

// Close ends every session; their sockets close as the pumps exit.
func (s *Server) Close() {
	s.mu.Lock()
	conns := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.stop()
		_ = c.ws.Close()
	}
}

func (s *Server) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
