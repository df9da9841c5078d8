package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/fathima-sithara/travel-chat/internal/auth"
	"github.com/fathima-sithara/travel-chat/internal/chat"
	"github.com/fathima-sithara/travel-chat/internal/domain"
	"github.com/fathima-sithara/travel-chat/internal/media"
	"github.com/fathima-sithara/travel-chat/internal/metrics"
	"github.com/fathima-sithara/travel-chat/internal/ws"
)

type Server struct {
	svc chat.Services
	log *zap.SugaredLogger
}

// Options are the optional pieces of the HTTP surface.
type Options struct {
	WS          *ws.Server
	Limiter     *RateLimiter
	BodyLimit   int
	AccessLog   bool
	ServiceName string
	// CORSOrigins is a comma separated allow list; empty disables CORS.
	CORSOrigins string
}

func NewServer(svc chat.Services, jv TokenValidator, opts Options, log *zap.SugaredLogger) *fiber.App {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	app := fiber.New(fiber.Config{
		AppName:               opts.ServiceName,
		BodyLimit:             opts.BodyLimit,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(log),
	})
	s := &Server{svc: svc, log: log}

	app.Use(recover.New())
	if opts.AccessLog {
		app.Use(logger.New())
	}
	if opts.CORSOrigins != "" {
		app.Use(cors.New(cors.Config{
			AllowOrigins: opts.CORSOrigins,
			AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		}))
	}

	app.Get("/v1/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	if opts.WS != nil {
		app.Get("/v1/ws", opts.WS.Upgrade(), opts.WS.Handle())
	}

	v1 := app.Group("/v1", JWTAuthMiddleware(jv))
	if opts.Limiter != nil {
		v1.Use(opts.Limiter.Handler())
	}
	v1.Get("/conversations", s.listConversations)
	v1.Post("/conversations", s.openConversation)
	v1.Get("/conversations/:id/messages", s.listMessages)
	v1.Post("/conversations/:id/messages", s.sendMessage)
	v1.Post("/conversations/:id/read", s.markRead)

	return app
}

// statusOf maps service errors onto HTTP statuses.
func statusOf(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case domain.IsValidation(err),
		errors.Is(err, domain.ErrInvalidParticipants),
		errors.Is(err, media.ErrTooLarge):
		return fiber.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidToken):
		return fiber.StatusUnauthorized
	case errors.Is(err, domain.ErrNotParticipant):
		return fiber.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound
	}
	return fiber.StatusInternalServerError
}

func errorHandler(log *zap.SugaredLogger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := statusOf(err)
		msg := err.Error()
		if code == fiber.StatusInternalServerError {
			log.Errorw("request failed", "method", c.Method(), "path", c.Path(), "err", err)
			msg = "internal error"
		}
		return c.Status(code).JSON(fiber.Map{"error": msg})
	}
}
