// Package bridge exposes a running hub to a local UI process over HTTP and
// a websocket event stream.
package bridge

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"
	"github.com/noteduco342/om-realtime-hub/internal/httpx"
	"github.com/noteduco342/om-realtime-hub/internal/hub"
	"github.com/noteduco342/om-realtime-hub/internal/metrics"
	"github.com/noteduco342/om-realtime-hub/internal/middleware"
	"github.com/noteduco342/om-realtime-hub/internal/models"
	"go.uber.org/zap"
)

// Hub is the part of *hub.Hub the bridge serves.
type Hub interface {
	Session() models.Session
	Events() *hub.Events
	Snapshot(ctx context.Context) (hub.Snapshot, error)
	Conversation(ctx context.Context, key models.ConversationKey) ([]models.Message, error)
	ActiveTypers(ctx context.Context, key models.ConversationKey) ([]models.TypingState, error)
	Activate(ctx context.Context, key models.ConversationKey) error
	Deactivate(ctx context.Context, key models.ConversationKey) error
	MarkRead(ctx context.Context, key models.ConversationKey) error
	SendMessage(ctx context.Context, recipientID string, rt models.RecipientType, content string) (models.Message, error)
	SendTyping(ctx context.Context, recipientID string, rt models.RecipientType, typing bool) error
	UnreadCounts(ctx context.Context) (map[models.ConversationKey]int, error)
	UnreadTotal(ctx context.Context) (int, error)
	Notifications(ctx context.Context) ([]models.Notification, error)
	NotificationUnreadCount(ctx context.Context) (int, error)
	MarkNotificationRead(ctx context.Context, id string) (bool, error)
	MarkAllNotificationsRead(ctx context.Context) (int, error)
	Presence(ctx context.Context, userID string) (models.PresenceState, error)
	Groups(ctx context.Context) ([]models.Group, error)
	CreateGroup(ctx context.Context, name string, memberIDs []string) (models.Group, error)
}

type Config struct {
	AllowedOrigins []string
	// RequestTimeout bounds how long a handler waits on the hub.
	RequestTimeout time.Duration
	// RateLimit is the number of intents per minute; zero disables it.
	RateLimit int
	// StreamBuffer is the per-category event buffer of a /ws subscriber.
	StreamBuffer int
	AccessLog    bool
}

type Server struct {
	app      *fiber.App
	hub      Hub
	conf     Config
	log      *zap.SugaredLogger
	metrics  *metrics.Metrics
	validate *validator.Validate
}

func New(h Hub, conf Config, log *zap.SugaredLogger, m *metrics.Metrics) *Server {
	if conf.RequestTimeout <= 0 {
		conf.RequestTimeout = 10 * time.Second
	}
	if conf.StreamBuffer <= 0 {
		conf.StreamBuffer = 64
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		app: fiber.New(fiber.Config{
			AppName:               "OM Realtime Hub",
			BodyLimit:             64 * 1024,
			DisableStartupMessage: true,
		}),
		hub:      h,
		conf:     conf,
		log:      log,
		metrics:  m,
		validate: validator.New(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	app := s.app
	app.Use(requestid.New())
	if s.conf.AccessLog {
		app.Use(logger.New())
	}
	if len(s.conf.AllowedOrigins) > 0 {
		app.Use(cors.New(cors.Config{
			AllowOrigins: strings.Join(s.conf.AllowedOrigins, ", "),
			AllowHeaders: "Origin, Content-Type, Accept, Authorization",
			AllowMethods: "GET, POST, OPTIONS",
		}))
	}

	app.Get("/health", s.health)
	app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))

	session := s.hub.Session()
	api := app.Group("/api", middleware.OriginAllowed(s.conf.AllowedOrigins), middleware.BridgeAuth(session))
	api.Get("/state", s.state)
	api.Get("/unread", s.unread)
	api.Get("/presence/:userId", s.presence)

	api.Get("/conversations/:key/messages", s.messages)
	api.Get("/conversations/:key/typing", s.typers)
	api.Post("/conversations/:key/activate", s.activate)
	api.Post("/conversations/:key/deactivate", s.deactivate)
	api.Post("/conversations/:key/read", s.markRead)

	limit := s.intentLimiter()
	api.Post("/messages", limit, s.sendMessage)
	api.Post("/typing", limit, s.sendTyping)

	api.Get("/notifications", s.notifications)
	api.Post("/notifications/read-all", s.markAllNotificationsRead)
	api.Post("/notifications/:id/read", s.markNotificationRead)

	api.Get("/groups", s.groups)
	api.Post("/groups", s.createGroup)

	app.Use(
		"/ws",
		middleware.OriginAllowed(s.conf.AllowedOrigins),
		middleware.BridgeAuth(session),
		func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		},
	)
	app.Get("/ws", websocket.New(s.stream))
}

// App returns the underlying fiber app, for tests.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen(addr string) error {
	s.log.Infof("Bridge listening on %s", addr)
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) intentLimiter() fiber.Handler {
	if s.conf.RateLimit <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return limiter.New(limiter.Config{
		Max:        s.conf.RateLimit,
		Expiration: time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			return httpx.Error(c, fiber.StatusTooManyRequests, "rate_limited", "Too many requests")
		},
	})
}
