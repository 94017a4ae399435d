// Package api is the thin HTTP surface over the task use-cases.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/requestid"

	"chronosend/internal/metrics"
	"chronosend/internal/model"
	"chronosend/internal/service"
	"chronosend/internal/transport"
	logx "chronosend/pkg/logx"
)

// Tasks is the use-case layer the handlers call.
type Tasks interface {
	Create(ctx context.Context, in service.CreateInput) (service.CreateResult, error)
	List(ctx context.Context) ([]model.Task, error)
	Delete(ctx context.Context, ids []string) ([]model.Task, error)
	Update(ctx context.Context, id string, in service.UpdateInput) (model.Task, error)
	Pause(ctx context.Context, id string) (model.Task, error)
	Resume(ctx context.Context, id string) (model.Task, error)
	RunNow(ctx context.Context, id string) error
	Receipts(ctx context.Context, limit int) ([]model.ReceiptView, error)
	Receipt(ctx context.Context, messageID string) (model.Receipt, error)
}

// Gateway is the transport session surface exposed to operators.
type Gateway interface {
	DecodeAck(body []byte) (transport.AckEvent, error)
	Logout(ctx context.Context) error
	Session() *transport.Session
}

type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BodyLimit    int
	// RequestTimeout bounds the context handed to use-cases.
	RequestTimeout time.Duration
}

// AckApplier persists one webhook ack before the request is answered.
type AckApplier interface {
	Apply(ctx context.Context, ev transport.AckEvent) error
}

type Deps struct {
	Tasks   Tasks
	Gateway Gateway          // optional
	Acks    AckApplier       // required when Gateway is set
	Metrics *metrics.Metrics // optional
	// Status returns the scheduler/engine snapshot for GET /api/scheduler.
	Status func() any
	Health func(ctx context.Context) error
}

type Server struct {
	cfg      Config
	deps     Deps
	app      *fiber.App
	validate *validator.Validate
	log      logx.Logger
}

func New(cfg Config, deps Deps, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = 32 << 20
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{cfg: cfg, deps: deps, validate: validator.New(), log: log.With(logx.String("comp", "api"))}
	s.app = fiber.New(fiber.Config{
		AppName:      "chronosend",
		ErrorHandler: s.errorHandler,
		BodyLimit:    cfg.BodyLimit,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})
	s.routes()
	return s
}

func (s *Server) App() *fiber.App { return s.app }

func (s *Server) routes() {
	s.app.Use(recover.New())
	s.app.Use(requestid.New())
	if s.deps.Metrics != nil {
		s.app.Use(s.deps.Metrics.Middleware())
		s.app.Get("/metrics", adaptor.HTTPHandler(s.deps.Metrics.Handler()))
	}
	s.app.Get("/healthz", s.health)

	api := s.app.Group("/api")
	api.Post("/tasks", s.createTask)
	api.Get("/tasks", s.listTasks)
	api.Post("/tasks/delete", s.deleteTasks)
	api.Put("/tasks/:id", s.updateTask)
	api.Post("/tasks/:id/pause", s.pauseTask)
	api.Post("/tasks/:id/resume", s.resumeTask)
	api.Post("/tasks/:id/run", s.runTask)

	api.Get("/receipts", s.listReceipts)
	api.Get("/receipts/:messageId", s.getReceipt)

	api.Post("/transport/acks", s.ackWebhook)
	api.Get("/session", s.session)
	api.Post("/session/logout", s.logout)

	api.Get("/scheduler", s.schedulerStatus)
}

// Listen blocks until the server stops.
func (s *Server) Listen() error {
	s.log.Info("http listening", logx.String("addr", s.cfg.Addr))
	return s.app.Listen(s.cfg.Addr, fiber.ListenConfig{DisableStartupMessage: true})
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
}

func (s *Server) health(c fiber.Ctx) error {
	if s.deps.Health != nil {
		ctx, cancel := s.requestContext()
		defer cancel()
		if err := s.deps.Health(ctx); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unhealthy", "error": err.Error()})
		}
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) errorHandler(c fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(errorBody{Error: fe.Message})
	}
	s.log.Error("unhandled request error", logx.String("path", c.Path()), logx.Err(err))
	return c.Status(fiber.StatusInternalServerError).JSON(errorBody{Error: "internal error"})
}
