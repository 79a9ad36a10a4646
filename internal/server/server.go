package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/accountpool/apiserver/config"
	"github.com/accountpool/apiserver/internal/db"
	"github.com/accountpool/apiserver/internal/handlers"
	"github.com/accountpool/apiserver/internal/jobs"
	"github.com/accountpool/apiserver/internal/mq"
	"github.com/accountpool/apiserver/internal/services"
	"github.com/accountpool/apiserver/internal/storage"
	"github.com/accountpool/apiserver/internal/store"
)

// Server wires the pool API together: database, broker, storage, scheduler
// and the HTTP surface.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	broker     mq.Backend
	scheduler  *cron.Cron
	log        *zap.Logger
}

// New constructs a Server from config. Optional backends (broker, archive
// storage, scheduler) stay nil when unconfigured; everything else is
// required.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*Server, error) {
	jwtSecret := strings.TrimSpace(cfg.JWTSecret)
	if jwtSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	broker, err := mq.Connect(ctx, cfg.MQ)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	archiveBackend, err := storage.Connect(ctx, cfg.Storage)
	if err != nil {
		closeAll(dbConn, broker)
		return nil, err
	}
	if archiveBackend != nil {
		if err := archiveBackend.EnsureBucket(ctx); err != nil {
			closeAll(dbConn, broker)
			return nil, err
		}
	}

	accountStore := store.NewAccountStore(dbConn, log)
	userStore := store.NewUserStore(dbConn, log)
	deviceStore := store.NewDeviceStore(dbConn, log)
	sessionStore := store.NewSessionStore(dbConn, log)

	events := services.NewEventPublisher(broker, cfg.MQ.EventsChannel, log)
	accountService := services.NewAccountService(dbConn, accountStore, events, log)
	userService := services.NewUserService(userStore, log)
	deviceService := services.NewDeviceService(dbConn, deviceStore, accountStore, events, log)
	sessionService := services.NewSessionService(dbConn, sessionStore, accountStore, log)
	archiveService := services.NewArchiveService(archiveBackend, accountStore, log)

	authMiddleware := handlers.RequireAuth(jwtSecret)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, userService, jwtSecret)
	})
	router.Route("/accounts", func(r chi.Router) {
		handlers.AccountRouter(r, accountService, userService, archiveService, authMiddleware)
	})
	router.Route("/users", func(r chi.Router) {
		handlers.UserRouter(r, userService, authMiddleware)
	})
	router.Route("/devices", func(r chi.Router) {
		handlers.DeviceRouter(r, deviceService, userService, authMiddleware)
	})
	router.Route("/sessions", func(r chi.Router) {
		handlers.SessionRouter(r, sessionService, userService, authMiddleware)
	})
	router.Route("/ext", func(r chi.Router) {
		handlers.ExtRouter(r, userService, deviceService, accountService, archiveService)
	})

	var scheduler *cron.Cron
	if cfg.Jobs.Enabled {
		scheduler = cron.New()
		err := jobs.Register(scheduler, log, []jobs.Job{
			jobs.CloseStaleSessions(sessionService, cfg.Jobs),
		})
		if err != nil {
			closeAll(dbConn, broker)
			return nil, err
		}
	}

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		broker:     broker,
		scheduler:  scheduler,
		log:        log,
	}, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the scheduler and the HTTP server.
func (s *Server) Start() error {
	if s.scheduler != nil {
		s.scheduler.Start()
	}
	s.log.Info("server listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown attempts a graceful shutdown.
func (s *Server) Shutdown() error {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	closeAll(s.db, s.broker)
	return s.httpServer.Close()
}

func closeAll(dbConn *sql.DB, broker mq.Backend) {
	if broker != nil {
		_ = broker.Close()
	}
	if dbConn != nil {
		_ = dbConn.Close()
	}
}
