// Package server is the composition root: it opens the store, builds the
// services and handlers, mounts the routes and runs the HTTP server.
//
//	config → store (sqlite | postgres), redis (optional), mailer
//	       → PasswordService, TokenService, OTPService, SessionRegistry
//	       → AuthService, AccountService → handlers → /api/v1 routes
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/naqwa/academy/internal/auth"
	"github.com/naqwa/academy/internal/config"
	"github.com/naqwa/academy/internal/handler"
	"github.com/naqwa/academy/internal/jobs"
	"github.com/naqwa/academy/internal/limiter"
	"github.com/naqwa/academy/internal/mail"
	"github.com/naqwa/academy/internal/middleware"
	"github.com/naqwa/academy/internal/model"
	"github.com/naqwa/academy/internal/repository"
	"github.com/naqwa/academy/internal/repository/postgres"
	sqliteRepo "github.com/naqwa/academy/internal/repository/sqlite"
	"github.com/naqwa/academy/internal/service"
)

const cooldownPrefix = "otp-cooldown:"

// Deps are the collaborators that talk to the outside world.
type Deps struct {
	Store  repository.Store
	Mailer service.Mailer
	// Cooldown may be nil.
	Cooldown service.Cooldown
}

type Server struct {
	router    *chi.Mux
	config    *config.AppConfig
	logger    zerolog.Logger
	store     repository.Store
	redis     *redis.Client
	scheduler *jobs.Scheduler
}

// New opens every external resource named in cfg and wires the server.
func New(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (*Server, error) {
	store, err := OpenStore(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	deps := Deps{Store: store, Mailer: newMailer(cfg, logger)}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = limiter.NewRedisClient(ctx, limiter.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		deps.Cooldown = limiter.NewCooldown(rdb, cooldownPrefix)
	} else if cfg.Security.OTPCooldown > 0 {
		logger.Warn().Msg("security.otp_cooldown is set but redis is not configured; cooldown disabled")
	}

	s, err := NewWithDeps(cfg, deps, logger)
	if err != nil {
		if rdb != nil {
			rdb.Close()
		}
		store.Close()
		return nil, err
	}
	s.redis = rdb
	return s, nil
}

// NewWithDeps wires the server around already-open collaborators.
func NewWithDeps(cfg *config.AppConfig, deps Deps, logger zerolog.Logger) (*Server, error) {
	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret: cfg.Security.JWTSecret,
		TTL:    cfg.Security.TokenTTL,
		Issuer: cfg.Security.JWTIssuer,
	})
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}
	passwords := auth.NewPasswordService(cfg.Security.BcryptCost)

	otps := service.NewOTPService(deps.Store, deps.Mailer, deps.Cooldown, service.OTPConfig{
		TTL:      cfg.Security.OTPTTL,
		Cooldown: cfg.Security.OTPCooldown,
	}, logger)
	sessions := service.NewSessionRegistry(deps.Store, logger)

	authService := service.NewAuthService(service.AuthDeps{
		Users:     deps.Store,
		Admins:    deps.Store,
		OTPs:      otps,
		Sessions:  sessions,
		Tokens:    tokens,
		Passwords: passwords,
		Logger:    logger,
	})
	accountService := service.NewAccountService(deps.Store, deps.Store, sessions, logger)

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		store:  deps.Store,
		scheduler: jobs.NewScheduler(otps, jobs.Config{
			OTPPurgeSpec:      cfg.Jobs.OTPPurgeSpec,
			OTPPurgeRetention: cfg.Jobs.OTPPurgeRetention,
		}, logger),
	}

	s.setupRoutes(
		handler.NewAuthHandler(authService, logger),
		handler.NewAccountHandler(accountService, logger),
		tokens,
	)
	return s, nil
}

// setupRoutes mounts everything under /api/v1.
//
// Middleware order: RequestID first so the access log can print it, then
// RealIP, the access log, Recoverer and the per-request timeout.
func (s *Server) setupRoutes(authHandler *handler.AuthHandler, accountHandler *handler.AccountHandler, tokens *auth.TokenService) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	if s.config.HTTP.RequestTimeout > 0 {
		s.router.Use(chimiddleware.Timeout(s.config.HTTP.RequestTimeout))
	}

	s.router.NotFound(handler.HandleNotFound)
	s.router.MethodNotAllowed(handler.HandleMethodNotAllowed)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/login", authHandler.HandleLogin)
		r.Post("/register", authHandler.HandleRegister)
		r.Post("/send-otp", authHandler.HandleSendOTP)
		r.Post("/verify-otp", authHandler.HandleVerifyOTP)
		r.Post("/forgot-password", authHandler.HandleForgotPassword)
		r.Post("/admin/login", authHandler.HandleAdminLogin)
		r.Get("/site-status", accountHandler.HandleSiteStatus)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens, s.logger))

			r.Get("/verify", authHandler.HandleVerify)
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(model.RoleUser))
				r.Get("/student/profile", accountHandler.HandleProfile)
				r.Patch("/student/profile", accountHandler.HandleUpdateProfile)
			})

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(model.RoleAdmin))
				r.Get("/admin/site-status", accountHandler.HandleAdminSiteStatus)
				r.Put("/admin/site-status", accountHandler.HandleSetSiteStatus)
				r.Get("/admin/users", accountHandler.HandleListUsers)
				r.Get("/admin/users/{id}", accountHandler.HandleGetUser)
				r.Put("/admin/users/{id}", accountHandler.HandleUpdateUser)
				r.Delete("/admin/users/{id}", accountHandler.HandleDeleteUser)
				r.Get("/admin/users/{id}/sessions", accountHandler.HandleUserSessions)
			})
		})
	})
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the scheduler and the HTTP server until SIGINT or SIGTERM,
// then drains in-flight requests and releases every resource.
func (s *Server) Start() error {
	defer s.Close()

	if err := s.scheduler.Start(); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer func() { <-s.scheduler.Stop().Done() }()

	addr := net.JoinHostPort(s.config.HTTP.Host, strconv.Itoa(s.config.HTTP.Port))
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.HTTP.ReadTimeout,
		WriteTimeout: s.config.HTTP.WriteTimeout,
		IdleTimeout:  s.config.HTTP.IdleTimeout,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info().
			Str("addr", addr).
			Str("database", s.config.Database.Driver).
			Bool("redis", s.redis != nil).
			Msg("server starting")
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")

		ctx, cancel := context.WithTimeout(context.Background(), s.config.HTTP.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info().Msg("server stopped gracefully")
	}
	return nil
}

// Close releases the store and the redis client.
func (s *Server) Close() error {
	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return errors.Join(errs...)
}

// OpenStore opens the configured relational store and applies migrations.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig) (repository.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		store, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.DSN,
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.ConnMaxLifetime,
			Timeout:         cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverSQLite:
		if cfg.DSN != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		db, err := sqliteRepo.New(cfg.DSN, sqliteRepo.WithTimeout(cfg.Timeout))
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// newMailer uses SMTP when a host is configured and a logging stand-in
// otherwise. config.Validate already refuses the latter in production.
func newMailer(cfg *config.AppConfig, logger zerolog.Logger) service.Mailer {
	if cfg.SMTP.Host == "" {
		return mail.NewLogMailer(logger)
	}
	return mail.NewSMTPMailer(mail.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	}, logger)
}
