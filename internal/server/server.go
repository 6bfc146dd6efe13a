package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"harmonyshield/internal/admin"
	"harmonyshield/internal/audit"
	"harmonyshield/internal/auth"
	"harmonyshield/internal/config"
	"harmonyshield/internal/dashboard"
	"harmonyshield/internal/database"
	"harmonyshield/internal/handlers"
	"harmonyshield/internal/jobs"
	"harmonyshield/internal/metrics"
	"harmonyshield/internal/models"
	"harmonyshield/internal/news"
	"harmonyshield/internal/realtime"
	"harmonyshield/internal/recovery"
	"harmonyshield/internal/remote"
	"harmonyshield/internal/repository"
	"harmonyshield/internal/scam"
	"harmonyshield/internal/storage"
)

// Server owns the HTTP API, the gRPC health endpoint and the background workers
type Server struct {
	config *config.Config
	logger *zap.Logger
	db     *database.Database
	redis  *redis.Client

	hub       *realtime.Hub
	outbox    *recovery.Outbox
	scheduler *jobs.Scheduler

	router       *gin.Engine
	httpServer   *http.Server
	grpcServer   *grpc.Server
	healthServer *health.Server
}

// New creates a server. rdb may be nil, which keeps realtime fan-out and the
// stats cache local to this instance.
func New(cfg *config.Config, logger *zap.Logger, db *database.Database, rdb *redis.Client) *Server {
	return &Server{
		config: cfg,
		logger: logger.Named("server"),
		db:     db,
		redis:  rdb,
	}
}

// Initialize wires repositories, services and routes
func (s *Server) Initialize(ctx context.Context) error {
	s.logger.Info("Initializing Harmony Shield server")
	gdb := s.db.DB()
	cfg := s.config

	profiles := repository.NewProfileRepository(gdb)
	recoveries := repository.NewRecoveryRepository(gdb)
	outboxRepo := repository.NewOutboxRepository(gdb)
	notifications := repository.NewNotificationRepository(gdb)
	audits := repository.NewAuditRepository(gdb)

	edge := remote.NewClient(cfg.Remote, s.logger)
	s.hub = realtime.NewHub(cfg.Server.WebSocket, s.redis, s.logger)
	trail := audit.NewTrail(audits, edge, s.logger)

	authSvc := auth.NewService(profiles, cfg.Security.JWTSecret, cfg.Security.TokenTTL(), cfg.Security.BcryptCost, s.logger)
	s.outbox = recovery.NewOutbox(outboxRepo, recoveries, edge, notifications, cfg.Recovery, s.logger)
	recoverySvc := recovery.NewService(recoveries, trail, s.hub, s.outbox, cfg.Recovery, s.logger)
	scamSvc := scam.NewService(repository.NewStore[models.ScamReport](gdb), edge, s.hub, s.logger)
	newsSvc := news.NewService(repository.NewNewsRepository(gdb), edge, s.hub, s.logger)

	backend, err := storage.NewService(ctx, cfg.Storage)
	if err != nil {
		return errors.Wrap(err, "failed to initialize evidence storage")
	}
	evidence := storage.NewEvidence(backend, cfg.Storage.MaxUploadBytes)

	var cache dashboard.Cache = dashboard.NewMemoryCache()
	if s.redis != nil {
		cache = dashboard.NewRedisCache(s.redis)
	}
	stats := dashboard.NewService(gdb, cache, time.Duration(cfg.Dashboard.CacheTTL)*time.Second, s.logger)
	stats.WatchChanges(s.hub)
	healthChecker := dashboard.NewHealthChecker(s.db, s.redis, s.hub, outboxRepo)

	if cfg.Jobs.Enabled {
		s.scheduler, err = jobs.NewDefault(cfg.Jobs, newsSvc, s.outbox, s.logger)
		if err != nil {
			return errors.Wrap(err, "failed to initialize scheduler")
		}
	}

	routes := &handlers.Routes{
		Auth:      authSvc,
		AuthH:     handlers.NewAuthHandler(authSvc, s.logger),
		Recovery:  handlers.NewRecoveryHandler(recoverySvc, evidence, s.logger),
		User:      handlers.NewUserHandler(notifications, scamSvc, newsSvc, s.logger),
		Dashboard: handlers.NewDashboardHandler(stats, healthChecker, s.logger),
		Admin:     admin.NewResources(gdb, trail, s.hub, s.logger),
		Realtime:  s.hub.HandleWebSocket,
		Logger:    s.logger,
	}
	if s.scheduler != nil {
		routes.Jobs = s.scheduler
	}

	s.initHTTPServer(routes)
	s.initGRPCServer()

	s.logger.Info("Server initialized successfully")
	return nil
}

func (s *Server) initHTTPServer(routes *handlers.Routes) {
	if s.config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(RequestID())
	s.router.Use(Logging(s.logger.Named("http")))
	if s.config.Metrics.Enabled {
		s.router.Use(metrics.Middleware())
		s.router.GET(s.config.Metrics.Endpoint, gin.WrapH(promhttp.Handler()))
	}

	routes.Register(s.router)

	c := cors.New(cors.Options{
		AllowedOrigins:   s.config.Server.WebSocket.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
	})

	httpCfg := s.config.Server.HTTP
	s.httpServer = &http.Server{
		Addr:           fmt.Sprintf(":%d", httpCfg.Port),
		Handler:        c.Handler(s.router),
		ReadTimeout:    time.Duration(httpCfg.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(httpCfg.WriteTimeout) * time.Second,
		IdleTimeout:    time.Duration(httpCfg.IdleTimeout) * time.Second,
		MaxHeaderBytes: httpCfg.MaxHeaderBytes,
	}
}

func (s *Server) initGRPCServer() {
	if !s.config.Server.GRPC.Enabled {
		return
	}
	s.healthServer = health.NewServer()
	s.grpcServer = grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(s.grpcServer, s.healthServer)
	if s.config.Debug {
		reflection.Register(s.grpcServer)
	}
}

// Start runs every component until ctx is cancelled, then shuts down
func (s *Server) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		s.outbox.Run(gctx)
		return nil
	})
	if s.scheduler != nil {
		s.scheduler.Start()
	}

	if s.grpcServer != nil {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Server.GRPC.Port))
		if err != nil {
			return errors.Wrap(err, "failed to listen for gRPC")
		}
		g.Go(func() error {
			s.logger.Info("gRPC health server listening", zap.String("address", lis.Addr().String()))
			if err := s.grpcServer.Serve(lis); err != nil {
				return errors.Wrap(err, "gRPC server failed")
			}
			return nil
		})
		s.healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	}

	g.Go(func() error {
		s.logger.Info("HTTP server listening", zap.String("address", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "HTTP server failed")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.shutdown()
		return nil
	})

	return g.Wait()
}

func (s *Server) shutdown() {
	s.logger.Info("Shutting down Harmony Shield server")

	if s.healthServer != nil {
		s.healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
	}

	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
	if s.scheduler != nil {
		s.scheduler.Stop()
	}

	s.logger.Info("Server shutdown completed")
}

// Handler exposes the HTTP handler chain
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
