package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/digiclo/apiserver/config"
	"github.com/digiclo/apiserver/internal/generation"
	"github.com/digiclo/apiserver/internal/handlers"
	"github.com/digiclo/apiserver/internal/ingest"
	"github.com/digiclo/apiserver/internal/logging"
	"github.com/digiclo/apiserver/internal/metrics"
	"github.com/digiclo/apiserver/internal/mq"
	"github.com/digiclo/apiserver/internal/services"
	"github.com/digiclo/apiserver/internal/tagger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	// Compose waits on the generation backend, so API requests get more
	// room than a plain CRUD call would need.
	apiTimeout = 150 * time.Second

	limiterPruneSchedule = "@every 10m"
	limiterIdle          = 30 * time.Minute
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	cron       *cron.Cron
	logger     *zap.Logger
	closers    []func() error
}

// New wires every backend configured in cfg and builds the router.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{logger: logger, cron: cron.New()}

	repos, err := OpenRepositories(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, repos.Close)

	objects, closeStorage, err := OpenStorage(ctx, cfg.Storage)
	if err != nil {
		s.close()
		return nil, err
	}
	s.closers = append(s.closers, closeStorage)

	queue, err := mq.Open(ctx, cfg.MQ)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("open mq: %w", err)
	}
	var publisher services.EventPublisher
	if queue != nil {
		publisher = queue
		s.closers = append(s.closers, queue.Close)
	} else {
		logger.Info("no mq driver configured, items will not be auto-tagged")
	}

	var remover ingest.BackgroundRemover
	if cmd := ingest.NewCommandRemover(cfg.Ingest.BackgroundRemoverCmd); cmd != nil {
		remover = cmd
	}
	pipeline := ingest.NewPipeline(objects, remover, ingest.Config{
		ScratchDir: cfg.Ingest.ScratchDir,
		MaxWidth:   cfg.Ingest.MaxWidth,
		MaxPixels:  cfg.Ingest.MaxPixels,
	}, logger.Named("ingest"))

	var generator services.ImageGenerator
	if cfg.Generation.APIKey != "" {
		generator = generation.New(cfg.Generation)
	} else {
		logger.Info("no generation api key configured, outfit image generation disabled")
	}

	var suggester services.Tagger
	if cfg.Tagger.URL != "" {
		suggester = tagger.New(cfg.Tagger)
	}

	userService := services.NewUserService(repos.Users)
	clothingService := services.NewClothingService(repos.Clothing, publisher, suggester, logger.Named("clothing"))
	outfitService := services.NewOutfitService(repos.Outfits, repos.Clothing, generator, objects, cfg.Ingest.OutfitFolder, logger.Named("outfits"))

	authHandler := handlers.NewAuthHandler(userService, pipeline, cfg.Ingest.AvatarFolder, cfg.JWTSecret, logger)
	clothesHandler := handlers.NewClothesHandler(clothingService, logger)
	outfitsHandler := handlers.NewOutfitsHandler(outfitService, logger)
	uploadHandler := handlers.NewUploadHandler(pipeline, cfg.Ingest.ClothesFolder, logger)
	limiter := handlers.NewRateLimiter(cfg.RateLimit, logger)

	router := chi.NewRouter()
	router.Use(baseMiddleware(cfg.TrustProxy, logger)...)
	router.Get("/healthz", handlers.Healthz(map[string]handlers.HealthCheck{
		cfg.Database.Driver: repos.Ping,
	}))
	router.Method(http.MethodGet, "/metrics", metrics.Handler())
	router.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(apiTimeout))
		r.Route("/auth", func(r chi.Router) {
			handlers.AuthRouter(r, authHandler, limiter.Middleware())
		})
		r.Route("/clothes", func(r chi.Router) {
			handlers.ClothesRouter(r, clothesHandler, authHandler.RequireAuth)
		})
		r.Route("/outfits", func(r chi.Router) {
			handlers.OutfitRouter(r, outfitsHandler, authHandler.RequireAuth)
		})
		r.Route("/upload", func(r chi.Router) {
			handlers.UploadRouter(r, uploadHandler)
		})
	})
	s.router = router

	if err := s.schedule(cfg.Ingest, pipeline, limiter); err != nil {
		s.close()
		return nil, err
	}

	port := cfg.ServerPort
	if port == 0 {
		port = 4000
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      apiTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// baseMiddleware is the stack every route shares. Forwarding headers replace
// the peer address only when trustProxy is set.
func baseMiddleware(trustProxy bool, logger *zap.Logger) []func(http.Handler) http.Handler {
	stack := []func(http.Handler) http.Handler{middleware.RequestID}
	if trustProxy {
		stack = append(stack, middleware.RealIP)
	}
	return append(stack,
		middleware.Recoverer,
		logging.RequestLogger(logger),
		metrics.InstrumentHandler,
	)
}

func (s *Server) schedule(cfg config.IngestConfig, pipeline *ingest.Pipeline, limiter *handlers.RateLimiter) error {
	if cfg.SweepInterval > 0 {
		spec := fmt.Sprintf("@every %s", cfg.SweepInterval)
		if _, err := s.cron.AddFunc(spec, func() { pipeline.SweepScratch(cfg.SweepMaxAge) }); err != nil {
			return fmt.Errorf("schedule scratch sweep: %w", err)
		}
	}
	if limiter != nil {
		_, err := s.cron.AddFunc(limiterPruneSchedule, func() {
			if n := limiter.Prune(limiterIdle); n > 0 {
				s.logger.Debug("pruned idle rate limit clients", zap.Int("clients", n))
			}
		})
		if err != nil {
			return fmt.Errorf("schedule limiter prune: %w", err)
		}
	}
	return nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server and blocks until it stops. A server stopped by
// Shutdown returns nil.
func (s *Server) Start() error {
	s.cron.Start()
	s.logger.Info("server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, stops scheduled jobs and releases
// backends.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)

	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}

	s.close()
	return err
}

func (s *Server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn("close backend", zap.Error(err))
		}
	}
	s.closers = nil
}
