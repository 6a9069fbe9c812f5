package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"gorm.io/gorm"

	"github.com/syncstack/airsync/api"
	"github.com/syncstack/airsync/config"
	"github.com/syncstack/airsync/internal/logger"
	"github.com/syncstack/airsync/internal/repository"
	"github.com/syncstack/airsync/internal/tracing"
	"github.com/syncstack/airsync/services"
)

type Server struct {
	config       *config.Config
	httpServer   *http.Server
	router       *gin.Engine
	services     *services.Services
	repositories *repository.Repositories
	tracerCloser io.Closer
}

func NewServer(cfg *config.Config, db *gorm.DB) (*Server, error) {
	// Initialize logger
	appLogger := logger.NewAppLogger(cfg.Logger)
	appLogger.InitLogger()

	// Initialize tracing
	tracer, closer, err := tracing.NewJaegerTracer(cfg.Tracing, appLogger)
	if err != nil {
		log.Fatalf("Could not initialize jaeger tracer: %s", err.Error())
	}
	opentracing.SetGlobalTracer(tracer)

	// Initialize repositories
	repos := repository.InitRepositories(db)

	// Initialize services
	svcs, err := services.InitServices(cfg, appLogger, repos)
	if err != nil {
		return nil, err
	}

	// Initialize Gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()

	return &Server{
		config:       cfg,
		router:       router,
		services:     svcs,
		repositories: repos,
		tracerCloser: closer,
		httpServer: &http.Server{
			Addr:    ":" + cfg.AppConfig.APIPort,
			Handler: router,
		},
	}, nil
}

func (s *Server) recoverWithJaeger(name string) {
	if r := recover(); r != nil {
		span := opentracing.GlobalTracer().StartSpan(
			fmt.Sprintf("panic.%s", name),
		)
		defer span.Finish()

		ext.Error.Set(span, true)
		span.LogKV(
			"event", "panic",
			"process", name,
			"error", fmt.Sprintf("%v", r),
			"stack", string(debug.Stack()),
		)

		log.Printf("Panic in %s: %v\n%s", name, r, debug.Stack())
	}
}

func (s *Server) wrapGoroutine(name string, fn func()) {
	defer s.recoverWithJaeger(name)
	fn()
}

func (s *Server) Run() error {
	// Root context governs the push loops; cancelling it winds them down.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api.RegisterRoutes(s.router, s.services, s.repositories, s.config.AppConfig.APIKey)

	// Start push loops for accounts already in push mode
	log.Println("Starting push coordinator...")
	s.wrapGoroutine("push_coordinator", func() {
		if err := s.services.Push.Start(ctx); err != nil {
			log.Printf("Push coordinator error: %v", err)
		}
	})

	// Start the scheduled sync timer
	log.Println("Starting sync scheduler...")
	s.services.Scheduler.Start()

	// Start HTTP server in a goroutine with panic recovery
	go s.wrapGoroutine("http_server", func() {
		log.Println("Starting HTTP server")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	})
	log.Println("AirSync is now running. Press Ctrl+C to exit.")

	return s.waitForShutdown(cancel)
}

func (s *Server) waitForShutdown(cancel context.CancelFunc) error {
	defer s.recoverWithJaeger("shutdown")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// Stop timers first, then cancel the push loops and wait for them.
	s.services.Scheduler.Stop()
	cancel()

	stopDone := make(chan struct{})
	go s.wrapGoroutine("push_shutdown", func() {
		defer close(stopDone)
		s.services.Push.Stop()
	})
	select {
	case <-stopDone:
		log.Println("Push loops stopped gracefully")
	case <-time.After(10 * time.Second):
		log.Println("Push loop stop timed out, forcing exit")
	}

	s.services.Network.Close()
	s.services.ClientCache.Close()
	if s.services.Publisher != nil {
		if err := s.services.Publisher.Close(); err != nil {
			log.Printf("Publisher shutdown error: %v", err)
		}
	}
	if s.tracerCloser != nil {
		s.tracerCloser.Close()
	}

	return nil
}
