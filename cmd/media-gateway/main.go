package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/edgecomet/mediacache/internal/common/config"
	"github.com/edgecomet/mediacache/internal/common/configtypes"
	"github.com/edgecomet/mediacache/internal/common/logger"
	"github.com/edgecomet/mediacache/internal/common/metricsserver"
	"github.com/edgecomet/mediacache/internal/common/redis"
	"github.com/edgecomet/mediacache/internal/gateway/cache"
	"github.com/edgecomet/mediacache/internal/gateway/cleanup"
	"github.com/edgecomet/mediacache/internal/gateway/clientip"
	"github.com/edgecomet/mediacache/internal/gateway/coordinator"
	"github.com/edgecomet/mediacache/internal/gateway/events"
	"github.com/edgecomet/mediacache/internal/gateway/metrics"
	"github.com/edgecomet/mediacache/internal/gateway/orchestrator"
	"github.com/edgecomet/mediacache/internal/gateway/ratelimit"
	"github.com/edgecomet/mediacache/internal/gateway/server"
	"github.com/edgecomet/mediacache/internal/gateway/staging"
	gwtls "github.com/edgecomet/mediacache/internal/gateway/tls"
	"github.com/edgecomet/mediacache/internal/render/engine"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("c", "configs/media-gateway.yaml", "path to configuration file")
	testMode := flag.Bool("t", false, "test configuration and exit")
	flag.Parse()

	if *testMode {
		os.Exit(runConfigTest(*configPath))
	}

	initialLogger, err := logger.NewDefaultLogger()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	initialLogger.Info("Starting Media Gateway", zap.String("config_path", *configPath))

	cfg, err := config.LoadGatewayConfig(*configPath, initialLogger.Logger)
	if err != nil {
		initialLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	dynamicLogger, err := logger.NewLoggerWithStartupOverride(cfg.Log)
	if err != nil {
		initialLogger.Fatal("Failed to create configured logger", zap.Error(err))
	}
	defer dynamicLogger.Sync()

	gwLogger := dynamicLogger.Logger

	// Redis is optional: shared rate limit backend and readiness check
	var redisClient *redis.Client
	if cfg.Redis != nil {
		redisClient, err = redis.NewClient(cfg.Redis, gwLogger)
		if err != nil {
			gwLogger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
	}

	metricsCollector := metrics.NewCollector(cfg.Metrics.Namespace, gwLogger)
	metricsServer, err := metricsserver.Start(cfg.Metrics, metricsCollector, gwLogger)
	if err != nil {
		gwLogger.Fatal("Failed to start metrics server", zap.Error(err))
	}

	store, err := cache.New(cfg.Storage.CachePath, cfg.Storage.Compression, gwLogger)
	if err != nil {
		gwLogger.Fatal("Failed to open content cache", zap.Error(err))
	}

	stagingArea, err := staging.New(cfg.Storage.UploadsPath, cfg.Storage.StagingPath, gwLogger)
	if err != nil {
		gwLogger.Fatal("Failed to create staging area", zap.Error(err))
	}

	slots, err := coordinator.ResolveSlots(cfg.Render.Slots)
	if err != nil {
		gwLogger.Fatal("Failed to resolve render slots", zap.Error(err))
	}

	coord, err := coordinator.New(coordinator.Config{
		Slots:         slots,
		RenderTimeout: cfg.Render.Timeout.ToDuration(),
	}, store, metricsCollector, gwLogger)
	if err != nil {
		gwLogger.Fatal("Failed to create render coordinator", zap.Error(err))
	}
	gwLogger.Info("Render coordinator ready",
		zap.Int("slots", slots),
		zap.Duration("render_timeout", cfg.Render.Timeout.ToDuration()))

	bundle, err := engine.BuildBundle(context.Background(), cfg.Render.Bundle, gwLogger)
	if err != nil {
		gwLogger.Fatal("Failed to build composition bundle", zap.Error(err))
	}

	renderer, resolver, closeEngine := newEngine(cfg.Render, gwLogger)
	defer closeEngine()

	orch := orchestrator.New(
		orchestrator.Config{VideoCodec: cfg.Render.VideoCodec},
		coord,
		stagingArea,
		renderer,
		resolver,
		bundle,
		metricsCollector,
	)

	limiter, err := ratelimit.New(cfg.RateLimit, redisClient, gwLogger)
	if err != nil {
		gwLogger.Fatal("Failed to create rate limiter", zap.Error(err))
	}

	eventEmitter, err := events.NewEmitter(cfg.EventLogging, gwLogger)
	if err != nil {
		gwLogger.Fatal("Failed to create event emitter", zap.Error(err))
	}

	srv := server.NewServer(
		cfg,
		orch,
		stagingArea,
		limiter,
		clientip.NewExtractor(cfg.ClientIP),
		metricsCollector,
		eventEmitter,
		redisClient,
		gwLogger,
	)

	var cleanupWorker *cleanup.Worker
	if cl := cfg.Storage.Cleanup; cl != nil && cl.Enabled {
		cleanupWorker = cleanup.NewWorker(
			[]cleanup.Area{
				{Name: "staging", Root: cfg.Storage.StagingPath, InUse: stagingArea.InUse},
				{Name: "uploads", Root: cfg.Storage.UploadsPath, InUse: stagingArea.InUse},
				{Name: "cache", Root: cfg.Storage.CachePath, Match: cleanup.TempFilesOnly},
			},
			cl.Interval.ToDuration(),
			cl.MaxAge.ToDuration(),
			store,
			metricsCollector,
			gwLogger,
		)
		cleanupWorker.Start()
	}

	// Bind TLS before serving anything so a bad certificate fails fast
	var tlsListener net.Listener
	if cfg.Server.TLS.Enabled {
		tlsListener, err = gwtls.Listen(cfg.Server.TLS, filepath.Dir(*configPath))
		if err != nil {
			gwLogger.Fatal("Failed to create TLS listener", zap.Error(err))
		}
	}

	serverErrors := make(chan error, 2)
	httpLifecycle := &serverLifecycle{
		server:  newFastHTTPServer(srv.HandleRequest, cfg.Server),
		name:    "HTTP",
		address: cfg.Server.Listen,
		logger:  gwLogger,
	}
	httpLifecycle.StartWithErrorChan(serverErrors)

	var httpsLifecycle *serverLifecycle
	if tlsListener != nil {
		httpsLifecycle = &serverLifecycle{
			server:   newFastHTTPServer(srv.HandleRequest, cfg.Server),
			listener: tlsListener,
			name:     "HTTPS",
			address:  cfg.Server.TLS.Listen,
			logger:   gwLogger,
		}
		httpsLifecycle.StartWithErrorChan(serverErrors)
	}

	// Wait briefly for the listener to come up and check for immediate failures
	time.Sleep(100 * time.Millisecond)
	select {
	case err := <-serverErrors:
		gwLogger.Fatal("Server failed to start", zap.Error(err))
	default:
	}

	if httpsLifecycle != nil {
		gwLogger.Info("Media Gateway started",
			zap.String("http_addr", cfg.Server.Listen),
			zap.String("https_addr", cfg.Server.TLS.Listen))
	} else {
		gwLogger.Info("Media Gateway started", zap.String("http_addr", cfg.Server.Listen))
	}

	dynamicLogger.SwitchToConfiguredLevel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		dynamicLogger.EnsureInfoLevelForShutdown()
		gwLogger.Info("Shutting down Media Gateway...")
	case err := <-serverErrors:
		dynamicLogger.EnsureInfoLevelForShutdown()
		gwLogger.Error("Server failed, initiating shutdown", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	srv.BeginShutdown()
	httpLifecycle.Shutdown(shutdownCtx)
	if httpsLifecycle != nil {
		httpsLifecycle.Shutdown(shutdownCtx)
	}

	// Renders still running finish and land in the cache unless the deadline hits
	if err := coord.Shutdown(shutdownCtx); err != nil {
		gwLogger.Warn("Render coordinator shutdown incomplete", zap.Error(err))
	}
	gwLogger.Info("Render coordinator shutdown complete")

	if cleanupWorker != nil {
		cleanupWorker.Shutdown()
	}

	if metricsServer != nil {
		gwLogger.Info("Shutting down metrics server")
		if err := metricsServer.ShutdownWithContext(shutdownCtx); err != nil {
			gwLogger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	if err := srv.Shutdown(); err != nil {
		gwLogger.Error("Failed to close event emitter", zap.Error(err))
	}

	gwLogger.Info("Media Gateway stopped")
}

// newEngine builds the renderer and composition resolver from config.
// The returned func releases engine resources.
func newEngine(cfg configtypes.RenderConfig, logger *zap.Logger) (engine.Renderer, engine.CompositionResolver, func()) {
	cli := engine.NewCLI(cfg.CLI, logger)

	var still engine.Renderer = cli
	closeFn := func() {}
	if cfg.StillEngine == configtypes.EngineChrome {
		chrome := engine.NewChromeStill(cfg.Chrome, logger)
		still = chrome
		closeFn = chrome.Close
	}

	var resolver engine.CompositionResolver = cli
	if len(cfg.Compositions) > 0 {
		resolver = engine.NewStaticResolver(cfg.Compositions)
	}

	logger.Info("Render engine configured",
		zap.String("still_engine", cfg.StillEngine),
		zap.String("video_engine", cfg.VideoEngine),
		zap.Int("static_compositions", len(cfg.Compositions)))

	return &engine.Mux{Still: still, Video: cli}, resolver, closeFn
}

const serverName = "MediaGateway/1.0"

func newFastHTTPServer(handler fasthttp.RequestHandler, cfg configtypes.ServerConfig) *fasthttp.Server {
	timeout := cfg.Timeout.ToDuration()
	return &fasthttp.Server{
		Handler:               handler,
		Name:                  serverName,
		ReadTimeout:           timeout,
		WriteTimeout:          timeout,
		IdleTimeout:           timeout,
		MaxRequestBodySize:    cfg.MaxRequestBodySize,
		NoDefaultServerHeader: true,
		NoDefaultDate:         true,
	}
}

type serverLifecycle struct {
	server   *fasthttp.Server
	listener net.Listener // pre-bound listener; nil means ListenAndServe on address
	name     string
	address  string
	logger   *zap.Logger
}

func (s *serverLifecycle) StartWithErrorChan(errChan chan<- error) {
	go func() {
		var err error
		if s.listener != nil {
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe(s.address)
		}
		if err != nil {
			s.logger.Error("Server error", zap.String("name", s.name), zap.Error(err))
			if errChan != nil {
				errChan <- fmt.Errorf("%s server failed: %w", s.name, err)
			}
		}
	}()
	s.logger.Info("Server started", zap.String("name", s.name), zap.String("address", s.address))
}

func (s *serverLifecycle) Shutdown(ctx context.Context) {
	s.logger.Info("Shutting down server", zap.String("name", s.name))
	if err := s.server.ShutdownWithContext(ctx); err != nil {
		s.logger.Error("Server shutdown error", zap.String("name", s.name), zap.Error(err))
	}
}

// runConfigTest validates the configuration file and reports the result
func runConfigTest(configPath string) int {
	data, err := os.ReadFile(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation error: %v\n", err)
		return 1
	}

	cfg, err := config.ParseGatewayConfig(data)
	if err != nil {
		fmt.Println("Configuration validation FAILED:")
		fmt.Printf("- %s: %v\n", configPath, err)
		return 1
	}

	fmt.Printf("configuration file %s syntax is ok\n", configPath)
	fmt.Printf("listen %s, cache %s, still engine %s, slots %s\n",
		cfg.Server.Listen, cfg.Storage.CachePath, cfg.Render.StillEngine, cfg.Render.Slots)
	if cfg.Server.TLS.Enabled {
		fmt.Printf("https %s, certificate %s\n", cfg.Server.TLS.Listen, cfg.Server.TLS.CertFile)
	}
	fmt.Println("configuration test is successful")
	return 0
}
