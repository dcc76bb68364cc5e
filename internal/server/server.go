package server

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	goredislib "github.com/redis/go-redis/v9"
	"go.uber.org/multierr"

	"anchor-platform/internal/action"
	"anchor-platform/internal/asset"
	"anchor-platform/internal/config"
	"anchor-platform/internal/custody"
	"anchor-platform/internal/depositinfo"
	"anchor-platform/internal/domain"
	"anchor-platform/internal/event"
	"anchor-platform/internal/handler"
	"anchor-platform/internal/lock"
	"anchor-platform/internal/repository"
	"anchor-platform/internal/rpc"
	"anchor-platform/internal/service"
)

// Server represents the HTTP server
type Server struct {
	router *mux.Router
	server *http.Server
	db     *sql.DB
	redis  *goredislib.Client
	events *event.Async
	logger *slog.Logger
	port   string
}

// NewServer wires storage, locking, custody and the action registry from cfg.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	assets, err := loadAssets(cfg.AssetsFile, logger)
	if err != nil {
		return nil, err
	}

	s := &Server{logger: logger}

	repo, health, err := s.openStorage(cfg)
	if err != nil {
		return nil, err
	}

	locker := lock.Locker(lock.NewLocal())
	if cfg.LockBackend == config.LockBackendRedis {
		s.redis = goredislib.NewClient(&goredislib.Options{Addr: cfg.RedisAddr})
		opts := lock.DefaultOptions()
		opts.Expiry = cfg.LockExpiry
		opts.Tries = cfg.LockTries
		opts.RetryDelay = cfg.LockRetryWait
		locker = lock.NewRedis(s.redis, opts, logger)
		logger.Info("Using redis transaction locks", "addr", cfg.RedisAddr)
	}

	// Interface values stay nil unless custody is enabled.
	var (
		custodyService domain.CustodyService
		addresses      depositinfo.AddressGenerator
	)
	if cfg.CustodyEnabled {
		client := custody.NewClient(cfg.CustodyURL, cfg.CustodyTimeout, custody.DefaultBreakerSettings(), logger)
		custodyService = client
		addresses = client
		logger.Info("Custody integration enabled", "url", cfg.CustodyURL)
	}

	generators, err := depositinfo.FromConfig(cfg, assets, addresses)
	if err != nil {
		s.closeResources()
		return nil, err
	}

	publishers := event.Multi{event.NewLogPublisher(logger)}
	if cfg.EventsWebhookURL != "" {
		publishers = append(publishers, event.NewWebhookPublisher(cfg.EventsWebhookURL, 5*time.Second, logger))
	}
	// Webhook retries run on the queue worker, never on the request path.
	s.events = event.NewAsync(publishers, cfg.EventsQueueSize, logger)

	processor := action.NewProcessor(action.Options{
		Repo:        repo,
		Locker:      locker,
		Publisher:   s.events,
		Assets:      assets,
		Custody:     custodyService,
		DepositInfo: generators,
		MaxRetries:  cfg.ActionMaxRetries,
		Logger:      logger,
	})
	registry, err := action.NewDefaultRegistry(processor)
	if err != nil {
		_ = s.events.Close(context.Background())
		s.closeResources()
		return nil, err
	}

	// Initialize handlers
	transactionHandler := handler.NewTransactionHandler(service.NewTransactionService(repo, assets, logger))
	actionHandler := handler.NewActionHandler(rpc.NewService(registry, cfg.RPCBatchSizeLimit, cfg.RPCConcurrency, logger))

	router := mux.NewRouter()
	router.Use(loggingMiddleware(logger))

	router.HandleFunc("/actions", actionHandler.Handle).Methods("POST")
	router.HandleFunc("/transactions", transactionHandler.CreateTransaction).Methods("POST")
	router.HandleFunc("/transactions/{transaction_id}", transactionHandler.GetTransaction).Methods("GET")

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": "database unavailable"})
			return
		}

		json.NewEncoder(w).Encode(map[string]string{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}).Methods("GET")

	s.router = router
	return s, nil
}

// openStorage returns the repository for the configured driver and a health check for it.
func (s *Server) openStorage(cfg *config.Config) (domain.TransactionRepository, func(context.Context) error, error) {
	if cfg.StorageDriver == config.StorageDriverMemory {
		s.logger.Warn("Using in-memory storage; transactions are lost on restart")
		return repository.NewMemoryRepository(s.logger), func(context.Context) error { return nil }, nil
	}

	db, err := sql.Open("postgres", cfg.GetDBConnectionString())
	if err != nil {
		return nil, nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// The database may still be starting when the server comes up.
	ping := func() error { return db.PingContext(ctx) }
	if err := backoff.Retry(ping, backoff.WithContext(backoff.NewExponentialBackOff(), ctx)); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	s.logger.Info("Successfully connected to database")

	store := repository.NewStore(db, s.logger)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}

	s.db = db
	return store.Transactions(), store.Ping, nil
}

// loadAssets reads the asset catalog. A missing file yields an empty catalog so the
// server can still take actions that carry no amounts.
func loadAssets(path string, logger *slog.Logger) (*asset.Catalog, error) {
	catalog, err := asset.LoadFile(path)
	if stderrors.Is(err, fs.ErrNotExist) {
		logger.Warn("Asset file not found, no assets are supported", "path", path)
		return asset.NewCatalog(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load assets: %w", err)
	}
	return catalog, nil
}

// loggingMiddleware adds request logging
func loggingMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.statusCode,
				"duration", time.Since(start),
				"user_agent", r.UserAgent(),
			)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server on the specified port
func (s *Server) Start(port string) (string, error) {
	listener, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return "", err
	}

	addr := listener.Addr().(*net.TCPAddr)
	s.port = strconv.Itoa(addr.Port)

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting server", "port", s.port)

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server failed to start", "error", err)
		}
	}()

	return s.port, nil
}

// Stop drains in-flight requests and queued events, then closes the database and redis clients.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server")

	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	if s.events != nil {
		err = multierr.Append(err, s.events.Close(ctx))
	}
	return multierr.Append(err, s.closeResources())
}

func (s *Server) closeResources() error {
	var err error
	if s.db != nil {
		err = multierr.Append(err, s.db.Close())
	}
	if s.redis != nil {
		err = multierr.Append(err, s.redis.Close())
	}
	return err
}

// GetPort returns the port the server is listening on
func (s *Server) GetPort() string {
	return s.port
}

// GetBaseURL returns the base URL for the server
func (s *Server) GetBaseURL() string {
	return "http://localhost:" + s.port
}

// GetRouter returns the router for testing purposes
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// StartServer starts the server with the given configuration
func StartServer(cfg *config.Config) (*Server, string, error) {
	var logger *slog.Logger
	if cfg.ServerPort == "0" {
		// Test environment - use discard logger
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	} else {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}

	server, err := NewServer(cfg, logger)
	if err != nil {
		return nil, "", err
	}

	port, err := server.Start(cfg.ServerPort)
	if err != nil {
		_ = server.Stop(context.Background())
		return nil, "", err
	}

	return server, port, nil
}
