package app

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/daydreamer-ai/daydreamer-memory/pkg/auth"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/authserver"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/config"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/embedding"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/graph"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/healthcheck"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/logger"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/mcp"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/pipeline"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/telemetry"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/tools"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/transport/session"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/transport/ssecommon"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/transport/sseserver"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/versions"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP gateway",
	RunE:  runServe,
}

const autoUnloadIdle = 15 * time.Minute

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Infow("starting daydreamer memory gateway",
		"version", versions.Version,
		"port", cfg.Port,
		"oauth", cfg.OAuthEnabled,
	)

	// The database comes up before anything that might touch it.
	store, err := graph.Connect(ctx, graph.Config{
		URI:      cfg.Neo4jURI,
		Username: cfg.Neo4jUsername,
		Password: cfg.Neo4jPassword,
		Timeout:  cfg.DatabaseTimeout,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			logger.Warnf("failed to close database driver: %v", err)
		}
	}()

	// The embedder is constructed cold; its model stays unloaded until the
	// first encode request arrives.
	embedder, err := embedding.New(
		embedding.NewHTTPLoader(cfg.EmbeddingServiceURL),
		embedding.Options{
			Timeout:          cfg.EmbeddingTimeout,
			MemoryLimitBytes: cfg.MemoryLimitBytes,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	defer embedder.Close()
	if cfg.EnableAutoUnload {
		embedder.StartAutoUnload(ctx, autoUnloadIdle)
	}

	var metrics *telemetry.Metrics
	if cfg.EnableMetrics {
		metrics = telemetry.New()
	}

	// Resource monitoring is its own switch; it logs RSS samples even when
	// the metrics endpoint is off.
	if monitor := newResourceMonitor(cfg, metrics); monitor != nil {
		monitor.Start(ctx)
	}

	var authSrv *authserver.Server
	if cfg.OAuthEnabled {
		authSrv, err = buildAuthServer(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := authSrv.Close(); err != nil {
				logger.Warnf("failed to close authorization server: %v", err)
			}
		}()
		if metrics != nil {
			authSrv.SetMetrics(metrics)
		}
	}

	sessions := session.NewManager(
		session.WithMaxSessions(cfg.MaxSessions),
		session.WithIdleTimeout(cfg.SessionIdleTimeout),
	)

	writer := pipeline.NewWriter(store, embedder, pipeline.Options{
		Strict: cfg.SchemaEnforcementStrict,
	})

	registry := tools.NewRegistry(tools.Deps{
		Store:           store,
		Writer:          writer,
		Embedder:        embedder,
		SessionCount:    sessions.Count,
		Strict:          cfg.SchemaEnforcementStrict,
		GraphRAGEnabled: cfg.GraphRAGEnabled,
		GlobalSearch:    cfg.GraphRAGGlobalSearch,
		LocalSearch:     cfg.GraphRAGLocalSearch,
	})

	dispatcher := mcp.NewDispatcher(registry)
	if metrics != nil {
		dispatcher.SetMetrics(metrics)
	}

	engineOpts := []sseserver.Option{sseserver.WithMaxPayload(cfg.MaxPayloadBytes)}
	if metrics != nil {
		engineOpts = append(engineOpts, sseserver.WithMetrics(metrics))
	}
	engine := sseserver.New(sessions, dispatcher, engineOpts...)
	defer engine.Stop()

	router := buildRouter(cfg, engine, authSrv, metrics,
		healthcheck.NewChecker(store, embedder, sessions.Count))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)
	if metrics != nil {
		group.Go(func() error {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					metrics.SetEmbedderLoaded(embedder.Loaded())
					metrics.SetBreakerOpen(embedder.BreakerState() == embedding.BreakerOpen)
				}
			}
		})
	}
	group.Go(func() error {
		logger.Infof("listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

// newResourceMonitor returns a started-ready monitor when resource
// monitoring is enabled, nil otherwise. The gauge callback is attached only
// when metrics are also on.
func newResourceMonitor(cfg *config.Config, metrics *telemetry.Metrics) *embedding.ResourceMonitor {
	if !cfg.EnableResourceMonitoring {
		return nil
	}
	var report func(rss uint64)
	if metrics != nil {
		report = metrics.SetProcessRSS
	}
	return embedding.NewResourceMonitor(embedding.DefaultMonitorInterval, cfg.MemoryLimitBytes, report)
}

func buildAuthServer(cfg *config.Config) (*authserver.Server, error) {
	var clients authserver.ClientStore
	switch cfg.OAuthClientStore {
	case "sqlite":
		store, err := authserver.NewSQLiteClientStore(cfg.OAuthClientDB)
		if err != nil {
			return nil, err
		}
		clients = store
	default:
		clients = authserver.NewMemoryClientStore()
	}

	return authserver.New(authserver.Config{
		Issuer:      cfg.OAuthIssuer,
		ResourceURL: cfg.ResourceURL(),
		JWTSecret:   []byte(cfg.OAuthJWTSecret),
		TokenExpiry: cfg.OAuthTokenExpiry,
	}, clients), nil
}

func buildRouter(
	cfg *config.Config,
	engine *sseserver.Engine,
	authSrv *authserver.Server,
	metrics *telemetry.Metrics,
	checker *healthcheck.Checker,
) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(auditNonSuccess)

	if cfg.EnableCORS {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/", checker.HandleRoot)
	r.Get("/health", checker.HandleHealth)
	if metrics != nil {
		r.Handle("/metrics", metrics.Handler())
	}

	if authSrv != nil {
		authSrv.Routes(r)
	}

	validator := auth.NewValidator(auth.Config{
		RequireAuth:  cfg.RequireAuthentication,
		StaticTokens: []string{cfg.StaticBearerToken},
		JWTSecret:    jwtSecretIfEnabled(cfg),
		Issuer:       cfg.OAuthIssuer,
		Audience:     cfg.ResourceURL(),
		ResourceMetadataURL: func() string {
			if cfg.OAuthIssuer == "" {
				return ""
			}
			return cfg.OAuthIssuer + "/.well-known/oauth-protected-resource"
		}(),
	})
	limiter := auth.NewRateLimiter(cfg.RateLimitPerMinute)

	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware)
		r.Use(validator.Middleware)
		r.Get(ssecommon.HTTPSSEEndpoint, engine.HandleSSE)
		r.Post(ssecommon.HTTPMessagesEndpoint, engine.HandleMessages)
	})

	return r
}

// auditNonSuccess logs rejected requests with their correlation id so 4xx/5xx
// responses can be traced without a full access log.
func auditNonSuccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if ww.Status() >= http.StatusBadRequest {
			logger.Warnw("request rejected",
				"request_id", chimiddleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"peer", r.RemoteAddr,
			)
		}
	})
}

func jwtSecretIfEnabled(cfg *config.Config) []byte {
	if !cfg.OAuthEnabled {
		return nil
	}
	return []byte(cfg.OAuthJWTSecret)
}
