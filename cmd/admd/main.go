// Package main is the entry point for the qdadm admin engine server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quazardous/qdadm/internal/capability"
	"github.com/quazardous/qdadm/internal/config"
	"github.com/quazardous/qdadm/internal/definition"
	"github.com/quazardous/qdadm/internal/entity"
	"github.com/quazardous/qdadm/internal/guard"
	"github.com/quazardous/qdadm/internal/hooks"
	"github.com/quazardous/qdadm/internal/nav"
	"github.com/quazardous/qdadm/internal/observability"
	"github.com/quazardous/qdadm/internal/options"
	"github.com/quazardous/qdadm/internal/schema"
	"github.com/quazardous/qdadm/internal/screen"
	"github.com/quazardous/qdadm/internal/search"
	"github.com/quazardous/qdadm/internal/session"
	"github.com/quazardous/qdadm/internal/transport"
	"github.com/quazardous/qdadm/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "qdadm", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// OpenAPI schema index for rest-backed entities.
	schemaIndex := schema.NewIndex()
	schemaSources := buildSchemaSources(cfg.Specs)
	if err := schemaIndex.Load(schemaSources); err != nil {
		logger.Error("schema index load failed", zap.Error(err))
		return 1
	}
	for _, src := range schemaSources {
		metrics.SetSchemasIndexed(src.ServiceID, float64(len(schemaIndex.SchemaNames(src.ServiceID))))
	}

	// Entity definitions.
	loader := definition.NewLoader()
	defs, err := loader.LoadAll(cfg.Definitions.Directories)
	if err != nil {
		logger.Error("definition loading failed", zap.Error(err))
		return 1
	}
	validator := definition.NewValidator()
	if verrs := validator.Validate(defs); len(verrs) > 0 {
		for _, ve := range verrs {
			logger.Error("definition validation error", zap.String("error", ve.Error()))
		}
		return 1
	}
	registry := definition.NewRegistry(defs)
	metrics.SetDefinitionsLoaded(float64(len(defs)))

	// Capability resolution.
	capResolver, err := buildCapabilityResolver(cfg.Capability)
	if err != nil {
		logger.Error("capability resolver initialization failed", zap.Error(err))
		return 1
	}
	authorizer := capability.NewAuthorizer(capResolver)

	// Session store for filter persistence.
	sessionStore, sessionCloser, err := buildSessionStore(cfg.Session, logger)
	if err != nil {
		logger.Error("session store initialization failed", zap.Error(err))
		return 1
	}

	// Postgres pool, opened lazily only when a definition needs it.
	var pool *pgxpool.Pool
	if needsPostgres(defs) {
		pool, err = openPostgres(ctx, cfg.Storage)
		if err != nil {
			logger.Error("storage initialization failed", zap.Error(err))
			return 1
		}
		defer pool.Close()
	}

	// Entity managers, one per definition.
	managers := entity.NewRegistry()
	for _, def := range defs {
		mgr, err := buildManager(def, cfg, schemaIndex, authorizer, pool, logger)
		if err != nil {
			logger.Error("manager initialization failed",
				zap.String("entity", def.Entity), zap.Error(err))
			return 1
		}
		if err := managers.Register(def.Entity, mgr); err != nil {
			logger.Error("manager registration failed",
				zap.String("entity", def.Entity), zap.Error(err))
			return 1
		}
	}

	// Navigation table from definitions.
	table := nav.NewTable()
	for _, def := range defs {
		table.RegisterEntity(nav.EntityInfo{
			Entity:      def.Entity,
			Label:       def.Label,
			LabelPlural: def.LabelPlural,
			RoutePrefix: def.RoutePrefix,
			Parent:      def.Parent,
			Menu:        def.Menu,
		})
	}
	hydrator := nav.NewHydrator()

	optionsResolver := options.NewResolver(managers, logger,
		cfg.Options.Cache.TTL, cfg.Options.Cache.MaxEntries)

	screenDeps := screen.Deps{
		Managers:       managers,
		Options:        optionsResolver,
		Hooks:          hooks.NewRegistry(logger),
		Filters:        session.NewFilters(sessionStore, cfg.Session.TTL),
		Chain:          nav.NewChainBuilder(table, hydrator),
		Nav:            table,
		Hydrator:       hydrator,
		Guards:         guard.NewRegistry(),
		Logger:         logger,
		SearchDebounce: cfg.List.SearchDebounce,
	}

	searchProvider := search.NewProvider(registry, managers, table, logger,
		cfg.Search.TimeoutPerEntity, cfg.Search.MaxResultsPerEntity)

	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)

	readinessChecks := observability.ReadinessChecks{
		DefinitionsLoaded: func() bool { return len(registry.Entities()) > 0 },
	}
	if hc, ok := sessionStore.(observability.HealthChecker); ok {
		readinessChecks.SessionStore = hc
	}
	if pool != nil {
		readinessChecks.Storage = poolChecker{pool}
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Metrics:      metrics,
		Definitions:  registry,
		Options:      optionsResolver,
		Search:       searchProvider,
		Capabilities: capResolver,
		Screen:       screenDeps,
		Authenticate: transport.JWTAuthenticator(cfg.Identity, jwks),
		Ready:        readinessChecks,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("definitions", len(defs)),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if sessionCloser != nil {
		sessionCloser()
	}
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildSchemaSources converts config spec sources to schema.Source.
func buildSchemaSources(specsCfg config.SpecsConfig) []schema.Source {
	sources := make([]schema.Source, len(specsCfg.Sources))
	for i, s := range specsCfg.Sources {
		specPath := s.SpecFile
		if specsCfg.Directory != "" && !filepath.IsAbs(specPath) {
			specPath = filepath.Join(specsCfg.Directory, specPath)
		}
		sources[i] = schema.Source{
			ServiceID: s.ServiceID,
			SpecPath:  specPath,
		}
	}
	return sources
}

// buildCapabilityResolver creates the configured capability resolver.
func buildCapabilityResolver(cfg config.CapabilityConfig) (*capability.Resolver, error) {
	switch cfg.Evaluator {
	case "static", "":
		evaluator, err := capability.NewStaticPolicyEvaluator(cfg.StaticPolicyFile)
		if err != nil {
			return nil, fmt.Errorf("static policy: %w", err)
		}
		return capability.NewResolver(evaluator, cfg.Cache.TTL), nil
	default:
		return nil, fmt.Errorf("unsupported capability evaluator: %q", cfg.Evaluator)
	}
}

// buildSessionStore creates the configured session store.
func buildSessionStore(cfg config.SessionConfig, logger *zap.Logger) (session.Store, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory session store")
		return session.NewMemoryStore(), nil, nil
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("session store: %s environment variable not set", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		return session.NewRedisStore(client), func() { client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported session driver: %q", cfg.Driver)
	}
}

// needsPostgres reports whether any definition uses the postgres driver.
func needsPostgres(defs []model.EntityDefinition) bool {
	for _, def := range defs {
		if def.Backend.Driver == "postgres" {
			return true
		}
	}
	return false
}

// openPostgres opens the shared pool for postgres-backed entities.
func openPostgres(ctx context.Context, cfg config.StorageConfig) (*pgxpool.Pool, error) {
	dsn := os.Getenv(cfg.DSNEnv)
	if dsn == "" {
		return nil, fmt.Errorf("storage: %s environment variable not set", cfg.DSNEnv)
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	return pool, nil
}

// poolChecker adapts a pgx pool to the readiness check contract.
type poolChecker struct {
	pool *pgxpool.Pool
}

func (c poolChecker) HealthCheck(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// buildManager creates the backend manager for one definition.
func buildManager(def model.EntityDefinition, cfg *config.Config, idx *schema.Index, authz entity.Authorizer, pool *pgxpool.Pool, logger *zap.Logger) (model.Manager, error) {
	fields := fieldSpecsFor(def, idx)

	switch def.Backend.Driver {
	case "rest":
		svc, ok := cfg.Services[def.Backend.ServiceID]
		if !ok {
			return nil, fmt.Errorf("unknown service %q", def.Backend.ServiceID)
		}
		return entity.NewRestManager(def, fields, authz, entity.RestConfig{
			BaseURL: svc.BaseURL,
			Timeout: svc.Timeout,
			Breaker: entity.BreakerConfig{
				FailureThreshold: svc.CircuitBreaker.FailureThreshold,
				SuccessThreshold: svc.CircuitBreaker.SuccessThreshold,
				Cooldown:         svc.CircuitBreaker.Timeout,
			},
			Retry: entity.RetryConfig{
				MaxAttempts:       svc.Retry.MaxAttempts,
				BackoffInitial:    svc.Retry.BackoffInitial,
				BackoffMultiplier: svc.Retry.BackoffMultiplier,
				BackoffMax:        svc.Retry.BackoffMax,
				IdempotentOnly:    svc.Retry.IdempotentOnly,
			},
		}, logger), nil
	case "postgres":
		if pool == nil {
			return nil, fmt.Errorf("postgres driver requires storage configuration")
		}
		return entity.NewPgManager(def, fields, authz, pool)
	case "memory", "":
		return entity.NewMemoryManager(def, fields, authz), nil
	default:
		return nil, fmt.Errorf("unsupported backend driver: %q", def.Backend.Driver)
	}
}

// fieldSpecsFor resolves the entity's field specs: the OpenAPI schema when
// one is bound, the form definition otherwise.
func fieldSpecsFor(def model.EntityDefinition, idx *schema.Index) []model.FieldSpec {
	if def.Backend.Schema != "" {
		if fields, ok := idx.Fields(def.Backend.ServiceID, def.Backend.Schema); ok {
			return fields
		}
	}

	specs := make([]model.FieldSpec, 0, len(def.Form.Fields)+1)
	idField := def.IDField
	if idField == "" {
		idField = "id"
	}
	specs = append(specs, model.FieldSpec{Name: idField, Type: "string", Label: "ID"})
	for _, f := range def.Form.Fields {
		spec := model.FieldSpec{
			Name:     f.Name,
			Type:     f.Type,
			Label:    f.Label,
			Required: f.Required,
		}
		if spec.Type == "" {
			spec.Type = "string"
		}
		if f.Reference != "" {
			spec.Type = "reference"
			spec.Reference = f.Reference
		}
		if len(f.Static) > 0 {
			spec.Type = "enum"
			for _, o := range f.Static {
				spec.Enum = append(spec.Enum, fmt.Sprint(o.Value))
			}
		}
		specs = append(specs, spec)
	}
	return specs
}
