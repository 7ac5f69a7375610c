// Package gateway assembles the request-handling core and its HTTP surface
// into an embeddable unit. This is the stable API for external consumers.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/tjfontaine/autopilot-gateway/internal/audit"
	"github.com/tjfontaine/autopilot-gateway/internal/autopilot"
	"github.com/tjfontaine/autopilot-gateway/internal/cache"
	"github.com/tjfontaine/autopilot-gateway/internal/config"
	"github.com/tjfontaine/autopilot-gateway/internal/pricing"
	"github.com/tjfontaine/autopilot-gateway/internal/provider"
	"github.com/tjfontaine/autopilot-gateway/internal/provider/anthropic"
	"github.com/tjfontaine/autopilot-gateway/internal/provider/mistral"
	"github.com/tjfontaine/autopilot-gateway/internal/provider/openai"
	"github.com/tjfontaine/autopilot-gateway/internal/ratelimit"
	"github.com/tjfontaine/autopilot-gateway/internal/router"
	"github.com/tjfontaine/autopilot-gateway/internal/server"
	"github.com/tjfontaine/autopilot-gateway/internal/storage/memory"
	"github.com/tjfontaine/autopilot-gateway/internal/storage/redisstore"
	"github.com/tjfontaine/autopilot-gateway/internal/storage/sqldb"
	"github.com/tjfontaine/autopilot-gateway/internal/tenant"
	"github.com/tjfontaine/autopilot-gateway/internal/tokens"
	"github.com/tjfontaine/autopilot-gateway/internal/validate"
)

type options struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
	httpClient *http.Client
}

// Option configures a Gateway.
type Option func(*options)

// WithConfigPath loads configuration from a YAML file.
func WithConfigPath(path string) Option {
	return func(o *options) { o.configPath = path }
}

// WithConfig supplies configuration directly, bypassing file loading.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithHTTPClient sets the client used for upstream provider calls.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// Gateway owns the assembled core and its HTTP server.
type Gateway struct {
	cfg      *config.Config
	logger   *slog.Logger
	engine   *autopilot.Engine
	server   *server.Server
	store    *sqldb.Store
	recorder *audit.AsyncRecorder
	redis    *redis.Client
}

// New assembles a Gateway from configuration.
func New(opts ...Option) (*Gateway, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	cfg := o.cfg
	if cfg == nil {
		var err error
		cfg, err = config.Load(o.configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	var sealKey []byte
	if cfg.Sealing.Key != "" {
		var err error
		sealKey, err = tenant.ParseKey(cfg.Sealing.Key)
		if err != nil {
			return nil, err
		}
	}
	orgs, err := tenant.NewRegistry(cfg.Orgs, sealKey)
	if err != nil {
		return nil, fmt.Errorf("load organizations: %w", err)
	}

	registry, err := provider.NewRegistry(
		openai.New(o.httpClient),
		anthropic.New(o.httpClient),
		mistral.New(o.httpClient),
	)
	if err != nil {
		return nil, err
	}

	store, err := sqldb.New(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	var (
		fast        cache.FastStore
		counter     ratelimit.Counter
		redisClient *redis.Client
	)
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		fast = redisstore.New(redisClient)
		counter = redisstore.NewCounter(redisClient)
	} else {
		fast = memory.New()
	}

	recorder := audit.NewAsyncRecorder(store, o.logger)
	responseCache := cache.New(fast, store, cfg.Cache.TTL, o.logger)
	limiter := ratelimit.New(counter, orgs, o.logger)
	rt := router.New(registry, o.logger)
	validator := validate.New(cfg.Validator.MaxRounds, recorder, o.logger)

	engine := autopilot.New(autopilot.Params{
		Limiter:   limiter,
		Cache:     responseCache,
		Router:    rt,
		Validator: validator,
		Pricing:   pricing.NewTable(),
		Recorder:  recorder,
		Estimator: tokens.NewEstimator(),
		Configs:   orgs,
		Logger:    o.logger,
	})

	srv := server.New(cfg.Server.Port, cfg.Server.RequestTimeout,
		server.NewHandler(engine, responseCache), o.logger)

	return &Gateway{
		cfg:      cfg,
		logger:   o.logger,
		engine:   engine,
		server:   srv,
		store:    store,
		recorder: recorder,
		redis:    redisClient,
	}, nil
}

// Engine exposes the request-handling core for embedders that bypass HTTP.
func (g *Gateway) Engine() *autopilot.Engine { return g.engine }

// Start serves HTTP until Shutdown.
func (g *Gateway) Start() error {
	return g.server.Start()
}

// Shutdown drains the HTTP server, flushes the audit queue and closes
// storage.
func (g *Gateway) Shutdown(ctx context.Context) error {
	err := g.server.Shutdown(ctx)
	g.recorder.Close()
	if g.redis != nil {
		if cerr := g.redis.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if cerr := g.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
