// Package gateway is the dashboard's HTTP entry point into Evo: a health
// probe and per-server settings that are validated and encrypted before
// they reach the store.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jholhewres/evo/pkg/evo/memory"
)

// Config holds gateway settings.
type Config struct {
	// Enabled starts the gateway with `evo serve`.
	Enabled bool `yaml:"enabled"`

	// Address is the listen address.
	Address string `yaml:"address"`

	// AuthToken, when set, is required as a Bearer token on /api routes.
	AuthToken string `yaml:"auth_token"`

	// CORSOrigins lists origins allowed to call the API. Empty disables CORS.
	CORSOrigins []string `yaml:"cors_origins"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{Address: "127.0.0.1:8085"}
}

// Encrypter encrypts API keys before they are stored.
type Encrypter interface {
	Encrypt(plaintext string) (string, error)
}

// Check reports the health of one dependency.
type Check func(ctx context.Context) error

// Gateway is the HTTP API gateway.
type Gateway struct {
	config    Config
	configs   memory.ConfigStore
	cipher    Encrypter
	checks    map[string]Check
	validate  *validator.Validate
	server    *http.Server
	logger    *slog.Logger
	startedAt time.Time
}

// New creates a gateway over the settings store.
func New(cfg Config, configs memory.ConfigStore, cipher Encrypter, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = DefaultConfig().Address
	}
	return &Gateway{
		config:    cfg,
		configs:   configs,
		cipher:    cipher,
		checks:    make(map[string]Check),
		validate:  newValidator(),
		logger:    logger.With("component", "gateway"),
		startedAt: time.Now(),
	}
}

// AddCheck registers a dependency reported by /health.
func (g *Gateway) AddCheck(name string, check Check) {
	g.checks[name] = check
}

// Handler returns the gateway's HTTP handler with all middleware applied.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health (always public)
	mux.HandleFunc("/health", g.handleHealth)

	mux.HandleFunc("/api/servers/", g.handleServerSettings)

	return g.securityHeadersMiddleware(g.corsMiddleware(g.authMiddleware(mux)))
}

// Start starts the HTTP server in the background.
func (g *Gateway) Start(ctx context.Context) error {
	g.startedAt = time.Now()

	listener, err := net.Listen("tcp", g.config.Address)
	if err != nil {
		return err
	}

	g.server = &http.Server{
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	if g.config.AuthToken == "" && !isLoopback(g.config.Address) {
		g.logger.Warn("SECURITY: gateway has no auth token and is bound to a non-loopback address",
			"address", g.config.Address)
	}

	go func() {
		if err := g.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway server error", "error", err)
		}
	}()
	g.logger.Info("gateway started", "address", listener.Addr().String())
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("gateway stopping...")
	return g.server.Shutdown(ctx)
}

func isLoopback(address string) bool {
	host, _, _ := net.SplitHostPort(address)
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// securityHeadersMiddleware adds standard security headers to all responses.
func (g *Gateway) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
