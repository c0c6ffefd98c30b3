package bootstrap

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/sublead/sublead-api/config"
	httpx "github.com/sublead/sublead-api/internal/http"
)

// HTTPServerConfig contains configuration for HTTP server.
type HTTPServerConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

// BuildHTTPServer creates the HTTP server. The caller starts it and owns its
// graceful shutdown.
func BuildHTTPServer(cfg *HTTPServerConfig) *http.Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	appCfg := cfg.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	handler := httpx.NewRouter(httpx.RouterServices{
		Orchestrator:  cfg.Services.Orchestrator,
		Quota:         cfg.Services.Quota,
		Sessions:      cfg.Services.Sessions,
		SessionCookie: appCfg.HTTP.SessionCookie,
		Logger:        logger,
	})

	addr := appCfg.HTTP.Addr
	// Guard against empty addr to avoid listening on Go default
	if addr == "" {
		addr = ":8080"
	}

	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  appCfg.HTTP.ReadTimeout,
		WriteTimeout: appCfg.HTTP.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
}
