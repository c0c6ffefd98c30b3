package httpx

import (
	"log/slog"
	"net/http"

	"github.com/sublead/sublead-api/internal/core"
	"github.com/sublead/sublead-api/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Orchestrator *service.Orchestrator // Required: job orchestrator
	Quota        *service.QuotaService // Required: quota visibility
	Sessions     core.SessionStore     // Required: session resolution
	// SessionCookie is the cookie name carrying the session token.
	SessionCookie string
	Logger        *slog.Logger // Optional: request logging and panic recovery
}

// NewRouter creates and configures the HTTP router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	jobHandlers := &JobHandlers{Orchestrator: services.Orchestrator}
	quotaHandlers := &QuotaHandlers{Svc: services.Quota}

	cookie := services.SessionCookie
	if cookie == "" {
		cookie = "sublead_session"
	}
	authed := RequireSession(services.Sessions, cookie)

	mux.Handle("POST /api/jobs", authed(http.HandlerFunc(jobHandlers.SubmitJob)))
	mux.Handle("GET /api/jobs", authed(http.HandlerFunc(jobHandlers.ListJobs)))
	mux.Handle("GET /api/jobs/{id}", authed(http.HandlerFunc(jobHandlers.GetJob)))
	mux.Handle("GET /api/jobs/{id}/status", authed(http.HandlerFunc(jobHandlers.GetStatus)))
	mux.Handle("GET /api/jobs/{id}/results", authed(http.HandlerFunc(jobHandlers.GetResults)))
	mux.Handle("DELETE /api/jobs/{id}", authed(http.HandlerFunc(jobHandlers.CancelJob)))
	mux.Handle("GET /api/quota", authed(http.HandlerFunc(quotaHandlers.GetQuota)))

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))

	var handler http.Handler = mux
	if services.Logger != nil {
		handler = Logging(services.Logger)(handler)
		handler = Recover(services.Logger)(handler)
	}
	return handler
}
