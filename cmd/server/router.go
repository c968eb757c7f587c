package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rollcall/internal/app"
	"rollcall/internal/identity/handler"
	httpmetrics "rollcall/internal/platform/metrics"
	"rollcall/pkg/platform/httputil"
	"rollcall/pkg/platform/middleware/admin"
	"rollcall/pkg/platform/middleware/metadata"
	"rollcall/pkg/platform/middleware/request"
	"rollcall/pkg/platform/middleware/requesttime"
)

const requestTimeout = 30 * time.Second

func newRouter(a *app.App) (http.Handler, error) {
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := httpmetrics.New(a.Registry)

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recovery(a.Logger))
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(m.Middleware)

	r.Get("/health", healthHandler(a))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))

	creds := admin.Credentials{
		Token:     a.Config.Server.AdminToken,
		TokenHash: a.Config.Server.AdminTokenHash,
	}
	if secret := a.Config.Server.AdminJWTSecret; secret != "" {
		tokens, err := admin.NewOperatorTokens(secret)
		if err != nil {
			return nil, err
		}
		creds.Tokens = tokens
	}

	h := handler.New(a.Merger, a.Conflicts, a.Audits, a.Sync, a.Logger)
	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(requestTimeout))
		r.Use(admin.RequireAdmin(creds, a.Logger))
		h.Register(r)
	})
	return r, nil
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: map[string]string{}}
		status := http.StatusOK
		for name, err := range a.Health(ctx) {
			if err != nil {
				resp.Status = "degraded"
				resp.Checks[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
