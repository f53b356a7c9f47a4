package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/aidesk-labs/kbengine/internal/api"
	"github.com/aidesk-labs/kbengine/internal/api/handlers"
	"github.com/aidesk-labs/kbengine/internal/api/middleware"
)

type RouterConfig struct {
	KBHandler *handlers.KBHandler
	Logger    *zap.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 5 * 1024 * 1024

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog(logger))
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireTenant)

		r.Route("/kb", func(r chi.Router) {
			r.Post("/chunks", cfg.KBHandler.Upsert)
			r.Get("/chunks", cfg.KBHandler.List)
			r.Post("/search", cfg.KBHandler.Search)
			r.Post("/archive", cfg.KBHandler.Archive)
			r.Post("/delete", cfg.KBHandler.Delete)
			r.Delete("/sources/{source}", cfg.KBHandler.DeleteSource)
			r.Post("/reindex", cfg.KBHandler.Reindex)
		})
	})

	return r
}
