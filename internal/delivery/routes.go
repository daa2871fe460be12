package delivery

import (
	"net/http"
	"time"

	"github.com/Vovarama1992/go-utils/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

func RegisterRoutes(r chi.Router, h *SessionHandler, metrics http.Handler) {
	r.With(httputil.RecoverMiddleware).Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))
	})
	r.With(httputil.RecoverMiddleware).Handle("/metrics", metrics)

	r.Group(func(pr chi.Router) {
		pr.Use(
			httputil.RecoverMiddleware,
			httprate.LimitByIP(120, time.Minute),
		)

		// --- сессии ---
		pr.Get("/sessions", h.Stats)
		pr.Get("/sessions/{user_id}", h.Get)
		pr.Delete("/sessions/{user_id}", h.End)

		// --- журнал ---
		pr.Get("/runs/{user_id}", h.Runs)
	})
}
