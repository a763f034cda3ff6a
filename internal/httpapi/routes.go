package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/planning-poker/internal/store"
	"github.com/DoyleJ11/planning-poker/internal/ws"
)

func SetupRoutes(st store.Store, log *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(log))

	api := &API{store: st, log: log.Named("httpapi")}

	r.Get("/healthz", Healthz)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/anonymous", api.SignIn)
		r.Route("/{collection}/{id}", func(r chi.Router) {
			r.Post("/", api.CreateDocument)
			r.Get("/", api.GetDocument)
			r.Patch("/", api.UpdateDocument)
			r.Delete("/", api.DeleteDocument)
			r.Get("/watch", ws.Handler(st, log))
		})
	})
	return r
}
