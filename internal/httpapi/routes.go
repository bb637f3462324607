// Package httpapi mounts the relay's HTTP surface.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/DoyleJ11/math-duel/internal/hub"
	"github.com/DoyleJ11/math-duel/internal/ws"
)

// SetupRoutes builds the relay router. origins feeds both CORS and the websocket origin
// check; empty means any origin.
func SetupRoutes(h *hub.Hub, log *zap.Logger, origins []string) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet},
		AllowedOrigins: origins,
		AllowedHeaders: []string{"*"},
	}).Handler)

	r.Get("/healthz", Healthz)
	r.Get("/v1/stats", Stats(h, log))
	r.Get("/v1/peers", ws.Handler(h, log, origins))
	return r
}
