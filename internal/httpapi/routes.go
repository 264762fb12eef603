package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/hive-online/internal/hub"
	"github.com/DoyleJ11/hive-online/internal/supervisor"
	"github.com/DoyleJ11/hive-online/internal/ws"
)

type Deps struct {
	Hub       *hub.Hub
	Workers   *supervisor.Registry // nil disables the gateway
	PublicURL string
	Logger    *zap.Logger
}

func SetupRoutes(d Deps) http.Handler {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	// Duplex connections stay open; no handler timeout.
	r.Get("/ws/{alias}", ws.Handler(d.Hub, log))

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(10 * time.Second))
		r.Get("/healthz", Healthz(d.Hub))
		r.Post("/workers", Provision(d.Hub, d.PublicURL, log))
		r.Post("/workers/{alias}", RelayRequest(d.Hub))
		if d.Workers != nil {
			r.Get("/api/worker", Gateway(d.Workers, log))
			r.Post("/api/worker", Gateway(d.Workers, log))
		}
	})
	return r
}
