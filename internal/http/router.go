package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/cartsync/internal/cache"
	"github.com/fjod/cartsync/internal/events"
	"github.com/fjod/cartsync/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RouterConfig struct {
	Sessions       *session.Registry
	Thumbnails     *cache.ThumbnailCache
	Bus            *events.Bus
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	cartHandler := NewCartHandler(cfg.RequestTimeout, cfg.Logger)
	profileHandler := NewProfileHandler(cfg.RequestTimeout)
	thumbHandler := NewThumbnailHandler(cfg.Thumbnails, cfg.RequestTimeout)
	eventsHandler := NewEventsHandler(cfg.Bus, cfg.Logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "If-None-Match", SessionHeader, UserHeader},
		ExposedHeaders:   []string{"ETag"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/thumbnails", func(r chi.Router) {
			r.Get("/", thumbHandler.GetMany)
			r.Get("/stats", thumbHandler.Stats)
			r.Get("/{productID}", thumbHandler.Get)
		})

		r.Group(func(r chi.Router) {
			r.Use(SessionMiddleware(cfg.Sessions))

			r.Get("/events", eventsHandler.Stream)

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", cartHandler.GetCart)
				r.Delete("/", cartHandler.ClearCart)
				r.Post("/items", cartHandler.AddItem)
				r.Post("/items/batch-delete", cartHandler.RemoveItemsBatch)
				r.Put("/items/{lineID}", cartHandler.UpdateQuantity)
				r.Delete("/items/{lineID}", cartHandler.RemoveItem)
				r.Post("/checkout", cartHandler.Checkout)
				r.Post("/undo", cartHandler.Undo)
				r.Post("/redo", cartHandler.Redo)
				r.Put("/shipping", cartHandler.SetShipping)
				r.Post("/coupons", cartHandler.ApplyCoupon)
				r.Delete("/coupons/{code}", cartHandler.RemoveCoupon)
			})

			r.Route("/profile/{kind}", func(r chi.Router) {
				r.Get("/", profileHandler.Get)
				r.Post("/invalidate", profileHandler.Invalidate)
			})
		})
	})

	return otelhttp.NewHandler(r, "cartsync-http")
}
