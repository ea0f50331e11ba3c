package router

import (
	"net/http"

	"marketplace/internal/controller"
	"marketplace/internal/metrics"
	"marketplace/internal/middleware"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
)

// NewRouter wires every route. With trustProxy the client address comes from
// X-Forwarded-For or X-Real-IP, so only set it behind a proxy that overwrites them.
func NewRouter(c *controller.Controller, session *middleware.Session, limiter *middleware.RateLimiter, m *metrics.Metrics, trustProxy bool) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	if trustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cors)
	if m != nil {
		r.Use(m.Instrument)
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	r.Get("/", c.Landing)
	r.Get("/api/ping", c.Ping)
	r.Get("/auth/login", c.LoginPage)

	r.Route("/api/auth", func(r chi.Router) {
		if limiter != nil {
			r.Use(limiter.Handler)
		}
		r.Post("/signup", c.SignUp)
		r.Post("/login", c.Login)
		r.Post("/logout", c.Logout)
	})

	r.With(session.Page).Get("/dashboard", c.Dashboard)

	r.Group(func(r chi.Router) {
		r.Use(session.API)

		r.Get("/api/client/requests", c.ClientRequests)
		r.Post("/api/client/requests", c.NewRequest)
		r.Put("/api/client/requests/{requestId}/close", c.CloseRequest)
		r.Get("/api/client/requests/{requestId}/offers", c.RequestOffers)
		r.Put("/api/client/requests/{requestId}/award/{offerId}", c.AwardRequest)
		r.Post("/api/client/providers/{providerId}/contact", c.ContactProvider)
		r.Get("/api/client/stats", c.ClientStats)

		r.Get("/api/provider/requests", c.OpenRequests)
		r.Post("/api/provider/requests/{requestId}/offers", c.NewOffer)
		r.Get("/api/provider/offers", c.ProviderOffers)
		r.Put("/api/provider/offers/{offerId}/status", c.SetOfferStatus)
		r.Get("/api/provider/stats", c.ProviderStats)

		r.Get("/api/notifications", c.Notifications)
		r.Delete("/api/notifications/{notificationId}", c.DismissNotification)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		if _, err := w.Write([]byte("page not found")); err != nil {
			log.WithError(err).Error("router.NotFound")
		}
	})

	return r
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
