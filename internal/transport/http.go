package transport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/handler"
)

const requestTimeout = 30 * time.Second

type RouterDeps struct {
	Orders    *handler.OrderHandler
	Payments  *handler.PaymentHandler
	JWTSecret string
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	deps.Payments.RegisterWebhookRoutes(r)

	r.Group(func(r chi.Router) {
		r.Use(handler.Authenticate(deps.JWTSecret))
		deps.Orders.RegisterRoutes(r)
		deps.Payments.RegisterRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(handler.RequireAdmin)
			deps.Orders.RegisterAdminRoutes(r)
			deps.Payments.RegisterAdminRoutes(r)
		})
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
