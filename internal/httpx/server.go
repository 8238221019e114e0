package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ariefcatur/go-menu-orders/internal/metrics"
	"github.com/ariefcatur/go-menu-orders/internal/pricing"
)

type Deps struct {
	Orders  OrderService
	Groups  GroupService
	Loyalty LoyaltyReader
	Promos  pricing.PromoBook

	Log            *slog.Logger
	Service        string
	DemoUserID     int64
	RequestTimeout time.Duration

	// Ready reports whether backing stores answer; nil means always ready.
	Ready func(ctx context.Context) error
}

func NewRouter(d Deps) *chi.Mux {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger(d.Log), middleware.Recoverer)
	r.Use(metrics.HTTP(d.Service))
	if d.RequestTimeout > 0 {
		r.Use(middleware.Timeout(d.RequestTimeout))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			if err := d.Ready(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	oh := &OrdersHandler{Orders: d.Orders}
	gh := &GroupHandler{Groups: d.Groups}
	mh := &MiscHandler{Loyalty: d.Loyalty, Promos: d.Promos}

	r.Post("/delivery/quote", mh.quote)
	r.Post("/promo/validate", mh.validatePromo)

	r.Group(func(r chi.Router) {
		r.Use(authenticate(d.DemoUserID))
		oh.Register(r)
		gh.Register(r)
		r.Get("/vendors/{id}/loyalty", mh.loyalty)
	})
	return r
}
