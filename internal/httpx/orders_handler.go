package httpx

import (
	"context"
	"math"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-menu-orders/internal/catalog"
	"github.com/ariefcatur/go-menu-orders/internal/orders"
	"github.com/ariefcatur/go-menu-orders/internal/pricing"
	"github.com/ariefcatur/go-menu-orders/internal/redisx"
)

// OrderService is what the order routes need; *orders.Service satisfies it.
type OrderService interface {
	Checkout(ctx context.Context, userID int64, in orders.CheckoutInput) (*orders.Detail, error)
	Get(ctx context.Context, id int64) (*orders.Detail, error)
	Status(ctx context.Context, id int64) (redisx.StatusEntry, error)
	UpdateStatus(ctx context.Context, id int64, status string, eta *string) (*orders.Order, error)
	VendorQueue(ctx context.Context, vendorID int64) ([]int64, error)
}

// checkoutContext is the part of a checkout shared by direct and group orders.
type checkoutContext struct {
	Type          string   `json:"type"`
	TipCents      int64    `json:"tip_cents"`
	PromoCode     string   `json:"promo_code" validate:"max=64"`
	DistanceKm    *float64 `json:"distance_km" validate:"omitempty,gte=0"`
	LoyaltyPoints float64  `json:"loyalty_points"`
}

func (c checkoutContext) checkout() pricing.Checkout {
	points := requestedPoints(c.LoyaltyPoints)
	return pricing.Checkout{
		Fulfillment:   pricing.ParseFulfillment(c.Type),
		TipCents:      c.TipCents,
		PromoCode:     c.PromoCode,
		LoyaltyPoints: points,
		UseLoyalty:    points > 0,
		DistanceKm:    c.DistanceKm,
	}
}

// requestedPoints floors a client-supplied point count and clamps it to
// [0, MaxInt64]; the engine caps it further by balance and subtotal.
func requestedPoints(v float64) int64 {
	v = math.Floor(v)
	switch {
	case !(v > 0):
		return 0
	case v >= math.MaxInt64:
		return math.MaxInt64
	}
	return int64(v)
}

type CreateOrderReq struct {
	VendorID int64              `json:"vendor_id" validate:"required,gt=0"`
	Items    []catalog.CartLine `json:"items" validate:"dive"`
	checkoutContext
}

type UpdateStatusReq struct {
	Status string  `json:"status" validate:"required"`
	ETA    *string `json:"eta" validate:"omitempty,max=64"`
}

type OrdersHandler struct {
	Orders OrderService
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getStatus)
	r.Post("/orders/{id}/status", h.updateStatus)
	r.Get("/vendors/{id}/queue", h.vendorQueue)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	d, err := h.Orders.Checkout(r.Context(), userID(r), orders.CheckoutInput{
		VendorID:       req.VendorID,
		Lines:          req.Items,
		Checkout:       req.checkout(),
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	code := http.StatusCreated
	if d.Replayed {
		code = http.StatusOK
	}
	writeJSON(w, code, d)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	d, err := h.Orders.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	e, err := h.Orders.Status(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req UpdateStatusReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.Orders.UpdateStatus(r.Context(), id, strings.TrimSpace(req.Status), req.ETA)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": o})
}

type VendorQueueResp struct {
	VendorID int64   `json:"vendor_id"`
	OrderIDs []int64 `json:"order_ids"`
}

func (h *OrdersHandler) vendorQueue(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	ids, err := h.Orders.VendorQueue(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, VendorQueueResp{VendorID: id, OrderIDs: ids})
}
