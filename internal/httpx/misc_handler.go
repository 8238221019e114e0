package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/ariefcatur/go-menu-orders/internal/pricing"
)

// LoyaltyReader is satisfied by *loyalty.Ledger.
type LoyaltyReader interface {
	Balance(ctx context.Context, userID, vendorID int64) (int64, error)
}

type QuoteReq struct {
	VendorID   int64    `json:"vendor_id" validate:"gte=0"`
	DistanceKm *float64 `json:"distance_km"`
}

type PromoReq struct {
	Code     string `json:"code" validate:"max=64"`
	Subtotal int64  `json:"subtotal" validate:"gte=0"`
}

type PromoResp struct {
	Valid    bool   `json:"valid"`
	Discount int64  `json:"discount"`
	Message  string `json:"message"`
}

type MiscHandler struct {
	Loyalty LoyaltyReader
	Promos  pricing.PromoBook
}

func (h *MiscHandler) quote(w http.ResponseWriter, r *http.Request) {
	var req QuoteReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	km := pricing.DefaultQuoteDistanceKm
	if req.DistanceKm != nil {
		km = *req.DistanceKm
	}
	q, err := pricing.Quote(km)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *MiscHandler) loyalty(w http.ResponseWriter, r *http.Request) {
	vendorID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	points, err := h.Loyalty.Balance(r.Context(), userID(r), vendorID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"points": points})
}

func (h *MiscHandler) validatePromo(w http.ResponseWriter, r *http.Request) {
	var req PromoReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if _, ok := h.Promos.Lookup(code); !ok {
		writeJSON(w, http.StatusOK, PromoResp{Message: "Invalid code"})
		return
	}
	writeJSON(w, http.StatusOK, PromoResp{
		Valid:    true,
		Discount: h.Promos.Discount(code, req.Subtotal),
		Message:  code + " applied",
	})
}
