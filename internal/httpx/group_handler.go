package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-menu-orders/internal/apperr"
	"github.com/ariefcatur/go-menu-orders/internal/catalog"
	"github.com/ariefcatur/go-menu-orders/internal/group"
	"github.com/ariefcatur/go-menu-orders/internal/orders"
	"github.com/ariefcatur/go-menu-orders/internal/pricing"
)

// GroupService is what the group routes need; *group.Service satisfies it.
type GroupService interface {
	Start(ctx context.Context, ownerID, vendorID int64) (*group.Group, error)
	Get(ctx context.Context, code string) (*group.Snapshot, error)
	AddLine(ctx context.Context, code, contributor string, line catalog.CartLine) (group.AddResult, error)
	Submit(ctx context.Context, code string, c pricing.Checkout) (*orders.Detail, error)
}

// Wire codes the group routes report instead of the engine's own.
const (
	codeGroupClosed = "group_not_found_or_closed"
	codeEmptyGroup  = "empty_group"
)

type StartGroupReq struct {
	VendorID int64 `json:"vendor_id" validate:"required,gt=0"`
}

type StartGroupResp struct {
	GroupID  int64        `json:"group_id"`
	Code     string       `json:"code"`
	VendorID int64        `json:"vendor_id"`
	Status   group.Status `json:"status"`
}

type AddGroupLineReq struct {
	UserName string `json:"user_name" validate:"max=64"`
	catalog.CartLine
}

type AddGroupLineResp struct {
	OK       bool  `json:"ok"`
	Subtotal int64 `json:"subtotal"`
	Count    int64 `json:"count"`
}

type GroupHandler struct {
	Groups GroupService
}

func (h *GroupHandler) Register(r chi.Router) {
	r.Post("/group/start", h.start)
	r.Get("/group/{code}", h.get)
	r.Post("/group/{code}/add", h.add)
	r.Post("/group/{code}/submit", h.submit)
}

func (h *GroupHandler) start(w http.ResponseWriter, r *http.Request) {
	var req StartGroupReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	g, err := h.Groups.Start(r.Context(), userID(r), req.VendorID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, StartGroupResp{GroupID: g.ID, Code: g.Code, VendorID: g.VendorID, Status: g.Status})
}

func (h *GroupHandler) get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Groups.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeGroupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *GroupHandler) add(w http.ResponseWriter, r *http.Request) {
	var req AddGroupLineReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	name := req.UserName
	if strings.TrimSpace(name) == "" {
		name = r.Header.Get("X-User-Name")
	}
	res, err := h.Groups.AddLine(r.Context(), chi.URLParam(r, "code"), name, req.CartLine)
	if err != nil {
		writeGroupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AddGroupLineResp{OK: true, Subtotal: res.Subtotal, Count: res.Count})
}

func (h *GroupHandler) submit(w http.ResponseWriter, r *http.Request) {
	var req checkoutContext
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	d, err := h.Groups.Submit(r.Context(), chi.URLParam(r, "code"), req.checkout())
	if err != nil {
		writeGroupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// writeGroupError hides whether a code never existed or was already used.
// Clients match on the error field, so it carries the wire code itself.
func writeGroupError(w http.ResponseWriter, r *http.Request, err error) {
	var e *apperr.Error
	switch {
	case errors.Is(err, apperr.ErrNotFound), apperr.HasCode(err, apperr.CodeAlreadySubmitted):
		writeJSON(w, http.StatusNotFound, errorBody{
			Error:   codeGroupClosed,
			Code:    codeGroupClosed,
			Message: "group not found or already submitted",
		})
	case apperr.HasCode(err, apperr.CodeEmptyGroup) && errors.As(err, &e):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: codeEmptyGroup, Code: codeEmptyGroup, Message: e.Message})
	default:
		writeError(w, r, err)
	}
}
