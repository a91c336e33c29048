package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nhalm/tapcount/notify"
)

type notificationHandlers struct {
	registry *notify.Registry
}

func userParam(r *http.Request) (string, bool) {
	id := chi.URLParam(r, "userId")
	if err := validate.Var(id, "required,max=64,printascii"); err != nil {
		SetError(r, ErrBadRequest.WithParam("Invalid user id", "userId"))
		return "", false
	}
	return id, true
}

func (h *notificationHandlers) get(_ http.ResponseWriter, r *http.Request) {
	userID, ok := userParam(r)
	if !ok {
		return
	}

	d, err := h.registry.Get(r.Context(), userID)
	if err != nil {
		storeFailure(r, err)
		return
	}
	if d == nil {
		SetError(r, ErrNotFound.With("No notification details for user"))
		return
	}
	SetResponse(r, http.StatusOK, d)
}

func (h *notificationHandlers) put(_ http.ResponseWriter, r *http.Request) {
	userID, ok := userParam(r)
	if !ok {
		return
	}

	var d notify.Details
	if !JSON(r, &d) {
		return
	}

	if err := h.registry.Set(r.Context(), userID, d); err != nil {
		storeFailure(r, err)
		return
	}
	SetResponse(r, http.StatusOK, d)
}

func (h *notificationHandlers) delete(_ http.ResponseWriter, r *http.Request) {
	userID, ok := userParam(r)
	if !ok {
		return
	}

	if err := h.registry.Delete(r.Context(), userID); err != nil {
		storeFailure(r, err)
		return
	}
	SetResponse(r, http.StatusNoContent, nil)
}
