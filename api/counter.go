package api

import (
	"net/http"

	"github.com/nhalm/canonlog"

	"github.com/nhalm/tapcount/profile"
	"github.com/nhalm/tapcount/service"
)

type stateQuery struct {
	UserID UserID `query:"userId" validate:"omitempty,max=64,printascii"`
}

// incrementRequest carries no validate tags: field bounds are checked by
// the service and reported as service.KindInvalidInput.
type incrementRequest struct {
	UserID      UserID `json:"userId"`
	DisplayName string `json:"displayName"`
	Username    string `json:"username"`
	PfpURL      string `json:"pfpUrl"`
}

type counterHandlers struct {
	svc *service.Service
}

func (h *counterHandlers) get(_ http.ResponseWriter, r *http.Request) {
	var q stateQuery
	if !Query(r, &q) {
		return
	}

	snap, err := h.svc.GetState(r.Context(), string(q.UserID))
	if err != nil {
		storeFailure(r, err)
		return
	}
	SetResponse(r, http.StatusOK, snap)
}

func (h *counterHandlers) increment(_ http.ResponseWriter, r *http.Request) {
	var req incrementRequest
	if !JSON(r, &req) {
		return
	}

	snap, err := h.svc.Increment(r.Context(), string(req.UserID), profile.Profile{
		DisplayName: req.DisplayName,
		Username:    req.Username,
		PfpURL:      req.PfpURL,
	})

	switch service.KindOf(err) {
	case service.KindNone:
		SetResponse(r, http.StatusOK, snap)
	case service.KindCooldown, service.KindConsecutive:
		SetResponse(r, http.StatusBadRequest, snap)
	case service.KindInvalidInput:
		if _, ok := canonlog.TryGetLogger(r.Context()); ok {
			canonlog.InfoAdd(r.Context(), "invalid_input", err.Error())
		}
		SetError(r, ErrInvalidBody)
	default:
		storeFailure(r, err)
	}
}

// storeFailure logs the underlying cause and answers with a generic 500.
func storeFailure(r *http.Request, err error) {
	ctx := r.Context()
	if _, ok := canonlog.TryGetLogger(ctx); ok {
		canonlog.ErrorAdd(ctx, err)
	}
	SetError(r, ErrStoreUnavailable)
}
