package handlers

import (
	"context"
	"errors"
	"strconv"

	"github.com/fasthttp/router"
	"github.com/relaydesk/bulk-gateway/internal/model"
	"github.com/relaydesk/bulk-gateway/internal/services"
	xhttp "github.com/relaydesk/bulk-gateway/pkg/http"
)

type ContactService interface {
	Get(ctx context.Context, id string) (*model.Contact, error)
	List(ctx context.Context, f model.ContactFilter) ([]*model.Contact, int64, error)
}

type ContactHandler struct {
	svc ContactService
}

func RegisterContactRoutes(e *router.Group, h *ContactHandler) {
	e.GET("/contacts", h.ListContacts)
	e.GET("/contacts/{id}", h.GetContact)
}

func NewContactHandler(contactService ContactService) *ContactHandler {
	return &ContactHandler{
		svc: contactService,
	}
}

type listContactsResponse struct {
	Items []*model.Contact `json:"items"`
	Total int64            `json:"total"`
}

func (h *ContactHandler) GetContact(ctx *xhttp.RequestCtx) {
	id := param(ctx, "id")
	contact, err := h.svc.Get(ctx, id)
	if err != nil {
		if errors.Is(err, services.ErrContactNotFound) {
			writeError(ctx, 404, "contact not found")
			return
		}
		writeError(ctx, 500, err.Error())
		return
	}
	writeJSON(ctx, 200, contact)
}

func (h *ContactHandler) ListContacts(ctx *xhttp.RequestCtx) {
	var f model.ContactFilter

	if v := query(ctx, "search"); v != "" {
		f.Search = &v
	}
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Limit = n
		}
	}
	if v := query(ctx, "offset"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Offset = n
		}
	}

	items, total, err := h.svc.List(ctx, f)
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 200, listContactsResponse{Items: items, Total: total})
}
