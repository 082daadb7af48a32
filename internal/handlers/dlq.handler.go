package handlers

import (
	"context"
	"errors"
	"strconv"

	"github.com/fasthttp/router"
	"github.com/relaydesk/bulk-gateway/internal/queue"
	"github.com/relaydesk/bulk-gateway/internal/services"
	xhttp "github.com/relaydesk/bulk-gateway/pkg/http"
)

type DLQService interface {
	List(ctx context.Context, limit int64) ([]*queue.DLQEntry, error)
	Replay(ctx context.Context, entryID string) (*queue.DLQEntry, error)
}

type DLQHandler struct {
	svc DLQService
}

func RegisterDLQRoutes(e *router.Group, h *DLQHandler) {
	e.GET("/bulk/dlq", h.ListEntries)
	e.POST("/bulk/dlq/{id}/replay", h.ReplayEntry)
}

func NewDLQHandler(dlqService DLQService) *DLQHandler {
	return &DLQHandler{
		svc: dlqService,
	}
}

type listDLQResponse struct {
	Items []*queue.DLQEntry `json:"items"`
}

func (h *DLQHandler) ListEntries(ctx *xhttp.RequestCtx) {
	limit := int64(100)
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.ParseInt(v, 10, 64); e == nil && n > 0 {
			limit = n
		}
	}

	items, err := h.svc.List(ctx, limit)
	if err != nil {
		writeError(ctx, 500, err.Error())
		return
	}
	writeJSON(ctx, 200, listDLQResponse{Items: items})
}

func (h *DLQHandler) ReplayEntry(ctx *xhttp.RequestCtx) {
	id := param(ctx, "id")

	entry, err := h.svc.Replay(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrDLQEntryNotFound):
			writeError(ctx, 404, "dlq entry not found")
		case errors.Is(err, services.ErrMaxRetriesExceeded):
			writeError(ctx, 409, err.Error())
		default:
			writeError(ctx, 500, err.Error())
		}
		return
	}
	writeJSON(ctx, 200, entry)
}
