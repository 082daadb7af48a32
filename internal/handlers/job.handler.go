package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/fasthttp/router"
	"github.com/relaydesk/bulk-gateway/internal/model"
	"github.com/relaydesk/bulk-gateway/internal/services"
	xhttp "github.com/relaydesk/bulk-gateway/pkg/http"
)

type JobService interface {
	Create(ctx context.Context, p model.JobCreateRequest) (*model.BulkJob, error)
	Apply(ctx context.Context, id string, action model.ControlAction) error
	Get(ctx context.Context, id string) (*model.BulkJob, error)
	List(ctx context.Context, f model.JobFilter) ([]*model.BulkJob, int64, error)
	GetWithRecipients(ctx context.Context, id string) (*model.JobWithRecipients, error)
}

type JobHandler struct {
	svc JobService
}

func RegisterJobRoutes(e *router.Group, h *JobHandler) {
	e.POST("/bulk/jobs", h.CreateJob)
	e.GET("/bulk/jobs", h.ListJobs)
	e.GET("/bulk/jobs/{id}", h.GetJob)
	e.GET("/bulk/jobs/{id}/recipients", h.GetJobWithRecipients)
	e.PUT("/bulk/jobs/{id}", h.ApplyAction)
}

func NewJobHandler(jobService JobService) *JobHandler {
	return &JobHandler{
		svc: jobService,
	}
}

type createJobRequest struct {
	CreatedBy   string   `json:"created_by"`
	Channel     string   `json:"channel"`
	ContactIDs  []string `json:"contact_ids"`
	Content     string   `json:"content"`
	TemplateRef *string  `json:"template_ref,omitempty"`
	Confirmed   bool     `json:"confirmed"`
}

type applyActionRequest struct {
	Action string `json:"action"`
}

type listJobsResponse struct {
	Items []*model.BulkJob `json:"items"`
	Total int64            `json:"total"`
}

type jobResponse struct {
	*model.BulkJob
	Progress int `json:"progress_percent"`
}

func toJobResponse(j *model.BulkJob) jobResponse {
	return jobResponse{BulkJob: j, Progress: j.ProgressPercent()}
}

/* --------------------------------- Routes ----------------------------------- */

func (h *JobHandler) CreateJob(ctx *xhttp.RequestCtx) {
	var req createJobRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	p := model.JobCreateRequest{
		CreatedBy:   req.CreatedBy,
		Channel:     model.Channel(req.Channel),
		ContactIDs:  req.ContactIDs,
		Content:     req.Content,
		TemplateRef: req.TemplateRef,
		Confirmed:   req.Confirmed,
	}
	job, err := h.svc.Create(ctx, p)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrConfirmationRequired):
			writeError(ctx, 409, err.Error())
		case errors.Is(err, services.ErrUnknownContact):
			writeError(ctx, 400, err.Error())
		default:
			writeError(ctx, 400, err.Error())
		}
		return
	}
	writeJSON(ctx, 201, toJobResponse(job))
}

func (h *JobHandler) GetJob(ctx *xhttp.RequestCtx) {
	id := param(ctx, "id")
	job, err := h.svc.Get(ctx, id)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			writeError(ctx, 404, "job not found")
			return
		}
		writeError(ctx, 500, err.Error())
		return
	}
	writeJSON(ctx, 200, toJobResponse(job))
}

func (h *JobHandler) GetJobWithRecipients(ctx *xhttp.RequestCtx) {
	id := param(ctx, "id")
	job, err := h.svc.GetWithRecipients(ctx, id)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			writeError(ctx, 404, "job not found")
			return
		}
		writeError(ctx, 500, err.Error())
		return
	}
	writeJSON(ctx, 200, job)
}

func (h *JobHandler) ApplyAction(ctx *xhttp.RequestCtx) {
	id := param(ctx, "id")

	var req applyActionRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	action := model.ControlAction(strings.ToLower(strings.TrimSpace(req.Action)))
	switch action {
	case model.ActionPause, model.ActionResume, model.ActionCancel:
	default:
		writeError(ctx, 400, "action must be one of pause, resume, cancel")
		return
	}

	if err := h.svc.Apply(ctx, id, action); err != nil {
		switch {
		case errors.Is(err, services.ErrNotFound):
			writeError(ctx, 404, "job not found")
		case errors.Is(err, services.ErrInvalidTransition):
			writeError(ctx, 409, err.Error())
		default:
			writeError(ctx, 500, err.Error())
		}
		return
	}

	job, err := h.svc.Get(ctx, id)
	if err != nil {
		writeError(ctx, 500, err.Error())
		return
	}
	writeJSON(ctx, 200, toJobResponse(job))
}

func (h *JobHandler) ListJobs(ctx *xhttp.RequestCtx) {
	var f model.JobFilter

	if v := query(ctx, "status"); v != "" {
		st := model.JobStatus(v)
		f.Status = &st
	}
	if v := query(ctx, "channel"); v != "" {
		ch := model.Channel(v)
		f.Channel = &ch
	}
	if v := query(ctx, "created_by"); v != "" {
		f.CreatedBy = &v
	}
	if v := query(ctx, "from"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.From = &t
		}
	}
	if v := query(ctx, "to"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.To = &t
		}
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
	if strings.EqualFold(query(ctx, "order"), "desc") {
		f.Desc = true
	}

	items, total, err := h.svc.List(ctx, f)
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 200, listJobsResponse{Items: items, Total: total})
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	body := ctx.PostBody()
	return json.Unmarshal(body, dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

func param(ctx *xhttp.RequestCtx, name string) string {
	if v, ok := ctx.UserValue(name).(string); ok {
		return v
	}
	return ""
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func parseTime(s string) (time.Time, error) {
	// Accept RFC3339 or YYYY-MM-DD
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
