package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/relaydesk/bulk-gateway/internal/model"
	"github.com/relaydesk/bulk-gateway/internal/repository"
	"github.com/relaydesk/bulk-gateway/pkg/logger"
)

var (
	ErrConfirmationRequired = errors.New("recipient list exceeds threshold, explicit confirmation required")
	ErrUnknownContact       = errors.New("recipient list contains unknown contacts")
	ErrNotFound             = errors.New("job not found")
	ErrInvalidTransition    = errors.New("action not allowed from current job status")
)

const (
	DefaultChunkSize             = 100
	DefaultConfirmationThreshold = 20
)

type JobRepository interface {
	Create(ctx context.Context, job *model.BulkJob) (*model.BulkJob, error)
	Get(ctx context.Context, id string) (*model.BulkJob, error)
	List(ctx context.Context, f model.JobFilter) ([]*model.BulkJob, int64, error)
	UpdateStatus(ctx context.Context, id string, to model.JobStatus, from ...model.JobStatus) error
	FinalizeIfComplete(ctx context.Context, id string) (model.JobStatus, bool, error)
	GetWithRecipients(ctx context.Context, id string) (*model.JobWithRecipients, error)
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type RecipientRepository interface {
	BulkCreate(ctx context.Context, recipients []*model.BulkRecipient) error
}

type ContactRepository interface {
	GetByIDs(ctx context.Context, ids []string) ([]*model.Contact, error)
}

// ChunkPublisher is the work-queue side the service needs.
type ChunkPublisher interface {
	PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error)
}

type JobService struct {
	jobRepo               JobRepository
	recipientRepo         RecipientRepository
	contactRepo           ContactRepository
	queue                 ChunkPublisher
	chunkSize             int
	confirmationThreshold int
}

func NewJobService(jobRepo JobRepository, recipientRepo RecipientRepository, contactRepo ContactRepository, queue ChunkPublisher) *JobService {
	return &JobService{
		jobRepo:               jobRepo,
		recipientRepo:         recipientRepo,
		contactRepo:           contactRepo,
		queue:                 queue,
		chunkSize:             DefaultChunkSize,
		confirmationThreshold: DefaultConfirmationThreshold,
	}
}

func (s *JobService) SetChunkSize(size int) {
	if size > 0 {
		s.chunkSize = size
	}
}

func (s *JobService) SetConfirmationThreshold(threshold int) {
	if threshold > 0 {
		s.confirmationThreshold = threshold
	}
}

// Create validates the request, writes the job plus one pending row per
// recipient in a single transaction, then enqueues one chunk message
// per fixed-size slice of the list. The job is left PENDING; the first
// worker to dequeue a chunk moves it to IN_PROGRESS, which keeps a job
// with no running workers visibly stuck at PENDING.
func (s *JobService) Create(ctx context.Context, p model.JobCreateRequest) (*model.BulkJob, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	contactIDs := dedupe(p.ContactIDs)

	if len(contactIDs) > s.confirmationThreshold && !p.Confirmed {
		return nil, fmt.Errorf("%w: %d recipients, threshold %d",
			ErrConfirmationRequired, len(contactIDs), s.confirmationThreshold)
	}

	contacts, err := s.contactRepo.GetByIDs(ctx, contactIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve contacts: %w", err)
	}
	if missing := missingIDs(contactIDs, contacts); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContact, strings.Join(missing, ", "))
	}

	byID := make(map[string]*model.Contact, len(contacts))
	for _, c := range contacts {
		byID[c.ID] = c
	}

	job := &model.BulkJob{
		ID:              uuid.NewString(),
		CreatedBy:       p.CreatedBy,
		Channel:         p.Channel,
		Content:         p.Content,
		TemplateRef:     p.TemplateRef,
		TotalRecipients: len(contactIDs),
		Status:          model.JobStatusPending,
	}

	recipients := make([]*model.BulkRecipient, len(contactIDs))
	for i, id := range contactIDs {
		recipients[i] = &model.BulkRecipient{
			JobID:     job.ID,
			ContactID: id,
			Address:   byID[id].Address(p.Channel),
			Status:    model.RecipientStatusPending,
		}
	}

	var created *model.BulkJob
	err = s.jobRepo.WithinTransaction(ctx, func(ctx context.Context) error {
		c, err := s.jobRepo.Create(ctx, job)
		if err != nil {
			return fmt.Errorf("create job: %w", err)
		}
		created = c
		if err := s.recipientRepo.BulkCreate(ctx, recipients); err != nil {
			return fmt.Errorf("create recipients: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Enqueue outside the transaction so workers never race a chunk
	// against an uncommitted job row.
	chunks := model.ChunkContactIDs(contactIDs, s.chunkSize)
	for seq, chunk := range chunks {
		msg := model.ChunkMessage{
			JobID:       created.ID,
			Seq:         seq,
			Channel:     created.Channel,
			Content:     created.Content,
			TemplateRef: created.TemplateRef,
			ContactIDs:  chunk,
		}
		metadata := map[string]string{
			"job_id": created.ID,
			"seq":    strconv.Itoa(seq),
		}
		if _, err := s.queue.PublishJSON(ctx, msg, metadata); err != nil {
			return nil, fmt.Errorf("enqueue chunk %d/%d: %w", seq+1, len(chunks), err)
		}
	}

	logger.Info("bulk job submitted",
		"job_id", created.ID,
		"channel", string(created.Channel),
		"recipients", created.TotalRecipients,
		"chunks", len(chunks))

	return created, nil
}

// Pause is advisory: chunks already held by a worker still finish,
// only not-yet-dequeued chunks wait.
func (s *JobService) Pause(ctx context.Context, id string) error {
	return s.transition(ctx, id, model.JobStatusPaused, model.JobStatusInProgress)
}

func (s *JobService) Resume(ctx context.Context, id string) error {
	if err := s.transition(ctx, id, model.JobStatusInProgress, model.JobStatusPaused); err != nil {
		return err
	}

	// A chunk that finished while the job was paused could not perform
	// the terminal transition (it requires in_progress), so the resumed
	// job may already have every recipient accounted for. The recipient
	// rows are the source of truth, so a failed check here is logged
	// rather than failing the resume that already happened.
	status, finalized, err := s.jobRepo.FinalizeIfComplete(ctx, id)
	if err != nil {
		logger.Error("resume: completion check failed", "job_id", id, "error", err)
		return nil
	}
	if finalized {
		logger.Info("job finished", "job_id", id, "status", string(status))
	}
	return nil
}

func (s *JobService) Cancel(ctx context.Context, id string) error {
	return s.transition(ctx, id, model.JobStatusCancelled,
		model.JobStatusPending, model.JobStatusInProgress, model.JobStatusPaused)
}

// Apply dispatches an operator control action.
func (s *JobService) Apply(ctx context.Context, id string, action model.ControlAction) error {
	switch action {
	case model.ActionPause:
		return s.Pause(ctx, id)
	case model.ActionResume:
		return s.Resume(ctx, id)
	case model.ActionCancel:
		return s.Cancel(ctx, id)
	default:
		return fmt.Errorf("unknown control action %q", action)
	}
}

func (s *JobService) transition(ctx context.Context, id string, to model.JobStatus, from ...model.JobStatus) error {
	err := s.jobRepo.UpdateStatus(ctx, id, to, from...)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		if errors.Is(err, repository.ErrInvalidTransition) {
			return fmt.Errorf("%w: cannot move job %s to %s", ErrInvalidTransition, id, to)
		}
		return err
	}
	logger.Info("job status changed", "job_id", id, "status", string(to))
	return nil
}

func (s *JobService) Get(ctx context.Context, id string) (*model.BulkJob, error) {
	job, err := s.jobRepo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

func (s *JobService) List(ctx context.Context, f model.JobFilter) ([]*model.BulkJob, int64, error) {
	return s.jobRepo.List(ctx, f)
}

func (s *JobService) GetWithRecipients(ctx context.Context, id string) (*model.JobWithRecipients, error) {
	job, err := s.jobRepo.GetWithRecipients(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func missingIDs(requested []string, found []*model.Contact) []string {
	present := make(map[string]struct{}, len(found))
	for _, c := range found {
		present[c.ID] = struct{}{}
	}
	var missing []string
	for _, id := range requested {
		if _, ok := present[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}
