package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gateway "github.com/relaydesk/bulk-gateway/internal/gateways"
	"github.com/relaydesk/bulk-gateway/internal/model"
	"github.com/relaydesk/bulk-gateway/internal/queue"
	"github.com/relaydesk/bulk-gateway/internal/repository"
	"github.com/relaydesk/bulk-gateway/pkg/logger"
	"github.com/relaydesk/bulk-gateway/pkg/prom"
)

// ErrJobPaused is returned so the queue redelivers the chunk after its
// visibility timeout; a paused chunk must not be lost or counted.
var ErrJobPaused = errors.New("job is paused")

type JobStore interface {
	Get(ctx context.Context, id string) (*model.BulkJob, error)
	UpdateStatus(ctx context.Context, id string, to model.JobStatus, from ...model.JobStatus) error
	AddCounts(ctx context.Context, id string, sentDelta, failedDelta int) error
	FinalizeIfComplete(ctx context.Context, id string) (model.JobStatus, bool, error)
}

type RecipientStore interface {
	GetStatuses(ctx context.Context, jobID string, contactIDs []string) (map[string]model.RecipientStatus, error)
	MarkSent(ctx context.Context, jobID, contactID, providerMessageID string, sentAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, jobID, contactID string, reason model.FailReason, detail string) (bool, error)
}

type ContactStore interface {
	GetByIDs(ctx context.Context, ids []string) ([]*model.Contact, error)
}

type Sender interface {
	Send(ctx context.Context, channel model.Channel, req *gateway.SendRequest) (*gateway.SendResponse, error)
}

// ChunkProcessor executes the per-chunk delivery algorithm: gate on job
// status, skip recipients that already reached a terminal state, apply
// the opt-in/allow-list policy before any provider call, send under the
// channel rate gate, then fold the chunk tally onto the job aggregates.
type ChunkProcessor struct {
	jobs       JobStore
	recipients RecipientStore
	contacts   ContactStore
	sender     Sender
	rateGate   *RateGate
	metrics    *ServiceMetrics
}

func NewChunkProcessor(jobs JobStore, recipients RecipientStore, contacts ContactStore, sender Sender, rateGate *RateGate, metrics *ServiceMetrics) *ChunkProcessor {
	if metrics == nil {
		metrics = NewServiceMetrics()
	}
	return &ChunkProcessor{
		jobs:       jobs,
		recipients: recipients,
		contacts:   contacts,
		sender:     sender,
		rateGate:   rateGate,
		metrics:    metrics,
	}
}

func (p *ChunkProcessor) GetType() string {
	return "chunk"
}

// Process handles one chunk message. Returning nil acknowledges the
// message; returning an error leaves it for redelivery and, after the
// receive budget, the DLQ.
func (p *ChunkProcessor) Process(ctx context.Context, queueMessage *queue.Message) error {
	start := time.Now()

	var chunk model.ChunkMessage
	if err := json.Unmarshal(queueMessage.Data, &chunk); err != nil {
		logger.Error("failed to unmarshal chunk message", "error", err)
		return err // malformed payload, let the receive budget route it to the DLQ
	}

	job, err := p.jobs.Get(ctx, chunk.JobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			logger.Error("chunk references unknown job", "job_id", chunk.JobID, "seq", chunk.Seq)
		}
		return err
	}

	switch {
	case job.Status == model.JobStatusCancelled:
		// Cancelled: fail every still-pending recipient without touching
		// the provider. Job counts are frozen at cancellation.
		return p.failChunk(ctx, &chunk, model.FailReasonCancelled, "job cancelled")
	case job.Status.Terminal():
		// Completed or failed already; a redelivered chunk has nothing
		// left to do.
		return nil
	case job.Status == model.JobStatusPaused:
		return ErrJobPaused
	case job.Status == model.JobStatusPending:
		// First chunk dequeued moves the job to in_progress. Losing this
		// race to a sibling chunk is fine.
		err := p.jobs.UpdateStatus(ctx, chunk.JobID, model.JobStatusInProgress, model.JobStatusPending)
		if err != nil && !errors.Is(err, repository.ErrInvalidTransition) {
			return err
		}
	}

	sentDelta, failedDelta, chunkErr := p.deliverChunk(ctx, &chunk)

	if err := p.jobs.AddCounts(ctx, chunk.JobID, sentDelta, failedDelta); err != nil {
		// The recipient rows are the durable record; a missed increment
		// is logged loudly rather than retried against marked rows.
		logger.Error("failed to add chunk tally onto job", "job_id", chunk.JobID, "seq", chunk.Seq,
			"sent", sentDelta, "failed", failedDelta, "error", err)
	}

	if status, finalized, err := p.jobs.FinalizeIfComplete(ctx, chunk.JobID); err != nil {
		logger.Error("failed to finalize job", "job_id", chunk.JobID, "error", err)
	} else if finalized {
		logger.Info("job finished", "job_id", chunk.JobID, "status", string(status))
	}

	if chunkErr != nil {
		p.metrics.RecordChunkFailure()
		return chunkErr
	}

	p.metrics.RecordChunk(time.Since(start), sentDelta, failedDelta)
	return nil
}

// deliverChunk attempts every still-pending recipient and returns the
// tally of newly terminal ones. A non-nil error means at least one
// recipient hit a transient failure and is still pending; the caller
// records what did complete and nacks the chunk for redelivery.
func (p *ChunkProcessor) deliverChunk(ctx context.Context, chunk *model.ChunkMessage) (int, int, error) {
	statuses, err := p.recipients.GetStatuses(ctx, chunk.JobID, chunk.ContactIDs)
	if err != nil {
		return 0, 0, fmt.Errorf("read recipient statuses: %w", err)
	}

	contacts, err := p.contacts.GetByIDs(ctx, chunk.ContactIDs)
	if err != nil {
		return 0, 0, fmt.Errorf("resolve contacts: %w", err)
	}
	byID := make(map[string]*model.Contact, len(contacts))
	for _, c := range contacts {
		byID[c.ID] = c
	}

	var sentDelta, failedDelta int
	var chunkErr error

	for _, contactID := range chunk.ContactIDs {
		// Redelivered chunk: recipients already terminal were counted by
		// the earlier pass, skip them entirely.
		if statuses[contactID].Terminal() {
			continue
		}

		contact, ok := byID[contactID]
		if !ok {
			if won := p.markFailed(ctx, chunk, contactID, model.FailReasonPolicy, "contact no longer exists"); won {
				failedDelta++
			}
			continue
		}

		if !contact.OptedIn(chunk.Channel) || !contact.Allowlisted(chunk.Channel) {
			if won := p.markFailed(ctx, chunk, contactID, model.FailReasonPolicy, "channel opt-in or allow-list not granted"); won {
				failedDelta++
			}
			continue
		}

		if err := p.rateGate.Wait(ctx, chunk.Channel); err != nil {
			chunkErr = fmt.Errorf("rate gate: %w", err)
			break
		}

		req := &gateway.SendRequest{
			MessageID: chunk.JobID + ":" + contactID,
			JobID:     chunk.JobID,
			Channel:   string(chunk.Channel),
			Address:   contact.Address(chunk.Channel),
			Content:   chunk.Content,
		}

		sendStart := time.Now()
		res, err := p.sender.Send(ctx, chunk.Channel, req)
		prom.ObserveSendDuration(string(chunk.Channel), time.Since(sendStart).Seconds())
		if err != nil {
			if !gateway.IsPermanent(err) {
				// Transient: leave the recipient pending so the
				// redelivered chunk retries it.
				logger.Warn("transient send failure, recipient stays pending",
					"job_id", chunk.JobID, "contact_id", contactID, "error", err)
				chunkErr = err
				continue
			}
			if won := p.markFailed(ctx, chunk, contactID, model.FailReasonProvider, err.Error()); won {
				failedDelta++
				prom.AddRecipientOutcome(string(chunk.Channel), "failed")
			}
			continue
		}

		won, err := p.recipients.MarkSent(ctx, chunk.JobID, contactID, res.ProviderMessageID, time.Now().UTC())
		if err != nil {
			logger.Error("failed to mark recipient sent", "job_id", chunk.JobID, "contact_id", contactID, "error", err)
			chunkErr = err
			continue
		}
		if won {
			sentDelta++
			prom.AddRecipientOutcome(string(chunk.Channel), "sent")
		}
	}

	return sentDelta, failedDelta, chunkErr
}

// failChunk marks every still-pending recipient failed without calling
// the provider. Used for chunks of cancelled jobs.
func (p *ChunkProcessor) failChunk(ctx context.Context, chunk *model.ChunkMessage, reason model.FailReason, detail string) error {
	statuses, err := p.recipients.GetStatuses(ctx, chunk.JobID, chunk.ContactIDs)
	if err != nil {
		return fmt.Errorf("read recipient statuses: %w", err)
	}

	for _, contactID := range chunk.ContactIDs {
		if statuses[contactID].Terminal() {
			continue
		}
		p.markFailed(ctx, chunk, contactID, reason, detail)
	}

	logger.Info("chunk dropped", "job_id", chunk.JobID, "seq", chunk.Seq, "reason", string(reason))
	return nil
}

func (p *ChunkProcessor) markFailed(ctx context.Context, chunk *model.ChunkMessage, contactID string, reason model.FailReason, detail string) bool {
	won, err := p.recipients.MarkFailed(ctx, chunk.JobID, contactID, reason, detail)
	if err != nil {
		logger.Error("failed to mark recipient failed",
			"job_id", chunk.JobID, "contact_id", contactID, "reason", string(reason), "error", err)
		return false
	}
	return won
}
