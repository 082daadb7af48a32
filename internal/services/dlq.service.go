package services

import (
	"context"
	"errors"

	"github.com/relaydesk/bulk-gateway/internal/queue"
	"github.com/relaydesk/bulk-gateway/pkg/logger"
)

var (
	ErrDLQEntryNotFound   = errors.New("dlq entry not found")
	ErrMaxRetriesExceeded = errors.New("dlq entry reached the replay ceiling")
)

const DefaultMaxReplays = 5

// DLQQueue is the dead-letter side of the work queue.
type DLQQueue interface {
	ListDLQ(ctx context.Context, limit int64) ([]*queue.DLQEntry, error)
	ReplayDLQ(ctx context.Context, entryID string, maxReplays int) (*queue.DLQEntry, error)
}

// DLQService exposes operator-triggered inspection and replay of chunk
// messages that exhausted their receive budget.
type DLQService struct {
	queue      DLQQueue
	maxReplays int
}

func NewDLQService(q DLQQueue) *DLQService {
	return &DLQService{
		queue:      q,
		maxReplays: DefaultMaxReplays,
	}
}

func (s *DLQService) SetMaxReplays(ceiling int) {
	if ceiling > 0 {
		s.maxReplays = ceiling
	}
}

func (s *DLQService) List(ctx context.Context, limit int64) ([]*queue.DLQEntry, error) {
	return s.queue.ListDLQ(ctx, limit)
}

func (s *DLQService) Replay(ctx context.Context, entryID string) (*queue.DLQEntry, error) {
	entry, err := s.queue.ReplayDLQ(ctx, entryID, s.maxReplays)
	if err != nil {
		if errors.Is(err, queue.ErrDLQEntryNotFound) {
			return nil, ErrDLQEntryNotFound
		}
		if errors.Is(err, queue.ErrMaxReplaysExceeded) {
			return nil, ErrMaxRetriesExceeded
		}
		return entry, err
	}

	logger.Info("dlq entry replayed", "entry_id", entryID, "replays", entry.Replays)
	return entry, nil
}
