package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	// ErrDLQEntryNotFound is returned when the entry id is not in the DLQ stream.
	ErrDLQEntryNotFound = errors.New("dlq entry not found")
	// ErrMaxReplaysExceeded is returned when an entry has been replayed
	// up to the configured ceiling already.
	ErrMaxReplaysExceeded = errors.New("maximum replays exceeded")
)

// DLQEntry is a message that exhausted its receive budget on the main
// stream, as written by moveToDeadLetterQueue.
type DLQEntry struct {
	ID            string            `json:"id"`
	Data          []byte            `json:"data"`
	OriginalID    string            `json:"original_id"`
	OriginalQueue string            `json:"original_queue"`
	Attempts      int               `json:"attempts"`
	Replays       int               `json:"replays"`
	FailedAt      time.Time         `json:"failed_at"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// DLQName is the dead-letter stream paired with this queue.
func (q *Queue) DLQName() string {
	return q.config.Name + ":dlq"
}

// ListDLQ reads up to limit dead-letter entries without consuming them.
func (q *Queue) ListDLQ(ctx context.Context, limit int64) ([]*DLQEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	messages, err := q.adapter.XRange(q.DLQName(), "-", "+", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read dlq: %w", err)
	}

	entries := make([]*DLQEntry, 0, len(messages))
	for _, msg := range messages {
		entries = append(entries, dlqEntryFromStream(msg.ID, msg.Values))
	}
	return entries, nil
}

// ReplayDLQ re-publishes the entry's original payload onto the work
// stream, carrying the replay counter in message metadata so a repeat
// failure lands back in the DLQ with its history intact, then removes
// the entry. Entries at or above maxReplays are rejected.
func (q *Queue) ReplayDLQ(ctx context.Context, entryID string, maxReplays int) (*DLQEntry, error) {
	messages, err := q.adapter.XRange(q.DLQName(), entryID, entryID, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to read dlq entry: %w", err)
	}
	if len(messages) == 0 {
		return nil, ErrDLQEntryNotFound
	}

	entry := dlqEntryFromStream(messages[0].ID, messages[0].Values)
	if entry.Replays >= maxReplays {
		return nil, fmt.Errorf("%w: entry=%s, replays=%d", ErrMaxReplaysExceeded, entryID, entry.Replays)
	}

	entry.Replays++
	metadata := make(map[string]string, len(entry.Metadata)+1)
	for k, v := range entry.Metadata {
		metadata[k] = v
	}
	metadata["replays"] = strconv.Itoa(entry.Replays)

	if _, err := q.Publish(ctx, entry.Data, metadata); err != nil {
		return nil, fmt.Errorf("failed to republish dlq entry: %w", err)
	}

	if err := q.adapter.XDel(q.DLQName(), entryID); err != nil {
		// The payload is back on the work stream; a stale DLQ row is
		// the lesser failure, surface it anyway.
		return entry, fmt.Errorf("failed to remove replayed dlq entry: %w", err)
	}

	return entry, nil
}

func dlqEntryFromStream(id string, values map[string]interface{}) *DLQEntry {
	entry := &DLQEntry{
		ID:       id,
		Metadata: make(map[string]string),
	}

	for k, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		switch k {
		case "data":
			entry.Data = []byte(s)
		case "original_id":
			entry.OriginalID = s
		case "original_queue":
			entry.OriginalQueue = s
		case "attempts":
			entry.Attempts, _ = strconv.Atoi(s)
		case "failed_at":
			if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
				entry.FailedAt = time.Unix(unix, 0)
			}
		default:
			if len(k) > 5 && k[:5] == "meta_" {
				entry.Metadata[k[5:]] = s
			}
		}
	}

	if replays, ok := entry.Metadata["replays"]; ok {
		entry.Replays, _ = strconv.Atoi(replays)
	}

	return entry
}
