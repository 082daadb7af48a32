package repository

import (
	"context"
	"errors"
	"time"

	"github.com/relaydesk/bulk-gateway/internal/model"
	"github.com/relaydesk/bulk-gateway/pkg/pg"
	"gorm.io/gorm"
)

// ErrRecipientNotFound is returned when a (job, contact) pair does not exist.
var ErrRecipientNotFound = errors.New("recipient not found")

type RecipientRepository struct {
	*pg.DB
}

func NewRecipientRepository(db *pg.DB) *RecipientRepository {
	return &RecipientRepository{
		db,
	}
}

// BulkCreate inserts one pending row per recipient at job submission.
func (r *RecipientRepository) BulkCreate(ctx context.Context, recipients []*model.BulkRecipient) error {
	if len(recipients) == 0 {
		return nil
	}
	entities := make([]*RecipientEntity, len(recipients))
	for i, m := range recipients {
		entities[i] = toRecipientEntity(m)
	}
	return r.Write(ctx).WithContext(ctx).CreateInBatches(entities, 500).Error
}

func (r *RecipientRepository) Get(ctx context.Context, jobID, contactID string) (*model.BulkRecipient, error) {
	var entity RecipientEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("job_id = ? AND contact_id = ?", jobID, contactID).
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecipientNotFound
		}
		return nil, err
	}
	return toRecipientModel(&entity), nil
}

func (r *RecipientRepository) ListByJob(ctx context.Context, jobID string, status *model.RecipientStatus) ([]*model.BulkRecipient, error) {
	q := r.Read(ctx).WithContext(ctx).Where("job_id = ?", jobID)
	if status != nil {
		q = q.Where("status = ?", string(*status))
	}

	var entities []*RecipientEntity
	if err := q.Order("contact_id").Find(&entities).Error; err != nil {
		return nil, err
	}
	return toRecipientModels(entities), nil
}

// GetStatuses returns the current status of each listed contact in one
// query. Workers use it before processing a chunk so redelivered
// messages skip recipients that are already terminal.
func (r *RecipientRepository) GetStatuses(ctx context.Context, jobID string, contactIDs []string) (map[string]model.RecipientStatus, error) {
	var entities []*RecipientEntity
	err := r.Read(ctx).WithContext(ctx).
		Select("contact_id", "status").
		Where("job_id = ? AND contact_id IN ?", jobID, contactIDs).
		Find(&entities).Error
	if err != nil {
		return nil, err
	}

	statuses := make(map[string]model.RecipientStatus, len(entities))
	for _, e := range entities {
		statuses[e.ContactID] = model.RecipientStatus(e.Status)
	}
	return statuses, nil
}

// MarkSent flips a pending recipient to sent. The status guard lives in
// the UPDATE, so a redelivered chunk that races a finished one becomes
// a no-op; the returned bool reports whether this call won the write.
func (r *RecipientRepository) MarkSent(ctx context.Context, jobID, contactID, providerMessageID string, sentAt time.Time) (bool, error) {
	result := r.Write(ctx).WithContext(ctx).
		Model(&RecipientEntity{}).
		Where("job_id = ? AND contact_id = ? AND status = ?", jobID, contactID, string(model.RecipientStatusPending)).
		Updates(map[string]interface{}{
			"status":              string(model.RecipientStatusSent),
			"provider_message_id": providerMessageID,
			"sent_at":             sentAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkFailed flips a pending recipient to failed with a reason.
func (r *RecipientRepository) MarkFailed(ctx context.Context, jobID, contactID string, reason model.FailReason, detail string) (bool, error) {
	updates := map[string]interface{}{
		"status":      string(model.RecipientStatusFailed),
		"fail_reason": string(reason),
	}
	if detail != "" {
		updates["error_detail"] = detail
	}

	result := r.Write(ctx).WithContext(ctx).
		Model(&RecipientEntity{}).
		Where("job_id = ? AND contact_id = ? AND status = ?", jobID, contactID, string(model.RecipientStatusPending)).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// CountByStatus aggregates recipient states for a job. Used by tests
// and the audit surface to cross-check the job counters.
func (r *RecipientRepository) CountByStatus(ctx context.Context, jobID string) (map[model.RecipientStatus]int64, error) {
	type row struct {
		Status string
		Total  int64
	}
	var rows []row
	err := r.Read(ctx).WithContext(ctx).
		Model(&RecipientEntity{}).
		Select("status, COUNT(*) AS total").
		Where("job_id = ?", jobID).
		Group("status").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[model.RecipientStatus]int64, len(rows))
	for _, r := range rows {
		counts[model.RecipientStatus(r.Status)] = r.Total
	}
	return counts, nil
}
