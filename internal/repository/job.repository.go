package repository

import (
	"context"
	"errors"
	"time"

	"github.com/relaydesk/bulk-gateway/internal/model"
	"github.com/relaydesk/bulk-gateway/pkg/pg"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a job does not exist.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned when the requested status change
	// is not permitted from the job's current state.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// activeStatuses are the non-terminal states. Count and status updates
// are guarded on these so terminal jobs stay immutable.
var activeStatuses = []string{
	string(model.JobStatusPending),
	string(model.JobStatusInProgress),
	string(model.JobStatusPaused),
}

type JobRepository struct {
	*pg.DB
}

func NewJobRepository(db *pg.DB) *JobRepository {
	return &JobRepository{
		db,
	}
}

func (r *JobRepository) Create(ctx context.Context, job *model.BulkJob) (*model.BulkJob, error) {
	entity := toJobEntity(job)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toJobModel(entity), nil
}

func (r *JobRepository) Get(ctx context.Context, id string) (*model.BulkJob, error) {
	var entity JobEntity
	err := r.Read(ctx).WithContext(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toJobModel(&entity), nil
}

func (r *JobRepository) List(ctx context.Context, f model.JobFilter) ([]*model.BulkJob, int64, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&JobEntity{})

	if f.Status != nil {
		q = q.Where("status = ?", string(*f.Status))
	}
	if f.Channel != nil {
		q = q.Where("channel = ?", string(*f.Channel))
	}
	if f.CreatedBy != nil && *f.CreatedBy != "" {
		q = q.Where("created_by = ?", *f.CreatedBy)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at < ?", *f.To)
	}

	// Count before pagination
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "created_at"
	if f.Desc {
		order += " DESC"
	} else {
		order += " ASC"
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*JobEntity
	if err := q.Order(order).Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toJobModels(entities), total, nil
}

// UpdateStatus moves the job to the target status, but only when its
// current status is one of the listed source states. The guard runs
// inside the UPDATE itself so two racing callers cannot both win.
func (r *JobRepository) UpdateStatus(ctx context.Context, id string, to model.JobStatus, from ...model.JobStatus) error {
	sources := make([]string, len(from))
	for i, s := range from {
		sources[i] = string(s)
	}

	updates := map[string]interface{}{"status": string(to)}
	if to.Terminal() {
		now := time.Now().UTC()
		updates["completed_at"] = &now
	}

	result := r.Write(ctx).WithContext(ctx).
		Model(&JobEntity{}).
		Where("id = ? AND status IN ?", id, sources).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		// Distinguish a missing job from a guard miss.
		var count int64
		if err := r.Read(ctx).WithContext(ctx).
			Model(&JobEntity{}).
			Where("id = ?", id).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrInvalidTransition
	}

	return nil
}

// AddCounts atomically adds a chunk's tally onto the job aggregates.
// The increment is additive in SQL, never a read-modify-write, because
// chunks of the same job are processed concurrently by independent
// workers. Terminal jobs are excluded by the status guard, so cancelled
// or finished jobs never see their counts move.
func (r *JobRepository) AddCounts(ctx context.Context, id string, sentDelta, failedDelta int) error {
	if sentDelta == 0 && failedDelta == 0 {
		return nil
	}

	result := r.Write(ctx).WithContext(ctx).
		Model(&JobEntity{}).
		Where("id = ? AND status IN ?", id, activeStatuses).
		Updates(map[string]interface{}{
			"sent_count":   gorm.Expr("sent_count + ?", sentDelta),
			"failed_count": gorm.Expr("failed_count + ?", failedDelta),
		})

	if result.Error != nil {
		return result.Error
	}
	// RowsAffected == 0 means the job went terminal first; the counts
	// are frozen and the delta is dropped on purpose.
	return nil
}

// FinalizeIfComplete transitions an in-progress job whose recipients
// are all terminal to its final state: FAILED when every recipient
// failed, COMPLETED otherwise. The whole check runs inside one guarded
// UPDATE so only a single worker performs the transition. It returns
// the resulting status and whether this call did the finalizing.
func (r *JobRepository) FinalizeIfComplete(ctx context.Context, id string) (model.JobStatus, bool, error) {
	now := time.Now().UTC()
	result := r.Write(ctx).WithContext(ctx).
		Model(&JobEntity{}).
		Where("id = ? AND status = ? AND total_recipients > 0 AND sent_count + failed_count = total_recipients",
			id, string(model.JobStatusInProgress)).
		Updates(map[string]interface{}{
			"status": gorm.Expr("CASE WHEN failed_count = total_recipients THEN ? ELSE ? END",
				string(model.JobStatusFailed), string(model.JobStatusCompleted)),
			"completed_at": &now,
		})

	if result.Error != nil {
		return "", false, result.Error
	}
	if result.RowsAffected == 0 {
		return "", false, nil
	}

	job, err := r.Get(ctx, id)
	if err != nil {
		return "", false, err
	}
	return job.Status, true, nil
}

// GetWithRecipients loads the job and all its recipient outcomes in a
// single aggregated query.
func (r *JobRepository) GetWithRecipients(ctx context.Context, id string) (*model.JobWithRecipients, error) {
	var entity JobWithRecipientsEntity
	err := r.Read(ctx).WithContext(ctx).
		Table("bulk_jobs AS j").
		Select(`
            j.id                                    AS id,
            j.created_by                            AS created_by,
            j.channel                               AS channel,
            j.content                               AS content,
            j.template_ref                          AS template_ref,
            j.total_recipients                      AS total_recipients,
            j.sent_count                            AS sent_count,
            j.failed_count                          AS failed_count,
            j.status                                AS status,
            j.created_at                            AS created_at,

            COALESCE(
                json_agg(
                    json_build_object(
                        'job_id', r.job_id,
                        'contact_id', r.contact_id,
                        'address', r.address,
                        'status', r.status,
                        'fail_reason', r.fail_reason,
                        'error_detail', r.error_detail,
                        'provider_message_id', r.provider_message_id,
                        'sent_at', r.sent_at
                    )
                    ORDER BY r.contact_id
                ) FILTER (WHERE r.contact_id IS NOT NULL),
                '[]'::json
            )                                       AS recipients
        `).
		Joins("LEFT JOIN bulk_recipients AS r ON r.job_id = j.id").
		Where("j.id = ?", id).
		Group(`
            j.id,
            j.created_by,
            j.channel,
            j.content,
            j.template_ref,
            j.total_recipients,
            j.sent_count,
            j.failed_count,
            j.status,
            j.created_at
        `).
		First(&entity).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return toJobWithRecipientsModel(&entity), nil
}
