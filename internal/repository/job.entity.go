package repository

import (
	"time"

	"github.com/relaydesk/bulk-gateway/internal/model"
)

type JobEntity struct {
	ID              string     `db:"id"               gorm:"primaryKey;column:id;type:uuid"`
	CreatedBy       string     `db:"created_by"       gorm:"column:created_by;not null;index"`
	Channel         string     `db:"channel"          gorm:"column:channel;not null"`
	Content         string     `db:"content"          gorm:"column:content;not null"`
	TemplateRef     *string    `db:"template_ref"     gorm:"column:template_ref"`
	TotalRecipients int        `db:"total_recipients" gorm:"column:total_recipients;not null"`
	SentCount       int        `db:"sent_count"       gorm:"column:sent_count;not null;default:0"`
	FailedCount     int        `db:"failed_count"     gorm:"column:failed_count;not null;default:0"`
	Status          string     `db:"status"           gorm:"column:status;not null;index"`
	CreatedAt       time.Time  `db:"created_at"       gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time  `db:"updated_at"       gorm:"column:updated_at;autoUpdateTime"`
	CompletedAt     *time.Time `db:"completed_at"     gorm:"column:completed_at"`
}

func (JobEntity) TableName() string {
	return "bulk_jobs"
}

func toJobEntity(m *model.BulkJob) *JobEntity {
	if m == nil {
		return nil
	}
	return &JobEntity{
		ID:              m.ID,
		CreatedBy:       m.CreatedBy,
		Channel:         string(m.Channel),
		Content:         m.Content,
		TemplateRef:     m.TemplateRef,
		TotalRecipients: m.TotalRecipients,
		SentCount:       m.SentCount,
		FailedCount:     m.FailedCount,
		Status:          string(m.Status),
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
		CompletedAt:     m.CompletedAt,
	}
}

func toJobModel(e *JobEntity) *model.BulkJob {
	if e == nil {
		return nil
	}
	return &model.BulkJob{
		ID:              e.ID,
		CreatedBy:       e.CreatedBy,
		Channel:         model.Channel(e.Channel),
		Content:         e.Content,
		TemplateRef:     e.TemplateRef,
		TotalRecipients: e.TotalRecipients,
		SentCount:       e.SentCount,
		FailedCount:     e.FailedCount,
		Status:          model.JobStatus(e.Status),
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
		CompletedAt:     e.CompletedAt,
	}
}

func toJobModels(entities []*JobEntity) []*model.BulkJob {
	if entities == nil {
		return nil
	}
	models := make([]*model.BulkJob, len(entities))
	for i, e := range entities {
		models[i] = toJobModel(e)
	}
	return models
}
