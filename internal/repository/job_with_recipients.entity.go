package repository

import (
	"encoding/json"
	"time"

	"github.com/relaydesk/bulk-gateway/internal/model"
)

type JobWithRecipientsEntity struct {
	ID              string          `gorm:"column:id"`
	CreatedBy       string          `gorm:"column:created_by"`
	Channel         string          `gorm:"column:channel"`
	Content         string          `gorm:"column:content"`
	TemplateRef     *string         `gorm:"column:template_ref"`
	TotalRecipients int             `gorm:"column:total_recipients"`
	SentCount       int             `gorm:"column:sent_count"`
	FailedCount     int             `gorm:"column:failed_count"`
	Status          string          `gorm:"column:status"`
	CreatedAt       time.Time       `gorm:"column:created_at"`
	Recipients      json.RawMessage `gorm:"column:recipients;type:json"`
}

func toJobWithRecipientsModel(e *JobWithRecipientsEntity) *model.JobWithRecipients {
	if e == nil {
		return nil
	}

	job := &model.JobWithRecipients{
		BulkJob: model.BulkJob{
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
		},
	}

	var recipients []*model.BulkRecipient
	if len(e.Recipients) > 0 && string(e.Recipients) != "[]" {
		if err := json.Unmarshal(e.Recipients, &recipients); err == nil {
			job.Recipients = recipients
		} else {
			job.Recipients = []*model.BulkRecipient{}
		}
	} else {
		job.Recipients = []*model.BulkRecipient{}
	}

	return job
}
