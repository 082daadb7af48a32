package repository

import (
	"time"

	"github.com/relaydesk/bulk-gateway/internal/model"
)

type RecipientEntity struct {
	JobID             string     `db:"job_id"     gorm:"primaryKey;column:job_id;type:uuid"`
	ContactID         string     `db:"contact_id" gorm:"primaryKey;column:contact_id;type:uuid"`
	Address           string     `db:"address"    gorm:"column:address;not null"`
	Status            string     `db:"status"     gorm:"column:status;not null;index"`
	FailReason        *string    `db:"fail_reason"         gorm:"column:fail_reason"`
	ErrorDetail       *string    `db:"error_detail"        gorm:"column:error_detail"`
	ProviderMessageID *string    `db:"provider_message_id" gorm:"column:provider_message_id"`
	SentAt            *time.Time `db:"sent_at"    gorm:"column:sent_at"`
	CreatedAt         time.Time  `db:"created_at" gorm:"column:created_at;autoCreateTime"`
}

func (RecipientEntity) TableName() string {
	return "bulk_recipients"
}

func toRecipientEntity(m *model.BulkRecipient) *RecipientEntity {
	if m == nil {
		return nil
	}
	e := &RecipientEntity{
		JobID:             m.JobID,
		ContactID:         m.ContactID,
		Address:           m.Address,
		Status:            string(m.Status),
		ErrorDetail:       m.ErrorDetail,
		ProviderMessageID: m.ProviderMessageID,
		SentAt:            m.SentAt,
		CreatedAt:         m.CreatedAt,
	}
	if m.FailReason != nil {
		reason := string(*m.FailReason)
		e.FailReason = &reason
	}
	return e
}

func toRecipientModel(e *RecipientEntity) *model.BulkRecipient {
	if e == nil {
		return nil
	}
	m := &model.BulkRecipient{
		JobID:             e.JobID,
		ContactID:         e.ContactID,
		Address:           e.Address,
		Status:            model.RecipientStatus(e.Status),
		ErrorDetail:       e.ErrorDetail,
		ProviderMessageID: e.ProviderMessageID,
		SentAt:            e.SentAt,
		CreatedAt:         e.CreatedAt,
	}
	if e.FailReason != nil {
		reason := model.FailReason(*e.FailReason)
		m.FailReason = &reason
	}
	return m
}

func toRecipientModels(entities []*RecipientEntity) []*model.BulkRecipient {
	if entities == nil {
		return nil
	}
	models := make([]*model.BulkRecipient, len(entities))
	for i, e := range entities {
		models[i] = toRecipientModel(e)
	}
	return models
}
