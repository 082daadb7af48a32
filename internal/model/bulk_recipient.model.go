package model

import "time"

// RecipientStatus moves forward only: pending → sent or pending → failed.
type RecipientStatus string

const (
	RecipientStatusPending RecipientStatus = "pending"
	RecipientStatusSent    RecipientStatus = "sent"
	RecipientStatusFailed  RecipientStatus = "failed"
)

func (s RecipientStatus) Terminal() bool {
	return s == RecipientStatusSent || s == RecipientStatusFailed
}

// FailReason classifies a recipient-level failure.
type FailReason string

const (
	FailReasonPolicy    FailReason = "policy"    // opt-in or allow-list gate
	FailReasonCancelled FailReason = "cancelled" // job cancelled before send
	FailReasonProvider  FailReason = "provider"  // provider rejected the send
)

type BulkRecipient struct {
	JobID             string          `json:"job_id"     gorm:"primaryKey;column:job_id;type:uuid"`
	ContactID         string          `json:"contact_id" gorm:"primaryKey;column:contact_id;type:uuid"`
	Address           string          `json:"address"    gorm:"column:address;not null"`
	Status            RecipientStatus `json:"status"     gorm:"column:status;not null;index"`
	FailReason        *FailReason     `json:"fail_reason,omitempty"  gorm:"column:fail_reason"`
	ErrorDetail       *string         `json:"error_detail,omitempty" gorm:"column:error_detail"`
	ProviderMessageID *string         `json:"provider_message_id,omitempty" gorm:"column:provider_message_id"`
	SentAt            *time.Time      `json:"sent_at,omitempty" gorm:"column:sent_at"`
	CreatedAt         time.Time       `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

func (BulkRecipient) TableName() string { return "bulk_recipients" }
