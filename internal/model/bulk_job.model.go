package model

import (
	"errors"
	"math"
	"time"
)

// JobStatus is the lifecycle state of a bulk job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusPaused     JobStatus = "paused"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusCancelled  JobStatus = "cancelled"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further status or count mutation is permitted.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusCancelled || s == JobStatusFailed
}

// jobTransitions is the allowed operator/worker transition table.
// PENDING→IN_PROGRESS happens when a worker dequeues the first chunk,
// not at creation time.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusInProgress, JobStatusCancelled},
	JobStatusInProgress: {JobStatusPaused, JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
	JobStatusPaused:     {JobStatusInProgress, JobStatusCancelled},
}

// CanTransition reports whether s may move to the target status.
func (s JobStatus) CanTransition(to JobStatus) bool {
	for _, next := range jobTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type Channel string

const (
	ChannelWhatsApp Channel = "WHATSAPP"
	ChannelSMS      Channel = "SMS"
	ChannelEmail    Channel = "EMAIL"
	ChannelVoice    Channel = "VOICE"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelWhatsApp, ChannelSMS, ChannelEmail, ChannelVoice:
		return true
	}
	return false
}

type BulkJob struct {
	ID              string     `json:"id"               gorm:"primaryKey;column:id;type:uuid"`
	CreatedBy       string     `json:"created_by"       gorm:"column:created_by;not null;index"`
	Channel         Channel    `json:"channel"          gorm:"column:channel;not null"`
	Content         string     `json:"content"          gorm:"column:content;not null"`
	TemplateRef     *string    `json:"template_ref,omitempty" gorm:"column:template_ref"`
	TotalRecipients int        `json:"total_recipients" gorm:"column:total_recipients;not null"`
	SentCount       int        `json:"sent_count"       gorm:"column:sent_count;not null;default:0"`
	FailedCount     int        `json:"failed_count"     gorm:"column:failed_count;not null;default:0"`
	Status          JobStatus  `json:"status"           gorm:"column:status;not null;index"`
	CreatedAt       time.Time  `json:"created_at"       gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time  `json:"updated_at"       gorm:"column:updated_at;autoUpdateTime"`
	CompletedAt     *time.Time `json:"completed_at,omitempty" gorm:"column:completed_at"`
}

func (BulkJob) TableName() string { return "bulk_jobs" }

// ProgressPercent is round(100 * processed / total).
func (j *BulkJob) ProgressPercent() int {
	if j.TotalRecipients == 0 {
		return 0
	}
	processed := j.SentCount + j.FailedCount
	return int(math.Round(100 * float64(processed) / float64(j.TotalRecipients)))
}

// JobCreateRequest is the input for submitting a bulk job.
type JobCreateRequest struct {
	CreatedBy   string
	Channel     Channel
	ContactIDs  []string
	Content     string
	TemplateRef *string
	Confirmed   bool
}

func (p JobCreateRequest) Validate() error {
	if !p.Channel.Valid() {
		return errors.New("channel must be one of WHATSAPP, SMS, EMAIL, VOICE")
	}
	if len(p.ContactIDs) == 0 {
		return errors.New("recipient list is required")
	}
	if p.Content == "" {
		return errors.New("content is required")
	}
	return nil
}

// ControlAction is an operator request against a running job.
type ControlAction string

const (
	ActionPause  ControlAction = "pause"
	ActionResume ControlAction = "resume"
	ActionCancel ControlAction = "cancel"
)

// JobFilter controls List queries.
type JobFilter struct {
	Status    *JobStatus
	Channel   *Channel
	CreatedBy *string
	From      *time.Time
	To        *time.Time
	Limit     int // default 50
	Offset    int
	Desc      bool // order by created_at
}
