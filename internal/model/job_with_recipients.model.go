package model

// JobWithRecipients is the audit view: the job record together with
// every per-recipient outcome, as rendered by the admin detail page.
type JobWithRecipients struct {
	BulkJob
	Recipients []*BulkRecipient `json:"recipients"`
}
