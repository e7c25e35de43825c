package events

import "time"

// DocumentStateEvent is emitted on every document status transition.
type DocumentStateEvent struct {
	DocumentID string    `json:"document_id"`
	OwnerID    string    `json:"owner_id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// JobAttemptEvent is emitted when a worker finishes one job attempt.
type JobAttemptEvent struct {
	JobID      string `json:"job_id"`
	DocumentID string `json:"document_id"`
	Attempt    int    `json:"attempt"`
	Result     string `json:"result"`
	Error      string `json:"error,omitempty"`
}
