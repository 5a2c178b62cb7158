package model

import (
	"time"
)

// JobStatus represents the local state of an extraction batch job
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// NonTerminalStatuses are the statuses eligible for reconciliation polling.
var NonTerminalStatuses = []JobStatus{StatusPending, StatusProcessing}

// JobError represents one structured error recorded against a job
type JobError struct {
	DocumentKey string    `bson:"document_key,omitempty" json:"documentKey,omitempty"`
	Message     string    `bson:"message" json:"message"`
	Timestamp   time.Time `bson:"timestamp" json:"timestamp"`
}

// JobCounts tracks the document-level progress of a job
type JobCounts struct {
	TotalDocuments int `bson:"total_documents" json:"total_documents"`
	Processed      int `bson:"processed" json:"processed"`
	Succeeded      int `bson:"succeeded" json:"succeeded"`
	Failed         int `bson:"failed" json:"failed"`
	Blocked        int `bson:"blocked" json:"blocked"`
	Mismatched     int `bson:"mismatched" json:"mismatched"`
}

// Job represents one submitted extraction batch. The ID is the opaque
// identifier assigned by the remote extraction service.
type Job struct {
	ID               string     `bson:"_id" json:"id"`
	Status           JobStatus  `bson:"status" json:"status"`
	Counts           JobCounts  `bson:"counts" json:"counts"`
	Errors           []JobError `bson:"errors,omitempty" json:"errors,omitempty"`
	RetryAttempts    int        `bson:"retry_attempts" json:"retry_attempts"`
	RetriedDocuments int        `bson:"retried_documents" json:"retried_documents"`
	OutputLocation   string     `bson:"output_location,omitempty" json:"output_location,omitempty"`
	CreatedAt        time.Time  `bson:"created_at" json:"created_at"`
	StartedAt        *time.Time `bson:"started_at,omitempty" json:"started_at,omitempty"`
	CompletedAt      *time.Time `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
	UpdatedAt        time.Time  `bson:"updated_at" json:"updated_at"`
}

// Session is a read-side grouping of jobs created close together in time,
// typically a batch and its automatic resubmissions.
type Session struct {
	ID               string     `json:"id"`
	JobIDs           []string   `json:"job_ids"`
	Status           JobStatus  `json:"status"`
	Counts           JobCounts  `json:"counts"`
	Errors           []JobError `json:"errors,omitempty"`
	RetryAttempts    int        `json:"retry_attempts"`
	RetriedDocuments int        `json:"retried_documents"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}
