// Package jobstore provides durable CRUD and TTL-bounded lifecycle
// management for conversion jobs, backed by DynamoDB.
package jobstore

import "time"

// JobStatus is the lifecycle state of a conversion job.
type JobStatus string

const (
	StatusCreated    JobStatus = "CREATED"
	StatusProcessing JobStatus = "PROCESSING"
	StatusCompleted  JobStatus = "COMPLETED"
	StatusFailed     JobStatus = "FAILED"
)

// JobTTL is the lifetime DynamoDB's native TTL mechanism enforces on a job
// record from creation.
const JobTTL = 24 * time.Hour

// BlobRef identifies an immutable object in the storage gateway.
type BlobRef struct {
	Bucket string `dynamodbav:"bucket"`
	Key    string `dynamodbav:"key"`
	Size   uint64 `dynamodbav:"size,omitempty"`
}

// Job is the authoritative record for one conversion.
type Job struct {
	JobID     string    `dynamodbav:"jobId"`
	Status    JobStatus `dynamodbav:"status"`
	InputRef  BlobRef   `dynamodbav:"inputRef"`
	OutputRef *BlobRef  `dynamodbav:"outputRef,omitempty"`
	Format    string    `dynamodbav:"format"`
	Quality   string    `dynamodbav:"quality"`
	Error     *string   `dynamodbav:"error,omitempty"`
	CreatedAt time.Time `dynamodbav:"createdAt,unixtime"`
	UpdatedAt time.Time `dynamodbav:"updatedAt,unixtime"`
	TTL       int64     `dynamodbav:"ttl"`
}

// validTransitions enumerates the only status changes UpdateStatus accepts.
// CREATED -> PROCESSING -> {COMPLETED, FAILED}, plus the early-failure edge
// CREATED -> FAILED (input validated but pipeline never started).
var validTransitions = map[JobStatus]map[JobStatus]bool{
	StatusCreated: {
		StatusProcessing: true,
		StatusFailed:      true,
	},
	StatusProcessing: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
}

// ValidTransition reports whether from -> to is one of the state machine's
// permitted edges. Terminal statuses (COMPLETED, FAILED) accept no further
// transitions.
func ValidTransition(from, to JobStatus) bool {
	edges, ok := validTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// IsTerminal reports whether status is one of the two terminal states.
func IsTerminal(status JobStatus) bool {
	return status == StatusCompleted || status == StatusFailed
}
