package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/redis/go-redis/v9"
)

// Record is the durable, polled view of a job's progress, distinct from
// the in-process Event stream: it is what GET /progress serves. Progress
// is -1 on failure, 0..100 otherwise; 100 with Stage==StageComplete is
// the sole terminal-success marker external observers may rely on.
type Record struct {
	JobID                 string    `json:"jobId"`
	Stage                 Stage     `json:"stage"`
	Message               string    `json:"message"`
	Progress              int       `json:"progress"`
	CurrentTime           string    `json:"currentTime,omitempty"`
	TotalDuration         string    `json:"totalDuration,omitempty"`
	EstimatedRemainingSec int       `json:"estimatedRemainingSec,omitempty"`
	Error                 string    `json:"error,omitempty"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

// recordTTL bounds how long a progress record lives in either tier once
// written. It is shorter than the job record's own TTL (jobstore.JobTTL).
const recordTTL = 1 * time.Hour

// fallbackItem is the DynamoDB shape for a Record, stored in the same
// table as jobstore's job items under a distinct sort key so a single
// table scan never confuses the two record kinds.
type fallbackItem struct {
	PK                    string `dynamodbav:"PK"`
	SK                    string `dynamodbav:"SK"`
	JobID                 string `dynamodbav:"jobId"`
	Stage                 string `dynamodbav:"stage"`
	Message               string `dynamodbav:"message"`
	Progress              int    `dynamodbav:"progress"`
	CurrentTime           string `dynamodbav:"currentTime,omitempty"`
	TotalDuration         string `dynamodbav:"totalDuration,omitempty"`
	EstimatedRemainingSec int    `dynamodbav:"estimatedRemainingSec,omitempty"`
	Error                 string `dynamodbav:"error,omitempty"`
	UpdatedAt             int64  `dynamodbav:"updatedAt"`
	TTL                   int64  `dynamodbav:"ttl"`
}

func progressKey(jobID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "JOB#" + jobID},
		"SK": &types.AttributeValueMemberS{Value: "PROGRESS"},
	}
}

// Channel is the two-tier progress store: Redis is the fast primary
// read/write path that clients poll against; DynamoDB is the durable
// fallback used when Redis misses or is unreachable, so a progress
// record outlives a cache eviction or a Redis outage.
type Channel struct {
	primary  *redis.Client
	fallback *dynamodb.Client
	table    string
	log      *slog.Logger
}

// NewChannel builds a Channel. log may be nil, in which case a discard
// logger is used.
func NewChannel(primary *redis.Client, fallback *dynamodb.Client, table string, log *slog.Logger) *Channel {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Channel{primary: primary, fallback: fallback, table: table, log: log}
}

func redisKey(jobID string) string {
	return "progress:" + jobID
}

// Set writes a progress record to the primary tier, falling back to the
// durable tier synchronously if the primary write fails so a caller
// never observes progress silently vanish because of a cache outage.
func (c *Channel) Set(ctx context.Context, rec Record) error {
	rec.UpdatedAt = time.Now().UTC()

	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal progress record: %w", err)
	}

	if err := c.primary.Set(ctx, redisKey(rec.JobID), body, recordTTL).Err(); err != nil {
		c.log.Warn("progress primary write failed, falling back", "jobId", rec.JobID, "error", err)
		return c.setFallback(ctx, rec)
	}
	return nil
}

func (c *Channel) setFallback(ctx context.Context, rec Record) error {
	it := fallbackItem{
		PK:                    "JOB#" + rec.JobID,
		SK:                    "PROGRESS",
		JobID:                 rec.JobID,
		Stage:                 string(rec.Stage),
		Message:               rec.Message,
		Progress:              rec.Progress,
		CurrentTime:           rec.CurrentTime,
		TotalDuration:         rec.TotalDuration,
		EstimatedRemainingSec: rec.EstimatedRemainingSec,
		Error:                 rec.Error,
		UpdatedAt:             rec.UpdatedAt.Unix(),
		TTL:                   time.Now().Add(recordTTL).Unix(),
	}
	av, err := attributevalue.MarshalMap(it)
	if err != nil {
		return fmt.Errorf("marshal fallback progress item: %w", err)
	}
	_, err = c.fallback.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("put fallback progress item: %w", err)
	}
	return nil
}

// Get reads the current progress record for jobID, trying the primary
// tier first and falling back to the durable tier on a miss or error.
// Returns (nil, nil) if no record exists in either tier.
func (c *Channel) Get(ctx context.Context, jobID string) (*Record, error) {
	body, err := c.primary.Get(ctx, redisKey(jobID)).Bytes()
	if err == nil {
		var rec Record
		if err := json.Unmarshal(body, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal progress record: %w", err)
		}
		return &rec, nil
	}
	if err != redis.Nil {
		c.log.Warn("progress primary read failed, falling back", "jobId", jobID, "error", err)
	}

	return c.getFallback(ctx, jobID)
}

func (c *Channel) getFallback(ctx context.Context, jobID string) (*Record, error) {
	out, err := c.fallback.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.table),
		Key:       progressKey(jobID),
	})
	if err != nil {
		return nil, fmt.Errorf("get fallback progress item: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}

	var it fallbackItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("unmarshal fallback progress item: %w", err)
	}
	return &Record{
		JobID:                 it.JobID,
		Stage:                 Stage(it.Stage),
		Message:               it.Message,
		Progress:              it.Progress,
		CurrentTime:           it.CurrentTime,
		TotalDuration:         it.TotalDuration,
		EstimatedRemainingSec: it.EstimatedRemainingSec,
		Error:                 it.Error,
		UpdatedAt:             time.Unix(it.UpdatedAt, 0).UTC(),
	}, nil
}

// MarkComplete records terminal success. Stage==StageComplete with
// Progress==100 is the only terminal-success signal a polling client
// may act on.
func (c *Channel) MarkComplete(ctx context.Context, jobID, message string) error {
	return c.Set(ctx, Record{JobID: jobID, Stage: StageComplete, Message: message, Progress: 100})
}

// MarkFailed records terminal failure with the error that caused it.
// Progress is set to -1, the documented failure sentinel.
func (c *Channel) MarkFailed(ctx context.Context, jobID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return c.Set(ctx, Record{JobID: jobID, Stage: StageFailed, Message: "conversion failed", Progress: -1, Error: msg})
}
