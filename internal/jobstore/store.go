package jobstore

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/oklog/ulid/v2"
)

// item is the DynamoDB record shape for a Job: a single-table design
// keyed by jobId, with PK/SK composite keys distinguishing job metadata
// from progress records.
type item struct {
	PK        string  `dynamodbav:"PK"`
	SK        string  `dynamodbav:"SK"`
	JobID     string  `dynamodbav:"jobId"`
	Status    string  `dynamodbav:"status"`
	InputRef  BlobRef `dynamodbav:"inputRef"`
	OutputRef *BlobRef `dynamodbav:"outputRef,omitempty"`
	Format    string  `dynamodbav:"format"`
	Quality   string  `dynamodbav:"quality"`
	Error     *string `dynamodbav:"error,omitempty"`
	CreatedAt int64   `dynamodbav:"createdAt"`
	UpdatedAt int64   `dynamodbav:"updatedAt"`
	TTL       int64   `dynamodbav:"ttl"`
}

func (it item) toJob() Job {
	return Job{
		JobID:     it.JobID,
		Status:    JobStatus(it.Status),
		InputRef:  it.InputRef,
		OutputRef: it.OutputRef,
		Format:    it.Format,
		Quality:   it.Quality,
		Error:     it.Error,
		CreatedAt: time.Unix(it.CreatedAt, 0).UTC(),
		UpdatedAt: time.Unix(it.UpdatedAt, 0).UTC(),
		TTL:       it.TTL,
	}
}

func jobKey(jobID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "JOB#" + jobID},
		"SK": &types.AttributeValueMemberS{Value: "METADATA"},
	}
}

// Store handles DynamoDB operations for conversion jobs.
type Store struct {
	client    *dynamodb.Client
	tableName string
}

// NewStore creates a DynamoDB-backed job store.
func NewStore(client *dynamodb.Client, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

// NewJobID generates a monotonically-increasing, timestamp-prefixed
// opaque job identifier.
func NewJobID() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	return id.String(), nil
}

// CreateRequest holds the fields supplied by the orchestrator when
// creating a job.
type CreateRequest struct {
	InputRef BlobRef
	Format   string
	Quality  string
}

// CreateJob inserts a new job record with status=CREATED.
func (s *Store) CreateJob(ctx context.Context, req CreateRequest) (*Job, error) {
	jobID, err := NewJobID()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	it := item{
		PK:        "JOB#" + jobID,
		SK:        "METADATA",
		JobID:     jobID,
		Status:    string(StatusCreated),
		InputRef:  req.InputRef,
		Format:    req.Format,
		Quality:   req.Quality,
		CreatedAt: now.Unix(),
		UpdatedAt: now.Unix(),
		TTL:       now.Add(JobTTL).Unix(),
	}

	av, err := attributevalue.MarshalMap(it)
	if err != nil {
		return nil, fmt.Errorf("marshal job item: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &s.tableName,
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		return nil, fmt.Errorf("put job item: %w", err)
	}

	job := it.toJob()
	return &job, nil
}

// GetJob retrieves a job by id. Returns (nil, nil) if the job does not
// exist (expired via TTL or never created).
func (s *Store) GetJob(ctx context.Context, jobID string) (*Job, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key:       jobKey(jobID),
	})
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if result.Item == nil {
		return nil, nil
	}

	var it item
	if err := attributevalue.UnmarshalMap(result.Item, &it); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	job := it.toJob()
	return &job, nil
}

// UpdateStatus transitions a job to a new status, validating the edge
// against the state machine in types.go before writing. outputRef and
// errMsg are optional depending on the target status.
func (s *Store) UpdateStatus(ctx context.Context, jobID string, from, to JobStatus, outputRef *BlobRef, errMsg *string) error {
	if !ValidTransition(from, to) {
		return fmt.Errorf("invalid status transition %s -> %s for job %s", from, to, jobID)
	}

	now := time.Now().UTC()
	updateExpr := "SET #status = :status, updatedAt = :updatedAt"
	exprNames := map[string]string{"#status": "status"}
	exprValues := map[string]types.AttributeValue{
		":status":    &types.AttributeValueMemberS{Value: string(to)},
		":updatedAt": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Unix())},
		":from":      &types.AttributeValueMemberS{Value: string(from)},
	}

	if outputRef != nil {
		av, err := attributevalue.Marshal(*outputRef)
		if err != nil {
			return fmt.Errorf("marshal output ref: %w", err)
		}
		updateExpr += ", outputRef = :outputRef"
		exprValues[":outputRef"] = av
	}
	if errMsg != nil {
		updateExpr += ", #error = :error"
		exprNames["#error"] = "error"
		exprValues[":error"] = &types.AttributeValueMemberS{Value: *errMsg}
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       jobKey(jobID),
		UpdateExpression:          aws.String(updateExpr),
		ConditionExpression:       aws.String("#status = :from"),
		ExpressionAttributeNames:  exprNames,
		ExpressionAttributeValues: exprValues,
	})
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

// ScanFilter narrows a Scan to jobs matching a status (and, for the
// recovery sweep, a staleness cutoff applied by the caller post-scan
// since DynamoDB Scan filters run server-side but the comparison here
// is simple enough to do after unmarshaling).
type ScanFilter struct {
	Status JobStatus
}

// ScanPage returns a single page of up to limit jobs matching filter,
// along with an opaque cursor for the next page (empty when there is
// no more data). Cursor-based, single-page semantics make it suitable
// for a paginated listing endpoint, unlike Scan's full-sweep behavior.
func (s *Store) ScanPage(ctx context.Context, filter ScanFilter, limit int, cursor string) ([]Job, string, error) {
	input := &dynamodb.ScanInput{
		TableName: &s.tableName,
		Limit:     aws.Int32(int32(limit)),
	}
	if filter.Status != "" {
		input.FilterExpression = aws.String("#status = :status")
		input.ExpressionAttributeNames = map[string]string{"#status": "status"}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(filter.Status)},
		}
	}
	if cursor != "" {
		input.ExclusiveStartKey = jobKey(cursor)
	}

	out, err := s.client.Scan(ctx, input)
	if err != nil {
		return nil, "", fmt.Errorf("scan jobs page: %w", err)
	}

	var items []item
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
		return nil, "", fmt.Errorf("unmarshal scan page: %w", err)
	}

	jobs := make([]Job, 0, len(items))
	for _, it := range items {
		jobs = append(jobs, it.toJob())
	}

	nextCursor := ""
	if out.LastEvaluatedKey != nil {
		if pkAttr, ok := out.LastEvaluatedKey["PK"].(*types.AttributeValueMemberS); ok {
			nextCursor = strings.TrimPrefix(pkAttr.Value, "JOB#")
		}
	}
	return jobs, nextCursor, nil
}

// Scan returns up to limit jobs matching filter (every matching job when
// limit is 0), for recovery/orphan scans. It follows DynamoDB's pages
// internally until limit is reached or the table is exhausted, and
// exposes no cursor; the paginated listing endpoint uses ScanPage.
func (s *Store) Scan(ctx context.Context, filter ScanFilter, limit int) ([]Job, error) {
	input := &dynamodb.ScanInput{
		TableName: &s.tableName,
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}
	if filter.Status != "" {
		input.FilterExpression = aws.String("#status = :status")
		input.ExpressionAttributeNames = map[string]string{"#status": "status"}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(filter.Status)},
		}
	}

	var jobs []Job
	paginator := dynamodb.NewScanPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan jobs: %w", err)
		}
		var items []item
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("unmarshal scan page: %w", err)
		}
		for _, it := range items {
			jobs = append(jobs, it.toJob())
		}
		if limit > 0 && len(jobs) >= limit {
			jobs = jobs[:limit]
			break
		}
	}
	return jobs, nil
}
