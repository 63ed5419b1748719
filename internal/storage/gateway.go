package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// Gateway is the sole typed entry point for blob storage. Every
// operation is retried with bounded exponential backoff; callers see a
// retryable error only once the retry attempts are exhausted.
type Gateway struct {
	client *s3.Client
	presign *s3.PresignClient
}

// NewGateway wraps an S3 client with the gateway's retry and presign
// behavior.
func NewGateway(client *s3.Client) *Gateway {
	return &Gateway{
		client:  client,
		presign: s3.NewPresignClient(client),
	}
}

// Head returns object metadata, or a *NotFoundError if absent.
func (g *Gateway) Head(ctx context.Context, ref Ref) (*HeadResult, error) {
	var out *s3.HeadObjectOutput
	err := withRetry(ctx, func() error {
		var headErr error
		out, headErr = g.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: &ref.Bucket,
			Key:    &ref.Key,
		})
		return headErr
	})
	if err != nil {
		if isNotFound(err) {
			return nil, &NotFoundError{Ref: ref}
		}
		return nil, fmt.Errorf("head %s/%s: %w", ref.Bucket, ref.Key, err)
	}

	result := &HeadResult{}
	if out.ContentLength != nil {
		result.Size = uint64(*out.ContentLength)
	}
	if out.ContentType != nil {
		result.ContentType = *out.ContentType
	}
	if out.LastModified != nil {
		result.LastModified = *out.LastModified
	}
	if out.ETag != nil {
		result.ETag = *out.ETag
	}
	return result, nil
}

func isNotFound(err error) bool {
	if aerr, ok := asAPIError(err); ok {
		switch aerr.ErrorCode() {
		case "NotFound", "NoSuchKey", "404":
			return true
		}
	}
	return false
}

func asAPIError(err error) (smithy.APIError, bool) {
	var apiErr smithy.APIError
	for err != nil {
		if ae, ok := err.(smithy.APIError); ok {
			return ae, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return apiErr, false
}

// Get returns a lazily-consumed byte stream for the object. Callers
// must Close it.
func (g *Gateway) Get(ctx context.Context, ref Ref) (io.ReadCloser, error) {
	var out *s3.GetObjectOutput
	err := withRetry(ctx, func() error {
		var getErr error
		out, getErr = g.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: &ref.Bucket,
			Key:    &ref.Key,
		})
		return getErr
	})
	if err != nil {
		if isNotFound(err) {
			return nil, &NotFoundError{Ref: ref}
		}
		return nil, fmt.Errorf("get %s/%s: %w", ref.Bucket, ref.Key, err)
	}
	return out.Body, nil
}

// smallObjectLimit is the cutoff at or above which PutSmall refuses and the
// caller must use MultipartUpload instead.
const smallObjectLimit = 5 * 1024 * 1024

// PutSmall uploads a body in a single request. Bodies of 5 MiB or more
// must go through MultipartUpload.
func (g *Gateway) PutSmall(ctx context.Context, ref Ref, body []byte, contentType string) error {
	if len(body) >= smallObjectLimit {
		return fmt.Errorf("putSmall: body of %d bytes exceeds %d byte limit, use MultipartUpload", len(body), smallObjectLimit)
	}
	return withRetry(ctx, func() error {
		_, err := g.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        &ref.Bucket,
			Key:           &ref.Key,
			Body:          bytes.NewReader(body),
			ContentType:   aws.String(contentType),
			ContentLength: aws.Int64(int64(len(body))),
		})
		return err
	})
}

// PresignOptions configures a Presign call.
type PresignOptions struct {
	TTL                time.Duration
	ResponseDisposition string // e.g. `attachment; filename="converted.mp3"`
}

// Presign returns a time-limited download URL for ref.
func (g *Gateway) Presign(ctx context.Context, ref Ref, opts PresignOptions) (string, error) {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 1 * time.Hour
	}

	input := &s3.GetObjectInput{
		Bucket: &ref.Bucket,
		Key:    &ref.Key,
	}
	if opts.ResponseDisposition != "" {
		input.ResponseContentDisposition = aws.String(opts.ResponseDisposition)
	}

	var url string
	err := withRetry(ctx, func() error {
		out, presignErr := g.presign.PresignGetObject(ctx, input, s3.WithPresignExpires(ttl))
		if presignErr != nil {
			return presignErr
		}
		url = out.URL
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("presign %s/%s: %w", ref.Bucket, ref.Key, err)
	}
	return url, nil
}

// List returns up to limit object keys under prefix, used by the
// orchestrator to resolve uploaded input objects.
func (g *Gateway) List(ctx context.Context, bucket, prefix string, limit int) ([]string, error) {
	var keys []string
	err := withRetry(ctx, func() error {
		keys = nil
		out, err := g.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:  &bucket,
			Prefix:  &prefix,
			MaxKeys: aws.Int32(int32(limit)),
		})
		if err != nil {
			return err
		}
		for _, obj := range out.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s/%s*: %w", bucket, prefix, err)
	}
	return keys, nil
}
