package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// PartSize is the fixed part size for multipart uploads (all parts but
// the last must be at least this size).
const PartSize = 5 * 1024 * 1024

// UploadQueueDepth bounds how many parts may be in flight at once, which
// in turn bounds the pipeline's peak resident memory regardless of
// input size.
const UploadQueueDepth = 4

// MultipartSession is an open multipart upload. UploadPart calls may run
// concurrently up to UploadQueueDepth; Complete requires every part to
// have been acknowledged first.
type MultipartSession struct {
	gateway  *Gateway
	ref      Ref
	uploadID string

	mu    sync.Mutex
	parts []types.CompletedPart

	sem chan struct{}
}

// MultipartUpload begins a new multipart upload session for ref.
func (g *Gateway) MultipartUpload(ctx context.Context, ref Ref, contentType string) (*MultipartSession, error) {
	var uploadID string
	err := withRetry(ctx, func() error {
		out, err := g.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket:      &ref.Bucket,
			Key:         &ref.Key,
			ContentType: aws.String(contentType),
		})
		if err != nil {
			return err
		}
		uploadID = *out.UploadId
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create multipart upload %s/%s: %w", ref.Bucket, ref.Key, err)
	}

	return &MultipartSession{
		gateway:  g,
		ref:      ref,
		uploadID: uploadID,
		sem:      make(chan struct{}, UploadQueueDepth),
	}, nil
}

// UploadPart uploads part number n (1-indexed, ascending). Safe to call
// concurrently up to UploadQueueDepth times; beyond that, callers block
// until a slot frees, bounding peak memory.
func (s *MultipartSession) UploadPart(ctx context.Context, n int32, body []byte) error {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.sem }()
	return s.uploadPart(ctx, n, body)
}

// uploadPart does the actual PUT without touching the semaphore; callers
// that already hold a slot (UploadStream's read loop) call this directly
// so the slot is held from the moment a chunk is read, not from the
// moment the upload itself starts.
func (s *MultipartSession) uploadPart(ctx context.Context, n int32, body []byte) error {
	var etag string
	err := withRetry(ctx, func() error {
		out, err := s.gateway.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        &s.ref.Bucket,
			Key:           &s.ref.Key,
			UploadId:      &s.uploadID,
			PartNumber:    aws.Int32(n),
			Body:          bytes.NewReader(body),
			ContentLength: aws.Int64(int64(len(body))),
		})
		if err != nil {
			return err
		}
		etag = *out.ETag
		return nil
	})
	if err != nil {
		return fmt.Errorf("upload part %d: %w", n, err)
	}

	s.mu.Lock()
	s.parts = append(s.parts, types.CompletedPart{PartNumber: aws.Int32(n), ETag: aws.String(etag)})
	s.mu.Unlock()
	return nil
}

// Complete finalizes the upload. Parts are submitted sorted by ascending
// PartNumber, as S3 requires.
func (s *MultipartSession) Complete(ctx context.Context) (*HeadResult, error) {
	s.mu.Lock()
	parts := make([]types.CompletedPart, len(s.parts))
	copy(parts, s.parts)
	s.mu.Unlock()

	sort.Slice(parts, func(i, j int) bool { return *parts[i].PartNumber < *parts[j].PartNumber })

	var out *s3.CompleteMultipartUploadOutput
	err := withRetry(ctx, func() error {
		var completeErr error
		out, completeErr = s.gateway.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:   &s.ref.Bucket,
			Key:      &s.ref.Key,
			UploadId: &s.uploadID,
			MultipartUpload: &types.CompletedMultipartUpload{
				Parts: parts,
			},
		})
		return completeErr
	})
	if err != nil {
		return nil, fmt.Errorf("complete multipart upload %s/%s: %w", s.ref.Bucket, s.ref.Key, err)
	}

	result := &HeadResult{}
	if out.ETag != nil {
		result.ETag = *out.ETag
	}
	return result, nil
}

// Abort cancels the session, releasing any uploaded parts server-side.
// Safe to call after partial failure; idempotent against S3's own
// idempotent AbortMultipartUpload semantics.
func (s *MultipartSession) Abort(ctx context.Context) error {
	err := withRetry(ctx, func() error {
		_, err := s.gateway.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   &s.ref.Bucket,
			Key:      &s.ref.Key,
			UploadId: &s.uploadID,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("abort multipart upload %s/%s: %w", s.ref.Bucket, s.ref.Key, err)
	}
	return nil
}

// UploadStream drives an io.Reader through the multipart session,
// buffering PartSize chunks and uploading them with up to
// UploadQueueDepth requests in flight. A semaphore slot is acquired
// before each chunk is read, not just before its upload request is
// sent, so a reader that outpaces the uploader blocks instead of piling
// up unbounded in-flight PartSize buffers. It returns the total bytes
// uploaded. The last chunk may be smaller than PartSize.
func (s *MultipartSession) UploadStream(ctx context.Context, r io.Reader) (uint64, error) {
	var (
		total    uint64
		partNum  int32 = 1
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)

	fail := func(err error) {
		errOnce.Do(func() { firstErr = err })
	}

readLoop:
	for {
		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			fail(ctx.Err())
			break readLoop
		}

		buf := make([]byte, PartSize)
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			total += uint64(n)
			chunk := buf[:n]
			pn := partNum
			partNum++

			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-s.sem }()
				if err := s.uploadPart(ctx, pn, chunk); err != nil {
					fail(err)
				}
			}()
		} else {
			<-s.sem
		}

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			fail(readErr)
			break
		}
	}

	wg.Wait()
	if firstErr != nil {
		return total, firstErr
	}
	return total, nil
}
