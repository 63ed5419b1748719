package progress

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// newTestChannel wires a Channel against an embedded miniredis primary.
// The DynamoDB fallback client is left nil: every case here is satisfied
// by the primary tier, so the fallback path is never exercised and a live
// table is not required.
func newTestChannel(t *testing.T) *Channel {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewChannel(client, nil, "jobs", nil)
}

func TestChannelSetGetRoundTrip(t *testing.T) {
	c := newTestChannel(t)
	ctx := context.Background()

	rec := Record{JobID: "job-1", Stage: StageStreaming, Message: "streaming conversion in progress", Progress: 42}
	if err := c.Set(ctx, rec); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := c.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("expected a record, got nil")
	}
	if got.Stage != StageStreaming || got.Progress != 42 || got.Message != rec.Message {
		t.Errorf("got %+v, want stage/message/progress to match %+v", got, rec)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be stamped by Set")
	}
}

func TestChannelMarkComplete(t *testing.T) {
	c := newTestChannel(t)
	ctx := context.Background()

	if err := c.MarkComplete(ctx, "job-2", "done"); err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}

	got, err := c.Get(ctx, "job-2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Stage != StageComplete || got.Progress != 100 || got.Message != "done" {
		t.Errorf("got %+v, want complete stage at 100%%", got)
	}
}

func TestChannelMarkFailed(t *testing.T) {
	c := newTestChannel(t)
	ctx := context.Background()

	cause := errString("transcoder exited with status 1")
	if err := c.MarkFailed(ctx, "job-3", cause); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	got, err := c.Get(ctx, "job-3")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Stage != StageFailed || got.Error != string(cause) {
		t.Errorf("got %+v, want failed stage with error %q", got, cause)
	}
	if got.Progress != -1 {
		t.Errorf("Progress = %d, want -1 failure sentinel", got.Progress)
	}
}

type errString string

func (e errString) Error() string { return string(e) }
