package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/smithy-go"
)

func TestIsNotFound(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"no such key", &smithy.GenericAPIError{Code: "NoSuchKey"}, true},
		{"not found", &smithy.GenericAPIError{Code: "NotFound"}, true},
		{"wrapped no such key", fmt.Errorf("head: %w", &smithy.GenericAPIError{Code: "NoSuchKey"}), true},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := isNotFound(c.err); got != c.want {
				t.Errorf("isNotFound(%v) = %v, want %v", c.err, got, c.want)
			}
		})
	}
}

func TestAsAPIErrorUnwrapsChain(t *testing.T) {
	root := &smithy.GenericAPIError{Code: "SlowDown"}
	wrapped := fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", root))

	ae, ok := asAPIError(wrapped)
	if !ok {
		t.Fatal("expected asAPIError to find the wrapped API error")
	}
	if ae.ErrorCode() != "SlowDown" {
		t.Errorf("ErrorCode() = %q, want SlowDown", ae.ErrorCode())
	}
}

func TestAsAPIErrorNoMatch(t *testing.T) {
	if _, ok := asAPIError(errors.New("boom")); ok {
		t.Error("expected asAPIError to report no match for a plain error")
	}
}

func TestNotFoundErrorMessage(t *testing.T) {
	err := &NotFoundError{Ref: Ref{Bucket: "audio-bucket", Key: "uploads/abc.wav"}}
	want := "object not found: audio-bucket/uploads/abc.wav"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
