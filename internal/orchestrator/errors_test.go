package orchestrator

import (
	"errors"
	"net/http"
	"testing"
)

func TestStatusCodeFromTypedError(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindNotFound, http.StatusNotFound},
		{KindPermission, http.StatusForbidden},
		{KindThrottled, http.StatusTooManyRequests},
		{KindTimeout, http.StatusRequestTimeout},
		{KindGone, http.StatusGone},
		{KindInternal, http.StatusInternalServerError},
	}

	for _, c := range cases {
		err := newErr(c.kind, "message")
		if got := StatusCode(err); got != c.want {
			t.Errorf("StatusCode(%s) = %d, want %d", c.kind, got, c.want)
		}
	}
}

func TestStatusCodeFallsBackToMessageMatching(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{errors.New("job not found"), http.StatusNotFound},
		{errors.New("invalid format"), http.StatusBadRequest},
		{errors.New("quota exceeded"), http.StatusTooManyRequests},
		{errors.New("request timeout"), http.StatusRequestTimeout},
		{errors.New("permission denied"), http.StatusForbidden},
		{errors.New("something went wrong"), http.StatusInternalServerError},
	}

	for _, c := range cases {
		if got := StatusCode(c.err); got != c.want {
			t.Errorf("StatusCode(%q) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := wrapErr(KindInternal, "operation failed", cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
	if err.Error() != "operation failed: root cause" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestNewErrHasNoWrappedCause(t *testing.T) {
	err := newErr(KindValidation, "bad request")
	if err.Unwrap() != nil {
		t.Error("expected newErr to have no wrapped cause")
	}
	if err.Error() != "bad request" {
		t.Errorf("Error() = %q, want %q", err.Error(), "bad request")
	}
}
