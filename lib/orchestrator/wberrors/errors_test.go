package wberrors

import (
	"errors"
	"net/http"
	"testing"
)

func TestKindOfClassifiesWrappedError(t *testing.T) {
	err := Wrap(TransientUpstream, "redis timeout", errors.New("dial tcp: i/o timeout"))
	if KindOf(err) != TransientUpstream {
		t.Fatalf("expected TransientUpstream, got %v", KindOf(err))
	}
	if !Is(err, TransientUpstream) {
		t.Fatal("expected Is to report true for the matching kind")
	}
}

func TestKindOfDefaultsUnclassifiedToFatal(t *testing.T) {
	if KindOf(errors.New("boom")) != Fatal {
		t.Fatal("expected an unclassified error to default to Fatal")
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		NotAuthenticated:  http.StatusUnauthorized,
		NotFound:          http.StatusNotFound,
		Conflict:          http.StatusConflict,
		NoCapacity:        http.StatusAccepted,
		BadInstance:       http.StatusBadGateway,
		TransientUpstream: http.StatusServiceUnavailable,
		PermissionDenied:  http.StatusForbidden,
		Fatal:             http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := kind.HTTPStatus(); got != want {
			t.Errorf("%s: expected status %d, got %d", kind, want, got)
		}
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("underlying")
	err := Wrap(Fatal, "context", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to see through to the wrapped cause")
	}
}
