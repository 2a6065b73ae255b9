package errdefs

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindExtraction(t *testing.T) {
	err := NotFound("project %s not found", "p1")
	if !IsNotFound(err) {
		t.Fatalf("expected not-found kind, got %v", GetKind(err))
	}
	if err.Error() != "project p1 not found" {
		t.Fatalf("unexpected message: %q", err.Error())
	}

	wrapped := fmt.Errorf("list projects: %w", err)
	if GetKind(wrapped) != KindNotFound {
		t.Fatalf("kind must survive wrapping, got %v", GetKind(wrapped))
	}
	if GetKind(errors.New("plain")) != KindUnknown {
		t.Fatal("untyped errors must classify as unknown")
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("dial unix /var/run/docker.sock: no such file")
	err := Unavailable(cause, "container engine unreachable")
	if !errors.Is(err, cause) {
		t.Fatal("cause must be reachable through errors.Is")
	}
	if !IsUnavailable(err) {
		t.Fatalf("expected unavailable kind, got %v", GetKind(err))
	}
	if err.Error() != "container engine unreachable: "+cause.Error() {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestValidationFields(t *testing.T) {
	err := ValidationFields("invalid project", map[string]string{"domain": "required"})
	if FieldsOf(err)["domain"] != "required" {
		t.Fatalf("expected field detail, got %v", FieldsOf(err))
	}
	if FieldsOf(errors.New("plain")) != nil {
		t.Fatal("untyped errors carry no fields")
	}
}

func TestWireNames(t *testing.T) {
	cases := map[Kind]string{
		KindValidation:        "validation",
		KindConflict:          "conflict",
		KindForbidden:         "forbidden",
		KindNotFound:          "not_found",
		KindAlreadyInProgress: "already_in_progress",
		KindInvalidTransition: "invalid_state_transition",
		KindUnavailable:       "engine_unavailable",
		KindTimeout:           "timeout",
		KindRoutingSync:       "routing_sync_failed",
		KindUnknown:           "unknown",
	}
	for kind, want := range cases {
		if kind.String() != want {
			t.Errorf("Kind(%d).String() = %q, want %q", kind, kind.String(), want)
		}
	}
}
