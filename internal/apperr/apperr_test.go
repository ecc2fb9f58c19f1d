package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/splax/schemalog/internal/repository"
)

func TestFromStoreMapsSentinels(t *testing.T) {
	cases := []struct {
		in   error
		want Kind
	}{
		{repository.ErrNotFound, KindNotFound},
		{repository.ErrUniqueViolation, KindConflict},
		{repository.ErrForeignKeyViolation, KindBadRequest},
		{errors.New("broken pipe"), KindDatabase},
	}
	for _, tc := range cases {
		if got := KindOf(FromStore(tc.in)); got != tc.want {
			t.Fatalf("FromStore(%v): expected %s, got %s", tc.in, tc.want, got)
		}
	}
}

func TestFromStoreWrapsCause(t *testing.T) {
	cause := fmt.Errorf("read tcp: %w", errors.New("connection reset"))
	err := FromStore(cause)
	if !errors.Is(err, cause) {
		t.Fatal("mapped error must unwrap to its cause")
	}
}

func TestKindOfUnknownErrorIsInternal(t *testing.T) {
	if got := KindOf(errors.New("plain")); got != KindInternal {
		t.Fatalf("expected Internal for foreign errors, got %s", got)
	}
}

func TestAsFindsWrappedError(t *testing.T) {
	inner := NotFound("schema with id '%s' not found", "abc")
	wrapped := fmt.Errorf("handling request: %w", inner)
	appErr, ok := As(wrapped)
	if !ok || appErr.Kind != KindNotFound {
		t.Fatalf("expected to recover the wrapped error, got %v / %v", appErr, ok)
	}
}
