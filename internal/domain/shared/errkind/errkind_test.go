package errkind

import (
	"errors"
	"fmt"
	"testing"
)

func TestOf(t *testing.T) {
	notFound := New(ErrNotFound, "thing: not found")
	wrapped := fmt.Errorf("load: %w", notFound)

	if Of(wrapped) != ErrNotFound {
		t.Fatalf("Of(wrapped) = %v", Of(wrapped))
	}
	if !errors.Is(wrapped, notFound) {
		t.Fatal("sentinel identity lost through wrapping")
	}
	if wrapped.Error() != "load: thing: not found" {
		t.Fatalf("message = %q", wrapped.Error())
	}
	if Of(errors.New("boom")) != nil {
		t.Fatal("plain errors are internal")
	}
	if Of(nil) != nil {
		t.Fatal("nil has no kind")
	}
}
