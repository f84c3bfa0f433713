package plcerror

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormat(t *testing.T) {
	err := InvalidGraph("transition t1 references unknown step %q", "X9")
	want := `[INVALID_GRAPH] transition t1 references unknown step "X9"`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("read timeout")
	err := Wrap(cause, ErrUART, "reading IFCNT")
	if !errors.Is(err, cause) {
		t.Error("wrapped error should match cause via errors.Is")
	}

	code, ok := CodeOf(fmt.Errorf("context: %w", err))
	if !ok || code != ErrUART {
		t.Errorf("CodeOf = %v, %v; want UART, true", code, ok)
	}
}

func TestCodeOfPlainError(t *testing.T) {
	if _, ok := CodeOf(errors.New("plain")); ok {
		t.Error("CodeOf should report false for plain errors")
	}
}

func TestMoveCancelledSentinel(t *testing.T) {
	err := fmt.Errorf("axis x: %w", ErrMoveCancelled)
	if !errors.Is(err, ErrMoveCancelled) {
		t.Error("expected errors.Is to match ErrMoveCancelled")
	}
}
