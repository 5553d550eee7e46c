package exitcode

import (
	"errors"
	"fmt"
	"testing"
)

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, Success},
		{"plain error", errors.New("boom"), ErrGeneral},
		{"coded", New(ErrNotFound, "no such agent"), ErrNotFound},
		{"wrapped coded", fmt.Errorf("outer: %w", New(ErrPrecondition, "wait")), ErrPrecondition},
		{"coded with cause", Wrap(ErrPrecondition, "wake failed", errors.New("dead")), ErrPrecondition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Code(tt.err); got != tt.want {
				t.Errorf("Code() = %d, want %d", got, tt.want)
			}
		})
	}
}

// Scripts depend on the numeric values; they are part of the CLI contract.
func TestCodeValues(t *testing.T) {
	if Success != 0 || ErrGeneral != 1 || ErrPrecondition != 2 || ErrNotFound != 3 {
		t.Errorf("codes = %d/%d/%d/%d, want 0/1/2/3",
			Success, ErrGeneral, ErrPrecondition, ErrNotFound)
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("session not found")
	err := Wrap(ErrNotFound, "peek failed", cause)
	if !errors.Is(err, cause) {
		t.Error("Wrap should preserve the cause chain")
	}
	if !Is(err, ErrNotFound) {
		t.Error("Is should match the assigned code")
	}
}

func TestNewf(t *testing.T) {
	err := Newf(ErrPrecondition, "unknown role %q", "janitor")
	if err.Error() != `unknown role "janitor"` {
		t.Errorf("message = %q", err.Error())
	}
}
