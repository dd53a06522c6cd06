package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrWrongPhase, "WrongPhase"},
		{fmt.Errorf("withdraw 5: %w", ErrInsufficientBalance), "InsufficientBalance"},
		{fmt.Errorf("a: %w", fmt.Errorf("b: %w", ErrHashMismatch)), "HashMismatch"},
		{errors.New("disk on fire"), "Internal"},
	}
	for _, tt := range tests {
		if got := Kind(tt.err); got != tt.want {
			t.Errorf("Kind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestAssetString(t *testing.T) {
	if NativeAsset.String() != "native" {
		t.Errorf("NativeAsset.String() = %q", NativeAsset.String())
	}
	if TokenAsset([20]byte{19: 1}).Native {
		t.Error("token asset marked native")
	}
}
