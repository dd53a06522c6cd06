package util

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "info", false},
		{"debug", "debug", false},
		{"warn", "warn", false},
		{"loud", "", true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got.String() != tt.want {
			t.Errorf("ParseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
	l := zap.NewExample()
	if OrNop(l) != l {
		t.Error("OrNop should return the given logger")
	}
}

func TestManualClock(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	c := NewManualClock(start)
	ch := c.After(100 * time.Millisecond)

	select {
	case <-ch:
		t.Fatal("timer fired before Advance")
	default:
	}

	c.Advance(50 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("timer fired early")
	default:
	}

	c.Advance(50 * time.Millisecond)
	select {
	case got := <-ch:
		if !got.Equal(start.Add(100 * time.Millisecond)) {
			t.Errorf("fired at %v", got)
		}
	default:
		t.Fatal("timer did not fire")
	}
}
