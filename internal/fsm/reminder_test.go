package fsm

import (
	"testing"
	"time"
)

func TestFanoutOffsetsSpreadEvenly(t *testing.T) {
	offsets := FanoutOffsets(60*time.Second, 4)
	want := []time.Duration{0, 15 * time.Second, 30 * time.Second, 45 * time.Second}
	if len(offsets) != len(want) {
		t.Fatalf("got %d offsets, want %d", len(offsets), len(want))
	}
	for i := range want {
		if offsets[i] != want[i] {
			t.Fatalf("offset[%d] = %v, want %v", i, offsets[i], want[i])
		}
	}
}

func TestFanoutOffsetsEmpty(t *testing.T) {
	if got := FanoutOffsets(time.Minute, 0); got != nil {
		t.Fatalf("expected nil for zero sends, got %v", got)
	}
}

func TestFanoutOffsetsSingle(t *testing.T) {
	offsets := FanoutOffsets(time.Minute, 1)
	if len(offsets) != 1 || offsets[0] != 0 {
		t.Fatalf("single send must go out immediately, got %v", offsets)
	}
}
