package main

import (
	"testing"
	"time"
)

func TestPollIntervalClampsRate(t *testing.T) {
	tests := []struct {
		hz   int
		want time.Duration
	}{
		{10, 100 * time.Millisecond},
		{1, time.Second},
		{0, time.Second},
		{-5, time.Second},
	}
	for _, tt := range tests {
		if got := pollInterval(tt.hz); got != tt.want {
			t.Errorf("pollInterval(%d) = %v, want %v", tt.hz, got, tt.want)
		}
	}
}
