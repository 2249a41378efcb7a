package backoff

import (
	"testing"
	"time"
)

func TestExponentialDefaults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{10, 5 * time.Second}, // capped
	}

	for _, tt := range tests {
		if got := Exponential(tt.attempt); got != tt.want {
			t.Errorf("Exponential(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestPolicyDelay(t *testing.T) {
	t.Parallel()

	p := Policy{Initial: time.Second, Max: 4 * time.Second}

	if got := p.Delay(1); got != time.Second {
		t.Errorf("Delay(1) = %s, want 1s", got)
	}
	if got := p.Delay(2); got != 2*time.Second {
		t.Errorf("Delay(2) = %s, want 2s", got)
	}
	if got := p.Delay(5); got != 4*time.Second {
		t.Errorf("Delay(5) = %s, want capped 4s", got)
	}
}
