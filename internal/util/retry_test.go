package util

import (
	"context"
	"errors"
	"testing"
)

func TestRetryErr(t *testing.T) {
	tests := []struct {
		name      string
		maxTries  int
		failUntil int
		wantErr   bool
		wantCalls int
	}{
		{name: "succeeds first try", maxTries: 3, failUntil: 0, wantErr: false, wantCalls: 1},
		{name: "succeeds on last try", maxTries: 3, failUntil: 2, wantErr: false, wantCalls: 3},
		{name: "exhausts attempts", maxTries: 2, failUntil: 5, wantErr: true, wantCalls: 2},
		{name: "zero tries defaults to one", maxTries: 0, failUntil: 0, wantErr: false, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := RetryErr(tt.maxTries, func() error {
				calls++
				if calls <= tt.failUntil {
					return errors.New("transient")
				}
				return nil
			})
			if (err != nil) != tt.wantErr {
				t.Errorf("RetryErr() error = %v, wantErr %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Errorf("RetryErr() calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestRetryWithContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := RetryWithContext(ctx, 3, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("RetryWithContext() error = %v, want context.Canceled", err)
	}
	if calls != 0 {
		t.Errorf("RetryWithContext() calls = %d, want 0", calls)
	}
}

func TestRetryWithContextStopsOnDeadline(t *testing.T) {
	calls := 0
	_, err := RetryWithContext(context.Background(), 5, func(ctx context.Context) (int, error) {
		calls++
		return 0, context.DeadlineExceeded
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("RetryWithContext() error = %v, want context.DeadlineExceeded", err)
	}
	if calls != 1 {
		t.Errorf("RetryWithContext() calls = %d, want 1 (deadline is not retryable)", calls)
	}
}
