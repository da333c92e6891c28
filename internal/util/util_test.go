package util

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	val, outcome, err := Retry(context.Background(), 5, 0, func(attempt int) (string, Outcome, error) {
		attempts++
		if attempt < targetAttempts {
			return "", Again, errors.New("transient error")
		}
		return "ok", Done, nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if outcome != Done || val != "ok" {
		t.Errorf("Retry = (%q, %v), want (%q, %v)", val, outcome, "ok", Done)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	_, outcome, err := Retry(context.Background(), maxAttempts, 0, func(int) (int, Outcome, error) {
		attempts++
		return 0, Again, errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if outcome != Again {
		t.Errorf("outcome = %v, want %v", outcome, Again)
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRetryStop(t *testing.T) {
	attempts := 0

	_, outcome, err := Retry(context.Background(), 5, 0, func(int) (int, Outcome, error) {
		attempts++
		return 0, Stop, errors.New("fatal")
	})

	if err == nil || outcome != Stop {
		t.Fatalf("Retry = (%v, %v), want Stop with error", outcome, err)
	}
	if attempts != 1 {
		t.Errorf("Retry called fn %d times after Stop, want 1", attempts)
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	_, outcome, err := Retry(ctx, 5, time.Hour, func(int) (int, Outcome, error) {
		attempts++
		return 0, Again, errors.New("transient")
	})

	if !errors.Is(err, context.Canceled) || outcome != Stop {
		t.Fatalf("Retry = (%v, %v), want Stop with context.Canceled", outcome, err)
	}
	if attempts != 1 {
		t.Errorf("Retry called fn %d times, want 1", attempts)
	}
}

func TestIntervalLimiterSpacing(t *testing.T) {
	interval := 40 * time.Millisecond
	rl := NewIntervalLimiter(interval)
	defer rl.Close()

	ctx := context.Background()
	start := time.Now()
	if err := rl.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed >= interval {
		t.Errorf("first Acquire took %v, want immediate", elapsed)
	}

	for i := 0; i < 2; i++ {
		if err := rl.Acquire(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed < 2*interval {
		t.Errorf("three permits took %v, want at least %v", elapsed, 2*interval)
	}
}

func TestIntervalLimiterClosed(t *testing.T) {
	rl := NewIntervalLimiter(time.Hour)
	if err := rl.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		rl.Close()
	}()

	if err := rl.Acquire(context.Background()); !errors.Is(err, ErrLimiterClosed) {
		t.Errorf("Acquire after Close = %v, want ErrLimiterClosed", err)
	}
	// Idempotent.
	if err := rl.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestIntervalLimiterContext(t *testing.T) {
	rl := NewIntervalLimiter(time.Hour)
	defer rl.Close()
	if err := rl.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := rl.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire = %v, want context.DeadlineExceeded", err)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("warn", "json", &buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record written at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("expected JSON warn record, got %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
