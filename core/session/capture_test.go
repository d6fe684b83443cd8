package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/trezcool/hadiri/core"
)

type nopLogger struct{}

func (nopLogger) Enable(bool)                  {}
func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

func newTestLoop(tick, cooldown time.Duration, attempt attemptFunc, deliver func(string, CaptureAttempt)) *CaptureLoop {
	return &CaptureLoop{
		modality:  ModalityFingerprint,
		sessionID: "sess-1",
		tick:      tick,
		cooldown:  cooldown,
		attempt:   attempt,
		deliver:   deliver,
		logger:    nopLogger{},
		now:       time.Now,
	}
}

func Test_CaptureLoop_singleFlight(t *testing.T) {
	var inFlight, maxInFlight int32

	attempt := func(ctx context.Context) (Outcome, *core.Subject, float64, error) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			max := atomic.LoadInt32(&maxInFlight)
			if cur <= max || atomic.CompareAndSwapInt32(&maxInFlight, max, cur) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return OutcomeNotRecognized, nil, 0, nil
	}

	loop := newTestLoop(5*time.Millisecond, 0, attempt, func(string, CaptureAttempt) {})
	loop.Start()
	defer loop.Stop()

	time.Sleep(80 * time.Millisecond)
	if got := atomic.LoadInt32(&maxInFlight); got != 1 {
		t.Errorf("max attempts in flight = %d, want 1", got)
	}
}

func Test_CaptureLoop_cooldown(t *testing.T) {
	var attempts int32
	attempt := func(ctx context.Context) (Outcome, *core.Subject, float64, error) {
		atomic.AddInt32(&attempts, 1)
		return OutcomeNotRecognized, nil, 0, nil
	}

	// ticks fire every 5ms but the 50ms cooldown coalesces them
	loop := newTestLoop(5*time.Millisecond, 50*time.Millisecond, attempt, func(string, CaptureAttempt) {})
	loop.Start()
	defer loop.Stop()

	time.Sleep(70 * time.Millisecond)
	if got := atomic.LoadInt32(&attempts); got > 2 {
		t.Errorf("attempts = %d, want at most 2 under cooldown", got)
	}
}

func Test_CaptureLoop_stopDropsInFlight(t *testing.T) {
	var delivered int32
	started := make(chan struct{})

	attempt := func(ctx context.Context) (Outcome, *core.Subject, float64, error) {
		close(started)
		<-ctx.Done() // block until the loop is stopped
		return OutcomeMatched, &core.Subject{ID: "st-1"}, 1, nil
	}
	deliver := func(string, CaptureAttempt) { atomic.AddInt32(&delivered, 1) }

	loop := newTestLoop(5*time.Millisecond, 0, attempt, deliver)
	loop.Start()

	<-started
	loop.Stop()

	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt32(&delivered); got != 0 {
		t.Errorf("delivered = %d, want 0 for an attempt cancelled mid-flight", got)
	}
}

func Test_CaptureLoop_stopIsIdempotentAndReleases(t *testing.T) {
	var mu sync.Mutex
	releases := 0

	loop := newTestLoop(5*time.Millisecond, 0,
		func(ctx context.Context) (Outcome, *core.Subject, float64, error) {
			return OutcomeNotRecognized, nil, 0, nil
		},
		func(string, CaptureAttempt) {},
	)
	loop.release = func() error {
		mu.Lock()
		defer mu.Unlock()
		releases++
		return nil
	}
	loop.Start()

	loop.Stop()
	loop.Stop()

	mu.Lock()
	defer mu.Unlock()
	if releases != 1 {
		t.Errorf("releases = %d, want exactly 1", releases)
	}
}

func Test_CaptureLoop_wedgeProof(t *testing.T) {
	// an attempt that errors must still free the busy guard
	var attempts int32
	attempt := func(ctx context.Context) (Outcome, *core.Subject, float64, error) {
		atomic.AddInt32(&attempts, 1)
		return OutcomeDeviceError, nil, 0, context.DeadlineExceeded
	}

	loop := newTestLoop(5*time.Millisecond, 0, attempt, func(string, CaptureAttempt) {})
	loop.Start()
	defer loop.Stop()

	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&attempts); got < 2 {
		t.Errorf("attempts = %d, want the loop to keep scheduling after errors", got)
	}
}
