package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/trezcool/hadiri/core"
)

// loopState is the capture loop's lifecycle, mutated only through the
// named transitions below.
type loopState int

const (
	loopIdle loopState = iota
	loopScanning
	loopStopped
)

type (
	// attemptFunc acquires one biometric sample and classifies it.
	attemptFunc func(ctx context.Context) (Outcome, *core.Subject, float64, error)

	// CaptureLoop schedules recurring capture attempts for one modality.
	// At most one attempt is ever in flight; attempts closer together than
	// the cooldown are skipped silently (expected steady state, not an
	// error). Stop is idempotent and releases the loop's input resource
	// (the camera, for the face modality) on every exit path.
	CaptureLoop struct {
		modality  Modality
		sessionID string
		tick      time.Duration
		cooldown  time.Duration

		attempt attemptFunc
		deliver func(sessionID string, att CaptureAttempt)
		release func() error // camera release; nil for fingerprint
		logger  core.Logger
		now     func() time.Time

		mu            sync.Mutex
		state         loopState
		lastAttemptAt time.Time

		cancel   context.CancelFunc
		stopOnce sync.Once
	}
)

func (l *CaptureLoop) SessionID() string { return l.sessionID }

func (l *CaptureLoop) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	go l.run(ctx)
}

func (l *CaptureLoop) run(ctx context.Context) {
	ticker := time.NewTicker(l.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.onTick(ctx)
		}
	}
}

// onTick dispatches at most one attempt; the attempt itself runs off the
// ticker goroutine so a slow device call never delays the schedule or Stop.
func (l *CaptureLoop) onTick(ctx context.Context) {
	if !l.beginAttempt() {
		return // busy or cooling down; skip silently
	}
	go func() {
		defer l.endAttempt()

		outcome, subject, confidence, err := l.attempt(ctx)
		if ctx.Err() != nil {
			return // stopped mid-flight; the session owner no longer wants this
		}
		if err != nil {
			l.logger.Debug(fmt.Sprintf("%s capture attempt: %v", l.modality, err))
		}
		l.deliver(l.sessionID, CaptureAttempt{
			At:         l.now().UTC(),
			Modality:   l.modality,
			Outcome:    outcome,
			Subject:    subject,
			Confidence: confidence,
			Err:        err,
		})
	}()
}

// beginAttempt transitions idle → scanning if the loop is not stopped, not
// busy and past its cooldown.
func (l *CaptureLoop) beginAttempt() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != loopIdle {
		return false
	}
	if !l.lastAttemptAt.IsZero() && l.now().Sub(l.lastAttemptAt) < l.cooldown {
		return false
	}
	l.state = loopScanning
	return true
}

// endAttempt transitions scanning → idle and stamps lastAttemptAt. It runs
// regardless of the attempt's outcome so the loop can never wedge busy.
func (l *CaptureLoop) endAttempt() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastAttemptAt = l.now()
	if l.state == loopScanning {
		l.state = loopIdle
	}
}

// Stop cancels the tick source and releases the input resource. Safe to
// call multiple times; never blocks on an in-flight attempt (the liveness
// check in the owner drops its result instead).
func (l *CaptureLoop) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.state = loopStopped
		l.mu.Unlock()

		if l.cancel != nil {
			l.cancel()
		}
		if l.release != nil {
			if err := l.release(); err != nil {
				l.logger.Warn(fmt.Sprintf("releasing %s input: %v", l.modality, err))
			}
		}
	})
}
