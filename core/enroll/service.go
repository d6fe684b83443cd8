package enroll

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/hadiri/core"
)

var (
	// errors
	ErrDeviceOffline      = errors.New("device offline")
	ErrSensorNotConnected = errors.New("sensor not connected")
	ErrNotValidated       = errors.New("device not validated for enrollment")
	ErrNoActiveProcess    = errors.New("no enrollment in progress")
	ErrProcessNotFound    = errors.New("enrollment process not found")
)

// nominalQuality is recorded on completion; the device does not return a
// true quality score.
const nominalQuality = 85

type (
	Repository interface {
		SaveProcess(ctx context.Context, p Process) error
		GetProcess(ctx context.Context, id string) (Process, error)
		// GetActiveProcess returns the persisted process whose step is not
		// terminal, if any; ErrNoActiveProcess otherwise.
		GetActiveProcess(ctx context.Context) (Process, error)
		// SetSubjectFingerprint records the enrolled template id on the subject.
		SetSubjectFingerprint(ctx context.Context, subjectRef string, fingerprintID int, at time.Time) error
	}

	// CompletionPolicy decides what the single post-wait status check means.
	// A nil return completes the process; an error fails it with that reason.
	CompletionPolicy func(progress core.EnrollProgress, statusErr error) error

	ServiceDeps struct {
		Repo       Repository
		Device     core.DeviceClient
		Notifier   core.Notifier
		Logger     core.Logger
		Validate   *validator.Validate
		Translator ut.Translator
		Conf       *core.Config
		Policy     CompletionPolicy // defaults to OptimisticCompletion
	}

	// Service drives the device-side enrollment state machine:
	// idle → validating → validated → enrolling → {complete, failed,
	// cancelled, timeout}.
	//
	// Nothing stops a fingerprint capture loop from running against the
	// same physical device while an enrollment is in progress; whether the
	// device needs a cross-feature mutex is a product decision, not taken
	// here.
	Service struct {
		repo       Repository
		device     core.DeviceClient
		notifier   core.Notifier
		logger     core.Logger
		validate   *validator.Validate
		translator ut.Translator
		conf       *core.Config
		policy     CompletionPolicy

		now              func() time.Time
		newProvisionalID func() int

		mu           sync.Mutex
		state        Step // idle | validating | validated | enrolling
		current      *Process
		monitorTimer *time.Timer
		ceilingTimer *time.Timer
	}
)

// OptimisticCompletion is the default policy: the device is unresponsive
// while physically capturing, so a failed (or still-active) status check
// completes the process anyway instead of blocking the workflow on a
// possible hardware fault.
func OptimisticCompletion(progress core.EnrollProgress, statusErr error) error {
	return nil
}

// StrictCompletion only completes when the device reachably reports the
// process as no longer active.
func StrictCompletion(progress core.EnrollProgress, statusErr error) error {
	if statusErr != nil {
		return errors.Wrap(statusErr, "verifying enrollment")
	}
	if progress.Active {
		return errors.Errorf("enrollment still active on device (step %d)", progress.Step)
	}
	return nil
}

func NewService(deps ServiceDeps) *Service {
	policy := deps.Policy
	if policy == nil {
		policy = OptimisticCompletion
	}
	return &Service{
		repo:       deps.Repo,
		device:     deps.Device,
		notifier:   deps.Notifier,
		logger:     deps.Logger,
		validate:   deps.Validate,
		translator: deps.Translator,
		conf:       deps.Conf,
		policy:     policy,
		now:        time.Now,
		state:      StepIdle,
		// the sensor's template slots; same range the registration page used
		newProvisionalID: func() int { return rand.Intn(900) + 100 },
	}
}

// StartProcess checks the device and its sensor before any enrollment may
// begin. On success the orchestrator is validated and a prompt is pushed to
// the device's own display.
func (s *Service) StartProcess(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && !s.current.Step.Terminal() {
		return errors.WithStack(&core.DeviceBusyError{})
	}

	s.state = StepValidating
	status, err := s.device.Status(ctx)
	if err != nil || !status.Online {
		s.state = StepIdle
		s.notify("enroll:validate", core.SeverityError, "Device is offline or unreachable")
		if err != nil {
			return errors.Wrap(err, ErrDeviceOffline.Error())
		}
		return errors.WithStack(ErrDeviceOffline)
	}
	if !status.SensorConnected {
		s.state = StepIdle
		s.notify("enroll:validate", core.SeverityError, "Fingerprint sensor not connected")
		return errors.WithStack(ErrSensorNotConnected)
	}

	s.state = StepValidated
	s.notify("enroll:validate", core.SeveritySuccess, "Device sensor validated")

	// prompt on the device's own display; not our logic, best effort
	if err := s.device.Display(ctx, "Click Enroll Button!"); err != nil {
		s.logger.Warn(fmt.Sprintf("pushing display prompt: %v", err))
	}
	return nil
}

// Enroll starts enrollment of a new template on the device. Requires a
// prior successful StartProcess; inputs must be non-empty after trimming or
// no device call is made at all.
func (s *Service) Enroll(ctx context.Context, ne NewEnrollment) (Process, error) {
	if err := ne.Validate(s.validate, s.translator); err != nil {
		return Process{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && !s.current.Step.Terminal() {
		return Process{}, errors.WithStack(&core.DeviceBusyError{})
	}
	if s.state != StepValidated {
		return Process{}, errors.WithStack(ErrNotValidated)
	}

	provisionalID := s.newProvisionalID()
	ack, err := s.device.StartEnroll(ctx, provisionalID, ne.SubjectName, ne.SubjectRef)
	if err != nil {
		s.state = StepIdle
		s.notify("enroll:start", core.SeverityError, "Failed to start enrollment on device")
		return Process{}, errors.Wrap(err, "starting enrollment on device")
	}
	if !ack.Started {
		s.state = StepIdle
		return Process{}, errors.New("device refused to start enrollment")
	}

	p := Process{
		ID:            uuid.New().String(),
		ProvisionalID: provisionalID,
		SubjectName:   ne.SubjectName,
		SubjectRef:    ne.SubjectRef,
		Step:          StepEnrolling,
		StartedAt:     s.now().UTC(),
	}
	if ack.AssignedID != 0 {
		// the device's id supersedes ours from here on
		p.DeviceAssignedID = null.IntFrom(ack.AssignedID)
	}
	if err = s.repo.SaveProcess(ctx, p); err != nil {
		return Process{}, errors.Wrap(err, "saving enrollment process")
	}

	s.current = &p
	s.state = StepEnrolling
	s.scheduleLocked(p.ID, s.conf.EnrollmentWaitWindow(), s.conf.Enrollment.CeilingTimeout)

	s.notify("enroll:progress", core.SeverityInfo, "Enrollment started. Follow the device display instructions.")
	return p, nil
}

// Resume picks up a persisted, unfinished process at startup and continues
// monitoring it under the persisted correlation id instead of restarting
// from idle. A process already past the ceiling is timed out immediately.
func (s *Service) Resume(ctx context.Context) error {
	p, err := s.repo.GetActiveProcess(ctx)
	if err != nil {
		if errors.Cause(err) == ErrNoActiveProcess {
			return nil
		}
		return errors.Wrap(err, "loading persisted enrollment")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = &p
	s.state = StepEnrolling

	elapsed := s.now().UTC().Sub(p.StartedAt)
	if elapsed >= s.conf.Enrollment.CeilingTimeout {
		go s.expire(p.ID)
		return nil
	}

	wait := s.conf.EnrollmentWaitWindow() - elapsed
	if wait < 0 {
		wait = 0
	}
	s.scheduleLocked(p.ID, wait, s.conf.Enrollment.CeilingTimeout-elapsed)
	s.notify("enroll:progress", core.SeverityInfo, "Resuming fingerprint enrollment...")
	return nil
}

// Cancel aborts the in-progress enrollment on the device.
func (s *Service) Cancel(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || s.current.Step.Terminal() {
		return errors.WithStack(ErrNoActiveProcess)
	}

	if err := s.device.CancelEnroll(ctx); err != nil {
		// the device may already be done or unreachable; cancel locally anyway
		s.logger.Warn(fmt.Sprintf("cancelling enrollment on device: %v", err))
	}
	s.finishLocked(StepCancelled, "")
	s.notify("enroll:progress", core.SeverityWarning, "Enrollment cancelled")
	return nil
}

// Clear abandons the current process so a new one can begin.
func (s *Service) Clear(ctx context.Context) error {
	s.mu.Lock()
	if s.current != nil && !s.current.Step.Terminal() {
		s.mu.Unlock()
		if err := s.Cancel(ctx); err != nil {
			return err
		}
		s.mu.Lock()
	}
	s.current = nil
	s.state = StepIdle
	s.mu.Unlock()
	return nil
}

// Current returns the process this orchestrator is (or was last) driving.
func (s *Service) Current() (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Process{}, errors.WithStack(ErrNoActiveProcess)
	}
	return *s.current, nil
}

// scheduleLocked arms the single delayed status check and the absolute
// ceiling. Assumes s.mu is held.
func (s *Service) scheduleLocked(processID string, wait, ceiling time.Duration) {
	s.stopTimersLocked()
	s.monitorTimer = time.AfterFunc(wait, func() { s.checkProgress(processID) })
	s.ceilingTimer = time.AfterFunc(ceiling, func() { s.expire(processID) })
}

func (s *Service) stopTimersLocked() {
	if s.monitorTimer != nil {
		s.monitorTimer.Stop()
		s.monitorTimer = nil
	}
	if s.ceilingTimer != nil {
		s.ceilingTimer.Stop()
		s.ceilingTimer = nil
	}
}

// checkProgress is the one status check issued after the estimated capture
// window (the device is unresponsive to polling while physically scanning,
// so there is no tight poll). The configured CompletionPolicy decides what
// the result means.
func (s *Service) checkProgress(processID string) {
	if !s.stillDriving(processID) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.conf.Device.StatusTimeout)
	progress, err := s.device.EnrollProgress(ctx)
	cancel()
	if err != nil {
		s.logger.Warn(fmt.Sprintf("enrollment status check failed: %v", err))
	}

	if perr := s.policy(progress, err); perr != nil {
		s.fail(processID, perr.Error())
		return
	}
	s.complete(processID)
}

func (s *Service) complete(processID string) {
	s.mu.Lock()
	if !s.drivingLocked(processID) {
		s.mu.Unlock()
		return
	}
	now := s.now().UTC()
	s.current.Step = StepComplete
	s.current.CompletedAt = null.TimeFrom(now)
	s.current.Quality = nominalQuality
	p := *s.current
	s.finishLocked(StepComplete, "")
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.repo.SetSubjectFingerprint(ctx, p.SubjectRef, p.CorrelationID(), now); err != nil {
		s.logger.Error(fmt.Sprintf("recording enrolled fingerprint: %v", err), err)
	}

	s.notify("enroll:done", core.SeveritySuccess,
		fmt.Sprintf("Fingerprint enrolled (id %d)", p.CorrelationID()))
	if err := s.device.Display(ctx, "Enrollment\nComplete!"); err != nil {
		s.logger.Debug(fmt.Sprintf("pushing display prompt: %v", err))
	}
}

func (s *Service) fail(processID, reason string) {
	s.mu.Lock()
	if !s.drivingLocked(processID) {
		s.mu.Unlock()
		return
	}
	s.finishLocked(StepFailed, reason)
	s.mu.Unlock()
	s.notify("enroll:done", core.SeverityError, "Enrollment failed: "+reason)
}

// expire is the ceiling timeout firing: cancel on the device, step=timeout.
func (s *Service) expire(processID string) {
	s.mu.Lock()
	if !s.drivingLocked(processID) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.conf.Device.CommandTimeout)
	if err := s.device.CancelEnroll(ctx); err != nil {
		s.logger.Warn(fmt.Sprintf("cancelling timed-out enrollment: %v", err))
	}
	cancel()

	s.mu.Lock()
	if s.drivingLocked(processID) {
		s.finishLocked(StepTimeout, "enrollment timed out")
	}
	s.mu.Unlock()
	s.notify("enroll:done", core.SeverityError, "Enrollment timed out")
}

// finishLocked moves the current process to a terminal step, persists it and
// disarms timers. Assumes s.mu is held.
func (s *Service) finishLocked(step Step, reason string) {
	s.stopTimersLocked()
	s.current.Step = step
	if reason != "" {
		s.current.FailReason = reason
	}
	s.state = StepIdle
	p := *s.current

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.repo.SaveProcess(ctx, p); err != nil {
			s.logger.Error(fmt.Sprintf("persisting enrollment process: %v", err), err)
		}
	}()
}

// stillDriving reports whether the given process is still the live one;
// timers that fired just before a cancel was processed must not act.
func (s *Service) stillDriving(processID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drivingLocked(processID)
}

func (s *Service) drivingLocked(processID string) bool {
	return s.current != nil && s.current.ID == processID && !s.current.Step.Terminal()
}

func (s *Service) notify(key string, sev core.Severity, msg string) {
	s.notifier.Notify(core.Notification{Key: key, Severity: sev, Message: msg, At: s.now().UTC()})
}
