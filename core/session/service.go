package session

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
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
	ErrNotFound           = errors.New("session not found")
	ErrNoActiveSession    = errors.New("no active session")
	ErrNotActiveSession   = errors.New("session is not the active session")
	ErrAlreadyMarked      = errors.New("attendance already marked for this session")
	ErrUnknownFingerprint = errors.New("fingerprint not registered to any student")
)

type (
	Repository interface {
		CreateSession(ctx context.Context, s Session) (Session, error)
		GetSession(ctx context.Context, id string) (Session, error)
		GetActiveSession(ctx context.Context, c Context) (Session, error)
		GetActiveSessionFor(ctx context.Context, startedBy string) (Session, error)
		EndSession(ctx context.Context, id string, endedAt time.Time) (Session, error)
		MarkAttendance(ctx context.Context, rec Record) error
		QueryRecords(ctx context.Context, sessionID string) ([]Record, error)
		CountPresent(ctx context.Context, sessionID string) (int, error)
		CountByModality(ctx context.Context, sessionID string) (map[Modality]int, error)
		CountEnrolledStudents(ctx context.Context, c Context) (int, error)
		FindSubjectByFingerprint(ctx context.Context, fingerprintID int) (core.Subject, error)
		EndStaleSessions(ctx context.Context, olderThan time.Duration) (int, error)
	}

	ServiceDeps struct {
		Repo       Repository
		Device     core.DeviceClient
		Recognizer core.FaceRecognizer
		OpenFrames core.OpenFrameSource
		Notifier   core.Notifier
		MailSvc    core.EmailService
		Logger     core.Logger
		Validate   *validator.Validate
		Translator ut.Translator
		Conf       *core.Config
	}

	// Service owns the attendance-session lifecycle: it starts/resumes/ends
	// sessions and runs the capture loop matching the session's modality.
	Service struct {
		repo       Repository
		device     core.DeviceClient
		recognizer core.FaceRecognizer
		openFrames core.OpenFrameSource
		notifier   core.Notifier
		mailSvc    core.EmailService
		logger     core.Logger
		validate   *validator.Validate
		translator ut.Translator
		conf       *core.Config

		events *Hub
		now    func() time.Time

		mu      sync.Mutex
		current *Session
		loop    *CaptureLoop
	}
)

func NewService(deps ServiceDeps) *Service {
	return &Service{
		repo:       deps.Repo,
		device:     deps.Device,
		recognizer: deps.Recognizer,
		openFrames: deps.OpenFrames,
		notifier:   deps.Notifier,
		mailSvc:    deps.MailSvc,
		logger:     deps.Logger,
		validate:   deps.Validate,
		translator: deps.Translator,
		conf:       deps.Conf,
		events:     NewHub(),
		now:        time.Now,
	}
}

// Events exposes the session event stream. Subscribers must unsubscribe
// on teardown.
func (s *Service) Events() *Hub { return s.events }

// Start validates the request and creates a new active session, starting
// the capture loop for its modality. If a session is already active in the
// same context a ConflictError carrying the existing id is returned; a
// second concurrent session is never created silently.
func (s *Service) Start(ctx context.Context, ns NewSession) (Session, error) {
	if err := ns.Validate(s.validate, s.translator); err != nil {
		return Session{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, err := s.repo.GetActiveSession(ctx, ns.context()); err == nil {
		return Session{}, errors.WithStack(&core.ConflictError{ExistingID: existing.ID})
	} else if errors.Cause(err) != ErrNoActiveSession {
		return Session{}, errors.Wrap(err, "checking for active session")
	}

	return s.create(ctx, ns)
}

// Resume reactivates the view onto an existing active session without
// creating a new one, restarting the capture loop if needed.
func (s *Service) Resume(ctx context.Context, id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return Session{}, errors.Wrap(err, "loading session")
	}
	if !sess.IsActive() {
		return Session{}, errors.WithStack(ErrNotActiveSession)
	}

	s.activate(sess)
	s.publish(Event{Kind: EventSessionResumed, SessionID: sess.ID, At: s.now().UTC()})
	s.notify("session", core.SeverityInfo, "Resumed active attendance session")
	return sess, nil
}

// ForceNew ends the existing active session in the request's context, then
// creates the new one. The end must complete before the new session starts;
// if ending fails the failure is surfaced and nothing is created.
func (s *Service) ForceNew(ctx context.Context, ns NewSession) (Session, error) {
	if err := ns.Validate(s.validate, s.translator); err != nil {
		return Session{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.repo.GetActiveSession(ctx, ns.context())
	switch errors.Cause(err) {
	case nil:
		if _, err = s.end(ctx, existing.ID); err != nil {
			return Session{}, errors.Wrap(err, "ending existing session")
		}
	case ErrNoActiveSession: // nothing to end
	default:
		return Session{}, errors.Wrap(err, "checking for active session")
	}

	return s.create(ctx, ns)
}

// End stops the capture loop, marks the session ended and returns its final
// statistics. Fails if id does not match the currently active session.
func (s *Service) End(ctx context.Context, id string) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.end(ctx, id)
}

// Active returns the currently active session, falling back to the
// repository when this instance holds none in memory (e.g. after a restart).
func (s *Service) Active(ctx context.Context, startedBy string) (Session, error) {
	s.mu.Lock()
	if s.current != nil {
		sess := *s.current
		s.mu.Unlock()
		return sess, nil
	}
	s.mu.Unlock()
	return s.repo.GetActiveSessionFor(ctx, startedBy)
}

func (s *Service) Stats(ctx context.Context, id string) (Stats, error) {
	sess, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return Stats{}, errors.Wrap(err, "loading session")
	}
	return s.stats(ctx, sess)
}

func (s *Service) Records(ctx context.Context, id string) ([]Record, error) {
	return s.repo.QueryRecords(ctx, id)
}

// EndStale ends sessions that have been active for longer than olderThan.
// Used by the admin CLI to sweep sessions left open by crashed clients.
func (s *Service) EndStale(ctx context.Context, olderThan time.Duration) (int, error) {
	return s.repo.EndStaleSessions(ctx, olderThan)
}

// Stop tears down the running capture loop without ending the session.
// Called on server shutdown; safe to call multiple times.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLoop()
}

// create assumes s.mu is held and the context is known to be free.
func (s *Service) create(ctx context.Context, ns NewSession) (Session, error) {
	total, err := s.repo.CountEnrolledStudents(ctx, ns.context())
	if err != nil {
		return Session{}, errors.Wrap(err, "counting enrolled students")
	}

	sess := Session{
		ID:        uuid.New().String(),
		Status:    StatusActive,
		Modality:  ns.Modality,
		Context:   ns.context(),
		StartedBy: ns.StartedBy,
		StartedAt: s.now().UTC(),
		Total:     total,
	}
	sess, err = s.repo.CreateSession(ctx, sess)
	if err != nil {
		return Session{}, errors.Wrap(err, "creating session")
	}

	s.activate(sess)
	s.publish(Event{Kind: EventSessionStarted, SessionID: sess.ID, At: sess.StartedAt})
	s.notify("session", core.SeveritySuccess, "Session started successfully")
	return sess, nil
}

// activate assumes s.mu is held.
func (s *Service) activate(sess Session) {
	if s.loop != nil && s.loop.SessionID() == sess.ID {
		s.current = &sess
		return // loop already running for this session
	}
	s.stopLoop()
	s.current = &sess
	s.startLoop(sess)
}

// end assumes s.mu is held.
func (s *Service) end(ctx context.Context, id string) (Stats, error) {
	if s.current != nil && s.current.ID != id {
		return Stats{}, errors.WithStack(ErrNotActiveSession)
	}
	sess, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return Stats{}, errors.Wrap(err, "loading session")
	}
	if !sess.IsActive() {
		return Stats{}, errors.WithStack(ErrNotActiveSession)
	}

	// release the loop (and its camera) before the session is recorded as
	// ended; in-flight attempts are dropped by the liveness check
	s.stopLoop()

	sess, err = s.repo.EndSession(ctx, id, s.now().UTC())
	if err != nil {
		return Stats{}, errors.Wrap(err, "ending session")
	}
	s.current = nil

	stats, err := s.stats(ctx, sess)
	if err != nil {
		return Stats{}, err
	}

	s.publish(Event{Kind: EventSessionEnded, SessionID: sess.ID, Stats: &stats, At: sess.EndedAt.Time})
	s.notify("session", core.SeveritySuccess, "Session ended successfully")
	s.sendReport(sess, stats)
	return stats, nil
}

func (s *Service) stats(ctx context.Context, sess Session) (Stats, error) {
	present, err := s.repo.CountPresent(ctx, sess.ID)
	if err != nil {
		return Stats{}, errors.Wrap(err, "counting present")
	}
	byMethod, err := s.repo.CountByModality(ctx, sess.ID)
	if err != nil {
		return Stats{}, errors.Wrap(err, "counting by modality")
	}

	stats := Stats{
		Total:    sess.Total,
		Present:  present,
		Absent:   sess.Total - present,
		ByMethod: byMethod,
	}
	if stats.Absent < 0 {
		stats.Absent = 0
	}
	if sess.Total > 0 {
		stats.Rate = float64(present) / float64(sess.Total)
	}
	return stats, nil
}

// startLoop assumes s.mu is held.
func (s *Service) startLoop(sess Session) {
	loop := &CaptureLoop{
		modality:  sess.Modality,
		sessionID: sess.ID,
		tick:      s.conf.Capture.TickInterval,
		cooldown:  s.conf.Capture.Cooldown,
		deliver:   s.handleAttempt,
		logger:    s.logger,
		now:       s.now,
	}

	switch sess.Modality {
	case ModalityFace:
		fs, err := s.openFrames()
		if err != nil {
			s.logger.Error(fmt.Sprintf("acquiring camera: %v", err), err)
			s.notify("camera", core.SeverityError, "Could not access camera. Please check permissions.")
			return
		}
		loop.attempt = s.faceAttempt(fs, sess.ID)
		loop.release = fs.Release
	case ModalityFingerprint:
		loop.attempt = s.fingerprintAttempt()
	}

	s.loop = loop
	loop.Start()
}

// stopLoop assumes s.mu is held. Idempotent.
func (s *Service) stopLoop() {
	if s.loop != nil {
		s.loop.Stop()
		s.loop = nil
	}
}

func (s *Service) faceAttempt(fs core.FrameSource, sessionID string) attemptFunc {
	return func(ctx context.Context) (Outcome, *core.Subject, float64, error) {
		frame, err := fs.Capture(ctx)
		if err != nil {
			return OutcomeDeviceError, nil, 0, errors.Wrap(err, "capturing frame")
		}
		res, err := s.recognizer.Recognize(ctx, frame, sessionID)
		if err != nil {
			return classifyError(err), nil, 0, err
		}
		switch res.Status {
		case core.RecognitionMatched:
			return OutcomeMatched, &res.Subject, res.Confidence, nil
		case core.RecognitionAlreadyMarked:
			return OutcomeAlreadyMarked, &res.Subject, res.Confidence, nil
		case core.RecognitionNoMatch:
			return OutcomeNotRecognized, nil, 0, nil
		default:
			return OutcomeDeviceError, nil, 0, errors.Errorf("recognition failed: %s", res.Reason)
		}
	}
}

func (s *Service) fingerprintAttempt() attemptFunc {
	return func(ctx context.Context) (Outcome, *core.Subject, float64, error) {
		scan, err := s.device.Identify(ctx)
		if err != nil {
			return classifyError(err), nil, 0, err
		}
		if !scan.Matched {
			return OutcomeNotRecognized, nil, 0, nil
		}
		subject, err := s.repo.FindSubjectByFingerprint(ctx, scan.FingerprintID)
		if err != nil {
			if errors.Cause(err) == ErrUnknownFingerprint {
				return OutcomeNotRecognized, nil, 0, nil
			}
			return OutcomeDeviceError, nil, 0, errors.Wrap(err, "resolving fingerprint")
		}
		return OutcomeMatched, &subject, float64(scan.Confidence), nil
	}
}

func classifyError(err error) Outcome {
	switch {
	case core.IsTimeout(err), core.IsConnection(err):
		return OutcomeDeviceError
	case core.IsRecognition(err):
		return OutcomeNotRecognized
	default:
		if _, ok := errors.Cause(err).(*core.ValidationError); ok {
			return OutcomeValidationError
		}
		return OutcomeDeviceError
	}
}

// handleAttempt records the outcome of a capture attempt against the session
// the loop was bound to. Attempts for a session that is no longer current
// (stopped while the attempt was in flight) are dropped.
func (s *Service) handleAttempt(sessionID string, att CaptureAttempt) {
	s.mu.Lock()
	if s.current == nil || s.current.ID != sessionID || !s.current.IsActive() {
		s.mu.Unlock()
		s.logger.Debug(fmt.Sprintf("dropping %s attempt for stale session %s", att.Modality, sessionID))
		return
	}
	current := s.current
	s.mu.Unlock()

	if att.Outcome == OutcomeMatched {
		rec := Record{
			SessionID:   sessionID,
			StudentID:   att.Subject.ID,
			StudentName: att.Subject.Name,
			Modality:    att.Modality,
			Confidence:  null.Float64From(att.Confidence),
			MarkedAt:    att.At,
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := s.repo.MarkAttendance(ctx, rec)
		cancel()
		switch errors.Cause(err) {
		case nil:
			s.mu.Lock()
			current.Present++
			current.LastScanAt = null.TimeFrom(att.At)
			s.mu.Unlock()
		case ErrAlreadyMarked:
			att.Outcome = OutcomeAlreadyMarked
		default:
			s.logger.Error(fmt.Sprintf("marking attendance: %v", err), err)
			att.Outcome = OutcomeDeviceError
			att.Err = err
		}
	}

	s.publish(Event{Kind: EventCaptureAttempt, SessionID: sessionID, Attempt: &att, At: att.At})
	s.notifyAttempt(att)
}

func (s *Service) notifyAttempt(att CaptureAttempt) {
	key := fmt.Sprintf("%s:%s", att.Modality, att.Outcome)
	switch att.Outcome {
	case OutcomeMatched:
		s.notifier.Notify(core.Notification{
			Key:      key,
			Severity: core.SeveritySuccess,
			Message:  fmt.Sprintf("Attendance marked for %s", att.Subject.Name),
			At:       att.At,
		})
	case OutcomeAlreadyMarked:
		msg := "Attendance already marked"
		if att.Subject != nil {
			msg = fmt.Sprintf("Already marked: %s", att.Subject.Name)
		}
		s.notifier.Notify(core.Notification{Key: key, Severity: core.SeverityWarning, Message: msg, At: att.At})
	case OutcomeNotRecognized:
		s.notifier.Notify(core.Notification{Key: key, Severity: core.SeverityInfo, Message: "No match found", At: att.At})
	case OutcomeDeviceError:
		msg := "Scanner not reachable. Check device power and network."
		if att.Err != nil && core.IsTimeout(att.Err) {
			msg = "Scanner timeout - retrying..."
		}
		s.notifier.Notify(core.Notification{Key: key, Severity: core.SeverityError, Message: msg, At: att.At})
	case OutcomeValidationError:
		s.notifier.Notify(core.Notification{Key: key, Severity: core.SeverityError, Message: "Invalid capture request", At: att.At})
	}
}

func (s *Service) publish(ev Event) {
	s.events.Publish(ev)
}

func (s *Service) notify(key string, sev core.Severity, msg string) {
	s.notifier.Notify(core.Notification{Key: key, Severity: sev, Message: msg, At: s.now().UTC()})
}

// sendReport emails the final statistics to the lecturer who ran the session.
func (s *Service) sendReport(sess Session, stats Stats) {
	// StartedBy is the lecturer's email per the API contract
	if s.mailSvc == nil || !strings.Contains(sess.StartedBy, "@") {
		return
	}
	body := fmt.Sprintf(
		"Attendance session for course %s has ended.\n\n"+
			"Present: %d\nAbsent: %d\nTotal: %d\nAttendance rate: %.0f%%\n",
		sess.CourseID, stats.Present, stats.Absent, stats.Total, stats.Rate*100,
	)
	s.mailSvc.SendMessages(&core.EmailMessage{
		To:      []mail.Address{{Address: sess.StartedBy}},
		Subject: "Attendance session report",
		BodyStr: body,
	})
}
