package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/hadiri/core"
	"github.com/trezcool/hadiri/core/session"
	"github.com/trezcool/hadiri/storage/database/dummydb"
)

// NewConfig returns a Config with durations shrunk so lifecycle tests run in
// milliseconds instead of the production seconds/minutes.
func NewConfig() *core.Config {
	conf := &core.Config{
		TestMode: true,
		Env:      "TEST",
		AppName:  "Hadiri",
	}
	conf.Device.StatusTimeout = 50 * time.Millisecond
	conf.Device.ScanTimeout = 50 * time.Millisecond
	conf.Device.CommandTimeout = 50 * time.Millisecond
	conf.Capture.TickInterval = 5 * time.Millisecond
	conf.Capture.Cooldown = 8 * time.Millisecond
	conf.Enrollment.ScanWindow = 10 * time.Millisecond
	conf.Enrollment.ScanBuffer = 2 * time.Millisecond
	conf.Enrollment.CeilingTimeout = 200 * time.Millisecond
	conf.Notify.InfoWindow = 30 * time.Millisecond
	conf.Notify.WarningWindow = 15 * time.Millisecond
	conf.Notify.ErrorWindow = 10 * time.Millisecond
	return conf
}

func NewValidators(t *testing.T) (*validator.Validate, ut.Translator) {
	t.Helper()
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	validate := validator.New()
	core.InitValidators(validate, translator)
	return validate, translator
}

func CreateStudent(t *testing.T, repo *dummydb.SessionRepository, name, regNo string, c session.Context, fingerprintID int) dummydb.Student {
	t.Helper()
	st := dummydb.Student{
		ID:            regNo,
		Name:          name,
		RegNo:         regNo,
		Context:       c,
		FingerprintID: fingerprintID,
	}
	repo.Students = append(repo.Students, st)
	return st
}

// Logger is a no-op core.Logger.
type Logger struct{}

var _ core.Logger = (*Logger)(nil)

func (Logger) Enable(bool)                  {}
func (Logger) Debug(string, ...interface{}) {}
func (Logger) Info(string, ...interface{})  {}
func (Logger) Warn(string, ...interface{})  {}
func (Logger) Error(string, ...interface{}) {}
func (Logger) Fatal(string, ...interface{}) {}

// Notifier records every notification it receives.
type Notifier struct {
	mu     sync.Mutex
	notifs []core.Notification
}

var _ core.Notifier = (*Notifier)(nil)

func (n *Notifier) Notify(notif core.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifs = append(n.notifs, notif)
}

func (n *Notifier) Notifications() []core.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	notifs := make([]core.Notification, len(n.notifs))
	copy(notifs, n.notifs)
	return notifs
}

func (n *Notifier) Last() (core.Notification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.notifs) == 0 {
		return core.Notification{}, false
	}
	return n.notifs[len(n.notifs)-1], true
}

// FakeDevice is a scriptable core.DeviceClient. Set the func fields to
// control behavior; unset fields return benign defaults.
type FakeDevice struct {
	mu sync.Mutex

	StatusFunc         func(ctx context.Context) (core.DeviceStatus, error)
	IdentifyFunc       func(ctx context.Context) (core.ScanResult, error)
	StartEnrollFunc    func(ctx context.Context, id int, subjectName, subjectRef string) (core.EnrollAck, error)
	EnrollProgressFunc func(ctx context.Context) (core.EnrollProgress, error)
	CancelEnrollFunc   func(ctx context.Context) error

	Displayed   []string
	CancelCalls int
}

var _ core.DeviceClient = (*FakeDevice)(nil)

func (d *FakeDevice) Status(ctx context.Context) (core.DeviceStatus, error) {
	if d.StatusFunc != nil {
		return d.StatusFunc(ctx)
	}
	return core.DeviceStatus{Online: true, SensorConnected: true}, nil
}

func (d *FakeDevice) Identify(ctx context.Context) (core.ScanResult, error) {
	if d.IdentifyFunc != nil {
		return d.IdentifyFunc(ctx)
	}
	return core.ScanResult{}, nil
}

func (d *FakeDevice) StartEnroll(ctx context.Context, id int, subjectName, subjectRef string) (core.EnrollAck, error) {
	if d.StartEnrollFunc != nil {
		return d.StartEnrollFunc(ctx, id, subjectName, subjectRef)
	}
	return core.EnrollAck{Started: true}, nil
}

func (d *FakeDevice) EnrollProgress(ctx context.Context) (core.EnrollProgress, error) {
	if d.EnrollProgressFunc != nil {
		return d.EnrollProgressFunc(ctx)
	}
	return core.EnrollProgress{}, nil
}

func (d *FakeDevice) CancelEnroll(ctx context.Context) error {
	d.mu.Lock()
	d.CancelCalls++
	d.mu.Unlock()
	if d.CancelEnrollFunc != nil {
		return d.CancelEnrollFunc(ctx)
	}
	return nil
}

func (d *FakeDevice) Display(ctx context.Context, message string) error {
	d.mu.Lock()
	d.Displayed = append(d.Displayed, message)
	d.mu.Unlock()
	return nil
}

func (d *FakeDevice) Connection() core.DeviceConnection {
	return core.DeviceConnection{Online: true, SensorConnected: true}
}

// FakeRecognizer returns scripted results in order, repeating the last one.
type FakeRecognizer struct {
	mu      sync.Mutex
	Results []core.RecognitionResult
	Err     error
	calls   int
}

var _ core.FaceRecognizer = (*FakeRecognizer)(nil)

func (r *FakeRecognizer) Recognize(ctx context.Context, frame []byte, sessionID string) (core.RecognitionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return core.RecognitionResult{}, r.Err
	}
	if len(r.Results) == 0 {
		return core.RecognitionResult{Status: core.RecognitionNoMatch}, nil
	}
	i := r.calls
	if i >= len(r.Results) {
		i = len(r.Results) - 1
	}
	r.calls++
	return r.Results[i], nil
}

// FakeFrameSource yields a static frame and counts releases.
type FakeFrameSource struct {
	mu       sync.Mutex
	Releases int
}

var _ core.FrameSource = (*FakeFrameSource)(nil)

func (f *FakeFrameSource) Capture(ctx context.Context) ([]byte, error) {
	return []byte("frame"), nil
}

func (f *FakeFrameSource) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Releases++
	return nil
}

func (f *FakeFrameSource) ReleaseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Releases
}

// Eventually polls cond until it returns true or the timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}
