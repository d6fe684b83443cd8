package enroll_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/hadiri/core"
	"github.com/trezcool/hadiri/core/enroll"
	"github.com/trezcool/hadiri/storage/database/dummydb"
	testutil "github.com/trezcool/hadiri/tests"
)

type deps struct {
	repo     *dummydb.EnrollRepository
	device   *testutil.FakeDevice
	notifier *testutil.Notifier
	svc      *enroll.Service
}

func setup(t *testing.T, opts ...func(*enroll.ServiceDeps)) *deps {
	t.Helper()
	conf := testutil.NewConfig()
	validate, translator := testutil.NewValidators(t)

	d := &deps{
		repo:     dummydb.NewEnrollRepository(),
		device:   &testutil.FakeDevice{},
		notifier: &testutil.Notifier{},
	}
	sd := enroll.ServiceDeps{
		Repo:       d.repo,
		Device:     d.device,
		Notifier:   d.notifier,
		Logger:     testutil.Logger{},
		Validate:   validate,
		Translator: translator,
		Conf:       conf,
	}
	for _, opt := range opts {
		opt(&sd)
	}
	d.svc = enroll.NewService(sd)
	return d
}

func newEnrollment() enroll.NewEnrollment {
	return enroll.NewEnrollment{SubjectName: "Ada Lovelace", SubjectRef: "REG-1"}
}

func TestService_StartProcess(t *testing.T) {
	tests := []struct {
		name    string
		status  core.DeviceStatus
		err     error
		wantErr error
	}{
		{name: "ok", status: core.DeviceStatus{Online: true, SensorConnected: true}},
		{name: "offline", status: core.DeviceStatus{}, wantErr: enroll.ErrDeviceOffline},
		{name: "unreachable", err: errors.WithStack(&core.ConnectionError{Op: "status"}), wantErr: enroll.ErrDeviceOffline},
		{name: "no sensor", status: core.DeviceStatus{Online: true}, wantErr: enroll.ErrSensorNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := setup(t)
			d.device.StatusFunc = func(ctx context.Context) (core.DeviceStatus, error) {
				return tt.status, tt.err
			}

			err := d.svc.StartProcess(context.Background())
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("StartProcess() failed: %v", err)
				}
				if len(d.device.Displayed) == 0 || d.device.Displayed[0] != "Click Enroll Button!" {
					t.Errorf("device display prompt = %v, want enroll button prompt", d.device.Displayed)
				}
			} else if tt.name == "unreachable" {
				if err == nil {
					t.Fatal("StartProcess() succeeded, want error")
				}
			} else if errors.Cause(err) != tt.wantErr {
				t.Errorf("StartProcess() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestService_Enroll_requiresValidation(t *testing.T) {
	d := setup(t)

	_, err := d.svc.Enroll(context.Background(), newEnrollment())
	if errors.Cause(err) != enroll.ErrNotValidated {
		t.Errorf("Enroll() error = %v, want ErrNotValidated", err)
	}
}

func TestService_Enroll_inputValidationBeforeDevice(t *testing.T) {
	d := setup(t)
	ctx := context.Background()

	var deviceCalled int32
	d.device.StartEnrollFunc = func(ctx context.Context, id int, name, ref string) (core.EnrollAck, error) {
		atomic.AddInt32(&deviceCalled, 1)
		return core.EnrollAck{Started: true}, nil
	}
	if err := d.svc.StartProcess(ctx); err != nil {
		t.Fatalf("StartProcess() failed: %v", err)
	}

	tests := []struct {
		name string
		ne   enroll.NewEnrollment
	}{
		{name: "empty", ne: enroll.NewEnrollment{}},
		{name: "blank name", ne: enroll.NewEnrollment{SubjectName: "   ", SubjectRef: "REG-1"}},
		{name: "blank ref", ne: enroll.NewEnrollment{SubjectName: "Ada", SubjectRef: " "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.svc.Enroll(ctx, tt.ne)
			if _, ok := errors.Cause(err).(*core.ValidationError); !ok {
				t.Errorf("Enroll() error = %v, want ValidationError", err)
			}
		})
	}
	if atomic.LoadInt32(&deviceCalled) != 0 {
		t.Error("device was called for invalid input")
	}
}

func TestService_Enroll_optimisticCompletion(t *testing.T) {
	d := setup(t)
	ctx := context.Background()

	var progressChecks int32
	d.device.StartEnrollFunc = func(ctx context.Context, id int, name, ref string) (core.EnrollAck, error) {
		if id < 100 || id > 999 {
			t.Errorf("provisional id = %d, want 100..999", id)
		}
		return core.EnrollAck{Started: true, AssignedID: 7}, nil
	}
	d.device.EnrollProgressFunc = func(ctx context.Context) (core.EnrollProgress, error) {
		atomic.AddInt32(&progressChecks, 1)
		// device is mid-capture and unresponsive
		return core.EnrollProgress{}, errors.WithStack(&core.TimeoutError{Op: "enroll-status"})
	}

	if err := d.svc.StartProcess(ctx); err != nil {
		t.Fatalf("StartProcess() failed: %v", err)
	}
	proc, err := d.svc.Enroll(ctx, newEnrollment())
	if err != nil {
		t.Fatalf("Enroll() failed: %v", err)
	}
	if proc.Step != enroll.StepEnrolling {
		t.Errorf("Process.Step = %s, want enrolling", proc.Step)
	}
	if proc.CorrelationID() != 7 {
		t.Errorf("CorrelationID() = %d, want the device-assigned 7", proc.CorrelationID())
	}

	testutil.Eventually(t, 500*time.Millisecond, func() bool {
		cur, err := d.svc.Current()
		return err == nil && cur.Step == enroll.StepComplete
	}, "process never completed")

	// a failed status check still completes; exactly one check is issued
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&progressChecks); got != 1 {
		t.Errorf("progress checks = %d, want exactly 1", got)
	}

	cur, err := d.svc.Current()
	if err != nil {
		t.Fatalf("Current() failed: %v", err)
	}
	if !cur.CompletedAt.Valid {
		t.Error("CompletedAt not set on completion")
	}
	if got := d.repo.EnrolledID("REG-1"); got != 7 {
		t.Errorf("enrolled fingerprint id = %d, want 7", got)
	}
}

func TestService_Enroll_strictCompletion(t *testing.T) {
	d := setup(t, func(sd *enroll.ServiceDeps) { sd.Policy = enroll.StrictCompletion })
	ctx := context.Background()

	d.device.EnrollProgressFunc = func(ctx context.Context) (core.EnrollProgress, error) {
		return core.EnrollProgress{Active: true, Step: 2}, nil
	}

	if err := d.svc.StartProcess(ctx); err != nil {
		t.Fatalf("StartProcess() failed: %v", err)
	}
	if _, err := d.svc.Enroll(ctx, newEnrollment()); err != nil {
		t.Fatalf("Enroll() failed: %v", err)
	}

	testutil.Eventually(t, 500*time.Millisecond, func() bool {
		cur, err := d.svc.Current()
		return err == nil && cur.Step == enroll.StepFailed
	}, "process never failed under strict policy")

	if got := d.repo.EnrolledID("REG-1"); got != 0 {
		t.Error("fingerprint recorded despite failed enrollment")
	}
}

func TestService_Enroll_busy(t *testing.T) {
	d := setup(t, func(sd *enroll.ServiceDeps) {
		// keep the process in-flight long enough for the second request
		sd.Conf.Enrollment.ScanWindow = 100 * time.Millisecond
	})
	ctx := context.Background()

	if err := d.svc.StartProcess(ctx); err != nil {
		t.Fatalf("StartProcess() failed: %v", err)
	}
	if _, err := d.svc.Enroll(ctx, newEnrollment()); err != nil {
		t.Fatalf("Enroll() failed: %v", err)
	}

	if _, err := d.svc.Enroll(ctx, newEnrollment()); !core.IsDeviceBusy(err) {
		t.Errorf("Enroll() error = %v, want DeviceBusyError", err)
	}
	if err := d.svc.StartProcess(ctx); !core.IsDeviceBusy(err) {
		t.Errorf("StartProcess() error = %v, want DeviceBusyError", err)
	}
}

func TestService_Cancel(t *testing.T) {
	d := setup(t)
	ctx := context.Background()

	if err := d.svc.Cancel(ctx); errors.Cause(err) != enroll.ErrNoActiveProcess {
		t.Errorf("Cancel() error = %v, want ErrNoActiveProcess", err)
	}

	if err := d.svc.StartProcess(ctx); err != nil {
		t.Fatalf("StartProcess() failed: %v", err)
	}
	if _, err := d.svc.Enroll(ctx, newEnrollment()); err != nil {
		t.Fatalf("Enroll() failed: %v", err)
	}

	if err := d.svc.Cancel(ctx); err != nil {
		t.Fatalf("Cancel() failed: %v", err)
	}
	cur, err := d.svc.Current()
	if err != nil {
		t.Fatalf("Current() failed: %v", err)
	}
	if cur.Step != enroll.StepCancelled {
		t.Errorf("Process.Step = %s, want cancelled", cur.Step)
	}
	if d.device.CancelCalls != 1 {
		t.Errorf("device cancel calls = %d, want 1", d.device.CancelCalls)
	}

	// the already-armed timers must not resurrect the process
	time.Sleep(50 * time.Millisecond)
	cur, _ = d.svc.Current()
	if cur.Step != enroll.StepCancelled {
		t.Errorf("Process.Step = %s after timers, want cancelled", cur.Step)
	}
}

func TestService_ceilingTimeout(t *testing.T) {
	d := setup(t, func(sd *enroll.ServiceDeps) {
		// ceiling fires before the wait-window check ever runs
		sd.Conf.Enrollment.ScanWindow = 100 * time.Millisecond
		sd.Conf.Enrollment.CeilingTimeout = 30 * time.Millisecond
	})
	ctx := context.Background()

	if err := d.svc.StartProcess(ctx); err != nil {
		t.Fatalf("StartProcess() failed: %v", err)
	}
	if _, err := d.svc.Enroll(ctx, newEnrollment()); err != nil {
		t.Fatalf("Enroll() failed: %v", err)
	}

	testutil.Eventually(t, 500*time.Millisecond, func() bool {
		cur, err := d.svc.Current()
		return err == nil && cur.Step == enroll.StepTimeout
	}, "process never timed out")

	if d.device.CancelCalls == 0 {
		t.Error("ceiling timeout did not cancel enrollment on the device")
	}
}

func TestService_Resume(t *testing.T) {
	d := setup(t)
	ctx := context.Background()

	// nothing persisted: no-op
	if err := d.svc.Resume(ctx); err != nil {
		t.Fatalf("Resume() failed: %v", err)
	}

	p := enroll.Process{
		ID:            "proc-1",
		ProvisionalID: 123,
		SubjectName:   "Ada Lovelace",
		SubjectRef:    "REG-1",
		Step:          enroll.StepEnrolling,
		StartedAt:     time.Now().UTC(),
	}
	if err := d.repo.SaveProcess(ctx, p); err != nil {
		t.Fatalf("SaveProcess() failed: %v", err)
	}

	if err := d.svc.Resume(ctx); err != nil {
		t.Fatalf("Resume() failed: %v", err)
	}

	testutil.Eventually(t, 500*time.Millisecond, func() bool {
		cur, err := d.svc.Current()
		return err == nil && cur.Step == enroll.StepComplete
	}, "resumed process never completed")

	testutil.Eventually(t, 500*time.Millisecond, func() bool {
		return d.repo.EnrolledID("REG-1") == 123
	}, "enrolled fingerprint id never recorded under the provisional 123")
}

func TestService_Resume_pastCeiling(t *testing.T) {
	d := setup(t)
	ctx := context.Background()

	p := enroll.Process{
		ID:            "proc-1",
		ProvisionalID: 123,
		SubjectName:   "Ada Lovelace",
		SubjectRef:    "REG-1",
		Step:          enroll.StepEnrolling,
		StartedAt:     time.Now().UTC().Add(-time.Hour),
	}
	if err := d.repo.SaveProcess(ctx, p); err != nil {
		t.Fatalf("SaveProcess() failed: %v", err)
	}

	if err := d.svc.Resume(ctx); err != nil {
		t.Fatalf("Resume() failed: %v", err)
	}

	testutil.Eventually(t, 500*time.Millisecond, func() bool {
		cur, err := d.svc.Current()
		return err == nil && cur.Step == enroll.StepTimeout
	}, "stale process never timed out")
}
