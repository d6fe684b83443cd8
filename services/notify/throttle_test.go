package notifysvc

import (
	"testing"
	"time"

	"github.com/trezcool/hadiri/core"
	testutil "github.com/trezcool/hadiri/tests"
)

func newTestThrottle(rec *testutil.Notifier) (*Throttle, *time.Time) {
	conf := testutil.NewConfig()
	conf.Notify.InfoWindow = 30 * time.Second
	conf.Notify.WarningWindow = 15 * time.Second
	conf.Notify.ErrorWindow = 10 * time.Second

	th := NewThrottle(rec, conf)
	now := time.Now()
	th.now = func() time.Time { return now }
	return th, &now
}

func notif(key string, sev core.Severity) core.Notification {
	return core.Notification{Key: key, Severity: sev, Message: "msg"}
}

func TestThrottle_suppressesRepeats(t *testing.T) {
	rec := &testutil.Notifier{}
	th, now := newTestThrottle(rec)

	th.Notify(notif("face:not_recognized", core.SeverityInfo))
	th.Notify(notif("face:not_recognized", core.SeverityInfo))
	th.Notify(notif("face:not_recognized", core.SeverityInfo))

	if got := len(rec.Notifications()); got != 1 {
		t.Fatalf("emitted %d notifications, want 1", got)
	}

	// past the window the same key emits again
	*now = now.Add(31 * time.Second)
	th.Notify(notif("face:not_recognized", core.SeverityInfo))
	if got := len(rec.Notifications()); got != 2 {
		t.Errorf("emitted %d notifications, want 2 after window elapsed", got)
	}
}

func TestThrottle_distinctKeysPass(t *testing.T) {
	rec := &testutil.Notifier{}
	th, _ := newTestThrottle(rec)

	th.Notify(notif("face:not_recognized", core.SeverityInfo))
	th.Notify(notif("face:matched", core.SeveritySuccess))
	th.Notify(notif("fingerprint:device_error", core.SeverityError))

	if got := len(rec.Notifications()); got != 3 {
		t.Errorf("emitted %d notifications, want 3 distinct keys", got)
	}
}

func TestThrottle_errorWindowIsShorter(t *testing.T) {
	rec := &testutil.Notifier{}
	th, now := newTestThrottle(rec)

	th.Notify(notif("fingerprint:device_error", core.SeverityError))
	th.Notify(notif("face:not_recognized", core.SeverityInfo))

	// 11s: error window (10s) elapsed, info window (30s) has not
	*now = now.Add(11 * time.Second)
	th.Notify(notif("fingerprint:device_error", core.SeverityError))
	th.Notify(notif("face:not_recognized", core.SeverityInfo))

	var errs, infos int
	for _, n := range rec.Notifications() {
		switch n.Severity {
		case core.SeverityError:
			errs++
		case core.SeverityInfo:
			infos++
		}
	}
	if errs != 2 {
		t.Errorf("error notifications = %d, want 2", errs)
	}
	if infos != 1 {
		t.Errorf("info notifications = %d, want 1", infos)
	}
}

func TestThrottle_Reset(t *testing.T) {
	rec := &testutil.Notifier{}
	th, _ := newTestThrottle(rec)

	th.Notify(notif("session", core.SeverityInfo))
	th.Reset()
	th.Notify(notif("session", core.SeverityInfo))

	if got := len(rec.Notifications()); got != 2 {
		t.Errorf("emitted %d notifications, want 2 after Reset", got)
	}
}
