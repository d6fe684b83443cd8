package echoapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/hadiri/core"
	"github.com/trezcool/hadiri/core/enroll"
	"github.com/trezcool/hadiri/core/session"
	"github.com/trezcool/hadiri/storage/database/dummydb"
	testutil "github.com/trezcool/hadiri/tests"
)

type testDeps struct {
	sessRepo   *dummydb.SessionRepository
	enrollRepo *dummydb.EnrollRepository
	device     *testutil.FakeDevice
	server     Server
}

func setup(t *testing.T) *testDeps {
	t.Helper()
	conf := testutil.NewConfig()
	validate, translator := testutil.NewValidators(t)

	d := &testDeps{
		sessRepo:   dummydb.NewSessionRepository(),
		enrollRepo: dummydb.NewEnrollRepository(),
		device:     &testutil.FakeDevice{},
	}
	sessSvc := session.NewService(session.ServiceDeps{
		Repo:       d.sessRepo,
		Device:     d.device,
		Recognizer: &testutil.FakeRecognizer{},
		OpenFrames: func() (core.FrameSource, error) { return &testutil.FakeFrameSource{}, nil },
		Notifier:   &testutil.Notifier{},
		Logger:     testutil.Logger{},
		Validate:   validate,
		Translator: translator,
		Conf:       conf,
	})
	t.Cleanup(sessSvc.Stop)

	enrollSvc := enroll.NewService(enroll.ServiceDeps{
		Repo:       d.enrollRepo,
		Device:     d.device,
		Notifier:   &testutil.Notifier{},
		Logger:     testutil.Logger{},
		Validate:   validate,
		Translator: translator,
		Conf:       conf,
	})

	d.server = NewServer(ServerDeps{
		Conf:       conf,
		Logger:     testutil.Logger{},
		SessionSvc: sessSvc,
		EnrollSvc:  enrollSvc,
		Device:     d.device,
		Validate:   validate,
		Translator: translator,
	})
	return d
}

func (d *testDeps) request(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	d.server.ServeHTTP(rec, req)
	return rec
}

func validSession() map[string]string {
	return map[string]string{
		"department_id": "cs",
		"option_id":     "se",
		"course_id":     "go101",
		"modality":      "fingerprint",
		"started_by":    "lecturer@test.cd",
	}
}

func Test_sessionApi_start(t *testing.T) {
	d := setup(t)

	rec := d.request(t, http.MethodPost, "/v1/sessions", validSession())
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var sess session.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	assert.True(t, sess.IsActive())
	assert.NotEmpty(t, sess.ID)
}

func Test_sessionApi_start_validation(t *testing.T) {
	d := setup(t)

	rec := d.request(t, http.MethodPost, "/v1/sessions", map[string]string{"modality": "face"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func Test_sessionApi_start_conflict(t *testing.T) {
	d := setup(t)

	rec := d.request(t, http.MethodPost, "/v1/sessions", validSession())
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var sess session.Session
	_ = json.Unmarshal(rec.Body.Bytes(), &sess)

	rec = d.request(t, http.MethodPost, "/v1/sessions", validSession())
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	var payload map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	assert.Equal(t, sess.ID, payload["existing_session_id"])
}

func Test_sessionApi_endAndStats(t *testing.T) {
	d := setup(t)

	rec := d.request(t, http.MethodPost, "/v1/sessions", validSession())
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sess session.Session
	_ = json.Unmarshal(rec.Body.Bytes(), &sess)

	rec = d.request(t, http.MethodPost, fmt.Sprintf("/v1/sessions/%s/end", sess.ID), nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var stats session.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	assert.Equal(t, 0, stats.Present)

	// ending twice fails
	rec = d.request(t, http.MethodPost, fmt.Sprintf("/v1/sessions/%s/end", sess.ID), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func Test_sessionApi_activeNotFound(t *testing.T) {
	d := setup(t)

	rec := d.request(t, http.MethodGet, "/v1/sessions/active?started_by=lecturer@test.cd", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())
}

func Test_enrollApi_busyConflict(t *testing.T) {
	d := setup(t)

	rec := d.request(t, http.MethodPost, "/v1/enrollment/start", nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := map[string]string{"subject_name": "Ada Lovelace", "subject_ref": "REG-1"}
	rec = d.request(t, http.MethodPost, "/v1/enrollment", body)
	assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = d.request(t, http.MethodPost, "/v1/enrollment", body)
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
}

func Test_enrollApi_validation(t *testing.T) {
	d := setup(t)

	rec := d.request(t, http.MethodPost, "/v1/enrollment/start", nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = d.request(t, http.MethodPost, "/v1/enrollment", map[string]string{"subject_name": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func Test_deviceStatus(t *testing.T) {
	d := setup(t)

	rec := d.request(t, http.MethodGet, "/v1/device/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var payload map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	assert.Equal(t, true, payload["online"])
	assert.Equal(t, true, payload["sensor_connected"])
}
