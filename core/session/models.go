package session

import (
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/hadiri/core"
)

type Modality string

const (
	ModalityFace        Modality = "face"
	ModalityFingerprint Modality = "fingerprint"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusEnded   Status = "ended"
)

// Context is the attendance context a session belongs to. At most one
// session may be active per context at any time.
type Context struct {
	DepartmentID string `json:"department_id" db:"department_id"`
	OptionID     string `json:"option_id" db:"option_id"`
	CourseID     string `json:"course_id" db:"course_id"`
}

type Session struct {
	ID         string    `json:"id" db:"id"`
	Status     Status    `json:"status" db:"status"`
	Modality   Modality  `json:"modality" db:"modality"`
	Context    `json:"context"`
	StartedBy  string    `json:"started_by" db:"started_by"`
	StartedAt  time.Time `json:"started_at" db:"started_at"`
	EndedAt    null.Time `json:"ended_at" db:"ended_at"`
	LastScanAt null.Time `json:"last_scan_at" db:"last_scan_at"`
	Present    int       `json:"present" db:"present"`
	Total      int       `json:"total" db:"total"`
}

func (s *Session) IsActive() bool {
	return s.Status == StatusActive
}

// Record is one marked attendance within a session.
type Record struct {
	SessionID   string       `json:"session_id" db:"session_id"`
	StudentID   string       `json:"student_id" db:"student_id"`
	StudentName string       `json:"student_name" db:"student_name"`
	Modality    Modality     `json:"modality" db:"modality"`
	Confidence  null.Float64 `json:"confidence" db:"confidence"`
	MarkedAt    time.Time    `json:"marked_at" db:"marked_at"`
}

// Stats are the final (or live) statistics of a session.
type Stats struct {
	Total    int              `json:"total"`
	Present  int              `json:"present"`
	Absent   int              `json:"absent"`
	Rate     float64          `json:"rate"`
	ByMethod map[Modality]int `json:"by_method"`
}

type Outcome string

const (
	OutcomeMatched         Outcome = "matched"
	OutcomeAlreadyMarked   Outcome = "already_marked"
	OutcomeNotRecognized   Outcome = "not_recognized"
	OutcomeDeviceError     Outcome = "device_error"
	OutcomeValidationError Outcome = "validation_error"
)

// CaptureAttempt is one discrete try to acquire and classify a biometric
// sample. Ephemeral; produced per capture tick, never persisted.
type CaptureAttempt struct {
	At         time.Time     `json:"at"`
	Modality   Modality      `json:"modality"`
	Outcome    Outcome       `json:"outcome"`
	Subject    *core.Subject `json:"subject,omitempty"`
	Confidence float64       `json:"confidence,omitempty"`
	Err        error         `json:"-"`
}

// NewSession is the input to start (or force-start) a session.
type NewSession struct {
	DepartmentID string   `json:"department_id" validate:"required"`
	OptionID     string   `json:"option_id" validate:"required"`
	CourseID     string   `json:"course_id" validate:"required"`
	Modality     Modality `json:"modality" validate:"required,modality"`
	StartedBy    string   `json:"started_by" validate:"required"`
}

func (ns *NewSession) Validate(validate *validator.Validate, translator ut.Translator) error {
	ns.DepartmentID = core.CleanString(ns.DepartmentID)
	ns.OptionID = core.CleanString(ns.OptionID)
	ns.CourseID = core.CleanString(ns.CourseID)
	ns.StartedBy = core.CleanString(ns.StartedBy)
	if err := validate.Struct(ns); err != nil {
		if vErrs, ok := err.(validator.ValidationErrors); ok {
			flds := make([]core.FieldError, 0, len(vErrs))
			for _, vErr := range vErrs {
				flds = append(flds, core.FieldError{Field: vErr.Field(), Error: vErr.Translate(translator)})
			}
			return core.NewValidationError(err, flds...)
		}
		return err
	}
	return nil
}

func (ns NewSession) context() Context {
	return Context{
		DepartmentID: ns.DepartmentID,
		OptionID:     ns.OptionID,
		CourseID:     ns.CourseID,
	}
}
