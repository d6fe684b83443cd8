package enroll

import (
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/hadiri/core"
)

// Step is an enrollment process's position in its state machine. Steps move
// strictly forward except for the explicit cancel/timeout exits.
type Step string

const (
	StepIdle       Step = "idle"
	StepValidating Step = "validating"
	StepValidated  Step = "validated"
	StepEnrolling  Step = "enrolling"
	StepComplete   Step = "complete"
	StepFailed     Step = "failed"
	StepCancelled  Step = "cancelled"
	StepTimeout    Step = "timeout"
)

func (s Step) Terminal() bool {
	switch s {
	case StepComplete, StepFailed, StepCancelled, StepTimeout:
		return true
	}
	return false
}

// Process is one device-side enrollment of a new biometric template.
type Process struct {
	ID               string    `json:"id" db:"id"`
	ProvisionalID    int       `json:"provisional_id" db:"provisional_id"`
	DeviceAssignedID null.Int  `json:"device_assigned_id" db:"device_assigned_id"`
	SubjectName      string    `json:"subject_name" db:"subject_name"`
	SubjectRef       string    `json:"subject_ref" db:"subject_ref"`
	Step             Step      `json:"step" db:"step"`
	StartedAt        time.Time `json:"started_at" db:"started_at"`
	CompletedAt      null.Time `json:"completed_at" db:"completed_at"`
	Quality          int       `json:"quality" db:"quality"`
	FailReason       string    `json:"fail_reason,omitempty" db:"fail_reason"`
}

// CorrelationID is the id used to correlate with the device: the device's
// own assigned id once received (it permanently supersedes the provisional
// one), the client-generated provisional id before that.
func (p *Process) CorrelationID() int {
	if p.DeviceAssignedID.Valid && p.DeviceAssignedID.Int != 0 {
		return p.DeviceAssignedID.Int
	}
	return p.ProvisionalID
}

// NewEnrollment is the input to start an enrollment on the device.
type NewEnrollment struct {
	SubjectName string `json:"subject_name" validate:"required,notblank"`
	SubjectRef  string `json:"subject_ref" validate:"required,notblank"`
}

func (ne *NewEnrollment) Validate(validate *validator.Validate, translator ut.Translator) error {
	ne.SubjectName = core.CleanString(ne.SubjectName)
	ne.SubjectRef = core.CleanString(ne.SubjectRef)
	if err := validate.Struct(ne); err != nil {
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
