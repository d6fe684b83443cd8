package core

import "time"

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

type (
	// Notification is a short user-facing message. Key groups repeats of
	// the same category so throttling can suppress floods (e.g. "no match
	// found" on every capture tick).
	Notification struct {
		Key      string
		Severity Severity
		Message  string
		At       time.Time
	}

	Notifier interface {
		Notify(n Notification)
	}
)
