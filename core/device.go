package core

import (
	"context"
	"time"
)

type (
	// DeviceStatus is the sensor unit's own liveness report.
	DeviceStatus struct {
		Online          bool
		SensorConnected bool
		Capacity        int
	}

	// DeviceConnection is the last known state of the sensor unit,
	// refreshed by every status call.
	DeviceConnection struct {
		Address         string
		Online          bool
		SensorConnected bool
		LastCheckedAt   time.Time
	}

	// ScanResult is the outcome of one identify attempt on the sensor.
	ScanResult struct {
		Matched       bool
		FingerprintID int
		Confidence    int
	}

	// EnrollAck acknowledges an enroll-start request. AssignedID is the
	// id the device chose; once received it permanently supersedes the
	// client-generated provisional id for all further correlation.
	EnrollAck struct {
		Started    bool
		AssignedID int
	}

	// EnrollProgress reports whether the device-side enrollment is still
	// running and which scan step it is on.
	EnrollProgress struct {
		Active bool
		Step   int
	}

	// DeviceClient talks to the external sensor unit. Implementations
	// perform no retries; retry/backoff policy belongs entirely to callers.
	DeviceClient interface {
		Status(ctx context.Context) (DeviceStatus, error)
		Identify(ctx context.Context) (ScanResult, error)
		StartEnroll(ctx context.Context, id int, subjectName, subjectRef string) (EnrollAck, error)
		EnrollProgress(ctx context.Context) (EnrollProgress, error)
		CancelEnroll(ctx context.Context) error
		Display(ctx context.Context, message string) error
		Connection() DeviceConnection
	}
)
