package core

import "context"

// Recognition statuses as reported by the face-matching collaborator.
const (
	RecognitionMatched       = "success"
	RecognitionAlreadyMarked = "already_marked"
	RecognitionNoMatch       = "not_recognized"
	RecognitionFailed        = "error"
)

type (
	// Subject is the person a biometric sample resolved to.
	Subject struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		RegNo  string `json:"reg_no"`
		Source string `json:"-"` // which matcher produced it
	}

	// RecognitionResult is the face-matching collaborator's verdict on one frame.
	RecognitionResult struct {
		Status        string  `json:"status"`
		Subject       Subject `json:"student"`
		Confidence    float64 `json:"confidence"`
		FacesDetected int     `json:"faces_detected"`
		Reason        string  `json:"message"`
	}

	// FaceRecognizer submits a camera frame plus session context to the
	// external matching service. The matching algorithm itself is not ours.
	FaceRecognizer interface {
		Recognize(ctx context.Context, frame []byte, sessionID string) (RecognitionResult, error)
	}

	// FrameSource yields camera frames for the face modality. The source is
	// exclusively owned by the active capture loop and must be released on
	// every exit path.
	FrameSource interface {
		Capture(ctx context.Context) ([]byte, error)
		Release() error
	}

	// OpenFrameSource acquires the camera. Called when a face session
	// starts; the returned source is released when the loop stops.
	OpenFrameSource func() (FrameSource, error)
)
