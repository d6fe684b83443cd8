package recognitionsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/pkg/errors"

	"github.com/trezcool/hadiri/core"
)

// Client submits camera frames to the external face-matching service.
// The matching itself is not ours; we only carry the frame over and map
// the verdict.
type Client struct {
	baseURL string
	http    *http.Client
	logger  core.Logger
}

var _ core.FaceRecognizer = (*Client)(nil)

func NewClient(conf *core.Config, logger core.Logger) *Client {
	return &Client{
		baseURL: conf.Recognition.BaseURL,
		http:    &http.Client{Timeout: conf.Recognition.Timeout},
		logger:  logger,
	}
}

func (c *Client) Recognize(ctx context.Context, frame []byte, sessionID string) (core.RecognitionResult, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	part, err := w.CreateFormFile("image", "frame.jpg")
	if err != nil {
		return core.RecognitionResult{}, errors.Wrap(err, "building recognition payload")
	}
	if _, err = part.Write(frame); err != nil {
		return core.RecognitionResult{}, errors.Wrap(err, "building recognition payload")
	}
	if err = w.WriteField("session_id", sessionID); err != nil {
		return core.RecognitionResult{}, errors.Wrap(err, "building recognition payload")
	}
	if err = w.Close(); err != nil {
		return core.RecognitionResult{}, errors.Wrap(err, "building recognition payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/recognize", &body)
	if err != nil {
		return core.RecognitionResult{}, errors.Wrap(err, "building recognition request")
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	res, err := c.http.Do(req)
	if err != nil {
		if uerr, ok := err.(*url.Error); ok && uerr.Timeout() {
			return core.RecognitionResult{}, errors.WithStack(&core.TimeoutError{Op: "recognize", Timeout: c.http.Timeout})
		}
		return core.RecognitionResult{}, errors.WithStack(&core.ConnectionError{Op: "recognize", Err: err})
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusInternalServerError {
		return core.RecognitionResult{}, errors.Errorf("recognition service: status %d", res.StatusCode)
	}

	var result core.RecognitionResult
	if err = json.NewDecoder(res.Body).Decode(&result); err != nil {
		return core.RecognitionResult{}, errors.Wrap(err, "decoding recognition response")
	}
	return result, nil
}
