package recognitionsvc

import (
	"context"
	"io/ioutil"
	"net/http"
	"net/url"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/hadiri/core"
)

// SnapshotFrameSource pulls JPEG stills from an IP camera's snapshot
// endpoint. Exclusively owned by the active face capture loop; Release is
// safe to call more than once.
type SnapshotFrameSource struct {
	url  string
	http *http.Client

	mu       sync.Mutex
	released bool
}

var _ core.FrameSource = (*SnapshotFrameSource)(nil)

// NewOpenSnapshotSource returns the camera opener wired into face sessions.
func NewOpenSnapshotSource(conf *core.Config) core.OpenFrameSource {
	return func() (core.FrameSource, error) {
		if conf.Camera.SnapshotURL == "" {
			return nil, errors.New("camera snapshot URL not configured")
		}
		return &SnapshotFrameSource{
			url:  conf.Camera.SnapshotURL,
			http: &http.Client{Timeout: conf.Recognition.Timeout},
		}, nil
	}
}

func (s *SnapshotFrameSource) Capture(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil, errors.New("camera released")
	}
	s.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "building camera request")
	}
	res, err := s.http.Do(req)
	if err != nil {
		if uerr, ok := err.(*url.Error); ok && uerr.Timeout() {
			return nil, errors.WithStack(&core.TimeoutError{Op: "camera", Timeout: s.http.Timeout})
		}
		return nil, errors.WithStack(&core.ConnectionError{Op: "camera", Err: err})
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, errors.Errorf("camera: status %d", res.StatusCode)
	}
	return ioutil.ReadAll(res.Body)
}

func (s *SnapshotFrameSource) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
	return nil
}
