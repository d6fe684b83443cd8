package devicesvc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/hadiri/core"
)

// Client talks to the sensor unit's tiny embedded HTTP server. The unit
// cannot parse request bodies, so every parameter goes in the query string
// regardless of verb. The client performs no retries; retry cadence belongs
// to the callers' own timers.
type Client struct {
	address string
	http    *http.Client
	conf    *core.Config
	logger  core.Logger

	mu   sync.Mutex
	conn core.DeviceConnection
}

var _ core.DeviceClient = (*Client)(nil)

func NewClient(conf *core.Config, logger core.Logger) *Client {
	return &Client{
		address: conf.Device.Address,
		http:    &http.Client{}, // per-call deadlines via context
		conf:    conf,
		logger:  logger,
		conn:    core.DeviceConnection{Address: conf.Device.Address},
	}
}

type (
	statusResponse struct {
		Online          bool `json:"online"`
		SensorConnected bool `json:"sensorConnected"`
		Capacity        int  `json:"capacity"`
	}
	enrollResponse struct {
		Success    bool `json:"success"`
		AssignedID int  `json:"assignedId"`
	}
	enrollStatusResponse struct {
		Active bool `json:"active"`
		Step   int  `json:"step"`
	}
	identifyResponse struct {
		Success       bool `json:"success"`
		FingerprintID int  `json:"fingerprintId"`
		Confidence    int  `json:"confidence"`
	}
	okResponse struct {
		Success bool `json:"success"`
	}
)

func (c *Client) Status(ctx context.Context) (core.DeviceStatus, error) {
	var res statusResponse
	err := c.request(ctx, http.MethodGet, "/status", nil, c.conf.Device.StatusTimeout, &res)

	c.mu.Lock()
	c.conn.Online = err == nil && res.Online
	c.conn.SensorConnected = err == nil && res.SensorConnected
	c.conn.LastCheckedAt = time.Now().UTC()
	c.mu.Unlock()

	if err != nil {
		return core.DeviceStatus{}, err
	}
	return core.DeviceStatus{
		Online:          res.Online,
		SensorConnected: res.SensorConnected,
		Capacity:        res.Capacity,
	}, nil
}

func (c *Client) Identify(ctx context.Context) (core.ScanResult, error) {
	var res identifyResponse
	if err := c.request(ctx, http.MethodGet, "/identify", nil, c.conf.Device.ScanTimeout, &res); err != nil {
		return core.ScanResult{}, err
	}
	return core.ScanResult{
		Matched:       res.Success,
		FingerprintID: res.FingerprintID,
		Confidence:    res.Confidence,
	}, nil
}

func (c *Client) StartEnroll(ctx context.Context, id int, subjectName, subjectRef string) (core.EnrollAck, error) {
	params := url.Values{}
	params.Set("id", fmt.Sprintf("%d", id))
	params.Set("name", subjectName)
	params.Set("ref", subjectRef)

	var res enrollResponse
	if err := c.request(ctx, http.MethodPost, "/enroll", params, c.conf.Device.CommandTimeout, &res); err != nil {
		return core.EnrollAck{}, err
	}
	return core.EnrollAck{Started: res.Success, AssignedID: res.AssignedID}, nil
}

func (c *Client) EnrollProgress(ctx context.Context) (core.EnrollProgress, error) {
	var res enrollStatusResponse
	if err := c.request(ctx, http.MethodGet, "/enroll-status", nil, c.conf.Device.StatusTimeout, &res); err != nil {
		return core.EnrollProgress{}, err
	}
	return core.EnrollProgress{Active: res.Active, Step: res.Step}, nil
}

func (c *Client) CancelEnroll(ctx context.Context) error {
	var res okResponse
	if err := c.request(ctx, http.MethodPost, "/cancel-enroll", nil, c.conf.Device.CommandTimeout, &res); err != nil {
		return err
	}
	if !res.Success {
		return errors.New("device refused to cancel enrollment")
	}
	return nil
}

func (c *Client) Display(ctx context.Context, message string) error {
	params := url.Values{}
	params.Set("message", message)

	var res okResponse
	return c.request(ctx, http.MethodPost, "/display", params, c.conf.Device.CommandTimeout, &res)
}

// Connection returns the last known state from the most recent Status call.
func (c *Client) Connection() core.DeviceConnection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// request issues one call with params in the query string (the unit cannot
// parse bodies) and classifies failures: deadline → TimeoutError, anything
// else transport-level → ConnectionError.
func (c *Client) request(ctx context.Context, method, path string, params url.Values, timeout time.Duration, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u := url.URL{Scheme: "http", Host: c.address, Path: path}
	if params != nil {
		u.RawQuery = params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return errors.Wrap(err, "building device request")
	}

	res, err := c.http.Do(req)
	if err != nil {
		if uerr, ok := err.(*url.Error); ok && uerr.Timeout() {
			return errors.WithStack(&core.TimeoutError{Op: path, Timeout: timeout})
		}
		return errors.WithStack(&core.ConnectionError{Op: path, Err: err})
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		return errors.Errorf("device %s: status %d", path, res.StatusCode)
	}
	if err = json.NewDecoder(res.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decoding device %s response", path)
	}
	return nil
}
