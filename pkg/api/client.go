package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/devicelab-dev/airplane-runner/pkg/airplane"
	"github.com/devicelab-dev/airplane-runner/pkg/config"
	"github.com/devicelab-dev/airplane-runner/pkg/device"
	"github.com/devicelab-dev/airplane-runner/pkg/oplog"
	"github.com/devicelab-dev/airplane-runner/pkg/privilege"
	"github.com/devicelab-dev/airplane-runner/pkg/service"
)

// Error is a non-2xx response from the server.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s, HTTP %d)", e.Message, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.StatusCode)
}

// IsUnreachable reports whether err means no server answered.
func IsUnreachable(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// Client talks to a running airplane-runner over its HTTP surface.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for the server listening on addr (host:port or URL).
func NewClient(addr string) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{
		baseURL: strings.TrimSuffix(addr, "/"),
		client: &http.Client{
			Timeout: 2 * time.Minute, // timed toggles wait out verify and settle delays
		},
	}
}

// Status returns the service status.
func (c *Client) Status(ctx context.Context) (service.Status, error) {
	var st service.Status
	err := c.request(ctx, http.MethodGet, "/status", nil, &st)
	return st, err
}

// Settings returns the persisted settings.
func (c *Client) Settings(ctx context.Context) (config.ToggleConfiguration, error) {
	var cfg config.ToggleConfiguration
	err := c.request(ctx, http.MethodGet, "/settings", nil, &cfg)
	return cfg, err
}

// ApplySettings sends a settings patch.
func (c *Client) ApplySettings(ctx context.Context, patch config.SettingsPatch) (config.ToggleConfiguration, error) {
	var cfg config.ToggleConfiguration
	err := c.request(ctx, http.MethodPut, "/settings", patch, &cfg)
	return cfg, err
}

// SmartToggle asks the server to flip the flag.
func (c *Client) SmartToggle(ctx context.Context, req service.Request) (airplane.SmartResult, error) {
	var res airplane.SmartResult
	err := c.request(ctx, http.MethodPost, "/toggle/smart"+query(req), nil, &res)
	return res, err
}

// TimedToggle asks the server for one on/settle/off sequence.
func (c *Client) TimedToggle(ctx context.Context, req service.Request) (airplane.TimedResult, error) {
	var res airplane.TimedResult
	err := c.request(ctx, http.MethodPost, "/toggle/timed"+query(req), nil, &res)
	return res, err
}

// TurnOn asks the server to set the flag.
func (c *Client) TurnOn(ctx context.Context, req service.Request) (bool, error) {
	return c.set(ctx, req, "on")
}

// TurnOff asks the server to clear the flag.
func (c *Client) TurnOff(ctx context.Context, req service.Request) (bool, error) {
	return c.set(ctx, req, "off")
}

func (c *Client) set(ctx context.Context, req service.Request, action string) (bool, error) {
	var res struct {
		OK bool `json:"ok"`
	}
	err := c.request(ctx, http.MethodPost, "/toggle/"+action+query(req), nil, &res)
	return res.OK, err
}

// ForceRefresh asks the server to re-announce the flag.
func (c *Client) ForceRefresh(ctx context.Context) error {
	return c.request(ctx, http.MethodPost, "/refresh", nil, nil)
}

// RefreshPrivilege re-probes the privilege state.
func (c *Client) RefreshPrivilege(ctx context.Context) (privilege.State, error) {
	var st privilege.State
	err := c.request(ctx, http.MethodPost, "/privilege/refresh", nil, &st)
	return st, err
}

// DeviceInfo returns the device description.
func (c *Client) DeviceInfo(ctx context.Context) (device.DeviceInfo, error) {
	var info device.DeviceInfo
	err := c.request(ctx, http.MethodGet, "/device", nil, &info)
	return info, err
}

// Logs returns the newest limit operation log entries.
func (c *Client) Logs(ctx context.Context, limit int) ([]oplog.Entry, error) {
	var entries []oplog.Entry
	err := c.request(ctx, http.MethodGet, "/logs?limit="+strconv.Itoa(limit), nil, &entries)
	return entries, err
}

// ClearLogs deletes every operation log entry.
func (c *Client) ClearLogs(ctx context.Context) (int64, error) {
	var res struct {
		Deleted int64 `json:"deleted"`
	}
	err := c.request(ctx, http.MethodDelete, "/logs", nil, &res)
	return res.Deleted, err
}

func query(req service.Request) string {
	v := url.Values{}
	if req.Mode != nil {
		v.Set("mode", req.Mode.String())
	}
	if req.Foreground {
		v.Set("foreground", "true")
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

func (c *Client) request(ctx context.Context, method, path string, body, out interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		_ = sonic.Unmarshal(respBody, &e)
		if e.Error == "" {
			e.Error = strings.TrimSpace(string(respBody))
		}
		return &Error{StatusCode: resp.StatusCode, Code: e.Code, Message: e.Error}
	}

	if out == nil {
		return nil
	}
	if err := sonic.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
