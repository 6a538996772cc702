package notify

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/bytedance/sonic"

	"github.com/devicelab-dev/airplane-runner/pkg/logger"
)

// Event types sent over the socket.
const (
	EventShow  = "indicator_show"
	EventClear = "indicator_clear"
)

// MaxPayload is the largest event accepted by the listener.
const MaxPayload = 32 * 1024

// DefaultSocketTimeout bounds dial, write and response read.
const DefaultSocketTimeout = 3 * time.Second

// Event is the JSON payload written to the socket.
type Event struct {
	Type    string  `json:"type"`
	Title   string  `json:"title,omitempty"`
	Message string  `json:"message,omitempty"`
	Status  *Status `json:"status,omitempty"`
}

// SocketIndicator sends indicator events to a unix socket listener (a tray
// or status-bar helper). Each event is a little-endian uint32 length followed
// by the JSON payload; the listener may reply with {"error": "..."}.
type SocketIndicator struct {
	path    string
	timeout time.Duration
}

// NewSocketIndicator creates an indicator for the socket at path.
func NewSocketIndicator(path string) *SocketIndicator {
	return &SocketIndicator{path: path, timeout: DefaultSocketTimeout}
}

// Show sends an indicator_show event.
func (s *SocketIndicator) Show(ctx context.Context, st Status) error {
	return s.send(ctx, &Event{Type: EventShow, Title: Title, Message: st.Text(), Status: &st})
}

// Clear sends an indicator_clear event.
func (s *SocketIndicator) Clear(ctx context.Context) error {
	return s.send(ctx, &Event{Type: EventClear, Title: Title})
}

func (s *SocketIndicator) send(ctx context.Context, ev *Event) error {
	// No listener is not an error: the indicator is optional on hosts.
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		logger.Debug("indicator socket %s not found, skipping %s", s.path, ev.Type)
		return nil
	}

	payload, err := sonic.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal indicator event: %w", err)
	}
	if len(payload) > MaxPayload {
		return fmt.Errorf("indicator payload too large: %d bytes (max %d)", len(payload), MaxPayload)
	}

	dialer := net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "unix", s.path)
	if err != nil {
		return fmt.Errorf("connect indicator socket %s: %w", s.path, err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Debug("close indicator socket: %v", err)
		}
	}()

	if err := conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		logger.Debug("set indicator socket deadline: %v", err)
	}

	frame := make([]byte, 4, 4+len(payload))
	binary.LittleEndian.PutUint32(frame, uint32(len(payload)))
	frame = append(frame, payload...)
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("write indicator event: %w", err)
	}

	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		return fmt.Errorf("read indicator response: %w", err)
	}
	if n > 0 {
		var resp map[string]any
		if err := sonic.Unmarshal(buf[:n], &resp); err != nil {
			logger.Debug("indicator response (raw): %s", string(buf[:n]))
		} else if msg, ok := resp["error"].(string); ok && msg != "" {
			return fmt.Errorf("indicator listener returned error: %s", msg)
		}
	}

	logger.Debug("indicator event sent: %s", ev.Type)
	return nil
}
