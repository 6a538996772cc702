// Package privilege computes which airplane-mode privilege paths the
// companion package currently holds.
package privilege

import (
	"context"
	"strings"
	"sync"
	"time"

	ttlworker "github.com/FloatTech/ttl"

	"github.com/devicelab-dev/airplane-runner/pkg/core"
	"github.com/devicelab-dev/airplane-runner/pkg/device"
	"github.com/devicelab-dev/airplane-runner/pkg/logger"
)

// DefaultRefresh bounds how long a probe result is reused.
const DefaultRefresh = 5 * time.Second

const cacheKey = "state"

// Querier is the subset of the device the probes need.
type Querier interface {
	PermissionGranted(ctx context.Context, pkg, perm string) (bool, error)
	GetSecure(ctx context.Context, key string) (string, error)
}

// State is the derived privilege state.
type State struct {
	Secure    bool      `json:"secure"`    // WRITE_SECURE_SETTINGS granted
	Assistant bool      `json:"assistant"` // Default voice-interaction service
	CheckedAt time.Time `json:"checkedAt"`
}

// Has reports whether the path for mode is available.
func (s State) Has(mode core.ControlMode) bool {
	switch mode {
	case core.ModeSecure:
		return s.Secure
	case core.ModeAssistant:
		return s.Assistant
	default:
		return false
	}
}

// Any reports whether at least one path is available.
func (s State) Any() bool {
	return s.Secure || s.Assistant
}

// Label renders the secure-path grant the way the status indicator shows it.
func (s State) Label() string {
	if s.Secure {
		return "granted"
	}
	return "not granted"
}

// Checker probes the device and reuses the result for one refresh cycle.
type Checker struct {
	dev     Querier
	pkg     string
	refresh time.Duration
	cache   *ttlworker.Cache[string, *State]
	closed  sync.Once
}

// NewChecker creates a checker for the companion package. refresh <= 0 uses DefaultRefresh.
func NewChecker(dev Querier, companionPkg string, refresh time.Duration) *Checker {
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	return &Checker{
		dev:     dev,
		pkg:     companionPkg,
		refresh: refresh,
		cache:   ttlworker.NewCache[string, *State](refresh),
	}
}

// State returns the cached state, probing the device when it has expired.
// The cache slides its expiry on every hit, so age is checked against
// CheckedAt instead.
func (c *Checker) State(ctx context.Context) (State, error) {
	if s := c.cache.Get(cacheKey); s != nil && time.Since(s.CheckedAt) < c.refresh {
		return *s, nil
	}
	return c.Refresh(ctx)
}

// Refresh probes the device unconditionally and replaces the cached state.
func (c *Checker) Refresh(ctx context.Context) (State, error) {
	secure, err := c.dev.PermissionGranted(ctx, c.pkg, device.PermissionWriteSecureSettings)
	if err != nil {
		return State{}, core.ErrDeviceDisconnected.WithCause(err)
	}
	svc, err := c.dev.GetSecure(ctx, device.SettingVoiceInteractor)
	if err != nil {
		return State{}, core.ErrDeviceDisconnected.WithCause(err)
	}

	s := State{
		Secure:    secure,
		Assistant: strings.HasPrefix(svc, c.pkg+"/"),
		CheckedAt: time.Now(),
	}
	logger.Debug("privilege probe: secure=%v assistant=%v (voice_interaction_service=%q)", s.Secure, s.Assistant, svc)
	c.cache.Set(cacheKey, &s)
	return s, nil
}

// Invalidate drops the cached state so the next State call probes again.
func (c *Checker) Invalidate() {
	c.cache.Delete(cacheKey)
}

// Close stops the cache's expiry worker. The checker must not be used afterwards.
func (c *Checker) Close() {
	c.closed.Do(c.cache.Destroy)
}

// Require returns ErrPrivilegeAbsent unless the path for mode is available.
func (c *Checker) Require(ctx context.Context, mode core.ControlMode) (State, error) {
	s, err := c.State(ctx)
	if err != nil {
		return s, err
	}
	if !s.Has(mode) {
		return s, core.ErrPrivilegeAbsent.WithDetails(map[string]interface{}{
			"mode":      mode.String(),
			"secure":    s.Secure,
			"assistant": s.Assistant,
		})
	}
	return s, nil
}
