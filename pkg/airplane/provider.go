package airplane

import (
	"context"
	"time"

	"github.com/devicelab-dev/airplane-runner/pkg/core"
	"github.com/devicelab-dev/airplane-runner/pkg/privilege"
)

// PrivilegeSource reports whether a path is available.
type PrivilegeSource interface {
	Require(ctx context.Context, mode core.ControlMode) (privilege.State, error)
}

// ProviderOptions configures a Provider.
type ProviderOptions struct {
	Assistant   string // Front-end component for routed writes
	VerifyDelay time.Duration
	Clock       Clock
}

// Provider selects the capability for a control mode.
type Provider struct {
	dev  Device
	priv PrivilegeSource
	opts ProviderOptions
}

// NewProvider creates a provider.
func NewProvider(dev Device, priv PrivilegeSource, opts ProviderOptions) *Provider {
	if opts.Clock == nil {
		opts.Clock = RealClock{}
	}
	return &Provider{dev: dev, priv: priv, opts: opts}
}

// ForMode returns the capability for mode, or ErrPrivilegeAbsent when the
// path is not currently held.
func (p *Provider) ForMode(ctx context.Context, mode core.ControlMode, foreground bool) (Capability, error) {
	if !mode.IsValid() {
		return nil, core.ErrInvalidMode
	}
	if _, err := p.priv.Require(ctx, mode); err != nil {
		return nil, err
	}
	if mode == core.ModeSecure {
		return NewDirectWrite(p.dev, p.opts.Clock, p.opts.VerifyDelay), nil
	}
	return NewRoutedWrite(p.dev, p.opts.Assistant, foreground, p.opts.Clock, p.opts.VerifyDelay), nil
}

// Read returns the flag without requiring any privilege.
func (p *Provider) Read(ctx context.Context) (bool, error) {
	return readFlag(ctx, p.dev)
}

// ForceRefresh flips and restores the raw setting. Requires the secure path.
func (p *Provider) ForceRefresh(ctx context.Context) error {
	if _, err := p.priv.Require(ctx, core.ModeSecure); err != nil {
		return err
	}
	return NewDirectWrite(p.dev, p.opts.Clock, p.opts.VerifyDelay).ForceRefresh(ctx)
}
