package airplane

import (
	"context"
	"errors"
	"testing"

	"github.com/devicelab-dev/airplane-runner/pkg/core"
	"github.com/devicelab-dev/airplane-runner/pkg/device"
	"github.com/devicelab-dev/airplane-runner/pkg/device/mock"
	"github.com/devicelab-dev/airplane-runner/pkg/privilege"
)

func newProvider(t *testing.T, sh *mock.Shell) *Provider {
	t.Helper()
	dev := sh.Open(device.TransportLocal)
	checker := privilege.NewChecker(dev, "com.example.airplanecontrol", 0)
	t.Cleanup(checker.Close)
	return NewProvider(dev, checker, ProviderOptions{
		Assistant: testAssistant,
		Clock:     newManualClock(),
	})
}

func TestProvider_ForMode(t *testing.T) {
	sh := mock.New(mock.Config{SecureGranted: true, Assistant: "com.example.airplanecontrol/.Assistant"})
	p := newProvider(t, sh)
	ctx := context.Background()

	c, err := p.ForMode(ctx, core.ModeSecure, false)
	if err != nil {
		t.Fatalf("ForMode secure: %v", err)
	}
	if _, ok := c.(*DirectWriteCapability); !ok {
		t.Errorf("expected direct capability, got %T", c)
	}

	c, err = p.ForMode(ctx, core.ModeAssistant, true)
	if err != nil {
		t.Fatalf("ForMode assistant: %v", err)
	}
	r, ok := c.(*RoutedWriteCapability)
	if !ok {
		t.Fatalf("expected routed capability, got %T", c)
	}
	if !r.Foreground() {
		t.Error("expected foreground capability")
	}
}

func TestProvider_PrivilegeAbsent(t *testing.T) {
	p := newProvider(t, mock.New(mock.Config{}))
	for _, mode := range []core.ControlMode{core.ModeSecure, core.ModeAssistant} {
		_, err := p.ForMode(context.Background(), mode, false)
		if !errors.Is(err, core.ErrPrivilegeAbsent) {
			t.Errorf("%s: expected ErrPrivilegeAbsent, got %v", mode, err)
		}
	}
}

func TestProvider_InvalidMode(t *testing.T) {
	p := newProvider(t, mock.New(mock.Config{SecureGranted: true}))
	_, err := p.ForMode(context.Background(), core.ControlMode(9), false)
	if !errors.Is(err, core.ErrInvalidMode) {
		t.Errorf("expected ErrInvalidMode, got %v", err)
	}
}

func TestProvider_ForceRefreshNeedsSecure(t *testing.T) {
	sh := mock.New(mock.Config{Assistant: "com.example.airplanecontrol/.Assistant"})
	p := newProvider(t, sh)
	if err := p.ForceRefresh(context.Background()); !errors.Is(err, core.ErrPrivilegeAbsent) {
		t.Errorf("expected ErrPrivilegeAbsent, got %v", err)
	}

	sh.SetSecureGranted(true)
	p = newProvider(t, sh)
	if err := p.ForceRefresh(context.Background()); err != nil {
		t.Errorf("ForceRefresh failed: %v", err)
	}
}

func TestProvider_Read(t *testing.T) {
	p := newProvider(t, mock.New(mock.Config{AirplaneOn: true}))
	on, err := p.Read(context.Background())
	if err != nil || !on {
		t.Errorf("expected on, got %v (%v)", on, err)
	}
}
