package notify

import (
	"context"
)

// DefaultTag identifies the ongoing notification on the device.
const DefaultTag = "airplane-runner"

// Poster posts and cancels device notifications.
type Poster interface {
	PostNotification(ctx context.Context, tag, title, text string) error
	CancelNotification(ctx context.Context, tag string) error
}

// DeviceIndicator keeps an ongoing notification on the device.
type DeviceIndicator struct {
	dev Poster
	tag string
}

// NewDeviceIndicator creates a device indicator; empty tag uses DefaultTag.
func NewDeviceIndicator(dev Poster, tag string) *DeviceIndicator {
	if tag == "" {
		tag = DefaultTag
	}
	return &DeviceIndicator{dev: dev, tag: tag}
}

// Show posts the notification, replacing the previous one.
func (d *DeviceIndicator) Show(ctx context.Context, s Status) error {
	return d.dev.PostNotification(ctx, d.tag, Title, s.Text())
}

// Clear cancels the notification.
func (d *DeviceIndicator) Clear(ctx context.Context) error {
	return d.dev.CancelNotification(ctx, d.tag)
}
