package device

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Settings keys.
const (
	SettingAirplaneModeOn  = "airplane_mode_on"
	SettingWiFiOn          = "wifi_on"
	SettingBluetoothOn     = "bluetooth_on"
	SettingMobileData      = "mobile_data"
	SettingVoiceInteractor = "voice_interaction_service"
)

// Activity launch flags (android.content.Intent).
const (
	FlagActivityNewTask      = 0x10000000
	FlagActivityMultipleTask = 0x08000000
	FlagActivityNoAnimation  = 0x00010000
)

// PermissionWriteSecureSettings gates direct writes to global settings.
const PermissionWriteSecureSettings = "android.permission.WRITE_SECURE_SETTINGS"

// GetGlobal reads a key from the global settings table.
func (d *AndroidDevice) GetGlobal(ctx context.Context, key string) (string, error) {
	out, err := d.Shell(ctx, "settings get global "+key)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// PutGlobal writes a key to the global settings table.
func (d *AndroidDevice) PutGlobal(ctx context.Context, key, value string) error {
	_, err := d.Shell(ctx, fmt.Sprintf("settings put global %s %s", key, shellQuote(value)))
	return err
}

// GlobalBool reads an integer flag from the global table ("1" = true).
// "null" (unset) reads as false.
func (d *AndroidDevice) GlobalBool(ctx context.Context, key string) (bool, error) {
	v, err := d.GetGlobal(ctx, key)
	if err != nil {
		return false, err
	}
	switch v {
	case "1":
		return true, nil
	case "0", "null", "":
		return false, nil
	default:
		return false, fmt.Errorf("settings %s: unexpected value %q", key, v)
	}
}

// GetSecure reads a key from the secure settings table.
func (d *AndroidDevice) GetSecure(ctx context.Context, key string) (string, error) {
	out, err := d.Shell(ctx, "settings get secure "+key)
	if err != nil {
		return "", err
	}
	v := strings.TrimSpace(out)
	if v == "null" {
		return "", nil
	}
	return v, nil
}

// Broadcast sends an intent broadcast with boolean extras.
func (d *AndroidDevice) Broadcast(ctx context.Context, action string, extras map[string]bool) error {
	var b strings.Builder
	b.WriteString("am broadcast -a ")
	b.WriteString(action)
	for _, k := range sortedKeys(extras) {
		fmt.Fprintf(&b, " --ez %s %t", k, extras[k])
	}
	_, err := d.Shell(ctx, b.String())
	return err
}

// StartActivity starts component with string extras and launch flags.
func (d *AndroidDevice) StartActivity(ctx context.Context, component string, extras map[string]string, flags int) error {
	var b strings.Builder
	b.WriteString("am start -n ")
	b.WriteString(component)
	if flags != 0 {
		fmt.Fprintf(&b, " -f 0x%08x", flags)
	}
	for _, k := range sortedKeys(extras) {
		fmt.Fprintf(&b, " --es %s %s", k, shellQuote(extras[k]))
	}
	out, err := d.Shell(ctx, b.String())
	if err != nil {
		return err
	}
	// am start exits 0 on resolution failures and reports them on stdout.
	if strings.Contains(out, "Error:") {
		return fmt.Errorf("am start %s: %s", component, strings.TrimSpace(out))
	}
	return nil
}

// PermissionGranted reports whether pkg holds a runtime/development permission grant.
func (d *AndroidDevice) PermissionGranted(ctx context.Context, pkg, perm string) (bool, error) {
	out, err := d.Shell(ctx, "dumpsys package "+pkg)
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, perm+":") {
			return strings.Contains(line, "granted=true"), nil
		}
	}
	return false, nil
}

// PostNotification posts (or replaces) an ongoing notification identified by tag.
func (d *AndroidDevice) PostNotification(ctx context.Context, tag, title, text string) error {
	cmd := fmt.Sprintf("cmd notification post -S bigtext -t %s %s %s",
		shellQuote(title), shellQuote(tag), shellQuote(text))
	_, err := d.Shell(ctx, cmd)
	return err
}

// CancelNotification removes the notification identified by tag.
func (d *AndroidDevice) CancelNotification(ctx context.Context, tag string) error {
	_, err := d.Shell(ctx, "cmd notification cancel "+shellQuote(tag))
	return err
}

// shellQuote quotes s for the device shell when it contains anything
// beyond a conservative set of safe characters.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("._-/:=,@+", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
