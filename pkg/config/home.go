package config

import (
	"os"
	"path/filepath"
	"sync"
)

const (
	envHome     = "AIRPLANE_RUNNER_HOME"
	userHomeDir = ".airplane-runner"
)

var (
	homeOnce sync.Once
	homeDir  string
)

// GetHome returns the airplane-runner home directory, which holds
// config.yaml, state/ and logs/.
//
// Resolution order:
//  1. $AIRPLANE_RUNNER_HOME
//  2. <home> when the binary is installed as <home>/bin/airplane-runner
//  3. ~/.airplane-runner
//  4. the working directory
func GetHome() string {
	homeOnce.Do(func() {
		homeDir = resolveHome(hostEnv{})
	})
	return homeDir
}

// GetStateDir returns <home>/state.
func GetStateDir() string {
	return filepath.Join(GetHome(), "state")
}

// GetLogsDir returns <home>/logs.
func GetLogsDir() string {
	return filepath.Join(GetHome(), "logs")
}

// ResetHome resets the cached home directory (for testing).
func ResetHome() {
	homeOnce = sync.Once{}
	homeDir = ""
}

// homeEnv is the part of the host the resolution depends on.
type homeEnv interface {
	Getenv(key string) string
	Executable() (string, error)
	UserHomeDir() (string, error)
	Getwd() (string, error)
}

type hostEnv struct{}

func (hostEnv) Getenv(key string) string { return os.Getenv(key) }

func (hostEnv) Executable() (string, error) {
	p, err := os.Executable()
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		p = resolved
	}
	return p, nil
}

func (hostEnv) UserHomeDir() (string, error) { return os.UserHomeDir() }
func (hostEnv) Getwd() (string, error)       { return os.Getwd() }

func resolveHome(env homeEnv) string {
	if v := env.Getenv(envHome); v != "" {
		return v
	}
	if exe, err := env.Executable(); err == nil {
		binDir := filepath.Dir(exe)
		if filepath.Base(binDir) == "bin" {
			return filepath.Dir(binDir)
		}
	}
	// Services start with an arbitrary working directory; the user's home is stable.
	if home, err := env.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, userHomeDir)
	}
	if cwd, err := env.Getwd(); err == nil {
		return cwd
	}
	return "."
}
