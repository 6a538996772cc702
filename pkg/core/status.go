package core

import (
	"fmt"
	"strings"
)

// ControlMode selects the privilege path used to reach the airplane-mode flag.
type ControlMode int

const (
	ModeAssistant ControlMode = iota // Routed through the registered assistant front-end
	ModeSecure                       // Direct write to secure settings
)

// String returns the string representation of ControlMode
func (m ControlMode) String() string {
	switch m {
	case ModeAssistant:
		return "assistant"
	case ModeSecure:
		return "secure"
	default:
		return "unknown"
	}
}

// IsValid returns true for the two known modes
func (m ControlMode) IsValid() bool {
	return m == ModeAssistant || m == ModeSecure
}

// ParseControlMode parses "assistant" or "secure" (case-insensitive).
func ParseControlMode(s string) (ControlMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "assistant", "assistant_path":
		return ModeAssistant, nil
	case "secure", "secure_path", "wss":
		return ModeSecure, nil
	default:
		return ModeAssistant, ErrInvalidMode.WithMessage(fmt.Sprintf("invalid control mode %q (use assistant or secure)", s))
	}
}

// MarshalYAML stores the mode as its string name.
func (m ControlMode) MarshalYAML() (interface{}, error) {
	return m.String(), nil
}

// UnmarshalYAML reads the mode from its string name.
func (m *ControlMode) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseControlMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler (JSON, query params).
func (m ControlMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *ControlMode) UnmarshalText(b []byte) error {
	parsed, err := ParseControlMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ScheduleStatus is the state of the recurring schedule
type ScheduleStatus int

const (
	ScheduleStopped ScheduleStatus = iota // No timer armed
	ScheduleArmed                         // Recurring timer armed
)

// String returns the string representation of ScheduleStatus
func (s ScheduleStatus) String() string {
	switch s {
	case ScheduleStopped:
		return "stopped"
	case ScheduleArmed:
		return "armed"
	default:
		return "unknown"
	}
}

// SequencePhase is the phase of a two-phase toggle sequence
type SequencePhase int

const (
	PhasePending   SequencePhase = iota // On write issued, off write waiting for the settle delay
	PhaseCompleted                      // Off write issued after the settle delay
	PhaseAborted                        // Wait cancelled, off write issued early
)

// String returns the string representation of SequencePhase
func (p SequencePhase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseCompleted:
		return "completed"
	case PhaseAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// IsTerminal returns true if the phase is final
func (p SequencePhase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseAborted
}

// ErrorCategory classifies errors surfaced to the user-facing layer
type ErrorCategory int

const (
	ErrCategoryNone       ErrorCategory = iota // No error
	ErrCategoryPrivilege                       // Neither privilege path available
	ErrCategoryConfig                          // Invalid configuration value
	ErrCategoryConnection                      // Device transport failure
	ErrCategoryWrite                           // Flag write failed or did not take effect
	ErrCategoryState                           // Operation not valid in the current state
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryPrivilege:
		return "privilege"
	case ErrCategoryConfig:
		return "config"
	case ErrCategoryConnection:
		return "connection"
	case ErrCategoryWrite:
		return "write"
	case ErrCategoryState:
		return "state"
	default:
		return "unknown"
	}
}
