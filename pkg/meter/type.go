// Package meter drives one meter: it schedules read cycles, decodes frames,
// applies sign correction and reports what changed.
package meter

import (
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var (
	ErrMissingPort    = errors.New("port is not configured")
	ErrBadInitMessage = errors.New("init message is not valid hex")
	ErrBadConfig      = errors.New("invalid device configuration")
	ErrNotConfigured  = errors.New("device is not configured")
	ErrDisposed       = errors.New("device is disposed")
)

const (
	DefaultRefresh     = 30 * time.Second
	DefaultReadTimeout = time.Minute

	// listenBuffer bounds the frames queued between the mode D reader and
	// the device goroutine.
	listenBuffer = 8
)

// Config is the per-device configuration surface.
type Config struct {
	ID   string
	Port string

	Refresh     time.Duration
	ReadTimeout time.Duration

	// BaudRate is a rate in bit/s or "auto".
	BaudRate            string
	BaudRateChangeDelay time.Duration

	// InitMessage is hex, whitespace is ignored.
	InitMessage string

	Mode       string
	Conformity string
	Negate     []string

	ProbeHost bool
}

type State uint8

const (
	StateCreated State = iota
	StateConfiguring
	StateIdle
	StateReading
	StateErrored
	StateDisposed
)

var stateNames = [...]string{"created", "configuring", "idle", "reading", "errored", "disposed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", s)
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type StatusKind uint8

const (
	StatusUnknown StatusKind = iota
	StatusOnline
	StatusOffline
)

func (k StatusKind) String() string {
	switch k {
	case StatusOnline:
		return "ONLINE"
	case StatusOffline:
		return "OFFLINE"
	}
	return "UNKNOWN"
}

func (k StatusKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *StatusKind) UnmarshalText(b []byte) error {
	for c := StatusUnknown; c <= StatusOffline; c++ {
		if c.String() == string(b) {
			*k = c
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", b)
}

type StatusDetail uint8

const (
	DetailNone StatusDetail = iota
	DetailConfigurationPending
	DetailConfigurationError
	DetailCommunicationError
)

func (d StatusDetail) String() string {
	switch d {
	case DetailConfigurationPending:
		return "HANDLER_CONFIGURATION_PENDING"
	case DetailConfigurationError:
		return "CONFIGURATION_ERROR"
	case DetailCommunicationError:
		return "COMMUNICATION_ERROR"
	}
	return "NONE"
}

func (d StatusDetail) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *StatusDetail) UnmarshalText(b []byte) error {
	for c := DetailNone; c <= DetailCommunicationError; c++ {
		if c.String() == string(b) {
			*d = c
			return nil
		}
	}
	return fmt.Errorf("unknown status detail %q", b)
}

// Status is the availability of a device as shown to users.
type Status struct {
	Kind    StatusKind   `json:"status"`
	Detail  StatusDetail `json:"detail"`
	Message string       `json:"message,omitempty"`
	Since   time.Time    `json:"since"`
}

func (s Status) String() string {
	if s.Detail == DetailNone {
		return s.Kind.String()
	}
	if s.Message == "" {
		return s.Kind.String() + "/" + s.Detail.String()
	}
	return s.Kind.String() + "/" + s.Detail.String() + ": " + s.Message
}

// Plan is the schedule a configured device runs with. A zero Period and a
// nil Retry mean the meter pushes frames and is listened to.
type Plan struct {
	Period time.Duration
	Retry  backoff.BackOff
}
