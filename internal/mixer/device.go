package mixer

import (
	"fmt"
	"time"

	"github.com/cvosc/engine/internal/osc"
)

// DeviceKind is the device-config role.
type DeviceKind int

const (
	KindAudioInput DeviceKind = iota
	KindAudioOutput
	KindCVInput
	KindCVOutput
	KindOSCInput
	KindOSCOutput
	KindMIDIIn
	KindMIDIOut
	KindVirtual
)

func (k DeviceKind) IsAudio() bool { return k == KindAudioInput || k == KindAudioOutput }

// MaxDevicesPerRole bounds a channel's input and output device lists.
const MaxDevicesPerRole = 8

// MaxDeviceIDLen bounds DeviceConfig.ID.
const MaxDeviceIDLen = 256

// DeviceConfig is one input or output endpoint attached to a channel.
type DeviceConfig struct {
	ID            string
	Name          string
	Kind          DeviceKind
	Transport     osc.Transport
	RemoteAddr    string
	RemotePort    int
	LocalAddr     string
	LocalPort     int // 0 = auto
	AddressPrefix string
	SignalLevel   float64
	SignalOffset  float64
	Invert        bool
	Enabled       bool
	AutoReconnect bool
	TimeoutMS     int
	BufferSize    int

	// HostDeviceIndex resolves an audio-backed device to the host audio
	// backend's device index; meaningless for non-audio kinds.
	HostDeviceIndex int
}

// Validate checks the device-config invariants (non-empty bounded id,
// port range, sanitisable OSC address prefix) and returns an error
// describing the first violation found.
func (d *DeviceConfig) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("mixer: device config: id must not be empty")
	}
	if len(d.ID) > MaxDeviceIDLen {
		return fmt.Errorf("mixer: device config %q: id exceeds %d characters", d.ID, MaxDeviceIDLen)
	}
	if !d.Kind.IsAudio() {
		if d.RemotePort < 0 || d.RemotePort > 65535 {
			return fmt.Errorf("mixer: device config %q: remote_port %d out of range", d.ID, d.RemotePort)
		}
		sanitised := osc.SanitiseAddress(d.AddressPrefix)
		if !osc.ValidAddress(sanitised) {
			return fmt.Errorf("mixer: device config %q: invalid OSC address prefix %q", d.ID, d.AddressPrefix)
		}
		d.AddressPrefix = sanitised
	}
	return nil
}

// Status is the lifecycle state of one device, tracked by the engine.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusError
	StatusTimeout
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "CONNECTING"
	case StatusConnected:
		return "CONNECTED"
	case StatusError:
		return "ERROR"
	case StatusTimeout:
		return "TIMEOUT"
	default:
		return "DISCONNECTED"
	}
}

// DeviceStatus tracks one device's runtime health.
type DeviceStatus struct {
	State        Status
	LastActivity time.Time
	MessageCount uint64
	LastError    string
}

// deviceTimeout is the inactivity window after which a previously
// CONNECTED device is declared TIMEOUT.
const deviceTimeout = 30 * time.Second

// sweep marks a previously-CONNECTED device TIMEOUT if it has been quiet
// for longer than deviceTimeout. Called by the engine loop's status sweep.
func (s *DeviceStatus) sweep(now time.Time) {
	if s.State == StatusConnected && !s.LastActivity.IsZero() && now.Sub(s.LastActivity) > deviceTimeout {
		s.State = StatusTimeout
	}
}
