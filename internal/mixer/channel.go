package mixer

import (
	"fmt"

	"github.com/cvosc/engine/internal/calibrate"
	"github.com/cvosc/engine/internal/classify"
	"github.com/cvosc/engine/internal/filter"
)

// State is a channel's lifecycle state.
type State int

const (
	StateStopped State = iota
	StateRunning
	StateError
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StateError:
		return "ERROR"
	default:
		return "STOPPED"
	}
}

// Mode selects a channel's mix behaviour: normal mix, solo (exclusive),
// or mute (silenced at the route-output path only; the passthrough
// forward loop is never attenuated).
type Mode int

const (
	ModeMix Mode = iota
	ModeSolo
	ModeMute
)

// Channel is one CV/audio route: identity, voltage range, mode/state, and
// up to MaxDevicesPerRole input/output device configs.
type Channel struct {
	ID      int
	Name    string
	Color   [3]uint8
	State   State
	Mode    Mode
	MinV    float64
	MaxV    float64
	LevelV  float64
	Inputs  []*DeviceConfig
	Outputs []*DeviceConfig

	InputMeter  Meter
	OutputMeter Meter

	FilterChain filter.Filter
	Classifier  *classify.Classifier
	Calibration *calibrate.Result

	MessagesReceived uint64
	MessagesSent     uint64
	Errors           uint64
}

// NewChannel builds a channel with the given voltage range. minV must be
// less than maxV.
func NewChannel(id int, minV, maxV float64) (*Channel, error) {
	if !(minV < maxV) {
		return nil, fmt.Errorf("mixer: channel %d: min_v %.3f must be < max_v %.3f", id, minV, maxV)
	}
	return &Channel{ID: id, Name: fmt.Sprintf("Channel %d", id+1), MinV: minV, MaxV: maxV, State: StateStopped, Mode: ModeMix}, nil
}

// clampLevel clamps v into the channel's configured voltage range.
func (c *Channel) clampLevel(v float64) float64 {
	if v < c.MinV {
		return c.MinV
	}
	if v > c.MaxV {
		return c.MaxV
	}
	return v
}

// SetLevel stores v clamped to [MinV, MaxV], so LevelV always lies
// within the configured range.
func (c *Channel) SetLevel(v float64) { c.LevelV = c.clampLevel(v) }

// normalised maps LevelV onto [0,1] over the channel's voltage range,
// the form OSC consumers receive at /cv/channel/{N}.
func (c *Channel) normalised() float64 {
	return (c.LevelV - c.MinV) / (c.MaxV - c.MinV)
}

// AddInput appends an input device config, enforcing the bound of at
// most MaxDevicesPerRole inputs.
func (c *Channel) AddInput(d *DeviceConfig) error {
	if len(c.Inputs) >= MaxDevicesPerRole {
		return fmt.Errorf("mixer: channel %d: input device list full (max %d)", c.ID, MaxDevicesPerRole)
	}
	c.Inputs = append(c.Inputs, d)
	return nil
}

// AddOutput appends an output device config, enforcing the bound of
// at most MaxDevicesPerRole outputs.
func (c *Channel) AddOutput(d *DeviceConfig) error {
	if len(c.Outputs) >= MaxDevicesPerRole {
		return fmt.Errorf("mixer: channel %d: output device list full (max %d)", c.ID, MaxDevicesPerRole)
	}
	c.Outputs = append(c.Outputs, d)
	return nil
}

// enabledAudioInput/enabledAudioOutput return the first enabled audio
// device configured in the respective role, or nil if there is none;
// StartChannel uses them to decide whether a duplex bridge is possible.
func (c *Channel) enabledAudioInput() *DeviceConfig {
	for _, d := range c.Inputs {
		if d.Enabled && d.Kind.IsAudio() {
			return d
		}
	}
	return nil
}

func (c *Channel) enabledAudioOutput() *DeviceConfig {
	for _, d := range c.Outputs {
		if d.Enabled && d.Kind.IsAudio() {
			return d
		}
	}
	return nil
}
