package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// MixerConfigVersion is the current wire version written to new mixer
// configuration files.
const MixerConfigVersion = "2.0.0"

// DeviceConfigDoc is the on-disk shape of one channel's input/output
// device, mirroring mixer.DeviceConfig's fields. config does not
// import mixer to avoid a dependency cycle (mixer's supervisory layer
// converts between the two); field names match the wire contract.
type DeviceConfigDoc struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Kind          string  `json:"kind"`
	Transport     string  `json:"transport"`
	RemoteAddr    string  `json:"remoteAddr"`
	RemotePort    int     `json:"remotePort"`
	LocalAddr     string  `json:"localAddr"`
	LocalPort     int     `json:"localPort"`
	AddressPrefix string  `json:"addressPrefix"`
	SignalLevel   float64 `json:"signalLevel"`
	SignalOffset  float64 `json:"signalOffset"`
	Invert        bool    `json:"invert"`
	Enabled       bool    `json:"enabled"`
	AutoReconnect bool    `json:"autoReconnect"`
	TimeoutMS     int     `json:"timeoutMs"`
	BufferSize    int     `json:"bufferSize"`
}

// ChannelDoc is the on-disk shape of one mixer channel.
type ChannelDoc struct {
	ID            int               `json:"id"`
	Name          string            `json:"name"`
	LevelVolts    float64           `json:"levelVolts"`
	MinRange      float64           `json:"minRange"`
	MaxRange      float64           `json:"maxRange"`
	Color         [3]uint8          `json:"color"`
	InputDevices  []DeviceConfigDoc `json:"inputDevices"`
	OutputDevices []DeviceConfigDoc `json:"outputDevices"`
}

// MasterDoc holds the global master level/mute.
type MasterDoc struct {
	MasterLevel float64 `json:"masterLevel"`
	MasterMute  bool    `json:"masterMute"`
}

// MixerDocument is the full on-disk mixer configuration.
type MixerDocument struct {
	Version  string       `json:"version"`
	Mixer    MasterDoc    `json:"mixer"`
	Channels []ChannelDoc `json:"channels"`
}

// DefaultMixerDocument returns an empty mixer configuration at full
// unmuted master level.
func DefaultMixerDocument() MixerDocument {
	return MixerDocument{Version: MixerConfigVersion, Mixer: MasterDoc{MasterLevel: 1.0, MasterMute: false}}
}

// LoadMixerDocument reads path, returning defaults if the file is
// missing, and filling any zero-valued version/master fields left absent
// by an older document.
func LoadMixerDocument(path string) (MixerDocument, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultMixerDocument(), nil
	}
	if err != nil {
		return MixerDocument{}, fmt.Errorf("config: reading mixer document %s: %w", path, err)
	}

	doc := DefaultMixerDocument()
	if err := json.Unmarshal(data, &doc); err != nil {
		return MixerDocument{}, fmt.Errorf("config: parsing mixer document %s: %w", path, err)
	}
	if doc.Version == "" {
		doc.Version = MixerConfigVersion
	}
	return doc, nil
}

// Save writes doc as indented JSON to path.
func (d MixerDocument) Save(path string) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshalling mixer document: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: writing mixer document %s: %w", path, err)
	}
	return nil
}
