// Package config implements the on-disk JSON documents (profiles,
// mixer configuration, calibration is handled by internal/calibrate) plus
// a YAML alternate profile format and device-alias persistence.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CVRange is one channel's voltage range within a Profile.
type CVRange struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Profile is one named configuration of OSC target, audio device, and
// per-channel CV ranges.
type Profile struct {
	OSCHost          string    `json:"osc_host" yaml:"osc_host"`
	OSCPort          string    `json:"osc_port" yaml:"osc_port"`
	AudioDevice      string    `json:"audio_device" yaml:"audio_device"`
	UpdateIntervalMS int       `json:"update_interval_ms" yaml:"update_interval_ms"`
	CVRanges         []CVRange `json:"cv_ranges" yaml:"cv_ranges"`
}

// DefaultProfile matches the values an empty/missing profile file should
// be written with.
func DefaultProfile() Profile {
	return Profile{
		OSCHost:          "127.0.0.1",
		OSCPort:          "9000",
		AudioDevice:      "",
		UpdateIntervalMS: 10,
		CVRanges:         []CVRange{{Min: 0, Max: 10}},
	}
}

// ProfileDocument is the top-level profile file shape: an active profile
// name plus a set of named profiles.
type ProfileDocument struct {
	ActiveProfile string             `json:"active_profile" yaml:"active_profile"`
	Profiles      map[string]Profile `json:"profiles" yaml:"profiles"`
}

// DefaultProfileDocument returns a document with a single "default"
// profile active, used when no file exists yet.
func DefaultProfileDocument() ProfileDocument {
	return ProfileDocument{ActiveProfile: "default", Profiles: map[string]Profile{"default": DefaultProfile()}}
}

// Active returns the currently-active profile, or the package default if
// the document has no matching entry.
func (d ProfileDocument) Active() Profile {
	if p, ok := d.Profiles[d.ActiveProfile]; ok {
		return p
	}
	return DefaultProfile()
}

// LoadProfileDocument reads a JSON profile document from path. A missing
// file is not an error: it returns the defaults, and the caller is
// expected to Save the result if it wants the file to exist.
func LoadProfileDocument(path string) (ProfileDocument, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultProfileDocument(), nil
	}
	if err != nil {
		return ProfileDocument{}, fmt.Errorf("config: reading profile document %s: %w", path, err)
	}

	doc := DefaultProfileDocument()
	if err := json.Unmarshal(data, &doc); err != nil {
		return ProfileDocument{}, fmt.Errorf("config: parsing profile document %s: %w", path, err)
	}
	fillProfileDefaults(&doc)
	return doc, nil
}

// LoadProfileDocumentYAML is the additive YAML alternate profile format:
// same ProfileDocument shape, decoded with gopkg.in/yaml.v3 instead of
// encoding/json. The JSON form remains the pinned external contract;
// this exists for operators who prefer hand-editing YAML.
func LoadProfileDocumentYAML(path string) (ProfileDocument, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultProfileDocument(), nil
	}
	if err != nil {
		return ProfileDocument{}, fmt.Errorf("config: reading YAML profile document %s: %w", path, err)
	}

	doc := DefaultProfileDocument()
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return ProfileDocument{}, fmt.Errorf("config: parsing YAML profile document %s: %w", path, err)
	}
	fillProfileDefaults(&doc)
	return doc, nil
}

// fillProfileDefaults backfills zero-valued fields left absent by a
// partial document: missing fields get defaults, unknown fields are
// ignored by the decoder.
func fillProfileDefaults(doc *ProfileDocument) {
	if doc.Profiles == nil {
		doc.Profiles = make(map[string]Profile)
	}
	if doc.ActiveProfile == "" {
		doc.ActiveProfile = "default"
	}
	for name, p := range doc.Profiles {
		changed := false
		if p.OSCHost == "" {
			p.OSCHost = "127.0.0.1"
			changed = true
		}
		if p.OSCPort == "" {
			p.OSCPort = "9000"
			changed = true
		}
		if p.UpdateIntervalMS == 0 {
			p.UpdateIntervalMS = 10
			changed = true
		}
		if len(p.CVRanges) == 0 {
			p.CVRanges = []CVRange{{Min: 0, Max: 10}}
			changed = true
		}
		if changed {
			doc.Profiles[name] = p
		}
	}
	if _, ok := doc.Profiles[doc.ActiveProfile]; !ok {
		doc.Profiles[doc.ActiveProfile] = DefaultProfile()
	}
}

// Save writes doc as indented JSON to path.
func (d ProfileDocument) Save(path string) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshalling profile document: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: writing profile document %s: %w", path, err)
	}
	return nil
}

// SaveYAML writes doc as YAML to path.
func (d ProfileDocument) SaveYAML(path string) error {
	data, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("config: marshalling YAML profile document: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: writing YAML profile document %s: %w", path, err)
	}
	return nil
}
