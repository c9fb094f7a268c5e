package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadProfileDocumentMissingFileReturnsDefaults(t *testing.T) {
	doc, err := LoadProfileDocument(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, "default", doc.ActiveProfile)
	assert.Equal(t, "127.0.0.1", doc.Active().OSCHost)
}

func TestProfileDocumentSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.json")
	doc := ProfileDocument{
		ActiveProfile: "studio",
		Profiles: map[string]Profile{
			"studio": {OSCHost: "10.0.0.5", OSCPort: "9001", UpdateIntervalMS: 5, CVRanges: []CVRange{{Min: -5, Max: 5}}},
		},
	}
	require.NoError(t, doc.Save(path))

	loaded, err := LoadProfileDocument(path)
	require.NoError(t, err)
	assert.Equal(t, "studio", loaded.ActiveProfile)
	assert.Equal(t, "10.0.0.5", loaded.Active().OSCHost)
	assert.Equal(t, []CVRange{{Min: -5, Max: 5}}, loaded.Active().CVRanges)
}

func TestLoadProfileDocumentFillsMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"active_profile":"p","profiles":{"p":{}}}`), 0o644))

	doc, err := LoadProfileDocument(path)
	require.NoError(t, err)
	p := doc.Active()
	assert.Equal(t, "127.0.0.1", p.OSCHost)
	assert.Equal(t, "9000", p.OSCPort)
	assert.Equal(t, 10, p.UpdateIntervalMS)
	assert.Len(t, p.CVRanges, 1)
}

func TestLoadProfileDocumentYAMLRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	doc := DefaultProfileDocument()
	require.NoError(t, doc.SaveYAML(path))

	loaded, err := LoadProfileDocumentYAML(path)
	require.NoError(t, err)
	assert.Equal(t, doc.ActiveProfile, loaded.ActiveProfile)
}

func TestLoadMixerDocumentMissingFileReturnsDefaults(t *testing.T) {
	doc, err := LoadMixerDocument(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, MixerConfigVersion, doc.Version)
	assert.Equal(t, 1.0, doc.Mixer.MasterLevel)
}

func TestMixerDocumentSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mixer.json")
	doc := MixerDocument{
		Version: "2.0.0",
		Mixer:   MasterDoc{MasterLevel: 0.8, MasterMute: true},
		Channels: []ChannelDoc{
			{ID: 0, Name: "Ch 1", MinRange: -10, MaxRange: 10, InputDevices: []DeviceConfigDoc{{ID: "in0", Enabled: true}}},
		},
	}
	require.NoError(t, doc.Save(path))

	loaded, err := LoadMixerDocument(path)
	require.NoError(t, err)
	require.Len(t, loaded.Channels, 1)
	assert.Equal(t, "Ch 1", loaded.Channels[0].Name)
	assert.True(t, loaded.Mixer.MasterMute)
}

func TestDeviceAliasesRememberLookupSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aliases.json")
	a := NewDeviceAliases(path)
	a.Remember("Scarlett 2i2", 3)
	require.NoError(t, a.Save())

	loaded, err := LoadDeviceAliases(path)
	require.NoError(t, err)
	idx, ok := loaded.Lookup("Scarlett 2i2")
	require.True(t, ok)
	assert.Equal(t, 3, idx)
}

func TestDeviceAliasesForget(t *testing.T) {
	a := NewDeviceAliases(filepath.Join(t.TempDir(), "aliases.json"))
	a.Remember("x", 1)
	a.Forget("x")
	_, ok := a.Lookup("x")
	assert.False(t, ok)
}

func TestLoadDeviceAliasesMissingFileIsEmpty(t *testing.T) {
	a, err := LoadDeviceAliases(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	_, ok := a.Lookup("anything")
	assert.False(t, ok)
}
