package mixer

import (
	"fmt"
	"strings"

	"github.com/cvosc/engine/internal/config"
	"github.com/cvosc/engine/internal/osc"
)

// parseKind maps the on-disk device kind string to a DeviceKind.
func parseKind(s string) (DeviceKind, error) {
	switch strings.ToUpper(s) {
	case "AUDIO_INPUT":
		return KindAudioInput, nil
	case "AUDIO_OUTPUT":
		return KindAudioOutput, nil
	case "CV_INPUT":
		return KindCVInput, nil
	case "CV_OUTPUT":
		return KindCVOutput, nil
	case "OSC_INPUT":
		return KindOSCInput, nil
	case "OSC_OUTPUT":
		return KindOSCOutput, nil
	case "MIDI_IN":
		return KindMIDIIn, nil
	case "MIDI_OUT":
		return KindMIDIOut, nil
	case "VIRTUAL":
		return KindVirtual, nil
	default:
		return KindVirtual, fmt.Errorf("mixer: unknown device kind %q", s)
	}
}

func kindString(k DeviceKind) string {
	switch k {
	case KindAudioInput:
		return "AUDIO_INPUT"
	case KindAudioOutput:
		return "AUDIO_OUTPUT"
	case KindCVInput:
		return "CV_INPUT"
	case KindCVOutput:
		return "CV_OUTPUT"
	case KindOSCInput:
		return "OSC_INPUT"
	case KindOSCOutput:
		return "OSC_OUTPUT"
	case KindMIDIIn:
		return "MIDI_IN"
	case KindMIDIOut:
		return "MIDI_OUT"
	default:
		return "VIRTUAL"
	}
}

func parseTransport(s string) (osc.Transport, error) {
	switch strings.ToUpper(s) {
	case "", "UDP_UNICAST":
		return osc.TransportUDPUnicast, nil
	case "UDP_MULTICAST":
		return osc.TransportUDPMulticast, nil
	case "TCP":
		return osc.TransportTCP, nil
	default:
		return osc.TransportUDPUnicast, fmt.Errorf("mixer: unknown transport %q", s)
	}
}

func transportString(t osc.Transport) string {
	switch t {
	case osc.TransportUDPMulticast:
		return "UDP_MULTICAST"
	case osc.TransportTCP:
		return "TCP"
	default:
		return "UDP_UNICAST"
	}
}

// deviceFromDoc converts one on-disk device entry into a validated
// runtime DeviceConfig.
func deviceFromDoc(doc config.DeviceConfigDoc) (*DeviceConfig, error) {
	kind, err := parseKind(doc.Kind)
	if err != nil {
		return nil, err
	}
	transport, err := parseTransport(doc.Transport)
	if err != nil {
		return nil, err
	}
	d := &DeviceConfig{
		ID:            doc.ID,
		Name:          doc.Name,
		Kind:          kind,
		Transport:     transport,
		RemoteAddr:    doc.RemoteAddr,
		RemotePort:    doc.RemotePort,
		LocalAddr:     doc.LocalAddr,
		LocalPort:     doc.LocalPort,
		AddressPrefix: doc.AddressPrefix,
		SignalLevel:   doc.SignalLevel,
		SignalOffset:  doc.SignalOffset,
		Invert:        doc.Invert,
		Enabled:       doc.Enabled,
		AutoReconnect: doc.AutoReconnect,
		TimeoutMS:     doc.TimeoutMS,
		BufferSize:    doc.BufferSize,
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func deviceToDoc(d *DeviceConfig) config.DeviceConfigDoc {
	return config.DeviceConfigDoc{
		ID:            d.ID,
		Name:          d.Name,
		Kind:          kindString(d.Kind),
		Transport:     transportString(d.Transport),
		RemoteAddr:    d.RemoteAddr,
		RemotePort:    d.RemotePort,
		LocalAddr:     d.LocalAddr,
		LocalPort:     d.LocalPort,
		AddressPrefix: d.AddressPrefix,
		SignalLevel:   d.SignalLevel,
		SignalOffset:  d.SignalOffset,
		Invert:        d.Invert,
		Enabled:       d.Enabled,
		AutoReconnect: d.AutoReconnect,
		TimeoutMS:     d.TimeoutMS,
		BufferSize:    d.BufferSize,
	}
}

// Configure applies an on-disk mixer document to the engine's channels.
// Entries whose id falls outside the engine's channel range, and device
// entries that fail validation, are skipped with a report rather than
// aborting the load: configuration errors fall back and continue.
func (e *Engine) Configure(doc config.MixerDocument) {
	e.SetMaster(doc.Mixer.MasterLevel, doc.Mixer.MasterMute)

	for _, cd := range doc.Channels {
		e.stateMutex.Lock()
		ch := e.channelLocked(cd.ID)
		e.stateMutex.Unlock()
		if ch == nil {
			e.report("WARNING", "CONFIG", fmt.Sprintf("mixer config: no channel %d, entry skipped", cd.ID))
			continue
		}

		e.stateMutex.Lock()
		if cd.Name != "" {
			ch.Name = cd.Name
		}
		if cd.MinRange < cd.MaxRange {
			ch.MinV, ch.MaxV = cd.MinRange, cd.MaxRange
		}
		ch.Color = cd.Color
		ch.SetLevel(cd.LevelVolts)
		ch.Inputs = ch.Inputs[:0]
		ch.Outputs = ch.Outputs[:0]
		e.stateMutex.Unlock()

		for _, dd := range cd.InputDevices {
			d, err := deviceFromDoc(dd)
			if err != nil {
				e.report("WARNING", "CONFIG", fmt.Sprintf("channel %d input device: %v", cd.ID, err))
				continue
			}
			if err := ch.AddInput(d); err != nil {
				e.report("WARNING", "CONFIG", err.Error())
			}
		}
		for _, dd := range cd.OutputDevices {
			d, err := deviceFromDoc(dd)
			if err != nil {
				e.report("WARNING", "CONFIG", fmt.Sprintf("channel %d output device: %v", cd.ID, err))
				continue
			}
			if err := ch.AddOutput(d); err != nil {
				e.report("WARNING", "CONFIG", err.Error())
			}
		}
	}
}

// Document snapshots the engine's current channel configuration as an
// on-disk mixer document.
func (e *Engine) Document() config.MixerDocument {
	e.stateMutex.Lock()
	defer e.stateMutex.Unlock()

	doc := config.MixerDocument{
		Version: config.MixerConfigVersion,
		Mixer:   config.MasterDoc{MasterLevel: e.masterLevel, MasterMute: e.masterMute},
	}
	for _, ch := range e.channels {
		cd := config.ChannelDoc{
			ID:         ch.ID,
			Name:       ch.Name,
			LevelVolts: ch.LevelV,
			MinRange:   ch.MinV,
			MaxRange:   ch.MaxV,
			Color:      ch.Color,
		}
		for _, d := range ch.Inputs {
			cd.InputDevices = append(cd.InputDevices, deviceToDoc(d))
		}
		for _, d := range ch.Outputs {
			cd.OutputDevices = append(cd.OutputDevices, deviceToDoc(d))
		}
		doc.Channels = append(doc.Channels, cd)
	}
	return doc
}
