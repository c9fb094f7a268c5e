package audiostream

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// paHostStream adapts a *portaudio.Stream to the HostStream interface.
type paHostStream struct {
	stream *portaudio.Stream
}

func (p *paHostStream) Start() error { return p.stream.Start() }
func (p *paHostStream) Stop() error  { return p.stream.Stop() }
func (p *paHostStream) Close() error { return p.stream.Close() }

// PortAudioOpener is the production HostOpener: it resolves device
// indices against portaudio.Devices() and opens a stream whose buffer
// callback fans out to inCallback/outCallback exactly as HostOpener
// documents.
//
// Initialize/Terminate must bracket the process's use of this opener
// (see cmd/cvosc/main.go), matching portaudio's own lifecycle contract.
func PortAudioOpener(deviceIn, deviceOut, channels int, sampleRate float64, framesPerBuffer int,
	inCallback func(in []float32), outCallback func(out []float32)) (HostStream, error) {

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("audiostream: enumerating devices: %w", err)
	}

	var inParams, outParams *portaudio.StreamDeviceParameters
	if deviceIn >= 0 {
		dev, derr := deviceByIndex(devices, deviceIn)
		if derr != nil {
			return nil, derr
		}
		inParams = &portaudio.StreamDeviceParameters{Device: dev, Channels: channels, Latency: dev.DefaultLowInputLatency}
	}
	if deviceOut >= 0 {
		dev, derr := deviceByIndex(devices, deviceOut)
		if derr != nil {
			return nil, derr
		}
		outParams = &portaudio.StreamDeviceParameters{Device: dev, Channels: channels, Latency: dev.DefaultLowOutputLatency}
	}

	params := portaudio.StreamParameters{
		SampleRate:      sampleRate,
		FramesPerBuffer: framesPerBuffer,
	}
	if inParams != nil {
		params.Input = *inParams
	}
	if outParams != nil {
		params.Output = *outParams
	}

	var callback any
	switch {
	case inCallback != nil && outCallback != nil:
		callback = func(in, out []float32) {
			inCallback(in)
			outCallback(out)
		}
	case inCallback != nil:
		callback = func(in []float32) { inCallback(in) }
	case outCallback != nil:
		callback = func(out []float32) { outCallback(out) }
	default:
		return nil, fmt.Errorf("audiostream: no callback provided")
	}

	stream, err := portaudio.OpenStream(params, callback)
	if err != nil {
		return nil, fmt.Errorf("audiostream: opening portaudio stream: %w", err)
	}
	return &paHostStream{stream: stream}, nil
}

func deviceByIndex(devices []*portaudio.DeviceInfo, index int) (*portaudio.DeviceInfo, error) {
	for i, d := range devices {
		if i == index {
			return d, nil
		}
	}
	return nil, fmt.Errorf("audiostream: no host device at index %d", index)
}
