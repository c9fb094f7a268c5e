//go:build linux

package audiostream

import (
	"context"

	"github.com/jochenvg/go-udev"
)

// Discoverer watches for sound-card hotplug events so the stream manager
// can be told to re-resolve device indices. Event-driven rather than a
// poll loop, since udev already pushes netlink events.
type Discoverer struct {
	onChange func()
}

// NewDiscoverer builds a Discoverer that calls onChange whenever a sound
// device is added or removed.
func NewDiscoverer(onChange func()) *Discoverer {
	return &Discoverer{onChange: onChange}
}

// Run blocks, dispatching onChange for each relevant udev event, until ctx
// is cancelled.
func (d *Discoverer) Run(ctx context.Context) error {
	u := udev.Udev{}
	mon := u.NewMonitorFromNetlink("udev")
	if err := mon.FilterAddMatchSubsystem("sound"); err != nil {
		return err
	}

	deviceCh, errCh, err := mon.DeviceChan(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err != nil {
				return err
			}
		case dev := <-deviceCh:
			if dev == nil {
				continue
			}
			if d.onChange != nil {
				d.onChange()
			}
		}
	}
}
