//go:build !linux

package audiostream

import "context"

// Discoverer is a no-op stand-in on platforms without a udev-style
// netlink hotplug feed. Device changes are only picked up by explicit
// re-resolution (e.g. on the next Manager.CreateInput/CreateOutput call).
type Discoverer struct {
	onChange func()
}

func NewDiscoverer(onChange func()) *Discoverer {
	return &Discoverer{onChange: onChange}
}

// Run blocks until ctx is cancelled without ever firing onChange.
func (d *Discoverer) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}
