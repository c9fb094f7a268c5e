// Package discovery announces the engine's OSC receiver on the local
// network using DNS-SD, so consumers can find the bridge without typing
// in addresses and ports.
//
// This uses the pure-Go github.com/brutella/dnssd package for
// cross-platform mDNS/DNS-SD service announcement without requiring any
// system daemon or C library dependencies.
package discovery

import (
	"context"
	"os"
	"strings"

	"github.com/brutella/dnssd"
)

// ServiceType is the advertised DNS-SD service type for the OSC input
// port.
const ServiceType = "_osc._udp"

// DefaultServiceName derives the published instance name from the local
// hostname, dropping any domain part of an FQDN.
func DefaultServiceName() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "CVOSC"
	}
	hostname, _, _ = strings.Cut(hostname, ".")
	return "CVOSC on " + hostname
}

// Announcer publishes one DNS-SD service record until its context is
// cancelled.
type Announcer struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Announce publishes name (or DefaultServiceName if empty) as an
// _osc._udp service on port. The responder runs in its own goroutine
// until Stop.
func Announce(name string, port int) (*Announcer, error) {
	if name == "" {
		name = DefaultServiceName()
	}

	cfg := dnssd.Config{
		Name: name,
		Type: ServiceType,
		Port: port,
	}
	sv, err := dnssd.NewService(cfg)
	if err != nil {
		return nil, err
	}
	rp, err := dnssd.NewResponder()
	if err != nil {
		return nil, err
	}
	if _, err := rp.Add(sv); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Announcer{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(a.done)
		_ = rp.Respond(ctx)
	}()
	return a, nil
}

// Stop withdraws the announcement and waits for the responder to exit.
func (a *Announcer) Stop() {
	a.cancel()
	<-a.done
}
