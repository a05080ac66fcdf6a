package ports

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"gitlab.com/NebulousLabs/go-upnp"

	"github.com/namvu9/seedbox/pkg/errors"
)

// Gateway is a router that forwards ports
type Gateway interface {
	Forward(port uint16, desc string) error
	Clear(port uint16) error
	ExternalIP() (string, error)
}

// Service forwards the seeding port on the local router
type Service interface {
	Forward(uint16) error
	ForwardMany([]uint16) (uint16, error)
	ExternalIP() (string, error)

	// Clear removes every forwarding made by the service
	Clear() error
}

type Config struct {
	Description string

	// Discover finds the gateway. Defaults to UPnP discovery.
	Discover func() (Gateway, error)
}

type ports struct {
	mu        sync.Mutex
	desc      string
	discover  func() (Gateway, error)
	d         Gateway
	forwarded []uint16
}

func (p *ports) gateway() (Gateway, error) {
	if p.d != nil {
		return p.d, nil
	}

	// Discover UPnP-supporting routers
	d, err := p.discover()
	if err != nil {
		return nil, errors.Wrap(err, errors.Op("ports.gateway"), errors.Network)
	}

	p.d = d
	return d, nil
}

func (p *ports) Forward(port uint16) error {
	var op errors.Op = "(*ports).Forward"

	p.mu.Lock()
	defer p.mu.Unlock()

	d, err := p.gateway()
	if err != nil {
		return errors.Wrap(err, op)
	}

	if err := d.Forward(port, p.desc); err != nil {
		return errors.Wrap(err, op, errors.Network)
	}

	p.forwarded = append(p.forwarded, port)

	log.Info().
		Str("op", op.String()).
		Uint16("port", port).
		Msg("port forwarded")

	return nil
}

func (p *ports) ForwardMany(ports []uint16) (uint16, error) {
	for _, port := range ports {
		err := p.Forward(port)
		if err != nil {
			log.Debug().Err(err).Uint16("port", port).Msg("forwarding failed")
			continue
		}

		return port, nil
	}

	err := fmt.Errorf("could not forward any of the ports %v", ports)
	return 0, errors.Wrap(err, errors.Op("(*ports).ForwardMany"), errors.Network)
}

func (p *ports) ExternalIP() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	d, err := p.gateway()
	if err != nil {
		return "", err
	}

	return d.ExternalIP()
}

func (p *ports) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.d == nil {
		return nil
	}

	var errs errors.Errors
	for _, port := range p.forwarded {
		if err := p.d.Clear(port); err != nil {
			errs = append(errs, err)
		}
	}
	p.forwarded = nil

	if len(errs) > 0 {
		return errors.Wrap(errs, errors.Op("(*ports).Clear"), errors.Network)
	}

	return nil
}

func discoverUPnP() (Gateway, error) {
	return upnp.Discover()
}

func NewService(cfg Config) Service {
	if cfg.Description == "" {
		cfg.Description = "seedbox"
	}

	if cfg.Discover == nil {
		cfg.Discover = discoverUPnP
	}

	return &ports{
		desc:     cfg.Description,
		discover: cfg.Discover,
	}
}
