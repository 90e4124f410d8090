package eventbus

import (
	"context"

	"github.com/nats-io/nats.go"

	"github.com/isqad/livelook-mesh/internal/hub"
)

type NATSPublisher struct {
	nc *nats.Conn
}

func NewNATSPublisher(natsAddr string) (*NATSPublisher, error) {
	nc, err := nats.Connect(natsAddr, nats.NoEcho(), nats.Name("livelook-mesh-hub"))
	if err != nil {
		return nil, err
	}

	return &NATSPublisher{nc: nc}, nil
}

// Publish sends to the subject presence.<room>
func (p *NATSPublisher) Publish(ctx context.Context, event hub.PresenceEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := encode(event)
	if err != nil {
		return err
	}
	return p.nc.Publish(presenceChannel+"."+event.Room, msg)
}

func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}
