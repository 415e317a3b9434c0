package eventbus

import (
	"context"
)

// Delivery is one message received from a durable queue.
type Delivery struct {
	Body []byte
	Ack  func() error
}

type DeliveryHandler func(Delivery)

// Conn is a live broker connection.
type Conn interface {
	// Publish sends body. Sends sharing a non-empty msgID are delivered once.
	Publish(ctx context.Context, exchange, routingKey, msgID string, body []byte) error
	Subscribe(queue string, handler DeliveryHandler) error
	// Heartbeat is a cheap round trip used as keep-alive.
	Heartbeat(ctx context.Context) error
	// Done yields once when the connection is lost.
	Done() <-chan error
	Close() error
}

type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}
