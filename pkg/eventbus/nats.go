package eventbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/gameupdater/gameupdater/pkg/config"
)

var errConnectionClosed = errors.New("nats: connection closed")

// duplicateWindow bounds how long a message id is remembered by the stream.
const duplicateWindow = 10 * time.Minute

// NATSTransport maps the exchange/routing-key topology onto JetStream: an
// exchange is a stream holding "<exchange>.>", a routing key is a subject
// under it and a queue is a durable consumer filtered to its binding.
type NATSTransport struct {
	cfg      config.NATSConfig
	bindings map[string]Binding
	logger   *zap.Logger
}

func NewNATSTransport(cfg config.NATSConfig, bindings map[string]Binding, logger *zap.Logger) *NATSTransport {
	if bindings == nil {
		bindings = DefaultBindings
	}
	return &NATSTransport{cfg: cfg, bindings: bindings, logger: logger}
}

func (t *NATSTransport) Dial(ctx context.Context) (Conn, error) {
	if t.cfg.URL == "" {
		return nil, errors.New("nats: url is required")
	}

	c := &natsConn{
		bindings:   t.bindings,
		clientName: t.cfg.ClientName,
		logger:     t.logger,
		done:       make(chan error, 1),
	}

	opts := []nats.Option{
		nats.Name(t.cfg.ClientName),
		// The manager owns reconnection and buffering.
		nats.NoReconnect(),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err == nil {
				err = errConnectionClosed
			}
			c.signal(err)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.signal(errConnectionClosed)
		}),
	}
	if t.cfg.ConnectTimeout > 0 {
		opts = append(opts, nats.Timeout(t.cfg.ConnectTimeout))
	}

	conn, err := nats.Connect(t.cfg.URL, opts...)
	if err != nil {
		return nil, err
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, err
	}
	c.conn = conn
	c.js = js

	for _, exchange := range t.exchanges() {
		if err := ensureStream(ctx, js, exchange); err != nil {
			conn.Close()
			return nil, fmt.Errorf("nats: ensure stream for %s: %w", exchange, err)
		}
	}
	return c, nil
}

func (t *NATSTransport) exchanges() []string {
	seen := map[string]bool{ExchangeUpdates: true}
	exchanges := []string{ExchangeUpdates}
	for _, binding := range t.bindings {
		if !seen[binding.Exchange] {
			seen[binding.Exchange] = true
			exchanges = append(exchanges, binding.Exchange)
		}
	}
	return exchanges
}

type natsConn struct {
	conn       *nats.Conn
	js         nats.JetStreamContext
	bindings   map[string]Binding
	clientName string
	logger     *zap.Logger

	once sync.Once
	done chan error
}

func (c *natsConn) signal(err error) {
	c.once.Do(func() {
		c.done <- err
		close(c.done)
	})
}

func (c *natsConn) Publish(ctx context.Context, exchange, routingKey, msgID string, body []byte) error {
	msg := nats.NewMsg(subjectFor(exchange, routingKey))
	msg.Data = body
	if msgID != "" {
		msg.Header.Set(nats.MsgIdHdr, msgID)
	}
	_, err := c.js.PublishMsg(msg, nats.Context(ctx))
	return err
}

func (c *natsConn) Subscribe(queue string, handler DeliveryHandler) error {
	binding, ok := c.bindings[queue]
	if !ok {
		return fmt.Errorf("nats: queue %s has no binding", queue)
	}

	_, err := c.js.Subscribe(
		subjectFor(binding.Exchange, binding.RoutingKey),
		func(msg *nats.Msg) {
			handler(Delivery{
				Body: msg.Data,
				Ack:  func() error { return msg.Ack() },
			})
		},
		nats.Durable(durableName(queue, c.clientName)),
		nats.BindStream(streamName(binding.Exchange)),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.DeliverAll(),
	)
	return err
}

func (c *natsConn) Heartbeat(ctx context.Context) error {
	return c.conn.FlushWithContext(ctx)
}

func (c *natsConn) Done() <-chan error {
	return c.done
}

func (c *natsConn) Close() error {
	c.conn.Close()
	return nil
}

func ensureStream(ctx context.Context, js nats.JetStreamContext, exchange string) error {
	name := streamName(exchange)
	subjects := []string{exchange + ".>"}

	_, err := js.StreamInfo(name, nats.Context(ctx))
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:       name,
		Subjects:   subjects,
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		Duplicates: duplicateWindow,
	}, nats.Context(ctx))
	return err
}

func subjectFor(exchange, routingKey string) string {
	return exchange + "." + routingKey
}

func streamName(exchange string) string {
	return strings.ToUpper(sanitizeName(exchange))
}

// durableName keeps one consumer per instance so every instance sees every
// requested event, its own echoes included.
func durableName(queue, clientName string) string {
	if clientName == "" {
		return sanitizeName(queue)
	}
	return sanitizeName(queue + "-" + clientName)
}

func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, name)
}
