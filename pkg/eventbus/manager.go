package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gameupdater/gameupdater/pkg/config"
	"github.com/gameupdater/gameupdater/pkg/metrics"
	"github.com/gameupdater/gameupdater/pkg/model"
)

const (
	defaultBaseDelay         = time.Second
	defaultMaxDelay          = time.Minute
	defaultKeepAliveInterval = 30 * time.Second
	defaultReplayBatchSize   = 100
	heartbeatTimeout         = 5 * time.Second
)

var (
	ErrClosed          = errors.New("bus manager is closed")
	errConnectInFlight = errors.New("connection attempt already in flight")
)

type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
)

// PublicationStore persists messages published while the bus is unreachable.
type PublicationStore interface {
	Append(ctx context.Context, publication *model.PendingPublication) error
	ListOldest(ctx context.Context, limit int) ([]model.PendingPublication, error)
	Delete(ctx context.Context, id uint64) error
	Count(ctx context.Context) (int64, error)
}

// Handler processes one message body. The delivery is acknowledged after it
// returns, whatever the outcome.
type Handler func(ctx context.Context, body []byte) error

type consumer struct {
	queue   string
	handler Handler
}

// Manager keeps one broker connection alive and never fails a publish because
// of connectivity.
type Manager struct {
	transport Transport
	store     PublicationStore
	cfg       config.BusConfig
	logger    *zap.Logger

	mu         sync.Mutex
	state      State
	conn       Conn
	connecting bool
	attempts   int
	consumers  []consumer
	closed     bool
	ctx        context.Context
	cancel     context.CancelFunc

	// pubMu orders live publishes against buffer replay.
	pubMu   sync.Mutex
	backlog atomic.Bool

	reconnect chan struct{}
	wg        sync.WaitGroup
}

func NewManager(transport Transport, store PublicationStore, cfg config.BusConfig, logger *zap.Logger) *Manager {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = defaultKeepAliveInterval
	}
	if cfg.ReplayBatchSize <= 0 {
		cfg.ReplayBatchSize = defaultReplayBatchSize
	}

	m := &Manager{
		transport: transport,
		store:     store,
		cfg:       cfg,
		logger:    logger,
		state:     StateDisconnected,
		ctx:       context.Background(),
		reconnect: make(chan struct{}, 1),
	}
	// Rows left over from a previous run must go out before anything new.
	m.backlog.Store(true)
	return m
}

// Start launches the reconnect and keep-alive loops and kicks off the first
// connection attempt. It does not wait for the broker.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.ctx, m.cancel = context.WithCancel(ctx)
	runCtx := m.ctx
	m.mu.Unlock()

	m.wg.Add(2)
	go m.reconnectLoop(runCtx)
	go m.keepAlive(runCtx)
	m.triggerReconnect()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Connected() bool {
	return m.State() == StateConnected
}

// Attempts is the number of connection attempts since the last success.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

func (m *Manager) PendingCount(ctx context.Context) (int64, error) {
	return m.store.Count(ctx)
}

// Connect makes a single connection attempt. A call made while another
// attempt is in flight, or while connected, returns immediately.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.connecting || m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	m.connecting = true
	m.setStateLocked(StateConnecting)
	consumers := append([]consumer(nil), m.consumers...)
	m.mu.Unlock()

	conn, err := m.transport.Dial(ctx)
	if err == nil {
		for _, c := range consumers {
			if err = m.subscribe(conn, c); err != nil {
				_ = conn.Close()
				break
			}
		}
	}

	m.mu.Lock()
	m.connecting = false
	if err == nil && m.closed {
		err = ErrClosed
		_ = conn.Close()
	}
	if err != nil {
		m.setStateLocked(StateDisconnected)
		m.mu.Unlock()
		return err
	}
	m.conn = conn
	m.attempts = 0
	m.setStateLocked(StateConnected)
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Info("bus connected")
	go m.watch(conn)

	m.replay(ctx)
	return nil
}

// Publish sends content, or persists it for replay when the bus is down.
// Only a failure to persist is returned.
func (m *Manager) Publish(ctx context.Context, exchange, routingKey string, content []byte) error {
	m.pubMu.Lock()
	defer m.pubMu.Unlock()

	msgID := uuid.NewString()
	conn := m.current()
	if conn == nil {
		return m.buffer(ctx, exchange, routingKey, msgID, content)
	}
	if m.backlog.Load() {
		if err := m.buffer(ctx, exchange, routingKey, msgID, content); err != nil {
			return err
		}
		m.replayLocked(ctx, conn)
		return nil
	}

	if err := conn.Publish(ctx, exchange, routingKey, msgID, content); err != nil {
		m.logger.Warn("bus publish failed, buffering message",
			zap.String("exchange", exchange),
			zap.String("routing_key", routingKey),
			zap.Error(err),
		)
		m.dropConnection(conn, err)
		return m.buffer(ctx, exchange, routingKey, msgID, content)
	}
	return nil
}

// Consume registers handler for queue. The subscription is renewed on every
// connection.
func (m *Manager) Consume(queue string, handler Handler) error {
	c := consumer{queue: queue, handler: handler}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.consumers = append(m.consumers, c)
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := m.subscribe(conn, c); err != nil {
		m.dropConnection(conn, err)
	}
	return nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.cancel != nil {
		m.cancel()
	}
	conn := m.conn
	m.conn = nil
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	m.wg.Wait()
	return err
}

func (m *Manager) current() Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

func (m *Manager) setStateLocked(state State) {
	m.state = state
	if state == StateConnected {
		metrics.BusConnected.Set(1)
	} else {
		metrics.BusConnected.Set(0)
	}
}

func (m *Manager) triggerReconnect() {
	select {
	case m.reconnect <- struct{}{}:
	default:
	}
}

// dropConnection tears down conn if it is still the active connection and
// schedules a reconnect.
func (m *Manager) dropConnection(conn Conn, cause error) {
	m.mu.Lock()
	if m.conn != conn || m.closed {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	m.logger.Warn("bus disconnected", zap.Error(cause))
	_ = conn.Close()
	m.triggerReconnect()
}

func (m *Manager) watch(conn Conn) {
	defer m.wg.Done()

	m.mu.Lock()
	ctx := m.ctx
	m.mu.Unlock()

	select {
	case err := <-conn.Done():
		if err == nil {
			err = errors.New("connection closed")
		}
		m.dropConnection(conn, err)
	case <-ctx.Done():
	}
}

func (m *Manager) reconnectLoop(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.reconnect:
		}
		m.connectWithBackoff(ctx)
	}
}

func (m *Manager) connectWithBackoff(ctx context.Context) {
	backOff := &backoff.ExponentialBackOff{
		InitialInterval:     m.cfg.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         m.cfg.MaxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	backOff.Reset()

	operation := func() error {
		if m.Connected() {
			return nil
		}
		m.mu.Lock()
		m.attempts++
		m.mu.Unlock()
		metrics.BusReconnectAttempts.Inc()

		if err := m.Connect(ctx); err != nil {
			if errors.Is(err, ErrClosed) {
				return backoff.Permanent(err)
			}
			return err
		}
		if !m.Connected() {
			return errConnectInFlight
		}
		return nil
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(backOff, ctx), func(err error, delay time.Duration) {
		m.logger.Warn("bus connection attempt failed",
			zap.Int("attempt", m.Attempts()),
			zap.Duration("retry_in", delay),
			zap.Error(err),
		)
	})
	if err != nil && ctx.Err() == nil {
		m.logger.Error("bus reconnection abandoned", zap.Error(err))
	}
}

func (m *Manager) keepAlive(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn := m.current()
			if conn == nil {
				continue
			}
			heartbeatCtx, cancel := context.WithTimeout(ctx, heartbeatTimeout)
			err := conn.Heartbeat(heartbeatCtx)
			cancel()
			if err != nil {
				m.logger.Warn("bus keep-alive heartbeat failed", zap.Error(err))
				m.dropConnection(conn, err)
			}
		}
	}
}

func (m *Manager) subscribe(conn Conn, c consumer) error {
	if err := conn.Subscribe(c.queue, func(d Delivery) {
		m.deliver(c, d)
	}); err != nil {
		return fmt.Errorf("subscribe %s: %w", c.queue, err)
	}
	return nil
}

func (m *Manager) deliver(c consumer, d Delivery) {
	m.mu.Lock()
	ctx := m.ctx
	m.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("panic in bus handler", zap.String("queue", c.queue), zap.Any("panic", r))
		}
		if d.Ack == nil {
			return
		}
		if err := d.Ack(); err != nil {
			m.logger.Warn("failed to ack delivery", zap.String("queue", c.queue), zap.Error(err))
		}
	}()

	if err := c.handler(ctx, d.Body); err != nil {
		m.logger.Warn("bus handler failed", zap.String("queue", c.queue), zap.Error(err))
	}
}

func (m *Manager) buffer(ctx context.Context, exchange, routingKey, msgID string, content []byte) error {
	publication := &model.PendingPublication{
		MessageID:  msgID,
		Exchange:   exchange,
		RoutingKey: routingKey,
		Content:    content,
		CreatedAt:  time.Now(),
	}
	if err := m.store.Append(ctx, publication); err != nil {
		return fmt.Errorf("buffer publication: %w", err)
	}
	m.backlog.Store(true)
	m.refreshPendingGauge(ctx)

	if m.current() == nil {
		m.triggerReconnect()
	}
	return nil
}

func (m *Manager) replay(ctx context.Context) {
	m.pubMu.Lock()
	defer m.pubMu.Unlock()

	conn := m.current()
	if conn == nil {
		return
	}
	m.replayLocked(ctx, conn)
}

// replayLocked drains the buffer oldest first. It stops at the first failure
// and leaves the rest persisted for the next connection.
func (m *Manager) replayLocked(ctx context.Context, conn Conn) {
	replayed := 0
	defer func() {
		if replayed > 0 {
			m.logger.Info("replayed buffered publications", zap.Int("count", replayed))
		}
		m.refreshPendingGauge(ctx)
	}()

	for {
		batch, err := m.store.ListOldest(ctx, m.cfg.ReplayBatchSize)
		if err != nil {
			m.logger.Warn("failed to load buffered publications", zap.Error(err))
			return
		}
		if len(batch) == 0 {
			m.backlog.Store(false)
			return
		}

		for _, publication := range batch {
			if err := conn.Publish(ctx, publication.Exchange, publication.RoutingKey, publication.MessageID, publication.Content); err != nil {
				m.logger.Warn("replay interrupted",
					zap.Uint64("publication_id", publication.ID),
					zap.Error(err),
				)
				m.dropConnection(conn, err)
				return
			}
			if err := m.store.Delete(ctx, publication.ID); err != nil {
				// The row goes out again on the next replay under the same
				// message id, which the broker drops as a duplicate.
				m.logger.Error("failed to remove replayed publication",
					zap.Uint64("publication_id", publication.ID),
					zap.String("message_id", publication.MessageID),
					zap.Error(err),
				)
				return
			}
			replayed++
		}
	}
}

func (m *Manager) refreshPendingGauge(ctx context.Context) {
	count, err := m.store.Count(ctx)
	if err != nil {
		return
	}
	metrics.PendingPublications.Set(float64(count))
}
