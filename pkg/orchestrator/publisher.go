package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/gameupdater/gameupdater/pkg/eventbus"
	"github.com/gameupdater/gameupdater/pkg/executor"
	"github.com/gameupdater/gameupdater/pkg/model"
	"github.com/gameupdater/gameupdater/pkg/notify"
)

// Publisher is the publishing half of the bus manager.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, content []byte) error
}

// StatusPublisher announces status transitions on the bus and to local
// observers.
type StatusPublisher struct {
	bus      Publisher
	notifier notify.Notifier
	logger   *zap.Logger
}

func NewStatusPublisher(bus Publisher, notifier notify.Notifier, logger *zap.Logger) *StatusPublisher {
	return &StatusPublisher{bus: bus, notifier: notifier, logger: logger}
}

func (p *StatusPublisher) PublishStatus(ctx context.Context, request *model.UpdateRequest) {
	body, err := json.Marshal(eventbus.NewStatusEvent(request))
	if err != nil {
		p.logger.Error("failed to encode status event", zap.String("request_id", request.ID), zap.Error(err))
	} else if err := p.bus.Publish(ctx, eventbus.ExchangeUpdates, eventbus.RoutingKeyStatus, body); err != nil {
		p.logger.Error("failed to publish status event",
			zap.String("request_id", request.ID),
			zap.String("status", string(request.Status)),
			zap.Error(err),
		)
	}

	if p.notifier != nil {
		p.notifier.Notify(ctx, notify.NewRequestEvent(notify.EventUpdateStatus, request))
	}
}

// NewPromptObserver tells observers that the update tool is waiting for a
// second factor code.
func NewPromptObserver(notifier notify.Notifier, logger *zap.Logger) executor.PromptObserver {
	return func(kind executor.PromptKind) {
		logger.Info("update tool is waiting for input", zap.String("kind", string(kind)))
		if notifier == nil {
			return
		}
		notifier.Notify(context.Background(), notify.Event{
			Type:    notify.EventSecondFactorRequired,
			Message: string(kind),
			At:      time.Now(),
		})
	}
}
