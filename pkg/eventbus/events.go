package eventbus

import (
	"errors"

	"github.com/gameupdater/gameupdater/pkg/model"
)

const (
	ExchangeUpdates = "updates"

	RoutingKeyRequested = "update.requested"
	RoutingKeyStatus    = "update.status"

	QueueUpdateRequests = "update_requests"
)

// Binding ties a durable queue to the routing key it receives.
type Binding struct {
	Exchange   string
	RoutingKey string
}

// DefaultBindings is the topology every instance declares.
var DefaultBindings = map[string]Binding{
	QueueUpdateRequests: {Exchange: ExchangeUpdates, RoutingKey: RoutingKeyRequested},
}

// RequestedEvent announces a new update request. ID is the identity assigned
// by the instance that created the request.
type RequestedEvent struct {
	ID     string             `json:"id"`
	GameID string             `json:"gameId"`
	AppID  string             `json:"appId"`
	UserID string             `json:"userId"`
	Source model.UpdateSource `json:"source"`
}

func NewRequestedEvent(request *model.UpdateRequest) RequestedEvent {
	return RequestedEvent{
		ID:     request.BusID(),
		GameID: request.GameID,
		AppID:  request.AppID,
		UserID: request.UserID,
		Source: request.Source,
	}
}

func (e RequestedEvent) Validate() error {
	if e.ID == "" {
		return errors.New("requested event: id is required")
	}
	if e.GameID == "" || e.AppID == "" {
		return errors.New("requested event: gameId and appId are required")
	}
	return nil
}

type StatusEvent struct {
	ID     string             `json:"id"`
	GameID string             `json:"gameId"`
	AppID  string             `json:"appId"`
	UserID string             `json:"userId"`
	Status model.UpdateStatus `json:"status"`
}

func NewStatusEvent(request *model.UpdateRequest) StatusEvent {
	return StatusEvent{
		ID:     request.BusID(),
		GameID: request.GameID,
		AppID:  request.AppID,
		UserID: request.UserID,
		Status: request.Status,
	}
}
