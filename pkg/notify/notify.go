package notify

import (
	"context"
	"time"

	"github.com/gameupdater/gameupdater/pkg/model"
)

type EventType string

const (
	EventUpdateStatus         EventType = "update.status"
	EventUpdateAdmitted       EventType = "update.admitted"
	EventSecondFactorRequired EventType = "second_factor.required"
)

// Event is what observers of the orchestrator are told about.
type Event struct {
	Type      EventType          `json:"type"`
	RequestID string             `json:"requestId,omitempty"`
	GameID    string             `json:"gameId,omitempty"`
	AppID     string             `json:"appId,omitempty"`
	UserID    string             `json:"userId,omitempty"`
	Source    model.UpdateSource `json:"source,omitempty"`
	Status    model.UpdateStatus `json:"status,omitempty"`
	Message   string             `json:"message,omitempty"`
	At        time.Time          `json:"at"`
}

func NewRequestEvent(eventType EventType, request *model.UpdateRequest) Event {
	return Event{
		Type:      eventType,
		RequestID: request.ID,
		GameID:    request.GameID,
		AppID:     request.AppID,
		UserID:    request.UserID,
		Source:    request.Source,
		Status:    request.Status,
		Message:   request.ErrorMessage,
		At:        time.Now(),
	}
}

// Notifier must not block the caller for long.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// Multi fans an event out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event Event) {
	for _, notifier := range m {
		if notifier != nil {
			notifier.Notify(ctx, event)
		}
	}
}
