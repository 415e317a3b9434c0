package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gameupdater/gameupdater/pkg/model"
)

func TestHubFanOut(t *testing.T) {
	hub := NewHub(zap.NewNop())
	first, cancelFirst := hub.Subscribe(4)
	second, cancelSecond := hub.Subscribe(4)
	defer cancelSecond()

	request := &model.UpdateRequest{ID: "r1", GameID: "g1", AppID: "a1", Status: model.UpdateCompleted, Source: model.SourceLocal}
	hub.Notify(context.Background(), NewRequestEvent(EventUpdateStatus, request))

	for _, ch := range []<-chan Event{first, second} {
		event := <-ch
		assert.Equal(t, EventUpdateStatus, event.Type)
		assert.Equal(t, "r1", event.RequestID)
		assert.Equal(t, model.UpdateCompleted, event.Status)
	}

	cancelFirst()
	cancelFirst()
	_, open := <-first
	assert.False(t, open, "cancel closes the channel")
	assert.Equal(t, 1, hub.Subscribers())
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	hub := NewHub(zap.NewNop())
	ch, cancel := hub.Subscribe(1)
	defer cancel()

	hub.Notify(context.Background(), Event{Type: EventUpdateStatus, RequestID: "r1"})
	hub.Notify(context.Background(), Event{Type: EventUpdateStatus, RequestID: "r2"})

	event := <-ch
	assert.Equal(t, "r1", event.RequestID)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected event %v", extra)
	default:
	}
}

type recorder struct {
	events []Event
}

func (r *recorder) Notify(_ context.Context, event Event) {
	r.events = append(r.events, event)
}

func TestMultiNotify(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	multi := Multi{a, nil, b}

	multi.Notify(context.Background(), Event{Type: EventSecondFactorRequired})

	require.Len(t, a.events, 1)
	require.Len(t, b.events, 1)
	assert.Equal(t, EventSecondFactorRequired, b.events[0].Type)
}
