package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gameupdater/gameupdater/pkg/eventbus"
	"github.com/gameupdater/gameupdater/pkg/metrics"
	"github.com/gameupdater/gameupdater/pkg/model"
	"github.com/gameupdater/gameupdater/pkg/store"
)

const (
	reasonEcho      = "echo"
	reasonKnown     = "known"
	reasonOtherUser = "other_user"
)

type Ledger interface {
	FindByIdentity(ctx context.Context, id string) (*model.UpdateRequest, error)
	Create(ctx context.Context, request *model.UpdateRequest) error
}

// Deduplicator decides which update requests enter the ledger.
type Deduplicator struct {
	ledger        Ledger
	currentUserID string
	logger        *zap.Logger

	// mu makes find-then-create atomic within this process.
	mu sync.Mutex
}

// New returns a Deduplicator. When currentUserID is set, remote events for
// other users are ignored.
func New(ledger Ledger, currentUserID string, logger *zap.Logger) *Deduplicator {
	return &Deduplicator{
		ledger:        ledger,
		currentUserID: currentUserID,
		logger:        logger,
	}
}

// AdmitRemote records a request observed on the bus. It returns nil, nil when
// the event is an echo of a local request or is already known.
func (d *Deduplicator) AdmitRemote(ctx context.Context, event eventbus.RequestedEvent) (*model.UpdateRequest, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}

	logger := d.logger.With(
		zap.String("event_id", event.ID),
		zap.String("game_id", event.GameID),
		zap.String("app_id", event.AppID),
	)

	if d.currentUserID != "" && event.UserID != d.currentUserID {
		logger.Info("ignoring update request for another user", zap.String("user_id", event.UserID))
		metrics.DuplicateEvents.WithLabelValues(reasonOtherUser).Inc()
		return nil, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	existing, err := d.ledger.FindByIdentity(ctx, event.ID)
	switch {
	case err == nil:
		reason := reasonKnown
		if existing.Source == model.SourceLocal {
			reason = reasonEcho
		}
		logger.Info("dropping duplicate update request",
			zap.String("reason", reason),
			zap.String("request_id", existing.ID),
		)
		metrics.DuplicateEvents.WithLabelValues(reason).Inc()
		return nil, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("lookup update request %s: %w", event.ID, err)
	}

	externalID := event.ID
	now := time.Now()
	request := &model.UpdateRequest{
		ID:         uuid.NewString(),
		ExternalID: &externalID,
		GameID:     event.GameID,
		AppID:      event.AppID,
		UserID:     event.UserID,
		Status:     model.UpdatePending,
		Source:     model.SourceRemote,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := d.ledger.Create(ctx, request); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			logger.Info("dropping duplicate update request", zap.String("reason", reasonKnown))
			metrics.DuplicateEvents.WithLabelValues(reasonKnown).Inc()
			return nil, nil
		}
		return nil, fmt.Errorf("create remote update request: %w", err)
	}

	logger.Info("admitted remote update request", zap.String("request_id", request.ID))
	return request, nil
}

// AdmitLocal records a request submitted on this instance.
func (d *Deduplicator) AdmitLocal(ctx context.Context, gameID, appID, userID string) (*model.UpdateRequest, error) {
	now := time.Now()
	request := &model.UpdateRequest{
		ID:        uuid.NewString(),
		GameID:    gameID,
		AppID:     appID,
		UserID:    userID,
		Status:    model.UpdatePending,
		Source:    model.SourceLocal,
		CreatedAt: now,
		UpdatedAt: now,
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ledger.Create(ctx, request); err != nil {
		return nil, fmt.Errorf("create local update request: %w", err)
	}
	return request, nil
}
