package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/gameupdater/gameupdater/pkg/config"
	"github.com/gameupdater/gameupdater/pkg/eventbus"
	"github.com/gameupdater/gameupdater/pkg/model"
	"github.com/gameupdater/gameupdater/pkg/notify"
	"github.com/gameupdater/gameupdater/pkg/store"
)

const indeterminateLogMessage = "update was interrupted by a restart; outcome is indeterminate and needs operator review"

var ErrInvalidRequest = errors.New("invalid request")

type Ledger interface {
	Recent(ctx context.Context, query store.RecentQuery) ([]model.UpdateRequest, error)
	ListByStatus(ctx context.Context, status model.UpdateStatus) ([]model.UpdateRequest, error)
	AppendLog(ctx context.Context, id, message string) error
}

type Admitter interface {
	AdmitRemote(ctx context.Context, event eventbus.RequestedEvent) (*model.UpdateRequest, error)
	AdmitLocal(ctx context.Context, gameID, appID, userID string) (*model.UpdateRequest, error)
}

type Queue interface {
	Enqueue(request *model.UpdateRequest)
	Run(ctx context.Context)
	Len() int
	Busy() bool
}

type Bus interface {
	Publisher
	Consume(queue string, handler eventbus.Handler) error
	Start(ctx context.Context)
	State() eventbus.State
	Attempts() int
	PendingCount(ctx context.Context) (int64, error)
}

type CodeReceiver interface {
	SubmitCode(code string) error
	AwaitingCode() bool
}

type SettingsStore interface {
	Get(ctx context.Context) (*model.Settings, error)
	Save(ctx context.Context, settings *model.Settings) error
}

type InstallationStore interface {
	Find(ctx context.Context, gameID, appID string) (*model.GameInstallation, error)
	Upsert(ctx context.Context, installation *model.GameInstallation) error
}

// Deps are the collaborators a Service is built from.
type Deps struct {
	Ledger        Ledger
	Admitter      Admitter
	Queue         Queue
	Bus           Bus
	Codes         CodeReceiver
	Settings      SettingsStore
	Installations InstallationStore
	Notifier      notify.Notifier
}

type ConnectionStatus struct {
	Connected           bool           `json:"connected"`
	State               eventbus.State `json:"state"`
	Attempts            int            `json:"attempts"`
	PendingPublications int64          `json:"pendingPublications"`
}

type QueueStatus struct {
	Waiting      int  `json:"waiting"`
	Busy         bool `json:"busy"`
	AwaitingCode bool `json:"awaitingCode"`
}

// Service is the entry point used by the UI layer.
type Service struct {
	deps   Deps
	cfg    config.UpdaterConfig
	logger *zap.Logger

	mu            sync.Mutex
	indeterminate map[string]bool
}

func NewService(deps Deps, cfg config.UpdaterConfig, logger *zap.Logger) *Service {
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = store.DefaultRecentLimit
	}
	return &Service{
		deps:          deps,
		cfg:           cfg,
		logger:        logger,
		indeterminate: make(map[string]bool),
	}
}

// Run reconciles leftovers from a previous run, attaches to the bus and
// drains the queue until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	if err := s.reconcile(ctx); err != nil {
		return fmt.Errorf("reconcile ledger: %w", err)
	}
	if err := s.deps.Bus.Consume(eventbus.QueueUpdateRequests, s.handleRemoteRequest); err != nil {
		return fmt.Errorf("consume %s: %w", eventbus.QueueUpdateRequests, err)
	}
	s.deps.Bus.Start(ctx)
	s.deps.Queue.Run(ctx)
	return nil
}

func (s *Service) SubmitLocalUpdateRequest(ctx context.Context, gameID, appID, userID string) (*model.UpdateRequest, error) {
	gameID = strings.TrimSpace(gameID)
	appID = strings.TrimSpace(appID)
	userID = strings.TrimSpace(userID)
	if gameID == "" || appID == "" || userID == "" {
		return nil, fmt.Errorf("%w: gameId, appId and userId are required", ErrInvalidRequest)
	}

	request, err := s.deps.Admitter.AdmitLocal(ctx, gameID, appID, userID)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(eventbus.NewRequestedEvent(request))
	if err != nil {
		s.logger.Error("failed to encode requested event", zap.String("request_id", request.ID), zap.Error(err))
	} else if err := s.deps.Bus.Publish(ctx, eventbus.ExchangeUpdates, eventbus.RoutingKeyRequested, body); err != nil {
		s.logger.Error("failed to publish requested event", zap.String("request_id", request.ID), zap.Error(err))
	}

	s.logger.Info("local update request submitted",
		zap.String("request_id", request.ID),
		zap.String("game_id", gameID),
		zap.String("app_id", appID),
	)
	s.notify(ctx, notify.NewRequestEvent(notify.EventUpdateAdmitted, request))
	s.deps.Queue.Enqueue(request)
	return request, nil
}

func (s *Service) GetRecentUpdates(ctx context.Context, query store.RecentQuery) ([]model.UpdateRequest, error) {
	if query.Limit <= 0 {
		query.Limit = s.cfg.RecentLimit
	}
	return s.deps.Ledger.Recent(ctx, query)
}

// SubmitSecondFactorCode answers a pending guard-code prompt. It returns
// executor.ErrNoPendingPrompt when nothing is waiting.
func (s *Service) SubmitSecondFactorCode(code string) error {
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidRequest)
	}
	return s.deps.Codes.SubmitCode(code)
}

func (s *Service) GetConnectionStatus() bool {
	return s.deps.Bus.State() == eventbus.StateConnected
}

func (s *Service) ConnectionDetails(ctx context.Context) ConnectionStatus {
	status := ConnectionStatus{
		Connected: s.GetConnectionStatus(),
		State:     s.deps.Bus.State(),
		Attempts:  s.deps.Bus.Attempts(),
	}
	if pending, err := s.deps.Bus.PendingCount(ctx); err == nil {
		status.PendingPublications = pending
	}
	return status
}

func (s *Service) QueueStatus() QueueStatus {
	return QueueStatus{
		Waiting:      s.deps.Queue.Len(),
		Busy:         s.deps.Queue.Busy(),
		AwaitingCode: s.deps.Codes.AwaitingCode(),
	}
}

// IndeterminateUpdates lists requests found PROCESSING at startup that have
// not been resolved since.
func (s *Service) IndeterminateUpdates(ctx context.Context) ([]model.UpdateRequest, error) {
	s.mu.Lock()
	ids := make(map[string]bool, len(s.indeterminate))
	for id := range s.indeterminate {
		ids[id] = true
	}
	s.mu.Unlock()

	if len(ids) == 0 {
		return []model.UpdateRequest{}, nil
	}

	processing, err := s.deps.Ledger.ListByStatus(ctx, model.UpdateProcessing)
	if err != nil {
		return nil, err
	}
	result := make([]model.UpdateRequest, 0, len(ids))
	for _, request := range processing {
		if ids[request.ID] {
			result = append(result, request)
		}
	}
	return result, nil
}

func (s *Service) GetSettings(ctx context.Context) (*model.Settings, error) {
	settings, err := s.deps.Settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	redacted := *settings
	if redacted.Password != "" {
		redacted.Password = "******"
	}
	return &redacted, nil
}

func (s *Service) SaveSettings(ctx context.Context, settings *model.Settings) error {
	if strings.TrimSpace(settings.ExecutablePath) == "" || strings.TrimSpace(settings.Username) == "" {
		return fmt.Errorf("%w: executablePath and username are required", ErrInvalidRequest)
	}
	return s.deps.Settings.Save(ctx, settings)
}

func (s *Service) GetInstallation(ctx context.Context, gameID, appID string) (*model.GameInstallation, error) {
	return s.deps.Installations.Find(ctx, gameID, appID)
}

func (s *Service) SaveInstallation(ctx context.Context, installation *model.GameInstallation) error {
	if installation.GameID == "" || installation.AppID == "" || strings.TrimSpace(installation.InstallPath) == "" {
		return fmt.Errorf("%w: gameId, appId and installPath are required", ErrInvalidRequest)
	}
	return s.deps.Installations.Upsert(ctx, installation)
}

func (s *Service) reconcile(ctx context.Context) error {
	processing, err := s.deps.Ledger.ListByStatus(ctx, model.UpdateProcessing)
	if err != nil {
		return err
	}
	for _, request := range processing {
		s.logger.Warn("update request was processing when the updater stopped; marking indeterminate",
			zap.String("request_id", request.ID),
			zap.String("game_id", request.GameID),
			zap.String("app_id", request.AppID),
		)
		if err := s.deps.Ledger.AppendLog(ctx, request.ID, indeterminateLogMessage); err != nil {
			return err
		}
		s.mu.Lock()
		s.indeterminate[request.ID] = true
		s.mu.Unlock()
	}

	pending, err := s.deps.Ledger.ListByStatus(ctx, model.UpdatePending)
	if err != nil {
		return err
	}
	for i := range pending {
		request := pending[i]
		s.deps.Queue.Enqueue(&request)
	}
	if len(pending) > 0 {
		s.logger.Info("re-enqueued pending update requests", zap.Int("count", len(pending)))
	}
	return nil
}

func (s *Service) handleRemoteRequest(ctx context.Context, body []byte) error {
	var event eventbus.RequestedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		s.logger.Warn("discarding malformed update request event", zap.Error(err))
		return nil
	}
	if err := event.Validate(); err != nil {
		s.logger.Warn("discarding invalid update request event", zap.Error(err))
		return nil
	}

	request, err := s.deps.Admitter.AdmitRemote(ctx, event)
	if err != nil {
		return fmt.Errorf("admit remote request %s: %w", event.ID, err)
	}
	if request == nil {
		return nil
	}

	s.notify(ctx, notify.NewRequestEvent(notify.EventUpdateAdmitted, request))
	s.deps.Queue.Enqueue(request)
	return nil
}

func (s *Service) notify(ctx context.Context, event notify.Event) {
	if s.deps.Notifier != nil {
		s.deps.Notifier.Notify(ctx, event)
	}
}
