package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/gameupdater/gameupdater/pkg/executor"
	"github.com/gameupdater/gameupdater/pkg/metrics"
	"github.com/gameupdater/gameupdater/pkg/model"
	"github.com/gameupdater/gameupdater/pkg/store"
)

type Ledger interface {
	Transition(ctx context.Context, id string, to model.UpdateStatus, errorMessage, logMessage string) (*model.UpdateRequest, error)
	AppendLog(ctx context.Context, id, message string) error
}

type InstallationFinder interface {
	Find(ctx context.Context, gameID, appID string) (*model.GameInstallation, error)
}

type SettingsReader interface {
	Get(ctx context.Context) (*model.Settings, error)
}

// Runner runs the update tool; executor.Driver satisfies it.
type Runner interface {
	Run(ctx context.Context, cmd executor.Command, creds executor.Credentials, sink executor.LineSink) error
}

// StatusPublisher announces status changes. It must not block on connectivity.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, request *model.UpdateRequest)
}

// Processor drains update requests one at a time in arrival order.
type Processor struct {
	ledger        Ledger
	installations InstallationFinder
	settings      SettingsReader
	runner        Runner
	publisher     StatusPublisher
	logger        *zap.Logger

	mu      sync.Mutex
	pending []*model.UpdateRequest
	wake    chan struct{}
	busy    atomic.Bool
}

func NewProcessor(
	ledger Ledger,
	installations InstallationFinder,
	settings SettingsReader,
	runner Runner,
	publisher StatusPublisher,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		ledger:        ledger,
		installations: installations,
		settings:      settings,
		runner:        runner,
		publisher:     publisher,
		logger:        logger,
		wake:          make(chan struct{}, 1),
	}
}

func (p *Processor) Enqueue(request *model.UpdateRequest) {
	if request == nil {
		return
	}

	p.mu.Lock()
	p.pending = append(p.pending, request)
	depth := len(p.pending)
	p.mu.Unlock()

	metrics.QueueDepth.Set(float64(depth))
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Len is the number of requests waiting, excluding the one in progress.
func (p *Processor) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *Processor) Busy() bool {
	return p.busy.Load()
}

// Run drains the queue until ctx is done. It is the only worker.
func (p *Processor) Run(ctx context.Context) {
	for {
		request, ok := p.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-p.wake:
			}
			continue
		}
		if ctx.Err() != nil {
			return
		}
		p.process(ctx, request)
	}
}

func (p *Processor) next() (*model.UpdateRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.pending) == 0 {
		return nil, false
	}
	request := p.pending[0]
	p.pending[0] = nil
	p.pending = p.pending[1:]
	metrics.QueueDepth.Set(float64(len(p.pending)))
	return request, true
}

func (p *Processor) process(ctx context.Context, request *model.UpdateRequest) {
	p.busy.Store(true)
	defer p.busy.Store(false)

	logger := p.logger.With(
		zap.String("request_id", request.ID),
		zap.String("game_id", request.GameID),
		zap.String("app_id", request.AppID),
		zap.String("source", string(request.Source)),
	)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while processing update request", zap.Any("panic", r))
			p.fail(ctx, logger, request, fmt.Errorf("internal error: %v", r))
		}
	}()

	cmd, creds, err := p.resolve(ctx, request)
	if err != nil {
		logger.Warn("update request cannot be started", zap.Error(err))
		p.fail(ctx, logger, request, err)
		return
	}

	started, err := p.ledger.Transition(ctx, request.ID, model.UpdateProcessing, "",
		fmt.Sprintf("update started for game %s app %s", request.GameID, request.AppID))
	if err != nil {
		logger.Error("failed to mark update request processing", zap.Error(err))
		return
	}
	p.publisher.PublishStatus(ctx, started)
	logger.Info("running update tool", zap.String("command", cmd.Redacted()))

	startTime := time.Now()
	runErr := p.runner.Run(ctx, cmd, creds, func(stream executor.Stream, line string) {
		message := line
		if stream == executor.StreamStderr {
			message = "[stderr] " + line
		}
		if err := p.ledger.AppendLog(ctx, request.ID, message); err != nil {
			logger.Warn("failed to append update log", zap.Error(err))
		}
	})
	elapsed := time.Since(startTime)

	if runErr != nil {
		metrics.UpdateDuration.WithLabelValues(string(model.UpdateFailed)).Observe(elapsed.Seconds())
		logger.Warn("update failed", zap.Duration("duration", elapsed), zap.Error(runErr))
		p.fail(ctx, logger, request, runErr)
		return
	}

	metrics.UpdateDuration.WithLabelValues(string(model.UpdateCompleted)).Observe(elapsed.Seconds())
	completed, err := p.ledger.Transition(ctx, request.ID, model.UpdateCompleted, "",
		fmt.Sprintf("update completed for game %s", request.GameID))
	if err != nil {
		logger.Error("failed to mark update request completed", zap.Error(err))
		return
	}
	metrics.UpdatesTotal.WithLabelValues(string(request.Source), string(model.UpdateCompleted)).Inc()
	logger.Info("update completed", zap.Duration("duration", elapsed))
	p.publisher.PublishStatus(ctx, completed)
}

// resolve checks the installation before the tool settings, so an unknown
// game is reported as such even on an unconfigured updater.
func (p *Processor) resolve(ctx context.Context, request *model.UpdateRequest) (executor.Command, executor.Credentials, error) {
	installation, err := p.installations.Find(ctx, request.GameID, request.AppID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return executor.Command{}, executor.Credentials{}, fmt.Errorf("%w for game %s app %s",
				executor.ErrMissingInstallation, request.GameID, request.AppID)
		}
		return executor.Command{}, executor.Credentials{}, fmt.Errorf("failed to load game installation: %w", err)
	}

	settings, err := p.settings.Get(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return executor.Command{}, executor.Credentials{}, executor.ErrMissingSettings
		}
		return executor.Command{}, executor.Credentials{}, fmt.Errorf("failed to load settings: %w", err)
	}

	return executor.BuildCommand(settings, installation, request.AppID)
}

func (p *Processor) fail(ctx context.Context, logger *zap.Logger, request *model.UpdateRequest, cause error) {
	message := cause.Error()
	failed, err := p.ledger.Transition(ctx, request.ID, model.UpdateFailed, message, "update failed: "+message)
	if err != nil {
		logger.Error("failed to mark update request failed", zap.Error(err))
		return
	}
	metrics.UpdatesTotal.WithLabelValues(string(request.Source), string(model.UpdateFailed)).Inc()
	p.publisher.PublishStatus(ctx, failed)
}
