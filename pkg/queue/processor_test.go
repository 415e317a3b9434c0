package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gameupdater/gameupdater/pkg/executor"
	"github.com/gameupdater/gameupdater/pkg/model"
	"github.com/gameupdater/gameupdater/pkg/store"
)

type fakeLedger struct {
	mu       sync.Mutex
	requests map[string]*model.UpdateRequest
	logs     map[string][]string
	done     chan string
}

func newFakeLedger(requests ...*model.UpdateRequest) *fakeLedger {
	l := &fakeLedger{
		requests: make(map[string]*model.UpdateRequest),
		logs:     make(map[string][]string),
		done:     make(chan string, 64),
	}
	for _, request := range requests {
		copied := *request
		l.requests[request.ID] = &copied
	}
	return l
}

func (l *fakeLedger) Transition(_ context.Context, id string, to model.UpdateStatus, errorMessage, logMessage string) (*model.UpdateRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	request, ok := l.requests[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !model.CanTransition(request.Status, to) {
		return nil, store.ErrInvalidTransition
	}
	request.Status = to
	if errorMessage != "" {
		request.ErrorMessage = errorMessage
	}
	if logMessage != "" {
		l.logs[id] = append(l.logs[id], logMessage)
	}
	if to.IsTerminal() {
		l.done <- id
	}
	copied := *request
	return &copied, nil
}

func (l *fakeLedger) AppendLog(_ context.Context, id, message string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs[id] = append(l.logs[id], message)
	return nil
}

func (l *fakeLedger) get(id string) model.UpdateRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.requests[id]
}

func (l *fakeLedger) logsFor(id string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.logs[id]...)
}

func (l *fakeLedger) waitDone(t *testing.T, n int) []string {
	t.Helper()
	var ids []string
	for len(ids) < n {
		select {
		case id := <-l.done:
			ids = append(ids, id)
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of %d requests finished", len(ids), n)
		}
	}
	return ids
}

type fakeInstallations struct {
	missing map[string]bool
}

func (f *fakeInstallations) Find(_ context.Context, gameID, appID string) (*model.GameInstallation, error) {
	if f.missing[gameID] {
		return nil, store.ErrNotFound
	}
	return &model.GameInstallation{GameID: gameID, AppID: appID, InstallPath: "/games/" + gameID}, nil
}

type fakeSettings struct {
	settings *model.Settings
}

func (f *fakeSettings) Get(context.Context) (*model.Settings, error) {
	if f.settings == nil {
		return nil, store.ErrNotFound
	}
	return f.settings, nil
}

type fakeRunner struct {
	mu       sync.Mutex
	calls    []string
	active   atomic.Int32
	overlaps atomic.Int32
	failFor  map[string]error
	panicFor map[string]bool
	delay    time.Duration
}

func (r *fakeRunner) Run(_ context.Context, cmd executor.Command, _ executor.Credentials, sink executor.LineSink) error {
	if r.active.Add(1) > 1 {
		r.overlaps.Add(1)
	}
	defer r.active.Add(-1)

	installPath := ""
	for i, arg := range cmd.Args {
		if arg == "+force_install_dir" && i+1 < len(cmd.Args) {
			installPath = cmd.Args[i+1]
		}
	}
	gameID := strings.TrimPrefix(installPath, "/games/")

	r.mu.Lock()
	r.calls = append(r.calls, gameID)
	r.mu.Unlock()

	time.Sleep(r.delay)
	if r.panicFor[gameID] {
		panic("runner exploded")
	}
	sink(executor.StreamStdout, "Success! App fully installed.")
	sink(executor.StreamStderr, "warning")
	return r.failFor[gameID]
}

func (r *fakeRunner) gameCalls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type recordingPublisher struct {
	mu       sync.Mutex
	statuses []string
}

func (p *recordingPublisher) PublishStatus(_ context.Context, request *model.UpdateRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, request.ID+":"+string(request.Status))
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.statuses...)
}

func pendingRequest(id, gameID string) *model.UpdateRequest {
	return &model.UpdateRequest{
		ID:     id,
		GameID: gameID,
		AppID:  "a1",
		UserID: "u1",
		Status: model.UpdatePending,
		Source: model.SourceLocal,
	}
}

func validSettings() *fakeSettings {
	return &fakeSettings{settings: &model.Settings{Username: "bob", Password: "pw", ExecutablePath: "steamcmd"}}
}

func startProcessor(t *testing.T, p *Processor) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestProcessorDrainsInOrderWithoutOverlap(t *testing.T) {
	var requests []*model.UpdateRequest
	for i := 0; i < 5; i++ {
		requests = append(requests, pendingRequest(fmt.Sprintf("r%d", i), fmt.Sprintf("g%d", i)))
	}
	ledger := newFakeLedger(requests...)
	runner := &fakeRunner{delay: 20 * time.Millisecond}
	publisher := &recordingPublisher{}
	p := NewProcessor(ledger, &fakeInstallations{}, validSettings(), runner, publisher, zap.NewNop())

	for _, request := range requests {
		p.Enqueue(request)
	}
	startProcessor(t, p)

	finished := ledger.waitDone(t, len(requests))
	assert.Equal(t, []string{"r0", "r1", "r2", "r3", "r4"}, finished)
	assert.Equal(t, []string{"g0", "g1", "g2", "g3", "g4"}, runner.gameCalls())
	assert.Zero(t, runner.overlaps.Load(), "driver invocations overlapped")

	for _, request := range requests {
		assert.Equal(t, model.UpdateCompleted, ledger.get(request.ID).Status)
	}

	logs := ledger.logsFor("r0")
	require.Len(t, logs, 4)
	assert.Equal(t, "update started for game g0 app a1", logs[0])
	assert.Equal(t, "Success! App fully installed.", logs[1])
	assert.Equal(t, "[stderr] warning", logs[2])
	assert.Equal(t, "update completed for game g0", logs[3])

	assert.Equal(t, []string{"r0:PROCESSING", "r0:COMPLETED"}, publisher.published()[:2])
}

func TestProcessorRearmsAfterIdle(t *testing.T) {
	first := pendingRequest("r1", "g1")
	second := pendingRequest("r2", "g2")
	ledger := newFakeLedger(first, second)
	p := NewProcessor(ledger, &fakeInstallations{}, validSettings(), &fakeRunner{}, &recordingPublisher{}, zap.NewNop())
	startProcessor(t, p)

	p.Enqueue(first)
	ledger.waitDone(t, 1)
	assert.Eventually(t, func() bool { return !p.Busy() }, time.Second, 5*time.Millisecond)

	p.Enqueue(second)
	ledger.waitDone(t, 1)
	assert.Equal(t, model.UpdateCompleted, ledger.get("r2").Status)
	assert.Zero(t, p.Len())
}

func TestProcessorMissingInstallationFailsWithoutDriver(t *testing.T) {
	request := pendingRequest("r1", "g1")
	ledger := newFakeLedger(request)
	runner := &fakeRunner{}
	publisher := &recordingPublisher{}
	p := NewProcessor(ledger, &fakeInstallations{missing: map[string]bool{"g1": true}}, validSettings(), runner, publisher, zap.NewNop())
	startProcessor(t, p)

	p.Enqueue(request)
	ledger.waitDone(t, 1)

	got := ledger.get("r1")
	assert.Equal(t, model.UpdateFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "installation")
	assert.Empty(t, runner.gameCalls())
	assert.Equal(t, []string{"r1:FAILED"}, publisher.published())
}

func TestProcessorMissingInstallationReportedBeforeSettings(t *testing.T) {
	request := pendingRequest("r1", "g1")
	ledger := newFakeLedger(request)
	runner := &fakeRunner{}
	p := NewProcessor(ledger, &fakeInstallations{missing: map[string]bool{"g1": true}}, &fakeSettings{}, runner, &recordingPublisher{}, zap.NewNop())
	startProcessor(t, p)

	p.Enqueue(request)
	ledger.waitDone(t, 1)

	got := ledger.get("r1")
	assert.Equal(t, model.UpdateFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "installation")
	assert.NotContains(t, got.ErrorMessage, "settings")
	assert.Empty(t, runner.gameCalls())
}

func TestProcessorMissingSettingsFails(t *testing.T) {
	request := pendingRequest("r1", "g1")
	ledger := newFakeLedger(request)
	runner := &fakeRunner{}
	p := NewProcessor(ledger, &fakeInstallations{}, &fakeSettings{}, runner, &recordingPublisher{}, zap.NewNop())
	startProcessor(t, p)

	p.Enqueue(request)
	ledger.waitDone(t, 1)

	got := ledger.get("r1")
	assert.Equal(t, model.UpdateFailed, got.Status)
	assert.Equal(t, executor.ErrMissingSettings.Error(), got.ErrorMessage)
	assert.Empty(t, runner.gameCalls())
}

func TestProcessorKeepsDrainingAfterFailures(t *testing.T) {
	requests := []*model.UpdateRequest{
		pendingRequest("r1", "g1"),
		pendingRequest("r2", "g2"),
		pendingRequest("r3", "g3"),
	}
	ledger := newFakeLedger(requests...)
	runner := &fakeRunner{
		failFor:  map[string]error{"g1": errors.New("update tool exited with code 8")},
		panicFor: map[string]bool{"g2": true},
	}
	p := NewProcessor(ledger, &fakeInstallations{}, validSettings(), runner, &recordingPublisher{}, zap.NewNop())
	for _, request := range requests {
		p.Enqueue(request)
	}
	startProcessor(t, p)
	ledger.waitDone(t, 3)

	first := ledger.get("r1")
	assert.Equal(t, model.UpdateFailed, first.Status)
	assert.Equal(t, "update tool exited with code 8", first.ErrorMessage)
	assert.Contains(t, ledger.logsFor("r1"), "update failed: update tool exited with code 8")

	second := ledger.get("r2")
	assert.Equal(t, model.UpdateFailed, second.Status)
	assert.Contains(t, second.ErrorMessage, "runner exploded")

	assert.Equal(t, model.UpdateCompleted, ledger.get("r3").Status)
}
