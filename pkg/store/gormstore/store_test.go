package gormstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gameupdater/gameupdater/pkg/config"
	"github.com/gameupdater/gameupdater/pkg/model"
	"github.com/gameupdater/gameupdater/pkg/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewStore(&config.DatabaseConfig{
		Driver:       DriverSQLite,
		Path:         filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	require.NoError(t, s.AutoMigrate())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newRequest(id string, source model.UpdateSource) *model.UpdateRequest {
	return &model.UpdateRequest{
		ID:     id,
		GameID: "g1",
		AppID:  "a1",
		UserID: "u1",
		Status: model.UpdatePending,
		Source: source,
	}
}

func TestPublicationRoundTripPreservesOrder(t *testing.T) {
	s := newTestStore(t)
	repo := NewPublicationRepository(s.DB())
	ctx := context.Background()

	created := time.Now()
	payloads := [][]byte{[]byte(`{"n":1}`), {0x00, 0xff, 0x10}, []byte(`{"n":3}`)}
	for i, payload := range payloads {
		require.NoError(t, repo.Append(ctx, &model.PendingPublication{
			Exchange:   "updates",
			RoutingKey: "update.status",
			Content:    payload,
			CreatedAt:  created,
		}), "append %d", i)
	}

	// a fresh repository over the same database sees the persisted rows
	reloaded := NewPublicationRepository(s.DB())
	publications, err := reloaded.ListOldest(ctx, 10)
	require.NoError(t, err)
	require.Len(t, publications, len(payloads))

	for i, publication := range publications {
		assert.Equal(t, "updates", publication.Exchange)
		assert.Equal(t, "update.status", publication.RoutingKey)
		assert.Equal(t, payloads[i], publication.Content)
	}

	require.NoError(t, reloaded.Delete(ctx, publications[0].ID))
	count, err := reloaded.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestLedgerTransitionAppendsLog(t *testing.T) {
	s := newTestStore(t)
	ledger := NewLedgerRepository(s.DB())
	ctx := context.Background()

	require.NoError(t, ledger.Create(ctx, newRequest("r1", model.SourceLocal)))

	updated, err := ledger.Transition(ctx, "r1", model.UpdateProcessing, "", "update started")
	require.NoError(t, err)
	assert.Equal(t, model.UpdateProcessing, updated.Status)

	updated, err = ledger.Transition(ctx, "r1", model.UpdateFailed, "boom", "update failed: boom")
	require.NoError(t, err)
	assert.Equal(t, model.UpdateFailed, updated.Status)
	assert.Equal(t, "boom", updated.ErrorMessage)

	logs, err := ledger.Logs(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "update started", logs[0].Message)
	assert.Equal(t, "update failed: boom", logs[1].Message)
}

func TestLedgerTransitionNeverMovesBackward(t *testing.T) {
	s := newTestStore(t)
	ledger := NewLedgerRepository(s.DB())
	ctx := context.Background()

	require.NoError(t, ledger.Create(ctx, newRequest("r1", model.SourceLocal)))
	_, err := ledger.Transition(ctx, "r1", model.UpdateProcessing, "", "")
	require.NoError(t, err)
	_, err = ledger.Transition(ctx, "r1", model.UpdateCompleted, "", "done")
	require.NoError(t, err)

	_, err = ledger.Transition(ctx, "r1", model.UpdateProcessing, "", "again")
	require.ErrorIs(t, err, store.ErrInvalidTransition)

	request, err := ledger.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.UpdateCompleted, request.Status)

	logs, err := ledger.Logs(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, logs, 1, "rejected transition must not append a log")
}

func TestLedgerFindByIdentity(t *testing.T) {
	s := newTestStore(t)
	ledger := NewLedgerRepository(s.DB())
	ctx := context.Background()

	external := "remote-9"
	remote := newRequest("r2", model.SourceRemote)
	remote.ExternalID = &external
	require.NoError(t, ledger.Create(ctx, newRequest("r1", model.SourceLocal)))
	require.NoError(t, ledger.Create(ctx, remote))

	found, err := ledger.FindByIdentity(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.SourceLocal, found.Source)

	found, err = ledger.FindByIdentity(ctx, "remote-9")
	require.NoError(t, err)
	assert.Equal(t, "r2", found.ID)

	_, err = ledger.FindByIdentity(ctx, "unknown")
	require.ErrorIs(t, err, store.ErrNotFound)

	duplicate := newRequest("r3", model.SourceRemote)
	duplicate.ExternalID = &external
	err = ledger.Create(ctx, duplicate)
	require.ErrorIs(t, err, store.ErrDuplicate)
}

func TestLedgerRecent(t *testing.T) {
	s := newTestStore(t)
	ledger := NewLedgerRepository(s.DB())
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"r1", "r2", "r3"} {
		request := newRequest(id, model.SourceLocal)
		request.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, ledger.Create(ctx, request))
	}
	other := newRequest("r4", model.SourceLocal)
	other.GameID = "g2"
	other.CreatedAt = base.Add(10 * time.Minute)
	require.NoError(t, ledger.Create(ctx, other))
	require.NoError(t, ledger.AppendLog(ctx, "r3", "line one"))

	recent, err := ledger.Recent(ctx, store.RecentQuery{GameID: "g1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "r3", recent[0].ID)
	assert.Equal(t, "r2", recent[1].ID)
	require.Len(t, recent[0].Logs, 1)
	assert.Equal(t, "line one", recent[0].Logs[0].Message)

	all, err := ledger.Recent(ctx, store.RecentQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, "r4", all[0].ID)
}

func TestSettingsAndInstallations(t *testing.T) {
	s := newTestStore(t)
	settings := NewSettingsRepository(s.DB())
	installations := NewInstallationRepository(s.DB())
	ctx := context.Background()

	_, err := settings.Get(ctx)
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, settings.Save(ctx, &model.Settings{Username: "bob", Password: "pw", ExecutablePath: "/opt/steamcmd.sh"}))
	require.NoError(t, settings.Save(ctx, &model.Settings{Username: "alice", Password: "pw2", ExecutablePath: "/opt/steamcmd.sh"}))

	current, err := settings.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", current.Username)

	_, err = installations.Find(ctx, "g1", "a1")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, installations.Upsert(ctx, &model.GameInstallation{
		GameID:      "g1",
		AppID:       "a1",
		InstallPath: "/games/one",
		ExtraArgs:   []string{"-beta", "public"},
	}))
	require.NoError(t, installations.Upsert(ctx, &model.GameInstallation{
		GameID:      "g1",
		AppID:       "a1",
		InstallPath: "/games/one-moved",
		ExtraArgs:   []string{"-beta", "public"},
	}))

	installation, err := installations.Find(ctx, "g1", "a1")
	require.NoError(t, err)
	assert.Equal(t, "/games/one-moved", installation.InstallPath)
	assert.Equal(t, []string{"-beta", "public"}, []string(installation.ExtraArgs))
}
