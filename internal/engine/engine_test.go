package engine_test

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"tdprio/internal/catalog"
	"tdprio/internal/config"
	"tdprio/internal/db"
	"tdprio/internal/domain"
	"tdprio/internal/engine"
	"tdprio/internal/migrate"
	"tdprio/internal/prioritizer"
	"tdprio/internal/repo"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	require.NoError(t, err, "open db")
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn), "migrate")
	cfg := config.Default()
	cfg.Experiment.MaxSimulations = 6
	eng := engine.New(conn, cfg, catalog.New(), zap.NewNop())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func seed(v int64) *int64 { return &v }

func TestRunSweepRecordsEveryRun(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.RunSweep(env.Ctx, engine.SweepOptions{Dataset: "default", Seed: seed(7)})
	require.NoError(t, err)
	assert.Equal(t, "default", s.Dataset)
	assert.Equal(t, 6, s.MaxSimulations)
	require.Len(t, s.Runs, 6)
	for i, run := range s.Runs {
		assert.Equal(t, i, run.Simulations)
		got := append([]int(nil), run.Order...)
		sort.Ints(got)
		assert.Equal(t, []int{1, 2, 3, 4}, got, "each id addressed exactly once")
	}

	stored, err := env.Engine.Repo.GetSweep(env.Ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s, stored)

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "sweep.completed", "sweep", s.ID)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Contains(t, evts[0].Payload, `"dataset":"default"`)
}

func TestRunSweepIsDeterministic(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.RunSweep(env.Ctx, engine.SweepOptions{Dataset: "small", MaxSimulations: 5, Seed: seed(11), Parallelism: 4})
	require.NoError(t, err)
	b, err := env.Engine.RunSweep(env.Ctx, engine.SweepOptions{Dataset: "small", MaxSimulations: 5, Seed: seed(11), Parallelism: 1})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, a.Runs, b.Runs)

	list, err := env.Engine.Repo.ListSweeps(env.Ctx, repo.SweepFilters{Dataset: "small"})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestRunSweepUnknownDataset(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.RunSweep(env.Ctx, engine.SweepOptions{Dataset: "nope"})
	require.ErrorIs(t, err, catalog.ErrUnknownDataset)
}

func TestRunSweepCancelled(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(env.Ctx)
	cancel()
	_, err := env.Engine.RunSweep(ctx, engine.SweepOptions{Dataset: "big", MaxSimulations: 20})
	require.ErrorIs(t, err, context.Canceled)

	list, err := env.Engine.Repo.ListSweeps(env.Ctx, repo.SweepFilters{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestPlayoutWithoutRollouts(t *testing.T) {
	ds, err := catalog.New().Get("medium")
	require.NoError(t, err)
	run, err := engine.Playout(context.Background(), ds, 0, 1, 3)
	require.NoError(t, err)
	assert.Len(t, run.Order, 10)
	assert.Equal(t, 0, run.Simulations)
}

func TestEvaluatePlan(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.EvaluatePlan(env.Ctx, "default", []int{0, 1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, res.IDs)
	assert.Equal(t, 264.0, res.Metrics.Lines)
	assert.Equal(t, 0.0, res.Metrics.DebtMaintain)
	assert.Equal(t, 5.0, res.Metrics.RateReliable)
	assert.InDelta(t, 111.0/264+5/5.01-0.7*(2/5.5), res.Reward, 1e-12)

	_, err = env.Engine.EvaluatePlan(env.Ctx, "default", []int{0, 1})
	require.ErrorIs(t, err, prioritizer.ErrInvalidState)

	_, err = env.Engine.EvaluatePlan(env.Ctx, "default", []int{0, 0, 1, 2})
	require.ErrorIs(t, err, prioritizer.ErrIndexOutOfRange)

	_, err = env.Engine.EvaluatePlan(env.Ctx, "default", []int{9})
	require.ErrorIs(t, err, prioritizer.ErrIndexOutOfRange)

	_, err = env.Engine.EvaluatePlan(env.Ctx, "galaxy", []int{0})
	require.ErrorIs(t, err, catalog.ErrUnknownDataset)
}

func TestBuildTrend(t *testing.T) {
	tr := engine.BuildTrend(domain.Sweep{
		ID: "s1",
		Runs: []domain.Run{
			{Simulations: 0, Order: []int{3, 1, 2}},
			{Simulations: 1, Order: []int{1, 3, 2}},
		},
	})
	assert.Equal(t, []int{0, 1}, tr.Simulations)
	assert.Equal(t, [][]int{{3, 1}, {1, 3}, {2, 2}}, tr.Positions)
}

func TestSweepTrendNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.SweepTrend(env.Ctx, "missing")
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestDeleteSweep(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.RunSweep(env.Ctx, engine.SweepOptions{MaxSimulations: 2})
	require.NoError(t, err)
	require.NoError(t, env.Engine.DeleteSweep(env.Ctx, s.ID))

	_, err = env.Engine.Repo.GetSweep(env.Ctx, s.ID)
	require.ErrorIs(t, err, repo.ErrNotFound)
	require.ErrorIs(t, env.Engine.DeleteSweep(env.Ctx, s.ID), repo.ErrNotFound)

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "", "sweep", s.ID)
	require.NoError(t, err)
	require.Len(t, evts, 2)
	assert.Equal(t, "sweep.deleted", evts[0].Type)

	next, err := env.Engine.Repo.EventsAfter(env.Ctx, 10, evts[1].ID)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, evts[0].ID, next[0].ID)
	latest, err := env.Engine.Repo.LatestEventID(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, evts[0].ID, latest)
}
