package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tdprio/internal/catalog"
	"tdprio/internal/config"
	"tdprio/internal/domain"
	"tdprio/internal/events"
	"tdprio/internal/metrics"
	"tdprio/internal/prioritizer"
	"tdprio/internal/repo"
	"tdprio/internal/search"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Catalog *catalog.Catalog
	Logger  *zap.Logger
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config, cat *catalog.Catalog, logger *zap.Logger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if cat == nil {
		cat = catalog.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Events:  events.Writer{},
		Config:  cfg,
		Catalog: cat,
		Logger:  logger,
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

// SweepOptions are parameters for a rollout sweep. Zero values fall back to
// the experiment config.
type SweepOptions struct {
	ID                string
	Dataset           string
	MaxSimulations    int
	ExplorationWeight float64
	Seed              *int64
	Parallelism       int
}

func (e Engine) resolve(opts SweepOptions) SweepOptions {
	exp := config.Default().Experiment
	if e.Config != nil {
		exp = e.Config.Experiment
	}
	if opts.Dataset == "" {
		opts.Dataset = exp.Dataset
	}
	if opts.MaxSimulations <= 0 {
		opts.MaxSimulations = exp.MaxSimulations
	}
	if opts.ExplorationWeight <= 0 {
		opts.ExplorationWeight = exp.ExplorationWeight
	}
	if opts.Seed == nil {
		seed := exp.Seed
		opts.Seed = &seed
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = exp.Parallelism
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	return opts
}

// RunSweep plays one full remediation plan for every simulation count in
// [0, MaxSimulations) and stores the addressed order of each. Simulation
// counts run concurrently, each with its own tree and random source.
func (e Engine) RunSweep(ctx context.Context, opts SweepOptions) (domain.Sweep, error) {
	opts = e.resolve(opts)
	ds, err := e.Catalog.Get(opts.Dataset)
	if err != nil {
		return domain.Sweep{}, err
	}
	if e.DB == nil {
		return domain.Sweep{}, errors.New("database not opened")
	}
	logger := e.log().With(zap.String("dataset", ds.Name), zap.Int("max_simulations", opts.MaxSimulations))
	start := time.Now()

	runs := make([]domain.Run, opts.MaxSimulations)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallelism)
	for sims := 0; sims < opts.MaxSimulations; sims++ {
		g.Go(func() error {
			run, err := Playout(gctx, ds, sims, opts.ExplorationWeight, *opts.Seed)
			if err != nil {
				return fmt.Errorf("simulations=%d: %w", sims, err)
			}
			metrics.RolloutsTotal.WithLabelValues(ds.Name).Add(float64(sims * len(ds.Items)))
			runs[sims] = run
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		metrics.SweepsTotal.WithLabelValues(ds.Name, "error").Inc()
		logger.Warn("sweep failed", zap.Error(err))
		return domain.Sweep{}, err
	}

	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	s := domain.Sweep{
		ID:                id,
		Dataset:           ds.Name,
		MaxSimulations:    opts.MaxSimulations,
		ExplorationWeight: opts.ExplorationWeight,
		Seed:              *opts.Seed,
		Runs:              runs,
		CreatedAt:         e.now().UTC().Format(time.RFC3339),
	}
	best := bestRun(runs)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Sweep{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertSweep(ctx, tx, s); err != nil {
		return domain.Sweep{}, err
	}
	if err := e.Events.Append(ctx, tx, events.SweepCompleted, "sweep", s.ID, events.EventPayload{
		"dataset":         s.Dataset,
		"max_simulations": s.MaxSimulations,
		"seed":            s.Seed,
		"best_reward":     best.Reward,
		"best_order":      best.Order,
	}); err != nil {
		return domain.Sweep{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Sweep{}, err
	}

	elapsed := time.Since(start)
	metrics.SweepsTotal.WithLabelValues(ds.Name, "ok").Inc()
	metrics.SweepDuration.WithLabelValues(ds.Name).Observe(elapsed.Seconds())
	for _, run := range runs {
		metrics.PlanReward.WithLabelValues(ds.Name, "sweep").Observe(run.Reward)
	}
	logger.Info("sweep completed",
		zap.String("sweep_id", s.ID),
		zap.Duration("elapsed", elapsed),
		zap.Float64("best_reward", best.Reward),
		zap.Ints("best_order", best.Order))
	return s, nil
}

func bestRun(runs []domain.Run) domain.Run {
	var best domain.Run
	for i, r := range runs {
		if i == 0 || r.Reward > best.Reward {
			best = r
		}
	}
	return best
}

// Playout builds a fresh tree over the dataset and, until the plan is
// complete, runs sims rollouts from the current node before committing to
// the tree's choice. It returns item ids in the order they were addressed.
func Playout(ctx context.Context, ds catalog.Dataset, sims int, weight float64, seed int64) (domain.Run, error) {
	board, err := ds.Root()
	if err != nil {
		return domain.Run{}, err
	}
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(sims)))
	tree := search.New[prioritizer.Node](weight, rng)
	tree.Expand(board)
	order := make([]int, 0, board.Len())
	for !board.Terminal() {
		for i := 0; i < sims; i++ {
			if err := ctx.Err(); err != nil {
				return domain.Run{}, err
			}
			if err := tree.DoRollout(board); err != nil {
				return domain.Run{}, err
			}
		}
		next, err := tree.Choose(board)
		if err != nil {
			return domain.Run{}, err
		}
		order = append(order, newlyAddressed(board, next)...)
		board = next
	}
	reward, err := board.Reward()
	if err != nil {
		return domain.Run{}, err
	}
	return domain.Run{Simulations: sims, Order: order, Reward: reward}, nil
}

// newlyAddressed lists ids addressed in child but not in parent.
func newlyAddressed(parent, child prioritizer.Node) []int {
	var ids []int
	for i := 0; i < child.Len(); i++ {
		if child.Item(i).Addressed && !parent.Item(i).Addressed {
			ids = append(ids, child.Item(i).ID)
		}
	}
	return ids
}

// PlanResult is the outcome of applying an explicit order to a dataset.
type PlanResult struct {
	Dataset string                `json:"dataset"`
	Order   []int                 `json:"order"`
	IDs     []int                 `json:"ids"`
	Metrics domain.ProjectMetrics `json:"metrics"`
	Reward  float64               `json:"reward"`
}

// EvaluatePlan addresses items by index in the given order and scores the
// finished plan. The order must cover every item exactly once.
func (e Engine) EvaluatePlan(ctx context.Context, dataset string, order []int) (PlanResult, error) {
	root, err := e.Catalog.Root(dataset)
	if err != nil {
		return PlanResult{}, err
	}
	if dataset == "" {
		dataset = catalog.DefaultName
	}
	board := root
	ids := make([]int, 0, len(order))
	for _, idx := range order {
		if err := ctx.Err(); err != nil {
			return PlanResult{}, err
		}
		next, err := board.Move(idx)
		if err != nil {
			return PlanResult{}, err
		}
		ids = append(ids, newlyAddressed(board, next)...)
		board = next
	}
	reward, err := board.Reward()
	if err != nil {
		return PlanResult{}, fmt.Errorf("plan addresses %d of %d items: %w", board.Addressed(), board.Len(), err)
	}
	metrics.PlanReward.WithLabelValues(dataset, "plan").Observe(reward)
	e.log().Debug("plan evaluated", zap.String("dataset", dataset), zap.Ints("order", order), zap.Float64("reward", reward))
	return PlanResult{Dataset: dataset, Order: order, IDs: ids, Metrics: board.Metrics(), Reward: reward}, nil
}

// Trend regroups a sweep by position: Positions[k][j] is the id addressed
// k-th in the run with Simulations[j] rollouts per step.
type Trend struct {
	SweepID     string  `json:"sweep_id"`
	Simulations []int   `json:"simulations"`
	Positions   [][]int `json:"positions"`
}

func BuildTrend(s domain.Sweep) Trend {
	t := Trend{SweepID: s.ID}
	width := 0
	for _, run := range s.Runs {
		width = max(width, len(run.Order))
	}
	t.Positions = make([][]int, width)
	for _, run := range s.Runs {
		t.Simulations = append(t.Simulations, run.Simulations)
		for k := 0; k < width; k++ {
			id := 0
			if k < len(run.Order) {
				id = run.Order[k]
			}
			t.Positions[k] = append(t.Positions[k], id)
		}
	}
	return t
}

// SweepTrend loads a stored sweep and regroups it by position.
func (e Engine) SweepTrend(ctx context.Context, id string) (Trend, error) {
	s, err := e.Repo.GetSweep(ctx, id)
	if err != nil {
		return Trend{}, err
	}
	return BuildTrend(s), nil
}

// DeleteSweep removes a stored sweep and records the deletion.
func (e Engine) DeleteSweep(ctx context.Context, id string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteSweep(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.SweepDeleted, "sweep", id, nil); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.log().Info("sweep deleted", zap.String("sweep_id", id))
	return nil
}
