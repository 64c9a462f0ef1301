package keeper

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"wager-rounds/internal/model"
	"wager-rounds/internal/settlement"
)

// Rounds is the part of the engine the keeper drives.
type Rounds interface {
	Config(ctx context.Context) (model.PlatformConfig, error)
	CurrentRound(ctx context.Context) (model.Round, error)
	StartRound(ctx context.Context) (model.Round, error)
	EndRound(ctx context.Context) (model.Round, error)
}

// Keeper advances the round lifecycle: it opens the current round when it has not started and
// closes it once the configured duration has elapsed, then opens the next one.
type Keeper struct {
	Rounds Rounds
	Logger *zap.Logger
	Now    func() time.Time

	mu sync.Mutex
}

// Schedule registers Tick on runner.
func (k *Keeper) Schedule(runner *Runner, spec string) error {
	_, err := runner.Add(spec, func(ctx context.Context) { k.Tick(ctx) })
	return err
}

// Tick runs one keeper pass. Overlapping calls are skipped.
func (k *Keeper) Tick(ctx context.Context) {
	if !k.mu.TryLock() {
		return
	}
	defer k.mu.Unlock()

	cfg, err := k.Rounds.Config(ctx)
	if err != nil {
		k.report("load config", err)
		return
	}
	r, err := k.Rounds.CurrentRound(ctx)
	if err != nil {
		k.report("load current round", err)
		return
	}

	if r.Started() {
		if !settlement.Eligible(cfg, r, uint64(k.now().Unix())) {
			return
		}
		closed, err := k.Rounds.EndRound(ctx)
		if err != nil {
			k.report("end round", err)
			return
		}
		k.logger().Info("keeper closed round", zap.Uint64("round", closed.Index), zap.String("outcome", string(closed.Outcome)))
	}

	started, err := k.Rounds.StartRound(ctx)
	if err != nil {
		k.report("start round", err)
		return
	}
	k.logger().Info("keeper started round", zap.Uint64("round", started.Index), zap.Uint64("price", started.StartingPrice))
}

func (k *Keeper) report(step string, err error) {
	if errors.Is(err, context.Canceled) || settlement.KindOf(err) == settlement.KindPrecondition {
		k.logger().Debug("keeper skipped", zap.String("step", step), zap.Error(err))
		return
	}
	k.logger().Warn("keeper step failed", zap.String("step", step), zap.Error(err))
}

func (k *Keeper) now() time.Time {
	if k.Now != nil {
		return k.Now()
	}
	return time.Now()
}

func (k *Keeper) logger() *zap.Logger {
	if k.Logger != nil {
		return k.Logger
	}
	return zap.NewNop()
}
