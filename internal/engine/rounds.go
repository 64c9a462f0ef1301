package engine

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"wager-rounds/internal/db"
	"wager-rounds/internal/model"
	"wager-rounds/internal/settlement"
)

// StartRound opens the current round at the oracle's price.
func (e *Engine) StartRound(ctx context.Context) (model.Round, error) {
	v, err := e.submit(ctx, "start_round", func(ctx context.Context, tx db.Tx) (any, []event, error) {
		cfg, err := loadConfig(tx)
		if err != nil {
			return nil, nil, err
		}
		r, err := db.RoundOrNew(tx, cfg.CurrentRound())
		if err != nil {
			return nil, nil, err
		}
		if err := settlement.CanStart(cfg, r); err != nil {
			return nil, nil, err
		}
		price, err := e.readPrice(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		next, err := settlement.StartRound(cfg, r, price, e.clock())
		if err != nil {
			return nil, nil, err
		}
		if err := tx.SaveRound(&next); err != nil {
			return nil, nil, err
		}
		e.log.Info("round started", zap.Uint64("round", next.Index), zap.Uint64("price", price))
		return next, []event{roundEvent(next.Index, "round_started", map[string]any{
			"round":          next.Index,
			"starting_price": amt(next.StartingPrice),
			"start_time":     next.StartTime,
		})}, nil
	})
	if err != nil {
		return model.Round{}, err
	}
	return v.(model.Round), nil
}

// EndRound closes the current round at the oracle's price and settles its pool.
func (e *Engine) EndRound(ctx context.Context) (model.Round, error) {
	v, err := e.submit(ctx, "end_round", func(ctx context.Context, tx db.Tx) (any, []event, error) {
		cfg, err := loadConfig(tx)
		if err != nil {
			return nil, nil, err
		}
		r, err := db.RoundOrNew(tx, cfg.CurrentRound())
		if err != nil {
			return nil, nil, err
		}
		now := e.clock()
		if err := settlement.CanClose(cfg, r, now); err != nil {
			return nil, nil, err
		}
		price, err := e.readPrice(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		nextCfg, closed, err := settlement.CloseRound(cfg, r, price, now)
		if err != nil {
			return nil, nil, err
		}
		if err := tx.SaveRound(&closed); err != nil {
			return nil, nil, err
		}
		if err := tx.SaveConfig(&nextCfg); err != nil {
			return nil, nil, err
		}
		e.log.Info("round ended",
			zap.Uint64("round", closed.Index),
			zap.String("outcome", string(closed.Outcome)),
			zap.Uint64("winners_pool", closed.WinnersPool),
			zap.Uint64("jackpot_cut", closed.JackpotCut),
			zap.Uint64("platform_cut", closed.PlatformCut),
		)
		return closed, []event{roundEvent(closed.Index, "round_ended", map[string]any{
			"round":              closed.Index,
			"ending_price":       amt(closed.EndingPrice),
			"end_time":           closed.EndTime,
			"outcome":            closed.Outcome,
			"winners_pool":       amt(closed.WinnersPool),
			"affiliate_pool":     amt(closed.AffiliatePool),
			"jackpot_cut":        amt(closed.JackpotCut),
			"platform_cut":       amt(closed.PlatformCut),
			"jackpot_pool":       amt(nextCfg.JackpotPoolAmount),
			"winning_affiliates": closed.WinningAffiliates,
		})}, nil
	})
	if err != nil {
		return model.Round{}, err
	}
	return v.(model.Round), nil
}

// PlaceBet stakes amount of the user's balance on side in the current round.
func (e *Engine) PlaceBet(ctx context.Context, user common.Address, amount uint64, side model.Side) (model.Bet, error) {
	v, err := e.submit(ctx, "place_bet", func(_ context.Context, tx db.Tx) (any, []event, error) {
		cfg, err := loadConfig(tx)
		if err != nil {
			return nil, nil, err
		}
		index := cfg.CurrentRound()
		r, err := db.RoundOrNew(tx, index)
		if err != nil {
			return nil, nil, err
		}
		info, err := db.UserOrNew(tx, user)
		if err != nil {
			return nil, nil, err
		}
		existing, err := tx.LoadBet(user, index)
		if err != nil {
			return nil, nil, err
		}
		nextUser, nextRound, bet, err := settlement.PlaceBet(cfg, info, r, existing, amount, side, e.clock())
		if err != nil {
			return nil, nil, err
		}
		if err := tx.SaveUser(&nextUser); err != nil {
			return nil, nil, err
		}
		if err := tx.SaveRound(&nextRound); err != nil {
			return nil, nil, err
		}
		if err := tx.SaveBet(&bet); err != nil {
			return nil, nil, err
		}
		return bet, []event{roundEvent(index, "bet_placed", map[string]any{
			"round":         index,
			"user":          user.Hex(),
			"side":          side,
			"amount":        amt(amount),
			"has_affiliate": bet.HasAffiliate(),
			"total_long":    amt(nextRound.TotalBetAmountLong),
			"total_short":   amt(nextRound.TotalBetAmountShort),
		})}, nil
	})
	if err != nil {
		return model.Bet{}, err
	}
	return v.(model.Bet), nil
}
