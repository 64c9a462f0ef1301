package engine

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"wager-rounds/internal/db"
	"wager-rounds/internal/settlement"
)

// ClaimUserWinnings credits a winning bet in round with its payout and any streak bonus.
func (e *Engine) ClaimUserWinnings(ctx context.Context, user common.Address, round uint64) (settlement.Payout, error) {
	v, err := e.submit(ctx, "claim_user_winnings", func(_ context.Context, tx db.Tx) (any, []event, error) {
		cfg, err := loadConfig(tx)
		if err != nil {
			return nil, nil, err
		}
		r, err := loadRound(tx, round)
		if err != nil {
			return nil, nil, err
		}
		bet, err := loadBet(tx, user, round)
		if err != nil {
			return nil, nil, err
		}
		info, err := db.UserOrNew(tx, user)
		if err != nil {
			return nil, nil, err
		}
		nextCfg, nextUser, nextBet, payout, err := settlement.ClaimUserWinnings(cfg, info, r, bet)
		if err != nil {
			return nil, nil, err
		}
		if err := tx.SaveConfig(&nextCfg); err != nil {
			return nil, nil, err
		}
		if err := tx.SaveUser(&nextUser); err != nil {
			return nil, nil, err
		}
		if err := tx.SaveBet(&nextBet); err != nil {
			return nil, nil, err
		}
		if payout.JackpotBonus > 0 {
			e.log.Info("jackpot bonus paid",
				zap.String("user", user.Hex()),
				zap.Uint64("round", round),
				zap.Uint64("streak", payout.Streak),
				zap.Uint64("bonus", payout.JackpotBonus),
			)
		}
		return payout, []event{roundEvent(round, "winnings_claimed", map[string]any{
			"round":         round,
			"user":          user.Hex(),
			"principal":     amt(payout.Principal),
			"winnings":      amt(payout.Winnings),
			"jackpot_bonus": amt(payout.JackpotBonus),
			"total":         amt(payout.Total),
			"streak":        payout.Streak,
		})}, nil
	})
	if err != nil {
		return settlement.Payout{}, err
	}
	return v.(settlement.Payout), nil
}

// ClaimAffiliateWinnings credits caller, the affiliate of bettor's bet in round, with one share of
// the round's affiliate pool.
func (e *Engine) ClaimAffiliateWinnings(ctx context.Context, caller, bettor common.Address, round uint64) (uint64, error) {
	v, err := e.submit(ctx, "claim_affiliate_winnings", func(_ context.Context, tx db.Tx) (any, []event, error) {
		r, err := loadRound(tx, round)
		if err != nil {
			return nil, nil, err
		}
		bet, err := loadBet(tx, bettor, round)
		if err != nil {
			return nil, nil, err
		}
		aff, err := db.UserOrNew(tx, caller)
		if err != nil {
			return nil, nil, err
		}
		nextAff, nextBet, amount, err := settlement.ClaimAffiliateWinnings(r, bet, caller, aff)
		if err != nil {
			return nil, nil, err
		}
		if err := tx.SaveUser(&nextAff); err != nil {
			return nil, nil, err
		}
		if err := tx.SaveBet(&nextBet); err != nil {
			return nil, nil, err
		}
		return amount, []event{roundEvent(round, "affiliate_winnings_claimed", map[string]any{
			"round": round, "affiliate": caller.Hex(), "bettor": bettor.Hex(), "amount": amt(amount),
		})}, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

// ClaimRefund returns the principal of the user's bet in a tied round closed under the refund policy.
func (e *Engine) ClaimRefund(ctx context.Context, user common.Address, round uint64) (uint64, error) {
	v, err := e.submit(ctx, "claim_refund", func(_ context.Context, tx db.Tx) (any, []event, error) {
		r, err := loadRound(tx, round)
		if err != nil {
			return nil, nil, err
		}
		bet, err := loadBet(tx, user, round)
		if err != nil {
			return nil, nil, err
		}
		info, err := db.UserOrNew(tx, user)
		if err != nil {
			return nil, nil, err
		}
		nextUser, nextBet, err := settlement.ClaimRefund(info, r, bet)
		if err != nil {
			return nil, nil, err
		}
		if err := tx.SaveUser(&nextUser); err != nil {
			return nil, nil, err
		}
		if err := tx.SaveBet(&nextBet); err != nil {
			return nil, nil, err
		}
		return bet.Amount, []event{roundEvent(round, "refund_claimed", map[string]any{
			"round": round, "user": user.Hex(), "amount": amt(bet.Amount),
		})}, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}
