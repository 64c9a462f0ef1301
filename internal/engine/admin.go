package engine

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"wager-rounds/internal/auth"
	"wager-rounds/internal/db"
	"wager-rounds/internal/model"
	"wager-rounds/internal/settlement"
)

// Initialize creates the platform configuration with caller as owner.
func (e *Engine) Initialize(ctx context.Context, caller common.Address, p model.InitParams) (model.PlatformConfig, error) {
	v, err := e.submit(ctx, "initialize", func(_ context.Context, tx db.Tx) (any, []event, error) {
		if e.bootstrap != (common.Address{}) && caller != e.bootstrap {
			return nil, nil, settlement.ErrNotOwner
		}
		current, err := tx.LoadConfig()
		if err != nil {
			return nil, nil, err
		}
		cfg, err := settlement.Initialize(current, caller, p)
		if err != nil {
			return nil, nil, err
		}
		if err := tx.SaveConfig(cfg); err != nil {
			return nil, nil, err
		}
		e.log.Info("platform initialized", zap.String("owner", caller.Hex()), zap.String("source", cfg.PriceSource))
		return *cfg, []event{platformEvent("platform_initialized", map[string]any{
			"owner":          cfg.Owner.Hex(),
			"stablecoin":     cfg.Stablecoin.Hex(),
			"round_duration": cfg.RoundDuration,
			"price_source":   cfg.PriceSource,
			"tie_policy":     cfg.TiePolicy,
		})}, nil
	})
	if err != nil {
		return model.PlatformConfig{}, err
	}
	return v.(model.PlatformConfig), nil
}

type mutator func(cfg *model.PlatformConfig) (*model.PlatformConfig, error)

// mutateConfig loads the config, applies a validated mutation and emits config_updated.
func (e *Engine) mutateConfig(ctx context.Context, field string, value any, fn mutator) (model.PlatformConfig, error) {
	v, err := e.submit(ctx, "set_"+field, func(_ context.Context, tx db.Tx) (any, []event, error) {
		current, err := tx.LoadConfig()
		if err != nil {
			return nil, nil, err
		}
		next, err := fn(current)
		if err != nil {
			return nil, nil, err
		}
		if err := tx.SaveConfig(next); err != nil {
			return nil, nil, err
		}
		e.log.Info("config updated", zap.String("field", field), zap.Uint64("version", next.Version))
		return *next, []event{platformEvent("config_updated", map[string]any{
			"field": field, "value": value, "version": next.Version,
		})}, nil
	})
	if err != nil {
		return model.PlatformConfig{}, err
	}
	return v.(model.PlatformConfig), nil
}

func (e *Engine) SetRoundDuration(ctx context.Context, caller common.Address, seconds uint64) (model.PlatformConfig, error) {
	return e.mutateConfig(ctx, "round_duration", seconds, func(c *model.PlatformConfig) (*model.PlatformConfig, error) {
		return settlement.SetRoundDuration(c, caller, seconds)
	})
}

func (e *Engine) SetAllocation(ctx context.Context, caller common.Address, a model.Allocation) (model.PlatformConfig, error) {
	return e.mutateConfig(ctx, "allocation", a, func(c *model.PlatformConfig) (*model.PlatformConfig, error) {
		return settlement.SetAllocation(c, caller, a)
	})
}

func (e *Engine) SetJackpotAllocation(ctx context.Context, caller common.Address, j model.JackpotAllocation) (model.PlatformConfig, error) {
	return e.mutateConfig(ctx, "jackpot_allocation", j, func(c *model.PlatformConfig) (*model.PlatformConfig, error) {
		return settlement.SetJackpotAllocation(c, caller, j)
	})
}

func (e *Engine) SetMinBetAmount(ctx context.Context, caller common.Address, amount uint64) (model.PlatformConfig, error) {
	return e.mutateConfig(ctx, "min_bet_amount", amt(amount), func(c *model.PlatformConfig) (*model.PlatformConfig, error) {
		return settlement.SetMinBetAmount(c, caller, amount)
	})
}

func (e *Engine) SetPriceSource(ctx context.Context, caller common.Address, source string) (model.PlatformConfig, error) {
	return e.mutateConfig(ctx, "price_source", source, func(c *model.PlatformConfig) (*model.PlatformConfig, error) {
		return settlement.SetPriceSource(c, caller, source)
	})
}

func (e *Engine) SetStalenessThreshold(ctx context.Context, caller common.Address, seconds uint64) (model.PlatformConfig, error) {
	return e.mutateConfig(ctx, "staleness_threshold", seconds, func(c *model.PlatformConfig) (*model.PlatformConfig, error) {
		return settlement.SetStalenessThreshold(c, caller, seconds)
	})
}

func (e *Engine) SetTiePolicy(ctx context.Context, caller common.Address, p model.TiePolicy) (model.PlatformConfig, error) {
	return e.mutateConfig(ctx, "tie_policy", p, func(c *model.PlatformConfig) (*model.PlatformConfig, error) {
		return settlement.SetTiePolicy(c, caller, p)
	})
}

// TransferOwnership hands the platform to newOwner. signature is newOwner's EIP-191 signature over
// auth.OwnershipMessage for the current owner and config version.
func (e *Engine) TransferOwnership(ctx context.Context, caller, newOwner common.Address, signature string) (model.PlatformConfig, error) {
	return e.mutateConfig(ctx, "owner", newOwner.Hex(), func(c *model.PlatformConfig) (*model.PlatformConfig, error) {
		if c == nil || !c.Initialized {
			return nil, settlement.ErrNotInitialized
		}
		if caller != c.Owner {
			return nil, settlement.ErrNotOwner
		}
		if newOwner == (common.Address{}) {
			return nil, settlement.ErrOwnerZero
		}
		ok, err := e.verify(auth.OwnershipMessage(c.Owner, newOwner, c.Version), signature, newOwner)
		if err != nil || !ok {
			return nil, settlement.ErrInvalidSignature
		}
		return settlement.TransferOwnership(c, caller, newOwner)
	})
}

// WithdrawPlatformFees zeroes the fee accumulator and records a transfer of the fees to the owner.
func (e *Engine) WithdrawPlatformFees(ctx context.Context, caller common.Address) (model.Transfer, error) {
	v, err := e.submit(ctx, "withdraw_platform_fees", func(_ context.Context, tx db.Tx) (any, []event, error) {
		current, err := tx.LoadConfig()
		if err != nil {
			return nil, nil, err
		}
		next, amount, err := settlement.CollectPlatformFees(current, caller)
		if err != nil {
			return nil, nil, err
		}
		if err := tx.SaveConfig(next); err != nil {
			return nil, nil, err
		}
		tr, err := tx.RecordTransfer(model.Transfer{
			Token:  next.Stablecoin,
			From:   model.VaultAddress,
			To:     next.Owner,
			Amount: amount,
			Reason: model.TransferPlatformFee,
		})
		if err != nil {
			return nil, nil, err
		}
		e.log.Info("platform fees withdrawn", zap.Uint64("amount", amount), zap.String("to", next.Owner.Hex()))
		return tr, []event{platformEvent("platform_fees_withdrawn", map[string]any{
			"amount": amt(amount), "to": next.Owner.Hex(), "transfer_id": tr.ID,
		})}, nil
	})
	if err != nil {
		return model.Transfer{}, err
	}
	return v.(model.Transfer), nil
}
