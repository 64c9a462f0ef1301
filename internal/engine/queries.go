package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"wager-rounds/internal/model"
	"wager-rounds/internal/settlement"
)

// Reads go straight to the ledger's committed state; they never wait on the command loop.

func (e *Engine) Config(ctx context.Context) (model.PlatformConfig, error) {
	cfg, err := e.ledger.GetConfig(ctx)
	if err != nil {
		return model.PlatformConfig{}, err
	}
	if cfg == nil || !cfg.Initialized {
		return model.PlatformConfig{}, settlement.ErrNotInitialized
	}
	return *cfg, nil
}

// Round returns the round at index. A round that is current but has no record yet is returned empty.
func (e *Engine) Round(ctx context.Context, index uint64) (model.Round, error) {
	r, err := e.ledger.GetRound(ctx, index)
	if err != nil {
		return model.Round{}, err
	}
	if r != nil {
		return *r, nil
	}
	cfg, err := e.Config(ctx)
	if err == nil && index == cfg.CurrentRound() {
		return model.Round{Index: index}, nil
	}
	return model.Round{}, fmt.Errorf("round %d: %w", index, ErrNotFound)
}

func (e *Engine) CurrentRound(ctx context.Context) (model.Round, error) {
	cfg, err := e.Config(ctx)
	if err != nil {
		return model.Round{}, err
	}
	return e.Round(ctx, cfg.CurrentRound())
}

func (e *Engine) Bet(ctx context.Context, user common.Address, round uint64) (model.Bet, error) {
	b, err := e.ledger.GetBet(ctx, user, round)
	if err != nil {
		return model.Bet{}, err
	}
	if b == nil {
		return model.Bet{}, fmt.Errorf("bet of %s in round %d: %w", user.Hex(), round, ErrNotFound)
	}
	return *b, nil
}

// User returns the user's account, empty when the user has never interacted.
func (e *Engine) User(ctx context.Context, addr common.Address) (model.UserInfo, error) {
	u, err := e.ledger.GetUser(ctx, addr)
	if err != nil {
		return model.UserInfo{}, err
	}
	if u == nil {
		return model.UserInfo{Address: addr}, nil
	}
	return *u, nil
}

func (e *Engine) UserBets(ctx context.Context, user common.Address, limit int) ([]model.Bet, error) {
	return e.ledger.ListUserBets(ctx, user, limit)
}

func (e *Engine) Events(ctx context.Context, round *uint64, limit int) ([]model.EventLog, error) {
	return e.ledger.ListEvents(ctx, round, limit)
}

func (e *Engine) Transfers(ctx context.Context, addr *common.Address, limit int) ([]model.Transfer, error) {
	return e.ledger.ListTransfers(ctx, addr, limit)
}
