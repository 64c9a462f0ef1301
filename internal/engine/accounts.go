package engine

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"wager-rounds/internal/db"
	"wager-rounds/internal/model"
	"wager-rounds/internal/settlement"
)

// Deposit credits amount to the user's balance and records the inbound token transfer.
func (e *Engine) Deposit(ctx context.Context, user common.Address, amount uint64) (model.UserInfo, error) {
	return e.moveFunds(ctx, "deposit", user, amount, settlement.Deposit, func(cfg model.PlatformConfig) model.Transfer {
		return model.Transfer{Token: cfg.Stablecoin, From: user, To: model.VaultAddress, Amount: amount, Reason: model.TransferDeposit}
	})
}

// Withdraw debits amount from the user's balance and records the outbound token transfer.
func (e *Engine) Withdraw(ctx context.Context, user common.Address, amount uint64) (model.UserInfo, error) {
	return e.moveFunds(ctx, "withdraw", user, amount, settlement.Withdraw, func(cfg model.PlatformConfig) model.Transfer {
		return model.Transfer{Token: cfg.Stablecoin, From: model.VaultAddress, To: user, Amount: amount, Reason: model.TransferWithdraw}
	})
}

func (e *Engine) moveFunds(
	ctx context.Context,
	name string,
	user common.Address,
	amount uint64,
	apply func(model.UserInfo, uint64) (model.UserInfo, error),
	transfer func(model.PlatformConfig) model.Transfer,
) (model.UserInfo, error) {
	v, err := e.submit(ctx, name, func(_ context.Context, tx db.Tx) (any, []event, error) {
		cfg, err := loadConfig(tx)
		if err != nil {
			return nil, nil, err
		}
		info, err := db.UserOrNew(tx, user)
		if err != nil {
			return nil, nil, err
		}
		next, err := apply(info, amount)
		if err != nil {
			return nil, nil, err
		}
		if err := tx.SaveUser(&next); err != nil {
			return nil, nil, err
		}
		tr, err := tx.RecordTransfer(transfer(cfg))
		if err != nil {
			return nil, nil, err
		}
		return next, []event{platformEvent(name, map[string]any{
			"user": user.Hex(), "amount": amt(amount), "balance": amt(next.Balance), "transfer_id": tr.ID,
		})}, nil
	})
	if err != nil {
		return model.UserInfo{}, err
	}
	return v.(model.UserInfo), nil
}

// SetAffiliate links the user's future bets to affiliate. The zero address unlinks.
func (e *Engine) SetAffiliate(ctx context.Context, user, affiliate common.Address) (model.UserInfo, error) {
	v, err := e.submit(ctx, "set_affiliate", func(_ context.Context, tx db.Tx) (any, []event, error) {
		info, err := db.UserOrNew(tx, user)
		if err != nil {
			return nil, nil, err
		}
		next, err := settlement.SetAffiliate(info, affiliate)
		if err != nil {
			return nil, nil, err
		}
		if err := tx.SaveUser(&next); err != nil {
			return nil, nil, err
		}
		return next, []event{platformEvent("affiliate_set", map[string]any{
			"user": user.Hex(), "affiliate": affiliate.Hex(),
		})}, nil
	})
	if err != nil {
		return model.UserInfo{}, err
	}
	return v.(model.UserInfo), nil
}
