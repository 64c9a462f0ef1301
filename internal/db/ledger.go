package db

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"wager-rounds/internal/model"
)

var ErrTxDone = errors.New("transaction already committed or rolled back")

// Ledger is the record store behind the engine. Writes go through a Tx; the read side serves queries.
type Ledger interface {
	Begin(ctx context.Context) (Tx, error)

	GetConfig(ctx context.Context) (*model.PlatformConfig, error)
	GetRound(ctx context.Context, index uint64) (*model.Round, error)
	GetBet(ctx context.Context, user common.Address, round uint64) (*model.Bet, error)
	GetUser(ctx context.Context, addr common.Address) (*model.UserInfo, error)
	ListUserBets(ctx context.Context, user common.Address, limit int) ([]model.Bet, error)
	ListEvents(ctx context.Context, round *uint64, limit int) ([]model.EventLog, error)
	ListTransfers(ctx context.Context, addr *common.Address, limit int) ([]model.Transfer, error)
}

// Tx is one all-or-nothing unit of work. Load methods return nil, nil for absent records.
// Nothing written through a Tx is visible outside it until Commit.
type Tx interface {
	LoadConfig() (*model.PlatformConfig, error)
	SaveConfig(c *model.PlatformConfig) error
	LoadRound(index uint64) (*model.Round, error)
	SaveRound(r *model.Round) error
	LoadBet(user common.Address, round uint64) (*model.Bet, error)
	SaveBet(b *model.Bet) error
	LoadUser(addr common.Address) (*model.UserInfo, error)
	SaveUser(u *model.UserInfo) error

	AppendEvent(round *uint64, evType string, payload any) (model.EventLog, error)
	RecordTransfer(t model.Transfer) (model.Transfer, error)

	Commit() error
	Rollback() error
}

// RoundOrNew loads a round, creating an empty one at index when absent.
func RoundOrNew(tx Tx, index uint64) (model.Round, error) {
	r, err := tx.LoadRound(index)
	if err != nil {
		return model.Round{}, err
	}
	if r == nil {
		return model.Round{Index: index}, nil
	}
	return *r, nil
}

// UserOrNew loads a user's account, creating an empty one when absent.
func UserOrNew(tx Tx, addr common.Address) (model.UserInfo, error) {
	u, err := tx.LoadUser(addr)
	if err != nil {
		return model.UserInfo{}, err
	}
	if u == nil {
		return model.UserInfo{Address: addr}, nil
	}
	return *u, nil
}

const defaultListLimit = 50

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultListLimit
	}
	return limit
}
