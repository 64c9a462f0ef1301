package db

import (
	"context"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"wager-rounds/internal/model"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func TestMemoryTxCommit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	r, err := RoundOrNew(tx, 1)
	if err != nil {
		t.Fatalf("round or new: %v", err)
	}
	if r.Index != 1 || r.Started() {
		t.Fatalf("expected fresh round 1, got %+v", r)
	}
	r.StartingPrice = 100
	if err := tx.SaveRound(&r); err != nil {
		t.Fatalf("save round: %v", err)
	}
	loaded, _ := tx.LoadRound(1)
	if loaded == nil || loaded.StartingPrice != 100 {
		t.Fatalf("expected staged write visible inside tx, got %+v", loaded)
	}
	if got, _ := s.GetRound(ctx, 1); got != nil {
		t.Fatalf("staged write leaked before commit: %+v", got)
	}

	round := uint64(1)
	if _, err := tx.AppendEvent(&round, "round_started", map[string]any{"price": 100}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback after commit should be a no-op, got %v", err)
	}
	if err := tx.SaveRound(&r); err != ErrTxDone {
		t.Fatalf("expected ErrTxDone after commit, got %v", err)
	}

	got, _ := s.GetRound(ctx, 1)
	if got == nil || got.StartingPrice != 100 {
		t.Fatalf("expected committed round, got %+v", got)
	}
	events, _ := s.ListEvents(ctx, &round, 10)
	if len(events) != 1 || events[0].Type != "round_started" || events[0].ID == "" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestMemoryTxRollback(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	tx, _ := s.Begin(ctx)
	u, _ := UserOrNew(tx, alice)
	u.Balance = 500
	tx.SaveUser(&u)
	tx.RecordTransfer(model.Transfer{From: alice, To: model.VaultAddress, Amount: 500, Reason: model.TransferDeposit})
	tx.Rollback()

	if got, _ := s.GetUser(ctx, alice); got != nil {
		t.Fatalf("expected no user after rollback, got %+v", got)
	}
	if ts, _ := s.ListTransfers(ctx, nil, 10); len(ts) != 0 {
		t.Fatalf("expected no transfers after rollback, got %d", len(ts))
	}
}

func TestMemoryListQueries(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	tx, _ := s.Begin(ctx)
	for i := uint64(1); i <= 3; i++ {
		tx.SaveBet(&model.Bet{User: alice, Round: i, Amount: 10 * i, Side: model.SideLong})
	}
	tx.SaveBet(&model.Bet{User: bob, Round: 2, Amount: 99, Side: model.SideShort})
	tx.RecordTransfer(model.Transfer{From: alice, To: model.VaultAddress, Amount: 30, Reason: model.TransferDeposit})
	tx.RecordTransfer(model.Transfer{From: model.VaultAddress, To: bob, Amount: 5, Reason: model.TransferWithdraw})
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	bets, _ := s.ListUserBets(ctx, alice, 2)
	if len(bets) != 2 || bets[0].Round != 3 || bets[1].Round != 2 {
		t.Fatalf("expected newest two bets of alice, got %+v", bets)
	}
	b, _ := s.GetBet(ctx, bob, 2)
	if b == nil || b.Amount != 99 {
		t.Fatalf("expected bob's bet, got %+v", b)
	}

	ts, _ := s.ListTransfers(ctx, &bob, 10)
	if len(ts) != 1 || ts[0].Reason != model.TransferWithdraw || ts[0].ID == "" {
		t.Fatalf("expected bob's withdraw, got %+v", ts)
	}
}

func TestBeginHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMemoryStore().Begin(ctx); err == nil {
		t.Fatalf("expected canceled context to fail Begin")
	}
}

func TestDecodePayload(t *testing.T) {
	v, err := decodePayload([]byte(`{"round":3,"side":"LONG"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	m, ok := v.(map[string]any)
	if !ok || m["side"] != "LONG" || m["round"] != float64(3) {
		t.Fatalf("unexpected payload: %#v", v)
	}

	if _, err := decodePayload([]byte(`{"round":`)); err == nil || !strings.Contains(err.Error(), "decode payload") {
		t.Fatalf("expected wrapped decode error, got %v", err)
	}
}
