package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"wager-rounds/internal/auth"
	"wager-rounds/internal/db"
	"wager-rounds/internal/model"
	"wager-rounds/internal/oracle"
	"wager-rounds/internal/settlement"
)

var (
	owner  = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	alice  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob    = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	carol  = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	dave   = common.HexToAddress("0x00000000000000000000000000000000000000a4")
	usdc   = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	source = "BTCUSDT"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type pubMsg struct {
	topic, msgType string
}

type harness struct {
	eng   *Engine
	store *db.MemoryStore
	feed  *oracle.ManualFeed
	clock *testClock

	mu   sync.Mutex
	msgs []pubMsg
}

func (h *harness) published(topic, msgType string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range h.msgs {
		if m.topic == topic && m.msgType == msgType {
			return true
		}
	}
	return false
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		store: db.NewMemoryStore(),
		feed:  oracle.NewManualFeed(),
		clock: &testClock{now: time.Unix(1_700_000_000, 0)},
	}
	h.feed.Now = h.clock.Now
	opts.Now = h.clock.Now
	opts.Publish = func(topic, msgType string, _ any) {
		h.mu.Lock()
		h.msgs = append(h.msgs, pubMsg{topic, msgType})
		h.mu.Unlock()
	}
	h.eng = New(h.store, h.feed, opts)

	ctx, cancel := context.WithCancel(context.Background())
	go h.eng.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.eng.stopped
	})
	return h
}

func testParams(tie model.TiePolicy) model.InitParams {
	return model.InitParams{
		Stablecoin:         usdc,
		RoundDuration:      60,
		Allocation:         model.Allocation{WinnersShare: 7000, AffiliateShare: 1000, JackpotShare: 1000, PlatformShare: 1000},
		JackpotAllocation:  model.JackpotAllocation{Streak5: 100, Streak6: 200, Streak7: 300, Streak8: 400, Streak9: 500, Streak10: 600},
		MinBetAmount:       10,
		PriceSource:        source,
		StalenessThreshold: 30,
		TiePolicy:          tie,
	}
}

func (h *harness) init(t *testing.T, tie model.TiePolicy) {
	t.Helper()
	if _, err := h.eng.Initialize(context.Background(), owner, testParams(tie)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
}

func (h *harness) deposit(t *testing.T, user common.Address, amount uint64) {
	t.Helper()
	if _, err := h.eng.Deposit(context.Background(), user, amount); err != nil {
		t.Fatalf("deposit %s: %v", user.Hex(), err)
	}
}

func (h *harness) balance(t *testing.T, user common.Address) uint64 {
	t.Helper()
	u, err := h.eng.User(context.Background(), user)
	if err != nil {
		t.Fatalf("user: %v", err)
	}
	return u.Balance
}

func TestFullRound(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{})
	h.init(t, model.TieForfeit)

	for _, u := range []common.Address{alice, bob, carol} {
		h.deposit(t, u, 1000)
	}
	if _, err := h.eng.SetAffiliate(ctx, alice, dave); err != nil {
		t.Fatalf("set affiliate: %v", err)
	}

	h.feed.Set(source, 100)
	r, err := h.eng.StartRound(ctx)
	if err != nil {
		t.Fatalf("start round: %v", err)
	}
	if r.Index != 1 || r.StartingPrice != 100 {
		t.Fatalf("unexpected started round: %+v", r)
	}
	if _, err := h.eng.StartRound(ctx); !errors.Is(err, settlement.ErrRoundAlreadyStarted) {
		t.Fatalf("expected ErrRoundAlreadyStarted, got %v", err)
	}

	if _, err := h.eng.PlaceBet(ctx, alice, 400, model.SideLong); err != nil {
		t.Fatalf("alice bet: %v", err)
	}
	if _, err := h.eng.PlaceBet(ctx, bob, 600, model.SideShort); err != nil {
		t.Fatalf("bob bet: %v", err)
	}
	if _, err := h.eng.PlaceBet(ctx, alice, 100, model.SideShort); !errors.Is(err, settlement.ErrBetAlreadyPlaced) {
		t.Fatalf("expected ErrBetAlreadyPlaced, got %v", err)
	}

	if _, err := h.eng.EndRound(ctx); !errors.Is(err, settlement.ErrRoundNotEligible) {
		t.Fatalf("expected ErrRoundNotEligible, got %v", err)
	}

	h.clock.Advance(60 * time.Second)
	h.feed.Set(source, 120)
	closed, err := h.eng.EndRound(ctx)
	if err != nil {
		t.Fatalf("end round: %v", err)
	}
	if closed.Outcome != model.OutcomeLongWon {
		t.Fatalf("expected LONG_WON, got %s", closed.Outcome)
	}
	if closed.WinnersPool != 420 || closed.AffiliatePool != 60 || closed.JackpotCut != 60 || closed.PlatformCut != 60 {
		t.Fatalf("unexpected buckets: %+v", closed)
	}

	cfg, _ := h.eng.Config(ctx)
	if cfg.RoundCounter != 1 || cfg.JackpotPoolAmount != 60 || cfg.AccumulatedPlatformFees != 60 {
		t.Fatalf("unexpected config after close: %+v", cfg)
	}

	payout, err := h.eng.ClaimUserWinnings(ctx, alice, 1)
	if err != nil {
		t.Fatalf("alice claim: %v", err)
	}
	if payout.Principal != 400 || payout.Winnings != 420 || payout.Total != 820 {
		t.Fatalf("unexpected payout: %+v", payout)
	}
	if _, err := h.eng.ClaimUserWinnings(ctx, alice, 1); !errors.Is(err, settlement.ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
	if _, err := h.eng.ClaimUserWinnings(ctx, bob, 1); !errors.Is(err, settlement.ErrIneligibleForClaim) {
		t.Fatalf("expected ErrIneligibleForClaim for the losing side, got %v", err)
	}
	if _, err := h.eng.ClaimUserWinnings(ctx, carol, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound without a bet, got %v", err)
	}

	if _, err := h.eng.ClaimAffiliateWinnings(ctx, carol, alice, 1); !errors.Is(err, settlement.ErrNotBetAffiliate) {
		t.Fatalf("expected ErrNotBetAffiliate, got %v", err)
	}
	affAmount, err := h.eng.ClaimAffiliateWinnings(ctx, dave, alice, 1)
	if err != nil || affAmount != 60 {
		t.Fatalf("affiliate claim: amount=%d err=%v", affAmount, err)
	}

	if _, err := h.eng.WithdrawPlatformFees(ctx, alice); !errors.Is(err, settlement.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	tr, err := h.eng.WithdrawPlatformFees(ctx, owner)
	if err != nil {
		t.Fatalf("withdraw fees: %v", err)
	}
	if tr.Amount != 60 || tr.To != owner || tr.Reason != model.TransferPlatformFee {
		t.Fatalf("unexpected fee transfer: %+v", tr)
	}

	// Everything deposited is accounted for.
	total := h.balance(t, alice) + h.balance(t, bob) + h.balance(t, carol) + h.balance(t, dave)
	cfg, _ = h.eng.Config(ctx)
	total += cfg.JackpotPoolAmount + cfg.AccumulatedPlatformFees + tr.Amount
	if total != 3000 {
		t.Fatalf("value not conserved: %d", total)
	}
	if h.balance(t, alice) != 1420 || h.balance(t, bob) != 400 || h.balance(t, dave) != 60 {
		t.Fatalf("unexpected balances alice=%d bob=%d dave=%d", h.balance(t, alice), h.balance(t, bob), h.balance(t, dave))
	}

	if !h.published("round:1", "round_ended") || !h.published(TopicPlatform, "winnings_claimed") {
		t.Fatalf("expected round events to be published, got %+v", h.msgs)
	}
	round := uint64(1)
	events, _ := h.eng.Events(ctx, &round, 50)
	if len(events) != 6 {
		t.Fatalf("expected 6 round events, got %d", len(events))
	}
}

func TestOperationsRequireInitialization(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{})

	if _, err := h.eng.PlaceBet(ctx, alice, 100, model.SideLong); !errors.Is(err, settlement.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if _, err := h.eng.Deposit(ctx, alice, 100); !errors.Is(err, settlement.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if _, err := h.eng.CurrentRound(ctx); !errors.Is(err, settlement.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}

	h.init(t, model.TieForfeit)
	if _, err := h.eng.Initialize(ctx, alice, testParams(model.TieForfeit)); !errors.Is(err, settlement.ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestBootstrapOwner(t *testing.T) {
	h := newHarness(t, Options{BootstrapOwner: owner})
	if _, err := h.eng.Initialize(context.Background(), alice, testParams(model.TieForfeit)); !errors.Is(err, settlement.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	h.init(t, model.TieForfeit)
}

func TestFailedOperationLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{})
	h.init(t, model.TieForfeit)
	h.deposit(t, alice, 50)

	if _, err := h.eng.PlaceBet(ctx, alice, 80, model.SideLong); !errors.Is(err, settlement.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if _, err := h.eng.Bet(ctx, alice, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no bet after failure, got %v", err)
	}
	if h.balance(t, alice) != 50 {
		t.Fatalf("balance changed on failure: %d", h.balance(t, alice))
	}
	if h.published("round:1", "bet_placed") {
		t.Fatalf("failed bet must not publish")
	}

	if _, err := h.eng.Withdraw(ctx, alice, 51); !errors.Is(err, settlement.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if _, err := h.eng.Withdraw(ctx, alice, 50); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	transfers, _ := h.eng.Transfers(ctx, &alice, 10)
	if len(transfers) != 2 || transfers[0].Reason != model.TransferWithdraw || transfers[1].Reason != model.TransferDeposit {
		t.Fatalf("unexpected transfers: %+v", transfers)
	}
}

func TestStalePriceBlocksClose(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{})
	h.init(t, model.TieForfeit)

	h.feed.Set(source, 100)
	if _, err := h.eng.StartRound(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.clock.Advance(90 * time.Second)

	if _, err := h.eng.EndRound(ctx); !errors.Is(err, oracle.ErrStalePrice) {
		t.Fatalf("expected ErrStalePrice, got %v", err)
	}
	r, _ := h.eng.CurrentRound(ctx)
	if r.Ended() || r.Index != 1 {
		t.Fatalf("round must stay open after a stale read: %+v", r)
	}

	h.feed.Set(source, 90)
	closed, err := h.eng.EndRound(ctx)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if closed.Outcome != model.OutcomeShortWon {
		t.Fatalf("expected SHORT_WON, got %s", closed.Outcome)
	}
	next, _ := h.eng.CurrentRound(ctx)
	if next.Index != 2 || next.Started() {
		t.Fatalf("expected empty round 2, got %+v", next)
	}
}

func TestTieRefund(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{})
	h.init(t, model.TieRefund)
	h.deposit(t, alice, 500)
	h.deposit(t, bob, 500)

	h.feed.Set(source, 100)
	h.eng.StartRound(ctx)
	h.eng.PlaceBet(ctx, alice, 200, model.SideLong)
	h.eng.PlaceBet(ctx, bob, 300, model.SideShort)
	h.clock.Advance(time.Minute)
	h.feed.Set(source, 100)
	closed, err := h.eng.EndRound(ctx)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if closed.Outcome != model.OutcomeTie || closed.JackpotCut != 0 || closed.PlatformCut != 0 {
		t.Fatalf("unexpected tie settlement: %+v", closed)
	}

	if _, err := h.eng.ClaimUserWinnings(ctx, alice, 1); !errors.Is(err, settlement.ErrTieRound) {
		t.Fatalf("expected ErrTieRound, got %v", err)
	}
	for _, u := range []common.Address{alice, bob} {
		if _, err := h.eng.ClaimRefund(ctx, u, 1); err != nil {
			t.Fatalf("refund %s: %v", u.Hex(), err)
		}
		if h.balance(t, u) != 500 {
			t.Fatalf("expected full refund, got %d", h.balance(t, u))
		}
	}
	if _, err := h.eng.ClaimRefund(ctx, alice, 1); !errors.Is(err, settlement.ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
}

func TestConfigMutations(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{})
	h.init(t, model.TieForfeit)

	if _, err := h.eng.SetRoundDuration(ctx, alice, 30); !errors.Is(err, settlement.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	bad := model.Allocation{WinnersShare: 7000, AffiliateShare: 1000, JackpotShare: 1000, PlatformShare: 999}
	if _, err := h.eng.SetAllocation(ctx, owner, bad); !errors.Is(err, settlement.ErrInvalidAllocation) {
		t.Fatalf("expected ErrInvalidAllocation, got %v", err)
	}
	cfg, err := h.eng.SetRoundDuration(ctx, owner, 30)
	if err != nil || cfg.RoundDuration != 30 || cfg.Version != 2 {
		t.Fatalf("set duration: cfg=%+v err=%v", cfg, err)
	}
	if cfg, err = h.eng.SetTiePolicy(ctx, owner, model.TieRefund); err != nil || cfg.TiePolicy != model.TieRefund {
		t.Fatalf("set tie policy: cfg=%+v err=%v", cfg, err)
	}
	if _, err := h.eng.SetMinBetAmount(ctx, owner, 0); !errors.Is(err, settlement.ErrMinBetZero) {
		t.Fatalf("expected ErrMinBetZero, got %v", err)
	}
	if !h.published(TopicPlatform, "config_updated") {
		t.Fatalf("expected config_updated to be published")
	}
}

func TestTransferOwnership(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{})
	h.init(t, model.TieForfeit)

	next, err := auth.NewSigner("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	cfg, _ := h.eng.Config(ctx)

	stale, _ := next.SignMessageHex(auth.OwnershipMessage(owner, next.Address(), cfg.Version+1))
	if _, err := h.eng.TransferOwnership(ctx, owner, next.Address(), stale); !errors.Is(err, settlement.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	sig, _ := next.SignMessageHex(auth.OwnershipMessage(owner, next.Address(), cfg.Version))
	if _, err := h.eng.TransferOwnership(ctx, alice, next.Address(), sig); !errors.Is(err, settlement.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	cfg, err = h.eng.TransferOwnership(ctx, owner, next.Address(), sig)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if cfg.Owner != next.Address() {
		t.Fatalf("owner not updated: %s", cfg.Owner.Hex())
	}
	if _, err := h.eng.TransferOwnership(ctx, owner, next.Address(), sig); !errors.Is(err, settlement.ErrNotOwner) {
		t.Fatalf("old owner must lose access, got %v", err)
	}
}

func TestSubmitAfterStop(t *testing.T) {
	e := New(db.NewMemoryStore(), oracle.NewManualFeed(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)
	cancel()
	<-e.stopped

	if _, err := e.Deposit(context.Background(), alice, 1); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}
