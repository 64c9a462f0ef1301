package model

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BPS is the basis-point denominator for every share in the platform.
const BPS = 10_000

// ── Enums ────────────────────────────────────────────

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

func (s Side) Valid() bool { return s == SideLong || s == SideShort }

type Outcome string

const (
	OutcomePending  Outcome = ""
	OutcomeLongWon  Outcome = "LONG_WON"
	OutcomeShortWon Outcome = "SHORT_WON"
	OutcomeTie      Outcome = "TIE"
)

// Winner returns the winning side. ok is false for ties and open rounds.
func (o Outcome) Winner() (side Side, ok bool) {
	switch o {
	case OutcomeLongWon:
		return SideLong, true
	case OutcomeShortWon:
		return SideShort, true
	}
	return "", false
}

// TiePolicy decides what happens to the combined pool when a round closes flat.
type TiePolicy string

const (
	// TieForfeit routes the whole combined pool to the jackpot and platform accumulators.
	TieForfeit TiePolicy = "FORFEIT"
	// TieRefund takes no cut; every bet may reclaim its principal once.
	TieRefund TiePolicy = "REFUND"
)

func (p TiePolicy) Valid() bool { return p == TieForfeit || p == TieRefund }

// ClaimState is a one-shot claim marker. CLAIMED is terminal.
type ClaimState string

const (
	Unclaimed ClaimState = "UNCLAIMED"
	Claimed   ClaimState = "CLAIMED"
)

// Claim moves the state to CLAIMED. It reports false when the claim was already made.
func (c *ClaimState) Claim() bool {
	if *c == Claimed {
		return false
	}
	*c = Claimed
	return true
}

func (c ClaimState) IsClaimed() bool { return c == Claimed }

// ── Configuration ────────────────────────────────────

type Allocation struct {
	WinnersShare   uint16 `json:"winners_share"`
	AffiliateShare uint16 `json:"affiliate_share"`
	JackpotShare   uint16 `json:"jackpot_share"`
	PlatformShare  uint16 `json:"platform_share"`
}

// Sum is computed in a wide integer so out-of-range shares cannot wrap to 10000.
func (a Allocation) Sum() uint32 {
	return uint32(a.WinnersShare) + uint32(a.AffiliateShare) + uint32(a.JackpotShare) + uint32(a.PlatformShare)
}

type JackpotAllocation struct {
	Streak5  uint16 `json:"streak_5"`
	Streak6  uint16 `json:"streak_6"`
	Streak7  uint16 `json:"streak_7"`
	Streak8  uint16 `json:"streak_8"`
	Streak9  uint16 `json:"streak_9"`
	Streak10 uint16 `json:"streak_10"`
}

// Tiers returns the streak shares ordered from the 5-streak to the 10-streak tier.
func (j JackpotAllocation) Tiers() [6]uint16 {
	return [6]uint16{j.Streak5, j.Streak6, j.Streak7, j.Streak8, j.Streak9, j.Streak10}
}

// ShareFor returns the bonus share for a streak length, or 0 outside 5..10.
func (j JackpotAllocation) ShareFor(streak uint64) uint16 {
	if streak < 5 || streak > 10 {
		return 0
	}
	return j.Tiers()[streak-5]
}

// PlatformConfig is the process-wide singleton holding configuration and global accumulators.
type PlatformConfig struct {
	Initialized             bool              `json:"initialized"`
	Owner                   common.Address    `json:"owner"`
	Stablecoin              common.Address    `json:"stablecoin"`
	RoundDuration           uint64            `json:"round_duration"`
	Allocation              Allocation        `json:"allocation"`
	JackpotAllocation       JackpotAllocation `json:"jackpot_allocation"`
	MinBetAmount            uint64            `json:"min_bet_amount"`
	PriceSource             string            `json:"price_source"`
	StalenessThreshold      uint64            `json:"staleness_threshold"`
	TiePolicy               TiePolicy         `json:"tie_policy"`
	RoundCounter            uint64            `json:"round_counter"`
	JackpotPoolAmount       uint64            `json:"jackpot_pool_amount"`
	AccumulatedPlatformFees uint64            `json:"accumulated_platform_fees"`
	Version                 uint64            `json:"version"`
}

// CurrentRound is the index of the round open for bets.
func (c PlatformConfig) CurrentRound() uint64 { return c.RoundCounter + 1 }

// InitParams are the values supplied when the platform is created.
type InitParams struct {
	Stablecoin         common.Address    `json:"stablecoin"`
	RoundDuration      uint64            `json:"round_duration"`
	Allocation         Allocation        `json:"allocation"`
	JackpotAllocation  JackpotAllocation `json:"jackpot_allocation"`
	MinBetAmount       uint64            `json:"min_bet_amount"`
	PriceSource        string            `json:"price_source"`
	StalenessThreshold uint64            `json:"staleness_threshold"`
	TiePolicy          TiePolicy         `json:"tie_policy"`
}

// ── Domain Objects ───────────────────────────────────

type SettledFlags struct {
	FeesCollected   bool `json:"fees_collected"`
	JackpotCredited bool `json:"jackpot_credited"`
}

type Round struct {
	Index                       uint64 `json:"index"`
	StartTime                   uint64 `json:"start_time"`
	EndTime                     uint64 `json:"end_time"`
	StartingPrice               uint64 `json:"starting_price"`
	EndingPrice                 uint64 `json:"ending_price"`
	LongPositions               uint64 `json:"long_positions"`
	ShortPositions              uint64 `json:"short_positions"`
	TotalBetAmountLong          uint64 `json:"total_bet_amount_long"`
	TotalBetAmountShort         uint64 `json:"total_bet_amount_short"`
	AffiliatesForLongPositions  uint64 `json:"affiliates_for_long_positions"`
	AffiliatesForShortPositions uint64 `json:"affiliates_for_short_positions"`

	// Written once when the round closes.
	Outcome           Outcome      `json:"outcome"`
	Allocation        Allocation   `json:"allocation"`
	TiePolicy         TiePolicy    `json:"tie_policy,omitempty"`
	WinnersPool       uint64       `json:"winners_pool"`
	AffiliatePool     uint64       `json:"affiliate_pool"`
	JackpotCut        uint64       `json:"jackpot_cut"`
	PlatformCut       uint64       `json:"platform_cut"`
	WinningAffiliates uint64       `json:"winning_affiliates"`
	Settled           SettledFlags `json:"settled"`
}

func (r Round) Started() bool { return r.StartingPrice != 0 }
func (r Round) Ended() bool   { return r.EndingPrice != 0 }

// Total returns the staked total for one side.
func (r Round) Total(s Side) uint64 {
	if s == SideLong {
		return r.TotalBetAmountLong
	}
	return r.TotalBetAmountShort
}

// Affiliates returns the affiliate-linked bet count for one side.
func (r Round) Affiliates(s Side) uint64 {
	if s == SideLong {
		return r.AffiliatesForLongPositions
	}
	return r.AffiliatesForShortPositions
}

type Bet struct {
	User           common.Address `json:"user"`
	Round          uint64         `json:"round"`
	Amount         uint64         `json:"amount"`
	Side           Side           `json:"side"`
	Affiliate      common.Address `json:"affiliate"`
	UserClaim      ClaimState     `json:"user_claim"`
	AffiliateClaim ClaimState     `json:"affiliate_claim"`
	PlacedAt       uint64         `json:"placed_at"`
}

func (b Bet) HasAffiliate() bool { return b.Affiliate != (common.Address{}) }

type UserInfo struct {
	Address      common.Address `json:"address"`
	Balance      uint64         `json:"balance"`
	Affiliate    common.Address `json:"affiliate"`
	TimesWon     uint64         `json:"times_won"`
	LastWonRound uint64         `json:"last_won_round"`
}

func (u UserInfo) HasAffiliate() bool { return u.Affiliate != (common.Address{}) }

// ── Collaborator records ─────────────────────────────

type TransferReason string

const (
	TransferDeposit     TransferReason = "DEPOSIT"
	TransferWithdraw    TransferReason = "WITHDRAW"
	TransferPlatformFee TransferReason = "PLATFORM_FEE"
)

// Transfer is a token movement the custody collaborator must execute.
type Transfer struct {
	ID        string         `json:"id"`
	Token     common.Address `json:"token"`
	From      common.Address `json:"from"`
	To        common.Address `json:"to"`
	Amount    uint64         `json:"amount"`
	Reason    TransferReason `json:"reason"`
	CreatedAt time.Time      `json:"created_at"`
}

// VaultAddress stands in for the platform custody account in transfer records.
var VaultAddress = common.HexToAddress("0x000000000000000000000000000000000000dEaD")

type EventLog struct {
	ID        string    `json:"id"`
	Round     *uint64   `json:"round,omitempty"`
	Type      string    `json:"type"`
	Payload   any       `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// ── Record keys ──────────────────────────────────────

type RecordKind string

const (
	KindPlatformConfig RecordKind = "platform_config"
	KindRound          RecordKind = "round"
	KindUser           RecordKind = "user"
	KindUserBet        RecordKind = "user_bet"
)

// Key derives the storage key of a record from its kind, owning identity and round index.
// Parts that do not apply to a kind are ignored.
func Key(kind RecordKind, owner common.Address, round uint64) string {
	switch kind {
	case KindPlatformConfig:
		return string(kind)
	case KindRound:
		return fmt.Sprintf("%s:%d", kind, round)
	case KindUser:
		return fmt.Sprintf("%s:%s", kind, owner.Hex())
	default:
		return fmt.Sprintf("%s:%s:%d", kind, owner.Hex(), round)
	}
}

func RoundKey(index uint64) string                { return Key(KindRound, common.Address{}, index) }
func UserKey(addr common.Address) string          { return Key(KindUser, addr, 0) }
func BetKey(addr common.Address, r uint64) string { return Key(KindUserBet, addr, r) }
