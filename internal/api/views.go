package api

import (
	"errors"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"wager-rounds/internal/model"
	"wager-rounds/internal/settlement"
)

// Amounts cross the API as decimal strings of base units so clients never lose precision.

var (
	errBadAmount = errors.New("amount must be a non-negative integer string of base units")
	maxAmount    = decimal.NewFromBigInt(new(big.Int).SetUint64(^uint64(0)), 0)
)

func parseAmount(raw string) (uint64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || !d.IsInteger() || d.IsNegative() || d.GreaterThan(maxAmount) {
		return 0, errBadAmount
	}
	return d.BigInt().Uint64(), nil
}

func fmtAmount(v uint64) string { return strconv.FormatUint(v, 10) }

type configView struct {
	Owner                   string                  `json:"owner"`
	Stablecoin              string                  `json:"stablecoin"`
	RoundDuration           uint64                  `json:"round_duration"`
	Allocation              model.Allocation        `json:"allocation"`
	JackpotAllocation       model.JackpotAllocation `json:"jackpot_allocation"`
	MinBetAmount            string                  `json:"min_bet_amount"`
	PriceSource             string                  `json:"price_source"`
	StalenessThreshold      uint64                  `json:"staleness_threshold"`
	TiePolicy               model.TiePolicy         `json:"tie_policy"`
	CurrentRound            uint64                  `json:"current_round"`
	JackpotPoolAmount       string                  `json:"jackpot_pool_amount"`
	AccumulatedPlatformFees string                  `json:"accumulated_platform_fees"`
	Version                 uint64                  `json:"version"`
}

func toConfigView(c model.PlatformConfig) configView {
	return configView{
		Owner:                   c.Owner.Hex(),
		Stablecoin:              c.Stablecoin.Hex(),
		RoundDuration:           c.RoundDuration,
		Allocation:              c.Allocation,
		JackpotAllocation:       c.JackpotAllocation,
		MinBetAmount:            fmtAmount(c.MinBetAmount),
		PriceSource:             c.PriceSource,
		StalenessThreshold:      c.StalenessThreshold,
		TiePolicy:               c.TiePolicy,
		CurrentRound:            c.CurrentRound(),
		JackpotPoolAmount:       fmtAmount(c.JackpotPoolAmount),
		AccumulatedPlatformFees: fmtAmount(c.AccumulatedPlatformFees),
		Version:                 c.Version,
	}
}

type roundView struct {
	Index                       uint64          `json:"index"`
	Started                     bool            `json:"started"`
	Ended                       bool            `json:"ended"`
	StartTime                   uint64          `json:"start_time"`
	EndTime                     uint64          `json:"end_time"`
	StartingPrice               string          `json:"starting_price"`
	EndingPrice                 string          `json:"ending_price"`
	LongPositions               uint64          `json:"long_positions"`
	ShortPositions              uint64          `json:"short_positions"`
	TotalBetAmountLong          string          `json:"total_bet_amount_long"`
	TotalBetAmountShort         string          `json:"total_bet_amount_short"`
	AffiliatesForLongPositions  uint64          `json:"affiliates_for_long_positions"`
	AffiliatesForShortPositions uint64          `json:"affiliates_for_short_positions"`
	Outcome                     model.Outcome   `json:"outcome,omitempty"`
	TiePolicy                   model.TiePolicy `json:"tie_policy,omitempty"`
	WinnersPool                 string          `json:"winners_pool"`
	AffiliatePool               string          `json:"affiliate_pool"`
	JackpotCut                  string          `json:"jackpot_cut"`
	PlatformCut                 string          `json:"platform_cut"`
	WinningAffiliates           uint64          `json:"winning_affiliates"`
}

func toRoundView(r model.Round) roundView {
	return roundView{
		Index:                       r.Index,
		Started:                     r.Started(),
		Ended:                       r.Ended(),
		StartTime:                   r.StartTime,
		EndTime:                     r.EndTime,
		StartingPrice:               fmtAmount(r.StartingPrice),
		EndingPrice:                 fmtAmount(r.EndingPrice),
		LongPositions:               r.LongPositions,
		ShortPositions:              r.ShortPositions,
		TotalBetAmountLong:          fmtAmount(r.TotalBetAmountLong),
		TotalBetAmountShort:         fmtAmount(r.TotalBetAmountShort),
		AffiliatesForLongPositions:  r.AffiliatesForLongPositions,
		AffiliatesForShortPositions: r.AffiliatesForShortPositions,
		Outcome:                     r.Outcome,
		TiePolicy:                   r.TiePolicy,
		WinnersPool:                 fmtAmount(r.WinnersPool),
		AffiliatePool:               fmtAmount(r.AffiliatePool),
		JackpotCut:                  fmtAmount(r.JackpotCut),
		PlatformCut:                 fmtAmount(r.PlatformCut),
		WinningAffiliates:           r.WinningAffiliates,
	}
}

type betView struct {
	User           string           `json:"user"`
	Round          uint64           `json:"round"`
	Amount         string           `json:"amount"`
	Side           model.Side       `json:"side"`
	Affiliate      string           `json:"affiliate,omitempty"`
	UserClaim      model.ClaimState `json:"user_claim"`
	AffiliateClaim model.ClaimState `json:"affiliate_claim"`
	PlacedAt       uint64           `json:"placed_at"`
}

func toBetView(b model.Bet) betView {
	v := betView{
		User:           b.User.Hex(),
		Round:          b.Round,
		Amount:         fmtAmount(b.Amount),
		Side:           b.Side,
		UserClaim:      b.UserClaim,
		AffiliateClaim: b.AffiliateClaim,
		PlacedAt:       b.PlacedAt,
	}
	if b.HasAffiliate() {
		v.Affiliate = b.Affiliate.Hex()
	}
	return v
}

func toBetViews(bets []model.Bet) []betView {
	out := make([]betView, len(bets))
	for i, b := range bets {
		out[i] = toBetView(b)
	}
	return out
}

type userView struct {
	Address      string `json:"address"`
	Balance      string `json:"balance"`
	Affiliate    string `json:"affiliate,omitempty"`
	TimesWon     uint64 `json:"times_won"`
	LastWonRound uint64 `json:"last_won_round"`
}

func toUserView(u model.UserInfo) userView {
	v := userView{
		Address:      u.Address.Hex(),
		Balance:      fmtAmount(u.Balance),
		TimesWon:     u.TimesWon,
		LastWonRound: u.LastWonRound,
	}
	if u.HasAffiliate() {
		v.Affiliate = u.Affiliate.Hex()
	}
	return v
}

type payoutView struct {
	Principal    string `json:"principal"`
	Winnings     string `json:"winnings"`
	JackpotBonus string `json:"jackpot_bonus"`
	Total        string `json:"total"`
	Streak       uint64 `json:"streak"`
}

func toPayoutView(p settlement.Payout) payoutView {
	return payoutView{
		Principal:    fmtAmount(p.Principal),
		Winnings:     fmtAmount(p.Winnings),
		JackpotBonus: fmtAmount(p.JackpotBonus),
		Total:        fmtAmount(p.Total),
		Streak:       p.Streak,
	}
}

type transferView struct {
	ID        string               `json:"id"`
	Token     string               `json:"token"`
	From      string               `json:"from"`
	To        string               `json:"to"`
	Amount    string               `json:"amount"`
	Reason    model.TransferReason `json:"reason"`
	CreatedAt time.Time            `json:"created_at"`
}

func toTransferView(t model.Transfer) transferView {
	return transferView{
		ID:        t.ID,
		Token:     t.Token.Hex(),
		From:      t.From.Hex(),
		To:        t.To.Hex(),
		Amount:    fmtAmount(t.Amount),
		Reason:    t.Reason,
		CreatedAt: t.CreatedAt,
	}
}

func toTransferViews(ts []model.Transfer) []transferView {
	out := make([]transferView, len(ts))
	for i, t := range ts {
		out[i] = toTransferView(t)
	}
	return out
}
