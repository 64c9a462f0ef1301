package settlement

import (
	"wager-rounds/internal/model"
)

// DetermineOutcome compares the closing price against the opening price.
func DetermineOutcome(starting, ending uint64) model.Outcome {
	switch {
	case ending > starting:
		return model.OutcomeLongWon
	case ending < starting:
		return model.OutcomeShortWon
	}
	return model.OutcomeTie
}

func opposite(s model.Side) model.Side {
	if s == model.SideLong {
		return model.SideShort
	}
	return model.SideLong
}

// CanStart checks everything StartRound needs except the price.
func CanStart(cfg model.PlatformConfig, r model.Round) error {
	if !cfg.Initialized {
		return ErrNotInitialized
	}
	if r.Index != cfg.CurrentRound() {
		return ErrNotCurrentRound
	}
	if r.Ended() {
		return ErrRoundAlreadyEnded
	}
	if r.StartTime != 0 || r.Started() {
		return ErrRoundAlreadyStarted
	}
	return nil
}

// StartRound snapshots the opening price of the current round.
func StartRound(cfg model.PlatformConfig, r model.Round, price, now uint64) (model.Round, error) {
	if err := CanStart(cfg, r); err != nil {
		return r, err
	}
	if price == 0 {
		return r, ErrPriceZero
	}
	r.StartTime = now
	r.StartingPrice = price
	return r, nil
}

// Eligible reports whether the round has run for at least the configured duration.
func Eligible(cfg model.PlatformConfig, r model.Round, now uint64) bool {
	return r.Started() && now >= r.StartTime && now-r.StartTime >= cfg.RoundDuration
}

// Buckets is the partition of a closed round's pool.
type Buckets struct {
	Winners   uint64 `json:"winners"`
	Affiliate uint64 `json:"affiliate"`
	Jackpot   uint64 `json:"jackpot"`
	Platform  uint64 `json:"platform"`
}

// Partition splits the pool a round closes with. For a decided round the pool is the
// losing side's stake; for a forfeited tie it is the combined stake and everything but the
// platform share goes to the jackpot.
func Partition(a model.Allocation, tie model.TiePolicy, r model.Round, outcome model.Outcome) (Buckets, error) {
	var b Buckets
	var err error

	winner, decided := outcome.Winner()
	if !decided {
		if tie == model.TieRefund {
			return b, nil
		}
		combined, err := CheckedAdd(r.TotalBetAmountLong, r.TotalBetAmountShort)
		if err != nil {
			return b, err
		}
		if b.Platform, err = ShareOf(combined, a.PlatformShare); err != nil {
			return b, err
		}
		rest := uint64(a.WinnersShare) + uint64(a.AffiliateShare) + uint64(a.JackpotShare)
		if b.Jackpot, err = MulDivDown(combined, rest, model.BPS); err != nil {
			return b, err
		}
		return b, nil
	}

	losing := r.Total(opposite(winner))
	if b.Platform, err = ShareOf(losing, a.PlatformShare); err != nil {
		return b, err
	}
	if b.Jackpot, err = ShareOf(losing, a.JackpotShare); err != nil {
		return b, err
	}

	// Nobody on the winning side: winners' and affiliate shares have no one to go to.
	if r.Total(winner) == 0 {
		fold, err := MulDivDown(losing, uint64(a.WinnersShare)+uint64(a.AffiliateShare), model.BPS)
		if err != nil {
			return b, err
		}
		b.Jackpot, err = CheckedAdd(b.Jackpot, fold)
		return b, err
	}

	if b.Winners, err = ShareOf(losing, a.WinnersShare); err != nil {
		return b, err
	}
	if b.Affiliate, err = ShareOf(losing, a.AffiliateShare); err != nil {
		return b, err
	}
	if r.Affiliates(winner) == 0 && b.Affiliate > 0 {
		if b.Jackpot, err = CheckedAdd(b.Jackpot, b.Affiliate); err != nil {
			return b, err
		}
		b.Affiliate = 0
	}
	return b, nil
}

// CanClose checks everything CloseRound needs except the price.
func CanClose(cfg model.PlatformConfig, r model.Round, now uint64) error {
	if !cfg.Initialized {
		return ErrNotInitialized
	}
	if r.Index != cfg.CurrentRound() {
		return ErrNotCurrentRound
	}
	if !r.Started() {
		return ErrRoundNotStarted
	}
	if r.Ended() {
		return ErrRoundAlreadyEnded
	}
	if !Eligible(cfg, r, now) {
		return ErrRoundNotEligible
	}
	return nil
}

// CloseRound records the ending price, advances the round counter and credits the jackpot
// and platform accumulators. Winners' and affiliate buckets stay in the round for claims.
func CloseRound(cfg model.PlatformConfig, r model.Round, price, now uint64) (model.PlatformConfig, model.Round, error) {
	if err := CanClose(cfg, r, now); err != nil {
		return cfg, r, err
	}
	if price == 0 {
		return cfg, r, ErrPriceZero
	}

	outcome := DetermineOutcome(r.StartingPrice, price)
	b, err := Partition(cfg.Allocation, cfg.TiePolicy, r, outcome)
	if err != nil {
		return cfg, r, err
	}
	jackpot, err := CheckedAdd(cfg.JackpotPoolAmount, b.Jackpot)
	if err != nil {
		return cfg, r, err
	}
	fees, err := CheckedAdd(cfg.AccumulatedPlatformFees, b.Platform)
	if err != nil {
		return cfg, r, err
	}

	r.EndingPrice = price
	r.EndTime = now
	r.Outcome = outcome
	r.Allocation = cfg.Allocation
	r.TiePolicy = cfg.TiePolicy
	r.WinnersPool = b.Winners
	r.AffiliatePool = b.Affiliate
	r.JackpotCut = b.Jackpot
	r.PlatformCut = b.Platform
	if winner, ok := outcome.Winner(); ok {
		r.WinningAffiliates = r.Affiliates(winner)
	}
	r.Settled = model.SettledFlags{FeesCollected: true, JackpotCredited: true}

	cfg.RoundCounter++
	cfg.JackpotPoolAmount = jackpot
	cfg.AccumulatedPlatformFees = fees
	return cfg, r, nil
}

// PlaceBet debits the user's balance and adds the stake to the current round.
// existing is the user's bet in this round, if any.
func PlaceBet(cfg model.PlatformConfig, user model.UserInfo, r model.Round, existing *model.Bet, amount uint64, side model.Side, now uint64) (model.UserInfo, model.Round, model.Bet, error) {
	var bet model.Bet
	if !cfg.Initialized {
		return user, r, bet, ErrNotInitialized
	}
	if !side.Valid() {
		return user, r, bet, ErrInvalidSide
	}
	if amount == 0 {
		return user, r, bet, ErrBetAmountZero
	}
	if amount < cfg.MinBetAmount {
		return user, r, bet, ErrBetBelowMinimum
	}
	if existing != nil {
		return user, r, bet, ErrBetAlreadyPlaced
	}
	if r.Index != cfg.CurrentRound() {
		return user, r, bet, ErrNotCurrentRound
	}
	if r.Ended() {
		return user, r, bet, ErrRoundAlreadyEnded
	}

	balance, err := CheckedSub(user.Balance, amount)
	if err != nil {
		return user, r, bet, ErrInsufficientBalance
	}

	next := r
	if side == model.SideLong {
		if next.TotalBetAmountLong, err = CheckedAdd(next.TotalBetAmountLong, amount); err != nil {
			return user, r, bet, err
		}
		next.LongPositions++
		if user.HasAffiliate() {
			next.AffiliatesForLongPositions++
		}
	} else {
		if next.TotalBetAmountShort, err = CheckedAdd(next.TotalBetAmountShort, amount); err != nil {
			return user, r, bet, err
		}
		next.ShortPositions++
		if user.HasAffiliate() {
			next.AffiliatesForShortPositions++
		}
	}

	bet = model.Bet{
		User:           user.Address,
		Round:          r.Index,
		Amount:         amount,
		Side:           side,
		Affiliate:      user.Affiliate,
		UserClaim:      model.Unclaimed,
		AffiliateClaim: model.Unclaimed,
		PlacedAt:       now,
	}
	user.Balance = balance
	return user, next, bet, nil
}
