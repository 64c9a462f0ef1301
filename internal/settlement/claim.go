package settlement

import (
	"github.com/ethereum/go-ethereum/common"

	"wager-rounds/internal/model"
)

// Payout breaks down what a winning claim credited to the user's balance.
type Payout struct {
	Principal    uint64 `json:"principal"`
	Winnings     uint64 `json:"winnings"`
	JackpotBonus uint64 `json:"jackpot_bonus"`
	Total        uint64 `json:"total"`
	Streak       uint64 `json:"streak"`
}

// WinningsFor returns the bet's share of the round's winners' pool.
func WinningsFor(r model.Round, bet model.Bet) (uint64, error) {
	winningTotal := r.Total(bet.Side)
	if winningTotal == 0 {
		return 0, ErrDivisionByZero
	}
	return MulDivDown(bet.Amount, r.WinnersPool, winningTotal)
}

// advanceStreak records a win in round and returns the bonus owed from the jackpot.
// A streak that reaches 10 starts over, paid or not.
func advanceStreak(cfg model.PlatformConfig, user model.UserInfo, round uint64) (model.UserInfo, uint64, error) {
	streak := user.TimesWon + 1
	if round != user.LastWonRound+1 {
		streak = 1
	}

	var bonus uint64
	if share := cfg.JackpotAllocation.ShareFor(streak); share > 0 && cfg.JackpotPoolAmount > 0 {
		var err error
		if bonus, err = ShareOf(cfg.JackpotPoolAmount, share); err != nil {
			return user, 0, err
		}
	}
	if streak >= 10 {
		streak = 0
	}
	user.TimesWon = streak
	user.LastWonRound = round
	return user, bonus, nil
}

// ClaimUserWinnings pays a winning bet its principal, its share of the winners' pool and any
// streak bonus. The returned config has the bonus debited from the jackpot.
func ClaimUserWinnings(cfg model.PlatformConfig, user model.UserInfo, r model.Round, bet model.Bet) (model.PlatformConfig, model.UserInfo, model.Bet, Payout, error) {
	var p Payout
	if !r.Ended() {
		return cfg, user, bet, p, ErrRoundNotEnded
	}
	if bet.UserClaim.IsClaimed() {
		return cfg, user, bet, p, ErrAlreadyClaimed
	}
	winner, ok := r.Outcome.Winner()
	if !ok {
		return cfg, user, bet, p, ErrTieRound
	}
	if bet.Side != winner || bet.User != user.Address {
		return cfg, user, bet, p, ErrIneligibleForClaim
	}

	base, err := WinningsFor(r, bet)
	if err != nil {
		return cfg, user, bet, p, err
	}
	// A non-empty pool that rounds to nothing for this stake.
	if base == 0 && r.WinnersPool > 0 {
		return cfg, user, bet, p, ErrClaimAmountZero
	}

	nextUser, bonus, err := advanceStreak(cfg, user, r.Index)
	if err != nil {
		return cfg, user, bet, p, err
	}
	jackpot, err := CheckedSub(cfg.JackpotPoolAmount, bonus)
	if err != nil {
		return cfg, user, bet, p, err
	}

	total, err := CheckedAdd(bet.Amount, base)
	if err != nil {
		return cfg, user, bet, p, err
	}
	if total, err = CheckedAdd(total, bonus); err != nil {
		return cfg, user, bet, p, err
	}
	if nextUser.Balance, err = CheckedAdd(nextUser.Balance, total); err != nil {
		return cfg, user, bet, p, err
	}

	bet.UserClaim.Claim()
	cfg.JackpotPoolAmount = jackpot
	p = Payout{
		Principal:    bet.Amount,
		Winnings:     base,
		JackpotBonus: bonus,
		Total:        total,
		Streak:       nextUser.TimesWon,
	}
	return cfg, nextUser, bet, p, nil
}

// AffiliateAmount is the equal split of the affiliate pool among winning affiliate-linked bets.
func AffiliateAmount(r model.Round) (uint64, error) {
	if r.AffiliatePool == 0 {
		return 0, ErrClaimAmountZero
	}
	if r.WinningAffiliates == 0 {
		return 0, ErrDivisionByZero
	}
	return r.AffiliatePool / r.WinningAffiliates, nil
}

// ClaimAffiliateWinnings credits the bet's affiliate with one share of the affiliate pool.
// affiliate is the affiliate's account, created empty by the caller when absent.
func ClaimAffiliateWinnings(r model.Round, bet model.Bet, caller common.Address, affiliate model.UserInfo) (model.UserInfo, model.Bet, uint64, error) {
	if !r.Ended() {
		return affiliate, bet, 0, ErrRoundNotEnded
	}
	if !bet.HasAffiliate() || caller != bet.Affiliate || affiliate.Address != bet.Affiliate {
		return affiliate, bet, 0, ErrNotBetAffiliate
	}
	if bet.AffiliateClaim.IsClaimed() {
		return affiliate, bet, 0, ErrAlreadyClaimed
	}
	winner, ok := r.Outcome.Winner()
	if !ok {
		return affiliate, bet, 0, ErrTieRound
	}
	if bet.Side != winner {
		return affiliate, bet, 0, ErrIneligibleForClaim
	}
	amount, err := AffiliateAmount(r)
	if err != nil {
		return affiliate, bet, 0, err
	}
	if amount == 0 {
		return affiliate, bet, 0, ErrClaimAmountZero
	}
	balance, err := CheckedAdd(affiliate.Balance, amount)
	if err != nil {
		return affiliate, bet, 0, err
	}
	affiliate.Balance = balance
	bet.AffiliateClaim.Claim()
	return affiliate, bet, amount, nil
}

// ClaimRefund returns the principal of a bet placed in a tied round closed under the refund policy.
func ClaimRefund(user model.UserInfo, r model.Round, bet model.Bet) (model.UserInfo, model.Bet, error) {
	if !r.Ended() {
		return user, bet, ErrRoundNotEnded
	}
	if r.Outcome != model.OutcomeTie || r.TiePolicy != model.TieRefund {
		return user, bet, ErrRefundNotAvailable
	}
	if bet.User != user.Address {
		return user, bet, ErrIneligibleForClaim
	}
	if bet.UserClaim.IsClaimed() {
		return user, bet, ErrAlreadyClaimed
	}
	if bet.Amount == 0 {
		return user, bet, ErrClaimAmountZero
	}
	balance, err := CheckedAdd(user.Balance, bet.Amount)
	if err != nil {
		return user, bet, err
	}
	user.Balance = balance
	bet.UserClaim.Claim()
	return user, bet, nil
}
