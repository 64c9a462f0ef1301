package settlement

import (
	"github.com/ethereum/go-ethereum/common"

	"wager-rounds/internal/model"
)

func Deposit(user model.UserInfo, amount uint64) (model.UserInfo, error) {
	if amount == 0 {
		return user, ErrDepositAmountZero
	}
	balance, err := CheckedAdd(user.Balance, amount)
	if err != nil {
		return user, err
	}
	user.Balance = balance
	return user, nil
}

func Withdraw(user model.UserInfo, amount uint64) (model.UserInfo, error) {
	if amount == 0 {
		return user, ErrWithdrawAmountZero
	}
	balance, err := CheckedSub(user.Balance, amount)
	if err != nil {
		return user, ErrInsufficientBalance
	}
	user.Balance = balance
	return user, nil
}

// SetAffiliate links future bets of user to affiliate. The zero address unlinks.
func SetAffiliate(user model.UserInfo, affiliate common.Address) (model.UserInfo, error) {
	if affiliate == user.Address && affiliate != (common.Address{}) {
		return user, ErrSelfReferral
	}
	user.Affiliate = affiliate
	return user, nil
}
