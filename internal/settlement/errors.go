package settlement

import "errors"

// Kind classifies settlement failures so callers can map them to responses without string matching.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvariant
	KindPrecondition
	KindIneligible
	KindZeroAmount
	KindOverflow
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindInvariant:
		return "invariant_violation"
	case KindPrecondition:
		return "precondition_failure"
	case KindIneligible:
		return "ineligible_claim"
	case KindZeroAmount:
		return "zero_amount"
	case KindOverflow:
		return "arithmetic_overflow"
	case KindUnauthorized:
		return "unauthorized"
	}
	return "unknown"
}

type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func newErr(k Kind, msg string) *Error { return &Error{Kind: k, Msg: msg} }

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

var (
	ErrInvalidAllocation        = newErr(KindInvariant, "invalid allocation: shares must add up to 10000 bps")
	ErrInvalidJackpotAllocation = newErr(KindInvariant, "invalid jackpot allocation: tiers must be <= 10000 bps and strictly increasing")
	ErrDurationZero             = newErr(KindInvariant, "round duration cannot be 0")
	ErrMinBetZero               = newErr(KindInvariant, "minimum bet amount cannot be 0")
	ErrPriceSourceEmpty         = newErr(KindInvariant, "price source cannot be empty")
	ErrStablecoinZero           = newErr(KindInvariant, "stablecoin cannot be the zero address")
	ErrOwnerZero                = newErr(KindInvariant, "owner cannot be the zero address")
	ErrInvalidTiePolicy         = newErr(KindInvariant, "tie policy must be FORFEIT or REFUND")

	ErrAlreadyInitialized  = newErr(KindPrecondition, "platform already initialized")
	ErrNotInitialized      = newErr(KindPrecondition, "platform not initialized")
	ErrRoundAlreadyStarted = newErr(KindPrecondition, "round already started")
	ErrRoundNotStarted     = newErr(KindPrecondition, "round not started")
	ErrRoundAlreadyEnded   = newErr(KindPrecondition, "round already ended")
	ErrRoundNotEnded       = newErr(KindPrecondition, "round has not ended yet")
	ErrRoundNotEligible    = newErr(KindPrecondition, "round duration has not elapsed")
	ErrPriceZero           = newErr(KindPrecondition, "price cannot be 0")
	ErrBetBelowMinimum     = newErr(KindPrecondition, "bet amount below minimum")
	ErrBetAlreadyPlaced    = newErr(KindPrecondition, "bet already placed for this round")
	ErrInvalidSide         = newErr(KindPrecondition, "side must be LONG or SHORT")
	ErrAlreadyClaimed      = newErr(KindPrecondition, "already claimed winnings")
	ErrInsufficientBalance = newErr(KindPrecondition, "insufficient balance")
	ErrDivisionByZero      = newErr(KindPrecondition, "division by zero")
	ErrNotCurrentRound     = newErr(KindPrecondition, "round is not the current round")
	ErrRefundNotAvailable  = newErr(KindPrecondition, "round does not allow refunds")

	ErrIneligibleForClaim = newErr(KindIneligible, "ineligible for claim")
	ErrTieRound           = newErr(KindIneligible, "round ended in a tie")
	ErrNotBetAffiliate    = newErr(KindIneligible, "caller is not the affiliate of this bet")
	ErrInvalidAffiliate   = newErr(KindIneligible, "invalid affiliate address")
	ErrSelfReferral       = newErr(KindIneligible, "user cannot be their own affiliate")

	ErrDepositAmountZero  = newErr(KindZeroAmount, "deposit amount cannot be 0")
	ErrWithdrawAmountZero = newErr(KindZeroAmount, "withdraw amount cannot be 0")
	ErrBetAmountZero      = newErr(KindZeroAmount, "bet amount cannot be 0")
	ErrClaimAmountZero    = newErr(KindZeroAmount, "claim amount cannot be 0")
	ErrPlatformFeeZero    = newErr(KindZeroAmount, "platform fee amount to collect is 0")

	ErrOverflow  = newErr(KindOverflow, "arithmetic overflow")
	ErrUnderflow = newErr(KindOverflow, "arithmetic underflow")

	ErrNotOwner         = newErr(KindUnauthorized, "caller is not the platform owner")
	ErrInvalidSignature = newErr(KindUnauthorized, "signature does not match the signer")
)
