package settlement

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"wager-rounds/internal/model"
)

func ValidateAllocation(a model.Allocation) error {
	if a.Sum() != model.BPS {
		return ErrInvalidAllocation
	}
	return nil
}

func ValidateJackpotAllocation(j model.JackpotAllocation) error {
	tiers := j.Tiers()
	for i, share := range tiers {
		if share > model.BPS {
			return ErrInvalidJackpotAllocation
		}
		if i > 0 && share <= tiers[i-1] {
			return ErrInvalidJackpotAllocation
		}
	}
	return nil
}

// ValidateConfig checks every configuration invariant. It runs after each mutation.
func ValidateConfig(c *model.PlatformConfig) error {
	if c.Owner == (common.Address{}) {
		return ErrOwnerZero
	}
	if c.Stablecoin == (common.Address{}) {
		return ErrStablecoinZero
	}
	if c.RoundDuration == 0 {
		return ErrDurationZero
	}
	if c.MinBetAmount == 0 {
		return ErrMinBetZero
	}
	if strings.TrimSpace(c.PriceSource) == "" {
		return ErrPriceSourceEmpty
	}
	if !c.TiePolicy.Valid() {
		return ErrInvalidTiePolicy
	}
	if err := ValidateAllocation(c.Allocation); err != nil {
		return err
	}
	return ValidateJackpotAllocation(c.JackpotAllocation)
}

// Initialize builds the platform configuration. current must be the stored (possibly zero) config.
func Initialize(current *model.PlatformConfig, owner common.Address, p model.InitParams) (*model.PlatformConfig, error) {
	if current != nil && current.Initialized {
		return nil, ErrAlreadyInitialized
	}
	tie := p.TiePolicy
	if tie == "" {
		tie = model.TieForfeit
	}
	cfg := &model.PlatformConfig{
		Initialized:        true,
		Owner:              owner,
		Stablecoin:         p.Stablecoin,
		RoundDuration:      p.RoundDuration,
		Allocation:         p.Allocation,
		JackpotAllocation:  p.JackpotAllocation,
		MinBetAmount:       p.MinBetAmount,
		PriceSource:        strings.TrimSpace(p.PriceSource),
		StalenessThreshold: p.StalenessThreshold,
		TiePolicy:          tie,
		Version:            1,
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Mutate applies fn to a copy of cfg on behalf of caller and returns the copy only if
// every invariant still holds. cfg itself is never modified.
func Mutate(cfg *model.PlatformConfig, caller common.Address, fn func(next *model.PlatformConfig)) (*model.PlatformConfig, error) {
	if cfg == nil || !cfg.Initialized {
		return nil, ErrNotInitialized
	}
	if caller != cfg.Owner {
		return nil, ErrNotOwner
	}
	next := *cfg
	fn(&next)
	if err := ValidateConfig(&next); err != nil {
		return nil, err
	}
	next.Version++
	return &next, nil
}

func SetRoundDuration(cfg *model.PlatformConfig, caller common.Address, seconds uint64) (*model.PlatformConfig, error) {
	return Mutate(cfg, caller, func(n *model.PlatformConfig) { n.RoundDuration = seconds })
}

func SetAllocation(cfg *model.PlatformConfig, caller common.Address, a model.Allocation) (*model.PlatformConfig, error) {
	return Mutate(cfg, caller, func(n *model.PlatformConfig) { n.Allocation = a })
}

func SetJackpotAllocation(cfg *model.PlatformConfig, caller common.Address, j model.JackpotAllocation) (*model.PlatformConfig, error) {
	return Mutate(cfg, caller, func(n *model.PlatformConfig) { n.JackpotAllocation = j })
}

func SetMinBetAmount(cfg *model.PlatformConfig, caller common.Address, amount uint64) (*model.PlatformConfig, error) {
	return Mutate(cfg, caller, func(n *model.PlatformConfig) { n.MinBetAmount = amount })
}

func SetPriceSource(cfg *model.PlatformConfig, caller common.Address, source string) (*model.PlatformConfig, error) {
	return Mutate(cfg, caller, func(n *model.PlatformConfig) { n.PriceSource = strings.TrimSpace(source) })
}

func SetStalenessThreshold(cfg *model.PlatformConfig, caller common.Address, seconds uint64) (*model.PlatformConfig, error) {
	return Mutate(cfg, caller, func(n *model.PlatformConfig) { n.StalenessThreshold = seconds })
}

func SetTiePolicy(cfg *model.PlatformConfig, caller common.Address, p model.TiePolicy) (*model.PlatformConfig, error) {
	return Mutate(cfg, caller, func(n *model.PlatformConfig) { n.TiePolicy = p })
}

// TransferOwnership hands the platform to newOwner. The new owner's consent is verified by the caller.
func TransferOwnership(cfg *model.PlatformConfig, caller, newOwner common.Address) (*model.PlatformConfig, error) {
	return Mutate(cfg, caller, func(n *model.PlatformConfig) { n.Owner = newOwner })
}

// CollectPlatformFees zeroes the fee accumulator of a copy and returns the amount to transfer to the owner.
func CollectPlatformFees(cfg *model.PlatformConfig, caller common.Address) (*model.PlatformConfig, uint64, error) {
	if cfg == nil || !cfg.Initialized {
		return nil, 0, ErrNotInitialized
	}
	if caller != cfg.Owner {
		return nil, 0, ErrNotOwner
	}
	amount := cfg.AccumulatedPlatformFees
	if amount == 0 {
		return nil, 0, ErrPlatformFeeZero
	}
	next := *cfg
	next.AccumulatedPlatformFees = 0
	next.Version++
	return &next, amount, nil
}
