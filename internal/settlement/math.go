package settlement

import (
	"github.com/holiman/uint256"

	"wager-rounds/internal/model"
)

// MulDivDown returns floor(x*y/d). The product is formed in 256 bits, so only a
// quotient that does not fit back into 64 bits overflows.
func MulDivDown(x, y, d uint64) (uint64, error) {
	if d == 0 {
		return 0, ErrDivisionByZero
	}
	p := new(uint256.Int).Mul(uint256.NewInt(x), uint256.NewInt(y))
	q := p.Div(p, uint256.NewInt(d))
	if !q.IsUint64() {
		return 0, ErrOverflow
	}
	return q.Uint64(), nil
}

// ShareOf applies a basis-point share to amount, rounding down.
func ShareOf(amount uint64, bps uint16) (uint64, error) {
	return MulDivDown(amount, uint64(bps), model.BPS)
}

func CheckedAdd(a, b uint64) (uint64, error) {
	s, overflow := new(uint256.Int).AddOverflow(uint256.NewInt(a), uint256.NewInt(b))
	if overflow || !s.IsUint64() {
		return 0, ErrOverflow
	}
	return s.Uint64(), nil
}

func CheckedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrUnderflow
	}
	return a - b, nil
}
