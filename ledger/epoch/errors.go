package epoch

import "github.com/cockroachdb/errors"

var (
	// ErrNilTransaction is returned for nil candidates.
	ErrNilTransaction = errors.New("nil transaction")
	// ErrInputNotFound is returned if a claimed output is not in the pool.
	ErrInputNotFound = errors.New("input not found in the pool")
	// ErrInvalidSignature is returned if an input is not authorized by the owner of the claimed output.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrDoubleSpend is returned if the transaction claims the same output more than once.
	ErrDoubleSpend = errors.New("output claimed more than once")
	// ErrNegativeOutput is returned if a declared output is negative.
	ErrNegativeOutput = errors.New("negative output")
	// ErrOverspend is returned if outputs exceed inputs.
	ErrOverspend = errors.New("sum of outputs exceeds sum of inputs")
	// ErrArithmeticOverflow is returned if a sum does not fit the amount type.
	ErrArithmeticOverflow = errors.New("amount arithmetic overflow")
)

// reasonLabel is used as metrics label and in logs
func reasonLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNilTransaction):
		return "nil"
	case errors.Is(err, ErrInputNotFound):
		return "input_not_found"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrDoubleSpend):
		return "double_spend"
	case errors.Is(err, ErrNegativeOutput):
		return "negative_output"
	case errors.Is(err, ErrOverspend):
		return "overspend"
	case errors.Is(err, ErrArithmeticOverflow):
		return "overflow"
	default:
		return "other"
	}
}
