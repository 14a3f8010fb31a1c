package synth

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"synthvault/crypto"
)

var (
	ErrNilState               = errors.New("synth engine: state not configured")
	ErrTokensNotConfigured    = errors.New("synth engine: tokens not configured")
	ErrInvalidAmount          = errors.New("synth engine: amount must be positive")
	ErrInvalidAccount         = errors.New("synth engine: account must be non-zero")
	ErrSelfLiquidation        = errors.New("synth engine: liquidator cannot be the borrower")
	ErrNoDebt                 = errors.New("synth engine: borrower has no debt")
	ErrNotUndercollateralized = errors.New("synth engine: borrower not below minimum ratio")
	ErrRepayTooLarge          = errors.New("synth engine: repay exceeds outstanding debt")
	ErrInsufficientCollateral = errors.New("synth engine: insufficient collateral")
	ErrCalculation            = errors.New("synth engine: computed amount rounds to zero")
	ErrOracleUnset            = errors.New("synth engine: price feed not configured")
	ErrOracleInvalid          = errors.New("synth engine: invalid price reading")
	ErrOracleStale            = errors.New("synth engine: stale price reading")
	ErrTransferFailed         = errors.New("synth engine: token transfer failed")
	ErrReentrant              = errors.New("synth engine: reentrant call")
	ErrUnauthorized           = errors.New("synth engine: caller not authorized")
	ErrInvalidBonus           = errors.New("synth engine: liquidation bonus must be positive")
	ErrUnknownFeed            = errors.New("synth engine: unknown price feed")

	ErrRatioTooLow          = errors.New("synth engine: collateral ratio too low")
	ErrInsufficientDebt     = errors.New("synth engine: insufficient debt")
	ErrInvalidRatioOrdering = errors.New("synth engine: min ratio must be positive and below target")
)

// RatioTooLowError reports the projected ratio and the threshold it failed.
type RatioTooLowError struct {
	Ratio     *uint256.Int
	Threshold uint64
}

func (e *RatioTooLowError) Error() string {
	return fmt.Sprintf("%s: ratio %s bps below %d bps", ErrRatioTooLow, ratioString(e.Ratio), e.Threshold)
}

func (e *RatioTooLowError) Is(target error) bool { return target == ErrRatioTooLow }

// InsufficientDebtError is returned when a redemption burns more than the
// account owes.
type InsufficientDebtError struct {
	Owner     crypto.Address
	Available *big.Int
	Requested *big.Int
}

func (e *InsufficientDebtError) Error() string {
	return fmt.Sprintf("%s: %s owes %s, requested %s", ErrInsufficientDebt, e.Owner, amountString(e.Available), amountString(e.Requested))
}

func (e *InsufficientDebtError) Is(target error) bool { return target == ErrInsufficientDebt }

// InvalidRatioOrderingError is returned for parameter sets violating
// 0 < min < target.
type InvalidRatioOrderingError struct {
	Min    uint64
	Target uint64
}

func (e *InvalidRatioOrderingError) Error() string {
	return fmt.Sprintf("%s: min=%d target=%d", ErrInvalidRatioOrdering, e.Min, e.Target)
}

func (e *InvalidRatioOrderingError) Is(target error) bool { return target == ErrInvalidRatioOrdering }

// Reason maps an engine error to a stable, low-cardinality code suitable for
// API responses and metric labels.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrReentrant):
		return "reentrant"
	case errors.Is(err, errModulePaused):
		return "paused"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInvalidAccount):
		return "invalid_account"
	case errors.Is(err, ErrSelfLiquidation):
		return "self_liquidation"
	case errors.Is(err, ErrNoDebt):
		return "no_debt"
	case errors.Is(err, ErrNotUndercollateralized):
		return "not_undercollateralized"
	case errors.Is(err, ErrRepayTooLarge):
		return "repay_too_large"
	case errors.Is(err, ErrInsufficientDebt):
		return "insufficient_debt"
	case errors.Is(err, ErrInsufficientCollateral):
		return "insufficient_collateral"
	case errors.Is(err, ErrRatioTooLow):
		return "ratio_too_low"
	case errors.Is(err, ErrCalculation):
		return "calculation_error"
	case errors.Is(err, ErrOracleUnset):
		return "oracle_unset"
	case errors.Is(err, ErrOracleStale):
		return "oracle_stale"
	case errors.Is(err, ErrOracleInvalid):
		return "oracle_invalid"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrInvalidRatioOrdering):
		return "invalid_ratio_ordering"
	case errors.Is(err, ErrInvalidBonus):
		return "invalid_bonus"
	case errors.Is(err, ErrUnknownFeed):
		return "unknown_feed"
	case errors.Is(err, ErrNilState), errors.Is(err, ErrTokensNotConfigured):
		return "not_configured"
	default:
		return "internal"
	}
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func ratioString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	if v.Eq(maxRatio) {
		return "max"
	}
	return v.Dec()
}
