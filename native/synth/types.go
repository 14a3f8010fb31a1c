package synth

import (
	"fmt"
	"math/big"
)

const moduleName = "synth"

// Position is the per-account ledger record. Collateral is denominated in
// collateral token base units and Debt in synthetic token base units.
type Position struct {
	Collateral *big.Int
	Debt       *big.Int
}

// Clone returns a deep copy of the position with nil amounts normalised to
// zero.
func (p *Position) Clone() *Position {
	clone := &Position{Collateral: big.NewInt(0), Debt: big.NewInt(0)}
	if p == nil {
		return clone
	}
	if p.Collateral != nil {
		clone.Collateral.Set(p.Collateral)
	}
	if p.Debt != nil {
		clone.Debt.Set(p.Debt)
	}
	return clone
}

// IsZero reports whether the position holds neither collateral nor debt.
func (p *Position) IsZero() bool {
	if p == nil {
		return true
	}
	return (p.Collateral == nil || p.Collateral.Sign() == 0) && (p.Debt == nil || p.Debt.Sign() == 0)
}

// Params groups the administrator controlled solvency thresholds. All values
// are expressed in basis points.
type Params struct {
	// TargetRatioBps is the ratio a position must hold after minting.
	TargetRatioBps uint64
	// MinRatioBps is the floor for partial redemptions; positions below it
	// may be liquidated.
	MinRatioBps uint64
	// LiquidationBonusBps is the extra collateral value paid to liquidators
	// on top of the repaid debt value.
	LiquidationBonusBps uint64
}

// Validate enforces 0 < min < target and a positive liquidation bonus.
func (p Params) Validate() error {
	if p.MinRatioBps == 0 || p.MinRatioBps >= p.TargetRatioBps {
		return &InvalidRatioOrderingError{Min: p.MinRatioBps, Target: p.TargetRatioBps}
	}
	if p.LiquidationBonusBps == 0 {
		return ErrInvalidBonus
	}
	return nil
}

func (p Params) String() string {
	return fmt.Sprintf("target=%d min=%d bonus=%d", p.TargetRatioBps, p.MinRatioBps, p.LiquidationBonusBps)
}

// DecimalProfile caches the decimal scale of both tokens and both price feeds
// so operations never query them on the hot path.
type DecimalProfile struct {
	CollateralDecimals      uint8
	SyntheticDecimals       uint8
	CollateralPriceDecimals uint8
	SyntheticPriceDecimals  uint8
}

func (d DecimalProfile) calculator() Calculator {
	return Calculator{CollateralDecimals: d.CollateralDecimals, SyntheticDecimals: d.SyntheticDecimals}
}

// FeedKind names one of the two price feeds bound to the engine.
type FeedKind string

const (
	FeedCollateral FeedKind = "collateral"
	FeedSynthetic  FeedKind = "synthetic"
)

// ParseFeedKind validates a feed name supplied by an operator.
func ParseFeedKind(raw string) (FeedKind, error) {
	switch FeedKind(raw) {
	case FeedCollateral, FeedSynthetic:
		return FeedKind(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFeed, raw)
	}
}
