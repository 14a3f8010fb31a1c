package events

import (
	"math/big"
	"strconv"

	"github.com/holiman/uint256"

	"synthvault/core/types"
	"synthvault/crypto"
)

const (
	// TypeSynthMinted is emitted when collateral is locked and synthetic
	// supply issued against it.
	TypeSynthMinted = "synth.minted"
	// TypeSynthRedeemed is emitted when synthetic supply is burned and
	// collateral released.
	TypeSynthRedeemed = "synth.redeemed"
	// TypeSynthLiquidated is emitted when a third party repays debt of an
	// under-collateralized position.
	TypeSynthLiquidated = "synth.liquidated"
	// TypeSynthParamUpdated is emitted for every administrative change.
	TypeSynthParamUpdated = "synth.param_updated"
)

// SynthMinted captures a successful mint.
type SynthMinted struct {
	Account      crypto.Address
	CollateralIn *big.Int
	Issued       *big.Int
	RatioBps     *uint256.Int
}

func (SynthMinted) EventType() string { return TypeSynthMinted }

func (e SynthMinted) Event() *types.Event {
	return &types.Event{
		Type: TypeSynthMinted,
		Attributes: map[string]string{
			"account":      e.Account.String(),
			"collateralIn": amountString(e.CollateralIn),
			"issued":       amountString(e.Issued),
			"ratioBps":     ratioString(e.RatioBps),
		},
	}
}

// SynthRedeemed captures a successful redemption.
type SynthRedeemed struct {
	Account       crypto.Address
	SyntheticIn   *big.Int
	CollateralOut *big.Int
}

func (SynthRedeemed) EventType() string { return TypeSynthRedeemed }

func (e SynthRedeemed) Event() *types.Event {
	return &types.Event{
		Type: TypeSynthRedeemed,
		Attributes: map[string]string{
			"account":       e.Account.String(),
			"syntheticIn":   amountString(e.SyntheticIn),
			"collateralOut": amountString(e.CollateralOut),
		},
	}
}

// SynthLiquidated captures a successful liquidation.
type SynthLiquidated struct {
	Borrower   crypto.Address
	Liquidator crypto.Address
	Repaid     *big.Int
	Seized     *big.Int
	BonusBps   uint64
}

func (SynthLiquidated) EventType() string { return TypeSynthLiquidated }

func (e SynthLiquidated) Event() *types.Event {
	return &types.Event{
		Type: TypeSynthLiquidated,
		Attributes: map[string]string{
			"borrower":   e.Borrower.String(),
			"liquidator": e.Liquidator.String(),
			"repaid":     amountString(e.Repaid),
			"seized":     amountString(e.Seized),
			"bonusBps":   strconv.FormatUint(e.BonusBps, 10),
		},
	}
}

// SynthParamUpdated records an administrative mutation with the value before
// and after the change.
type SynthParamUpdated struct {
	Param  string
	Old    string
	New    string
	Caller crypto.Address
}

func (SynthParamUpdated) EventType() string { return TypeSynthParamUpdated }

func (e SynthParamUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeSynthParamUpdated,
		Attributes: map[string]string{
			"param":  e.Param,
			"old":    e.Old,
			"new":    e.New,
			"caller": e.Caller.String(),
		},
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
	return v.Dec()
}
