package synth

import (
	"context"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"synthvault/core/events"
	"synthvault/crypto"
)

// Redeem burns syntheticIn from account and returns collateral of equal
// value. A partial redemption must leave the position at or above the
// minimum ratio; repaying the whole debt skips the ratio check. Redemption
// never pays out more than the position holds, so a full redemption of an
// underwater position fails with ErrInsufficientCollateral.
func (e *Engine) Redeem(ctx context.Context, account crypto.Address, syntheticIn *big.Int) (*big.Int, error) {
	ctx, unlock, err := e.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if err := e.guard(); err != nil {
		return nil, err
	}
	if account.IsZero() {
		return nil, ErrInvalidAccount
	}
	if syntheticIn == nil || syntheticIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	pos, err := e.loadPosition(account)
	if err != nil {
		return nil, err
	}
	if syntheticIn.Cmp(pos.Debt) > 0 {
		return nil, &InsufficientDebtError{
			Owner:     account,
			Available: new(big.Int).Set(pos.Debt),
			Requested: new(big.Int).Set(syntheticIn),
		}
	}
	cq, sq, err := e.readPrices(ctx)
	if err != nil {
		return nil, err
	}

	calc := e.profile.calculator()
	collateralOut, err := calc.CollateralFor(syntheticIn, cq, sq)
	if err != nil {
		return nil, err
	}
	if collateralOut.Cmp(pos.Collateral) > 0 {
		return nil, fmt.Errorf("%w: position holds %s, redemption pays %s", ErrInsufficientCollateral, pos.Collateral, collateralOut)
	}
	next := &Position{
		Collateral: subNonNegative(pos.Collateral, collateralOut),
		Debt:       subNonNegative(pos.Debt, syntheticIn),
	}
	if next.Debt.Sign() > 0 {
		ratio := calc.RatioBps(next.Collateral, next.Debt, cq, sq)
		if ratio.Lt(uint256.NewInt(e.params.MinRatioBps)) {
			return nil, &RatioTooLowError{Ratio: ratio, Threshold: e.params.MinRatioBps}
		}
	}

	var fx effects
	burned := new(big.Int).Set(syntheticIn)
	if err := e.synthetic.Burn(ctx, account, burned); err != nil {
		return nil, transferFailed("burn synthetic", err)
	}
	fx.push(func(ctx context.Context) error {
		return e.synthetic.Issue(ctx, account, burned)
	})
	if err := e.collateral.Transfer(ctx, e.moduleAddress, account, collateralOut); err != nil {
		return nil, fx.rollback(ctx, e.logger, transferFailed("release collateral", err))
	}
	fx.push(func(ctx context.Context) error {
		return e.collateral.TransferFrom(ctx, account, e.moduleAddress, collateralOut)
	})
	if err := e.state.PutPosition(account, next); err != nil {
		return nil, fx.rollback(ctx, e.logger, fmt.Errorf("store position: %w", err))
	}

	e.emit(ctx, events.SynthRedeemed{
		Account:       account,
		SyntheticIn:   burned,
		CollateralOut: collateralOut,
	})
	return new(big.Int).Set(collateralOut), nil
}
