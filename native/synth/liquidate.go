package synth

import (
	"context"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"synthvault/core/events"
	"synthvault/crypto"
)

// Liquidate lets liquidator repay part or all of an undercollateralized
// borrower's debt with their own synthetic tokens in exchange for the
// equivalent collateral plus the liquidation bonus. The seized collateral
// amount is returned.
func (e *Engine) Liquidate(ctx context.Context, liquidator, borrower crypto.Address, repay *big.Int) (*big.Int, error) {
	ctx, unlock, err := e.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if err := e.guard(); err != nil {
		return nil, err
	}
	if borrower.IsZero() || liquidator.IsZero() {
		return nil, ErrInvalidAccount
	}
	if repay == nil || repay.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if liquidator.Equal(borrower) {
		return nil, ErrSelfLiquidation
	}
	pos, err := e.loadPosition(borrower)
	if err != nil {
		return nil, err
	}
	if pos.Debt.Sign() == 0 {
		return nil, ErrNoDebt
	}
	cq, sq, err := e.readPrices(ctx)
	if err != nil {
		return nil, err
	}

	calc := e.profile.calculator()
	ratio := calc.RatioBps(pos.Collateral, pos.Debt, cq, sq)
	if !ratio.Lt(uint256.NewInt(e.params.MinRatioBps)) {
		return nil, fmt.Errorf("%w: ratio %s bps, minimum %d bps", ErrNotUndercollateralized, ratioString(ratio), e.params.MinRatioBps)
	}
	if repay.Cmp(pos.Debt) > 0 {
		return nil, fmt.Errorf("%w: debt %s, repay %s", ErrRepayTooLarge, pos.Debt, repay)
	}
	seized, err := calc.Seize(repay, cq, sq, e.params.LiquidationBonusBps)
	if err != nil {
		return nil, err
	}
	if seized.Cmp(pos.Collateral) > 0 {
		return nil, fmt.Errorf("%w: position holds %s, liquidation seizes %s", ErrInsufficientCollateral, pos.Collateral, seized)
	}
	next := &Position{
		Collateral: subNonNegative(pos.Collateral, seized),
		Debt:       subNonNegative(pos.Debt, repay),
	}

	var fx effects
	repaid := new(big.Int).Set(repay)
	if err := e.synthetic.Burn(ctx, liquidator, repaid); err != nil {
		return nil, transferFailed("burn repayment", err)
	}
	fx.push(func(ctx context.Context) error {
		return e.synthetic.Issue(ctx, liquidator, repaid)
	})
	if err := e.collateral.Transfer(ctx, e.moduleAddress, liquidator, seized); err != nil {
		return nil, fx.rollback(ctx, e.logger, transferFailed("pay liquidator", err))
	}
	fx.push(func(ctx context.Context) error {
		return e.collateral.TransferFrom(ctx, liquidator, e.moduleAddress, seized)
	})
	if err := e.state.PutPosition(borrower, next); err != nil {
		return nil, fx.rollback(ctx, e.logger, fmt.Errorf("store position: %w", err))
	}

	e.emit(ctx, events.SynthLiquidated{
		Borrower:   borrower,
		Liquidator: liquidator,
		Repaid:     repaid,
		Seized:     seized,
		BonusBps:   e.params.LiquidationBonusBps,
	})
	return new(big.Int).Set(seized), nil
}
