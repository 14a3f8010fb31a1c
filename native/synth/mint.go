package synth

import (
	"context"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"synthvault/core/events"
	"synthvault/crypto"
)

// Mint pulls collateralIn from account into the module account and issues
// synthetic tokens sized so the deposit alone sits at the target ratio. The
// position's resulting ratio is returned.
func (e *Engine) Mint(ctx context.Context, account crypto.Address, collateralIn *big.Int) (*uint256.Int, error) {
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
	if collateralIn == nil || collateralIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	pos, err := e.loadPosition(account)
	if err != nil {
		return nil, err
	}
	cq, sq, err := e.readPrices(ctx)
	if err != nil {
		return nil, err
	}

	calc := e.profile.calculator()
	issued, err := calc.Issuance(collateralIn, cq, sq, e.params.TargetRatioBps)
	if err != nil {
		return nil, err
	}
	next := &Position{
		Collateral: new(big.Int).Add(pos.Collateral, collateralIn),
		Debt:       new(big.Int).Add(pos.Debt, issued),
	}
	ratio := calc.RatioBps(next.Collateral, next.Debt, cq, sq)
	if ratio.Lt(uint256.NewInt(e.params.TargetRatioBps)) {
		return nil, &RatioTooLowError{Ratio: ratio, Threshold: e.params.TargetRatioBps}
	}

	var fx effects
	amountIn := new(big.Int).Set(collateralIn)
	if err := e.collateral.TransferFrom(ctx, account, e.moduleAddress, amountIn); err != nil {
		return nil, transferFailed("collect collateral", err)
	}
	fx.push(func(ctx context.Context) error {
		return e.collateral.Transfer(ctx, e.moduleAddress, account, amountIn)
	})
	if err := e.synthetic.Issue(ctx, account, issued); err != nil {
		return nil, fx.rollback(ctx, e.logger, transferFailed("issue synthetic", err))
	}
	fx.push(func(ctx context.Context) error {
		return e.synthetic.Burn(ctx, account, issued)
	})
	if err := e.state.PutPosition(account, next); err != nil {
		return nil, fx.rollback(ctx, e.logger, fmt.Errorf("store position: %w", err))
	}

	e.emit(ctx, events.SynthMinted{
		Account:      account,
		CollateralIn: amountIn,
		Issued:       issued,
		RatioBps:     ratio,
	})
	return ratio, nil
}
