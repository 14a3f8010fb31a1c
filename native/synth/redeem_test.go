package synth

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/holiman/uint256"

	"synthvault/core/events"
)

const aliceDebt = "128205128205128205"

// mintAlice opens the worked example position: 1000 collateral tokens against
// 0.128205128205128205 synthetic tokens at 150%.
func mintAlice(t *testing.T, env *testEnv) {
	t.Helper()
	env.fund(makeAddress(0x01), 1_000)
	if _, err := env.engine.Mint(context.Background(), makeAddress(0x01), big.NewInt(1_000_000_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	env.emitter.events = nil
}

func TestRedeemPartial(t *testing.T) {
	env := newTestEnv(t)
	mintAlice(t, env)
	alice := makeAddress(0x01)

	out, err := env.engine.Redeem(context.Background(), alice, amount(t, "64102564102564102"))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if out.Cmp(big.NewInt(333_333_333)) != 0 {
		t.Fatalf("unexpected collateral out %s", out)
	}
	pos := env.position(t, alice)
	if pos.Collateral.Cmp(big.NewInt(666_666_667)) != 0 || pos.Debt.String() != "64102564102564103" {
		t.Fatalf("unexpected position collateral=%s debt=%s", pos.Collateral, pos.Debt)
	}
	ratio, err := env.engine.Ratio(context.Background(), alice)
	if err != nil {
		t.Fatalf("ratio: %v", err)
	}
	if ratio.Lt(uint256.NewInt(12_000)) {
		t.Fatalf("partial redeem left ratio %s below minimum", ratio.Dec())
	}
	if bal := env.collateral.BalanceOf(alice); bal.Cmp(out) != 0 {
		t.Fatalf("alice received %s, expected %s", bal, out)
	}
	if bal := env.collateral.BalanceOf(env.module); bal.Cmp(pos.Collateral) != 0 {
		t.Fatalf("module holds %s, ledger says %s", bal, pos.Collateral)
	}
	redeemed, ok := env.emitter.events[0].(events.SynthRedeemed)
	if !ok || redeemed.CollateralOut.Cmp(out) != 0 {
		t.Fatalf("unexpected event %+v", env.emitter.events[0])
	}
}

func TestRedeemFullExitIgnoresMinimumRatio(t *testing.T) {
	env := newTestEnv(t)
	mintAlice(t, env)
	alice := makeAddress(0x01)
	// Position drops to ~114.7%, below the 120% minimum.
	env.syntheticFeed.set(6800 * usd)

	out, err := env.engine.Redeem(context.Background(), alice, amount(t, aliceDebt))
	if err != nil {
		t.Fatalf("full redeem: %v", err)
	}
	if out.Cmp(big.NewInt(871_794_871)) != 0 {
		t.Fatalf("unexpected collateral out %s", out)
	}
	pos := env.position(t, alice)
	if pos.Debt.Sign() != 0 || pos.Collateral.Cmp(big.NewInt(128_205_129)) != 0 {
		t.Fatalf("unexpected position collateral=%s debt=%s", pos.Collateral, pos.Debt)
	}
	ratio, err := env.engine.Ratio(context.Background(), alice)
	if err != nil || !IsMaxRatio(ratio) {
		t.Fatalf("expected max ratio after exit, got %v %v", ratio, err)
	}
}

func TestRedeemPartialBelowMinimumRejected(t *testing.T) {
	env := newTestEnv(t)
	mintAlice(t, env)
	alice := makeAddress(0x01)
	env.syntheticFeed.set(6800 * usd)

	_, err := env.engine.Redeem(context.Background(), alice, amount(t, "1000000000000000"))
	var ratioErr *RatioTooLowError
	if !errors.As(err, &ratioErr) {
		t.Fatalf("expected RatioTooLowError, got %v", err)
	}
	if ratioErr.Threshold != 12_000 || !ratioErr.Ratio.Lt(uint256.NewInt(12_000)) {
		t.Fatalf("unexpected ratio error %+v", ratioErr)
	}
	if bal := env.synthetic.BalanceOf(alice); bal.String() != aliceDebt {
		t.Fatalf("rejected redeem burned tokens, balance %s", bal)
	}
}

func TestRedeemUnderwaterFullExitRejected(t *testing.T) {
	env := newTestEnv(t)
	mintAlice(t, env)
	alice := makeAddress(0x01)
	// Debt is now worth more than all of the collateral.
	env.syntheticFeed.set(12_000 * usd)

	if _, err := env.engine.Redeem(context.Background(), alice, amount(t, aliceDebt)); !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected ErrInsufficientCollateral, got %v", err)
	}
	if pos := env.position(t, alice); pos.Collateral.Cmp(big.NewInt(1_000_000_000)) != 0 {
		t.Fatalf("position changed: %s", pos.Collateral)
	}
}

func TestRedeemValidation(t *testing.T) {
	env := newTestEnv(t)
	mintAlice(t, env)
	alice := makeAddress(0x01)
	ctx := context.Background()

	if _, err := env.engine.Redeem(ctx, alice, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	_, err := env.engine.Redeem(ctx, alice, amount(t, "128205128205128206"))
	var debtErr *InsufficientDebtError
	if !errors.As(err, &debtErr) || !errors.Is(err, ErrInsufficientDebt) {
		t.Fatalf("expected InsufficientDebtError, got %v", err)
	}
	if debtErr.Available.String() != aliceDebt || !debtErr.Owner.Equal(alice) {
		t.Fatalf("unexpected error payload %+v", debtErr)
	}
	if _, err := env.engine.Redeem(ctx, makeAddress(0x02), big.NewInt(1)); !errors.Is(err, ErrInsufficientDebt) {
		t.Fatalf("expected ErrInsufficientDebt for empty position, got %v", err)
	}
	if _, err := env.engine.Redeem(ctx, alice, big.NewInt(1)); !errors.Is(err, ErrCalculation) {
		t.Fatalf("expected ErrCalculation for dust, got %v", err)
	}
}

func TestRedeemRollsBackOnCollateralFailure(t *testing.T) {
	env := newTestEnv(t)
	mintAlice(t, env)
	alice := makeAddress(0x01)
	env.collateral.failTransfer = errors.New("token halted")

	if _, err := env.engine.Redeem(context.Background(), alice, amount(t, aliceDebt)); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if bal := env.synthetic.BalanceOf(alice); bal.String() != aliceDebt {
		t.Fatalf("burn not compensated, balance %s", bal)
	}
	if env.synthetic.supply.String() != aliceDebt {
		t.Fatalf("supply changed: %s", env.synthetic.supply)
	}
	if pos := env.position(t, alice); pos.Debt.String() != aliceDebt {
		t.Fatalf("position changed: %s", pos.Debt)
	}
}

func TestRedeemBurnFailure(t *testing.T) {
	env := newTestEnv(t)
	mintAlice(t, env)
	alice := makeAddress(0x01)
	// Alice gave her tokens away and cannot burn them.
	env.synthetic.balances[alice.Key()] = big.NewInt(0)

	if _, err := env.engine.Redeem(context.Background(), alice, amount(t, aliceDebt)); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if bal := env.collateral.BalanceOf(env.module); bal.Cmp(big.NewInt(1_000_000_000)) != 0 {
		t.Fatalf("collateral released without burn: module holds %s", bal)
	}
}
