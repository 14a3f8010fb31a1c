package synth

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"synthvault/core/events"
	"synthvault/crypto"
)

func TestMintWorkedExample(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(0x01)
	env.fund(alice, 1_000)

	ratio, err := env.engine.Mint(context.Background(), alice, big.NewInt(1_000_000_000))
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if !ratio.Eq(uint256.NewInt(15_000)) {
		t.Fatalf("unexpected ratio %s", ratio.Dec())
	}
	pos := env.position(t, alice)
	if pos.Collateral.Cmp(big.NewInt(1_000_000_000)) != 0 {
		t.Fatalf("unexpected collateral %s", pos.Collateral)
	}
	if pos.Debt.String() != "128205128205128205" {
		t.Fatalf("unexpected debt %s", pos.Debt)
	}
	if bal := env.synthetic.BalanceOf(alice); bal.Cmp(pos.Debt) != 0 {
		t.Fatalf("synthetic balance %s does not match debt %s", bal, pos.Debt)
	}
	if bal := env.collateral.BalanceOf(env.module); bal.Cmp(big.NewInt(1_000_000_000)) != 0 {
		t.Fatalf("module holds %s collateral", bal)
	}
	if bal := env.collateral.BalanceOf(alice); bal.Sign() != 0 {
		t.Fatalf("alice still holds %s collateral", bal)
	}

	if len(env.emitter.events) != 1 {
		t.Fatalf("expected one event, got %d", len(env.emitter.events))
	}
	minted, ok := env.emitter.events[0].(events.SynthMinted)
	if !ok {
		t.Fatalf("unexpected event %T", env.emitter.events[0])
	}
	if !minted.Account.Equal(alice) || minted.Issued.Cmp(pos.Debt) != 0 || !minted.RatioBps.Eq(ratio) {
		t.Fatalf("unexpected event payload %+v", minted)
	}
}

func TestMintAccumulatesPosition(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(0x01)
	env.fund(alice, 2_000)

	for i := 0; i < 2; i++ {
		ratio, err := env.engine.Mint(context.Background(), alice, big.NewInt(1_000_000_000))
		if err != nil {
			t.Fatalf("mint %d: %v", i, err)
		}
		if ratio.Lt(uint256.NewInt(15_000)) {
			t.Fatalf("mint %d left ratio %s below target", i, ratio.Dec())
		}
	}
	pos := env.position(t, alice)
	if pos.Collateral.Cmp(big.NewInt(2_000_000_000)) != 0 {
		t.Fatalf("unexpected collateral %s", pos.Collateral)
	}
	if pos.Debt.String() != "256410256410256410" {
		t.Fatalf("unexpected debt %s", pos.Debt)
	}
}

func TestMintRejectsBelowTargetAfterPriceMove(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(0x01)
	env.fund(alice, 2_000)

	if _, err := env.engine.Mint(context.Background(), alice, big.NewInt(1_000_000_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	// The existing debt is now worth more; topping up at target cannot
	// restore the combined position.
	env.syntheticFeed.set(6000 * usd)
	_, err := env.engine.Mint(context.Background(), alice, big.NewInt(1_000_000))
	if !errors.Is(err, ErrRatioTooLow) {
		t.Fatalf("expected ErrRatioTooLow, got %v", err)
	}
	var ratioErr *RatioTooLowError
	if !errors.As(err, &ratioErr) || ratioErr.Threshold != 15_000 || !ratioErr.Ratio.Lt(uint256.NewInt(15_000)) {
		t.Fatalf("unexpected ratio error %+v", ratioErr)
	}
	if bal := env.collateral.BalanceOf(alice); bal.Cmp(big.NewInt(1_000_000_000)) != 0 {
		t.Fatalf("rejected mint moved collateral, balance %s", bal)
	}
}

func TestMintValidation(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(0x01)
	env.fund(alice, 10)
	ctx := context.Background()

	if _, err := env.engine.Mint(ctx, alice, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := env.engine.Mint(ctx, alice, nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for nil, got %v", err)
	}
	if _, err := env.engine.Mint(ctx, crypto.Address{}, big.NewInt(1)); !errors.Is(err, ErrInvalidAccount) {
		t.Fatalf("expected ErrInvalidAccount, got %v", err)
	}
	// One base unit is worth too little to issue anything.
	env.syntheticFeed.set(1_000_000_000 * usd)
	env.synthetic.decimals = 0
	env.engine.SetTokens(env.collateral, env.synthetic)
	if _, err := env.engine.Mint(ctx, alice, big.NewInt(1)); !errors.Is(err, ErrCalculation) {
		t.Fatalf("expected ErrCalculation, got %v", err)
	}
	if len(env.emitter.events) != 0 {
		t.Fatalf("rejected mints emitted %d events", len(env.emitter.events))
	}
}

func TestMintOracleFailures(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(0x01)
	env.fund(alice, 10)

	env.collateralFeed.set(0)
	if _, err := env.engine.Mint(context.Background(), alice, big.NewInt(1_000_000)); !errors.Is(err, ErrOracleInvalid) {
		t.Fatalf("expected ErrOracleInvalid, got %v", err)
	}
	env.collateralFeed.set(usd)
	env.syntheticFeed.updated = 0
	if _, err := env.engine.Mint(context.Background(), alice, big.NewInt(1_000_000)); !errors.Is(err, ErrOracleInvalid) {
		t.Fatalf("expected ErrOracleInvalid for unset synthetic feed timestamp, got %v", err)
	}
	if pos := env.position(t, alice); !pos.IsZero() {
		t.Fatalf("oracle failure changed position: %+v", pos)
	}
}

func TestMintRejectsStalePricesWhenConfigured(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(0x01)
	env.fund(alice, 10)
	env.engine.SetMaxPriceAge(time.Minute)

	if _, err := env.engine.Mint(context.Background(), alice, big.NewInt(1_000_000)); !errors.Is(err, ErrOracleStale) {
		t.Fatalf("expected ErrOracleStale, got %v", err)
	}
}

func TestMintWithoutFeed(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(0x01)
	env.fund(alice, 10)
	if err := env.engine.SetPriceFeeds(context.Background(), env.collateralFeed, nil); err != nil {
		t.Fatalf("set feeds: %v", err)
	}
	if _, err := env.engine.Mint(context.Background(), alice, big.NewInt(1_000_000)); !errors.Is(err, ErrOracleUnset) {
		t.Fatalf("expected ErrOracleUnset, got %v", err)
	}
}

func TestMintCollateralTransferFailure(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(0x01)
	// Unfunded account: the pull fails.
	_, err := env.engine.Mint(context.Background(), alice, big.NewInt(1_000_000))
	if !errors.Is(err, ErrTransferFailed) || !errors.Is(err, errInsufficientBalance) {
		t.Fatalf("expected wrapped transfer failure, got %v", err)
	}
	if env.synthetic.supply.Sign() != 0 {
		t.Fatalf("synthetic issued despite failed pull")
	}
}

func TestMintRollsBackOnIssueFailure(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(0x01)
	env.fund(alice, 10)
	env.synthetic.failIssue = errors.New("issuer offline")

	if _, err := env.engine.Mint(context.Background(), alice, big.NewInt(1_000_000)); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if bal := env.collateral.BalanceOf(alice); bal.Cmp(big.NewInt(10_000_000)) != 0 {
		t.Fatalf("collateral not returned, balance %s", bal)
	}
	if bal := env.collateral.BalanceOf(env.module); bal.Sign() != 0 {
		t.Fatalf("module kept %s collateral", bal)
	}
	if pos := env.position(t, alice); !pos.IsZero() {
		t.Fatalf("position changed: %+v", pos)
	}
}

func TestMintRollsBackOnLedgerFailure(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(0x01)
	env.fund(alice, 10)
	broken := &failingState{MemState: env.state, failPut: errors.New("disk full")}
	env.engine.SetState(broken)

	if _, err := env.engine.Mint(context.Background(), alice, big.NewInt(1_000_000)); err == nil {
		t.Fatalf("expected ledger failure")
	}
	if bal := env.collateral.BalanceOf(alice); bal.Cmp(big.NewInt(10_000_000)) != 0 {
		t.Fatalf("collateral not returned, balance %s", bal)
	}
	if env.synthetic.supply.Sign() != 0 {
		t.Fatalf("synthetic supply not burned back: %s", env.synthetic.supply)
	}
}
