package synth

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"synthvault/core/events"
	"synthvault/crypto"
)

func TestAdminRequiresAuthorization(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	mallory := makeAddress(0x66)

	checks := map[string]error{
		"ratios":  env.engine.SetRatios(ctx, mallory, 20_000, 13_000),
		"bonus":   env.engine.SetLiquidationBonus(ctx, mallory, 900),
		"pause":   env.engine.Pause(ctx, mallory),
		"unpause": env.engine.Unpause(ctx, mallory),
		"feed":    env.engine.SetPriceFeed(ctx, mallory, FeedSynthetic, newMockFeed("other", usd, 8)),
	}
	for name, err := range checks {
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("%s: expected ErrUnauthorized, got %v", name, err)
		}
	}
	if got := env.engine.Params(); got.TargetRatioBps != 15_000 || got.LiquidationBonusBps != 500 {
		t.Fatalf("unauthorized calls changed params: %s", got)
	}
	if len(env.emitter.events) != 0 {
		t.Fatalf("unauthorized calls emitted events")
	}
}

func TestAdminDeniedWithoutAuthorizer(t *testing.T) {
	env := newTestEnv(t)
	env.engine.SetAuthorizer(nil)
	if err := env.engine.Pause(context.Background(), env.admin); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestAuthorizerFuncScopesActions(t *testing.T) {
	env := newTestEnv(t)
	guardian := makeAddress(0x77)
	env.engine.SetAuthorizer(AuthorizerFunc(func(_ context.Context, caller crypto.Address, action AdminAction) bool {
		return caller.Equal(guardian) && action == ActionPause
	}))
	if err := env.engine.Pause(context.Background(), guardian); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := env.engine.Unpause(context.Background(), guardian); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for unpause, got %v", err)
	}
}

func TestSetRatios(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	err := env.engine.SetRatios(ctx, env.admin, 12_000, 12_000)
	var orderErr *InvalidRatioOrderingError
	if !errors.As(err, &orderErr) || orderErr.Min != 12_000 || orderErr.Target != 12_000 {
		t.Fatalf("expected InvalidRatioOrderingError, got %v", err)
	}
	if err := env.engine.SetRatios(ctx, env.admin, 15_000, 0); !errors.Is(err, ErrInvalidRatioOrdering) {
		t.Fatalf("expected ErrInvalidRatioOrdering for zero min, got %v", err)
	}

	if err := env.engine.SetRatios(ctx, env.admin, 20_000, 13_000); err != nil {
		t.Fatalf("set ratios: %v", err)
	}
	stored, err := env.state.GetParams()
	if err != nil || stored == nil {
		t.Fatalf("get params: %v", err)
	}
	if stored.TargetRatioBps != 20_000 || stored.MinRatioBps != 13_000 || stored.LiquidationBonusBps != 500 {
		t.Fatalf("unexpected persisted params %s", stored)
	}
	evt, ok := env.emitter.events[0].(events.SynthParamUpdated)
	if !ok || evt.Param != "ratios" || evt.Old != "target=15000 min=12000" || evt.New != "target=20000 min=13000" {
		t.Fatalf("unexpected event %+v", env.emitter.events[0])
	}

	// The new target applies to subsequent mints.
	alice := makeAddress(0x01)
	env.fund(alice, 1_000)
	ratio, err := env.engine.Mint(ctx, alice, big.NewInt(1_000_000_000))
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if ratio.Uint64() != 20_000 {
		t.Fatalf("expected mint at new target, got %s", ratio.Dec())
	}
}

func TestSetLiquidationBonus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.engine.SetLiquidationBonus(ctx, env.admin, 0); !errors.Is(err, ErrInvalidBonus) {
		t.Fatalf("expected ErrInvalidBonus, got %v", err)
	}
	if err := env.engine.SetLiquidationBonus(ctx, env.admin, 1_000); err != nil {
		t.Fatalf("set bonus: %v", err)
	}
	if got := env.engine.Params().LiquidationBonusBps; got != 1_000 {
		t.Fatalf("unexpected bonus %d", got)
	}
	evt := env.emitter.events[0].(events.SynthParamUpdated)
	if evt.Old != "500" || evt.New != "1000" || !evt.Caller.Equal(env.admin) {
		t.Fatalf("unexpected event %+v", evt)
	}
}

func TestPauseAndUnpause(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := makeAddress(0x01)
	env.fund(alice, 10)

	if err := env.engine.Pause(ctx, env.admin); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if paused, _ := env.state.GetPaused(); !paused {
		t.Fatalf("pause flag not persisted")
	}
	if _, err := env.engine.Mint(ctx, alice, big.NewInt(1_000_000)); Reason(err) != "paused" {
		t.Fatalf("expected paused rejection, got %v", err)
	}
	// Admin calls are not subject to the pause switch.
	if err := env.engine.SetLiquidationBonus(ctx, env.admin, 600); err != nil {
		t.Fatalf("admin call while paused: %v", err)
	}
	if err := env.engine.Unpause(ctx, env.admin); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if _, err := env.engine.Mint(ctx, alice, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("mint after unpause: %v", err)
	}
}

func TestSetPriceFeedRotatesSourceAndDecimals(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.engine.SetPriceFeed(ctx, env.admin, FeedKind("spot"), newMockFeed("x", usd, 8)); !errors.Is(err, ErrUnknownFeed) {
		t.Fatalf("expected ErrUnknownFeed, got %v", err)
	}
	if err := env.engine.SetPriceFeed(ctx, env.admin, FeedSynthetic, nil); !errors.Is(err, ErrOracleUnset) {
		t.Fatalf("expected ErrOracleUnset, got %v", err)
	}

	// Same $5200 price quoted with 18 decimals.
	rotated := &mockFeed{id: "xau-usd-v2", price: amount(t, "5200000000000000000000"), decimals: 18, updated: 1}
	if err := env.engine.SetPriceFeed(ctx, env.admin, FeedSynthetic, rotated); err != nil {
		t.Fatalf("set feed: %v", err)
	}
	if got := env.engine.Decimals().SyntheticPriceDecimals; got != 18 {
		t.Fatalf("decimals not refreshed: %d", got)
	}
	if id, _ := env.state.GetFeedBinding(FeedSynthetic); id != "xau-usd-v2" {
		t.Fatalf("binding not persisted: %q", id)
	}

	alice := makeAddress(0x01)
	env.fund(alice, 1_000)
	if _, err := env.engine.Mint(ctx, alice, big.NewInt(1_000_000_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if pos := env.position(t, alice); pos.Debt.String() != aliceDebt {
		t.Fatalf("rotated feed changed issuance: %s", pos.Debt)
	}
}

func TestAllowListIgnoresZeroAddress(t *testing.T) {
	list := NewAllowList(crypto.Address{}, makeAddress(0x01))
	if list.Authorize(context.Background(), crypto.Address{}, ActionPause) {
		t.Fatalf("zero address authorized")
	}
	if !list.Authorize(context.Background(), makeAddress(0x01), ActionPause) {
		t.Fatalf("listed admin rejected")
	}
}
