package synth

import (
	"context"
	"fmt"
	"strconv"

	"synthvault/core/events"
	"synthvault/crypto"
)

// AdminAction names an administrative capability.
type AdminAction string

const (
	ActionSetPriceFeed        AdminAction = "set_price_feed"
	ActionSetRatios           AdminAction = "set_ratios"
	ActionSetLiquidationBonus AdminAction = "set_liquidation_bonus"
	ActionPause               AdminAction = "pause"
	ActionUnpause             AdminAction = "unpause"
)

// Authorizer decides whether caller may perform action.
type Authorizer interface {
	Authorize(ctx context.Context, caller crypto.Address, action AdminAction) bool
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(ctx context.Context, caller crypto.Address, action AdminAction) bool

func (f AuthorizerFunc) Authorize(ctx context.Context, caller crypto.Address, action AdminAction) bool {
	return f(ctx, caller, action)
}

// AllowList authorizes every action for a fixed set of administrators.
type AllowList map[string]struct{}

// NewAllowList builds an AllowList from the supplied admin accounts. Zero
// addresses are ignored.
func NewAllowList(admins ...crypto.Address) AllowList {
	list := make(AllowList, len(admins))
	for _, admin := range admins {
		if admin.IsZero() {
			continue
		}
		list[admin.Key()] = struct{}{}
	}
	return list
}

func (l AllowList) Authorize(_ context.Context, caller crypto.Address, _ AdminAction) bool {
	if caller.IsZero() {
		return false
	}
	_, ok := l[caller.Key()]
	return ok
}

// admin enters the engine for an administrative call. Authorization is
// checked before anything else; pause does not apply.
func (e *Engine) admin(ctx context.Context, caller crypto.Address, action AdminAction) (context.Context, func(), error) {
	ctx, unlock, err := e.enter(ctx)
	if err != nil {
		return nil, nil, err
	}
	if e.authorizer == nil || !e.authorizer.Authorize(ctx, caller, action) {
		unlock()
		return nil, nil, fmt.Errorf("%w: %s", ErrUnauthorized, action)
	}
	return ctx, unlock, nil
}

// SetPriceFeed rotates the collateral or synthetic price source and refreshes
// the cached feed decimals.
func (e *Engine) SetPriceFeed(ctx context.Context, caller crypto.Address, kind FeedKind, src PriceSource) error {
	ctx, unlock, err := e.admin(ctx, caller, ActionSetPriceFeed)
	if err != nil {
		return err
	}
	defer unlock()
	if kind != FeedCollateral && kind != FeedSynthetic {
		return fmt.Errorf("%w: %q", ErrUnknownFeed, kind)
	}
	if src == nil {
		return ErrOracleUnset
	}
	old, err := e.state.GetFeedBinding(kind)
	if err != nil {
		return fmt.Errorf("load feed binding: %w", err)
	}
	prevSource, prevProfile := e.feed(kind), e.profile
	if err := e.bindFeed(ctx, kind, src); err != nil {
		return err
	}
	if err := e.state.PutFeedBinding(kind, src.ID()); err != nil {
		e.profile = prevProfile
		e.restoreFeed(kind, prevSource)
		return fmt.Errorf("store feed binding: %w", err)
	}
	e.emit(ctx, events.SynthParamUpdated{Param: "feed." + string(kind), Old: old, New: src.ID(), Caller: caller})
	return nil
}

func (e *Engine) feed(kind FeedKind) PriceSource {
	if kind == FeedCollateral {
		return e.collateralFeed
	}
	return e.syntheticFeed
}

func (e *Engine) restoreFeed(kind FeedKind, src PriceSource) {
	if kind == FeedCollateral {
		e.collateralFeed = src
	} else {
		e.syntheticFeed = src
	}
}

// SetRatios updates the target and minimum collateralization ratios.
func (e *Engine) SetRatios(ctx context.Context, caller crypto.Address, targetBps, minBps uint64) error {
	ctx, unlock, err := e.admin(ctx, caller, ActionSetRatios)
	if err != nil {
		return err
	}
	defer unlock()
	next := e.params
	next.TargetRatioBps, next.MinRatioBps = targetBps, minBps
	if next.MinRatioBps == 0 || next.MinRatioBps >= next.TargetRatioBps {
		return &InvalidRatioOrderingError{Min: minBps, Target: targetBps}
	}
	old := e.params
	if err := e.storeParams(next); err != nil {
		return err
	}
	e.emit(ctx, events.SynthParamUpdated{
		Param:  "ratios",
		Old:    fmt.Sprintf("target=%d min=%d", old.TargetRatioBps, old.MinRatioBps),
		New:    fmt.Sprintf("target=%d min=%d", targetBps, minBps),
		Caller: caller,
	})
	return nil
}

// SetLiquidationBonus updates the bonus paid to liquidators.
func (e *Engine) SetLiquidationBonus(ctx context.Context, caller crypto.Address, bonusBps uint64) error {
	ctx, unlock, err := e.admin(ctx, caller, ActionSetLiquidationBonus)
	if err != nil {
		return err
	}
	defer unlock()
	if bonusBps == 0 {
		return ErrInvalidBonus
	}
	next := e.params
	next.LiquidationBonusBps = bonusBps
	old := e.params.LiquidationBonusBps
	if err := e.storeParams(next); err != nil {
		return err
	}
	e.emit(ctx, events.SynthParamUpdated{
		Param:  "liquidation_bonus",
		Old:    strconv.FormatUint(old, 10),
		New:    strconv.FormatUint(bonusBps, 10),
		Caller: caller,
	})
	return nil
}

func (e *Engine) storeParams(next Params) error {
	if err := e.state.PutParams(next); err != nil {
		return fmt.Errorf("store params: %w", err)
	}
	e.params = next
	return nil
}

// Pause halts mint, redeem and liquidate until Unpause is called.
func (e *Engine) Pause(ctx context.Context, caller crypto.Address) error {
	return e.setPaused(ctx, caller, ActionPause, true)
}

// Unpause resumes normal operation.
func (e *Engine) Unpause(ctx context.Context, caller crypto.Address) error {
	return e.setPaused(ctx, caller, ActionUnpause, false)
}

func (e *Engine) setPaused(ctx context.Context, caller crypto.Address, action AdminAction, paused bool) error {
	ctx, unlock, err := e.admin(ctx, caller, action)
	if err != nil {
		return err
	}
	defer unlock()
	old := e.paused
	if err := e.state.PutPaused(paused); err != nil {
		return fmt.Errorf("store pause flag: %w", err)
	}
	e.paused = paused
	e.emit(ctx, events.SynthParamUpdated{
		Param:  "paused",
		Old:    strconv.FormatBool(old),
		New:    strconv.FormatBool(paused),
		Caller: caller,
	})
	return nil
}
