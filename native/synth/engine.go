package synth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/holiman/uint256"

	"synthvault/core/events"
	"synthvault/crypto"
	nativecommon "synthvault/native/common"
)

var errModulePaused = nativecommon.ErrModulePaused

// CollateralToken is the fungible token pledged as collateral. The engine
// holds deposits under its module address.
type CollateralToken interface {
	TransferFrom(ctx context.Context, owner, recipient crypto.Address, amount *big.Int) error
	Transfer(ctx context.Context, sender, recipient crypto.Address, amount *big.Int) error
	BalanceOf(addr crypto.Address) *big.Int
	Decimals() uint8
}

// SyntheticToken is the asset issued against collateral. The engine must hold
// issue and burn capabilities.
type SyntheticToken interface {
	Issue(ctx context.Context, recipient crypto.Address, amount *big.Int) error
	Burn(ctx context.Context, holder crypto.Address, amount *big.Int) error
	Decimals() uint8
}

// Engine orchestrates mint, redeem and liquidation state transitions against
// a position ledger. Every mutating call runs under a single exclusive lock
// covering price reads, projection and commit. Setters are for wiring and
// must not be called from a collaborator during an operation.
type Engine struct {
	mu sync.Mutex
	// owner is the goroutine holding mu for an operation, zero when idle.
	owner atomic.Uint64

	state          State
	moduleAddress  crypto.Address
	collateral     CollateralToken
	synthetic      SyntheticToken
	collateralFeed PriceSource
	syntheticFeed  PriceSource
	params         Params
	profile        DecimalProfile
	reader         PriceReader
	paused         bool
	pauses         nativecommon.PauseView
	authorizer     Authorizer
	emitter        events.Emitter
	logger         *slog.Logger
}

// NewEngine constructs an engine holding collateral under moduleAddr.
func NewEngine(moduleAddr crypto.Address, params Params) (*Engine, error) {
	if moduleAddr.IsZero() {
		return nil, ErrInvalidAccount
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		moduleAddress: moduleAddr,
		params:        params,
		emitter:       events.NoopEmitter{},
		logger:        slog.Default(),
	}, nil
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = state
}

// LoadState restores persisted parameters and the pause flag. When nothing
// has been persisted yet the construction parameters are written instead.
func (e *Engine) LoadState() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return ErrNilState
	}
	stored, err := e.state.GetParams()
	if err != nil {
		return fmt.Errorf("load params: %w", err)
	}
	if stored == nil {
		if err := e.state.PutParams(e.params); err != nil {
			return fmt.Errorf("persist params: %w", err)
		}
	} else {
		if err := stored.Validate(); err != nil {
			return fmt.Errorf("persisted params: %w", err)
		}
		e.params = *stored
	}
	paused, err := e.state.GetPaused()
	if err != nil {
		return fmt.Errorf("load pause flag: %w", err)
	}
	e.paused = paused
	return nil
}

// SetTokens binds the collateral and synthetic tokens and captures their
// decimal scales.
func (e *Engine) SetTokens(collateral CollateralToken, synthetic SyntheticToken) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.collateral = collateral
	e.synthetic = synthetic
	if collateral != nil {
		e.profile.CollateralDecimals = collateral.Decimals()
	}
	if synthetic != nil {
		e.profile.SyntheticDecimals = synthetic.Decimals()
	}
}

// SetPriceFeeds performs the initial feed binding at construction time.
// Rotations after start-up go through SetPriceFeed, which is authorized.
func (e *Engine) SetPriceFeeds(ctx context.Context, collateral, synthetic PriceSource) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, bind := range []struct {
		kind FeedKind
		src  PriceSource
	}{{FeedCollateral, collateral}, {FeedSynthetic, synthetic}} {
		if err := e.bindFeed(ctx, bind.kind, bind.src); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) bindFeed(ctx context.Context, kind FeedKind, src PriceSource) error {
	var decimals uint8
	if src != nil {
		d, err := src.Decimals(ctx)
		if err != nil {
			return fmt.Errorf("%w: %s decimals: %w", ErrOracleInvalid, src.ID(), err)
		}
		decimals = d
	}
	switch kind {
	case FeedCollateral:
		e.collateralFeed = src
		e.profile.CollateralPriceDecimals = decimals
	case FeedSynthetic:
		e.syntheticFeed = src
		e.profile.SyntheticPriceDecimals = decimals
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFeed, kind)
	}
	return nil
}

// SetPauses installs an external pause view consulted alongside the engine's
// own pause flag.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pauses = p
}

// SetAuthorizer installs the capability check for administrative calls.
// Without one every administrative call is rejected.
func (e *Engine) SetAuthorizer(a Authorizer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.authorizer = a
}

// SetEmitter configures the sink for domain events.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetMaxPriceAge enables rejection of readings older than d. Zero disables
// the check.
func (e *Engine) SetMaxPriceAge(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reader.MaxAge = d
}

// SetClock overrides the time source used for price age checks.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reader.Now = now
}

// ModuleAddress returns the account holding deposited collateral.
func (e *Engine) ModuleAddress() crypto.Address { return e.moduleAddress }

// Params returns the active protocol parameters.
func (e *Engine) Params() Params {
	defer e.view()()
	return e.params
}

// Paused reports whether the engine's own pause switch is active.
func (e *Engine) Paused() bool {
	defer e.view()()
	return e.paused
}

// Decimals returns the cached decimal profile.
func (e *Engine) Decimals() DecimalProfile {
	defer e.view()()
	return e.profile
}

// Position returns the recorded position for addr. Collaborators calling it
// mid-operation get ErrReentrant.
func (e *Engine) Position(addr crypto.Address) (*Position, error) {
	if e.heldByCaller(goroutineID()) {
		return nil, ErrReentrant
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, ErrNilState
	}
	return e.loadPosition(addr)
}

// Ratio returns the current collateralization ratio of addr at live prices.
func (e *Engine) Ratio(ctx context.Context, addr crypto.Address) (*uint256.Int, error) {
	ctx, unlock, err := e.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	pos, err := e.loadPosition(addr)
	if err != nil {
		return nil, err
	}
	if pos.Debt.Sign() == 0 {
		return MaxRatio(), nil
	}
	cq, sq, err := e.readPrices(ctx)
	if err != nil {
		return nil, err
	}
	return e.profile.calculator().RatioBps(pos.Collateral, pos.Debt, cq, sq), nil
}

type entryKey struct{}

// enter rejects reentrant calls, takes the engine lock and returns a context
// marked as originating from this engine. A call is reentrant when its
// context carries the mark or when it runs on the goroutine already holding
// the lock, so a collaborator calling back with a fresh context fails fast
// instead of deadlocking. Events emitted under the returned context are
// queued and delivered on release unless the operation rolls back.
func (e *Engine) enter(ctx context.Context) (context.Context, func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if owner, ok := ctx.Value(entryKey{}).(*Engine); ok && owner == e {
		return nil, nil, ErrReentrant
	}
	id := goroutineID()
	if e.heldByCaller(id) {
		return nil, nil, ErrReentrant
	}
	e.mu.Lock()
	e.owner.Store(id)
	release := func() {
		e.owner.Store(0)
		e.mu.Unlock()
	}
	if e.state == nil {
		release()
		return nil, nil, ErrNilState
	}
	pending := new(events.Deferred)
	ctx = events.WithDeferred(context.WithValue(ctx, entryKey{}, e), pending)
	return ctx, func() {
		pending.Commit()
		release()
	}, nil
}

// view locks the engine for a read-only query. A query made by the goroutine
// already running an operation reads under that operation's lock.
func (e *Engine) view() func() {
	if e.heldByCaller(goroutineID()) {
		return func() {}
	}
	e.mu.Lock()
	return e.mu.Unlock
}

func (e *Engine) heldByCaller(id uint64) bool {
	return id != 0 && e.owner.Load() == id
}

var goroutinePrefix = []byte("goroutine ")

// goroutineID parses the current goroutine's id from its stack header. It
// returns zero if the header cannot be parsed.
func goroutineID() uint64 {
	var buf [64]byte
	header := bytes.TrimPrefix(buf[:runtime.Stack(buf[:], false)], goroutinePrefix)
	if i := bytes.IndexByte(header, ' '); i > 0 {
		header = header[:i]
	}
	id, err := strconv.ParseUint(string(header), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

type pauseFlag bool

func (p pauseFlag) IsPaused(string) bool { return bool(p) }

func (e *Engine) guard() error {
	if e.collateral == nil || e.synthetic == nil {
		return ErrTokensNotConfigured
	}
	return nativecommon.Guard(nativecommon.PauseViews{pauseFlag(e.paused), e.pauses}, moduleName)
}

func (e *Engine) loadPosition(addr crypto.Address) (*Position, error) {
	pos, err := e.state.GetPosition(addr)
	if err != nil {
		return nil, fmt.Errorf("load position: %w", err)
	}
	return pos.Clone(), nil
}

func (e *Engine) readPrices(ctx context.Context) (PriceQuote, PriceQuote, error) {
	cq, err := e.reader.Read(ctx, e.collateralFeed, e.profile.CollateralPriceDecimals)
	if err != nil {
		return PriceQuote{}, PriceQuote{}, err
	}
	sq, err := e.reader.Read(ctx, e.syntheticFeed, e.profile.SyntheticPriceDecimals)
	if err != nil {
		return PriceQuote{}, PriceQuote{}, err
	}
	return cq, sq, nil
}

func (e *Engine) emit(ctx context.Context, evt events.Event) {
	events.EmitContext(ctx, e.emitter, evt)
}

// effects records compensating actions for external calls already made by
// an operation so a later failure leaves no partial effect behind. Rolling
// back also drops events queued by the forward and compensating calls.
type effects struct {
	undo []func(context.Context) error
}

func (f *effects) push(fn func(context.Context) error) {
	f.undo = append(f.undo, fn)
}

func (f *effects) rollback(ctx context.Context, logger *slog.Logger, cause error) error {
	ctx = context.WithoutCancel(ctx)
	for i := len(f.undo) - 1; i >= 0; i-- {
		if err := f.undo[i](ctx); err != nil {
			logger.Error("synth: compensation failed", slog.String("error", err.Error()), slog.String("cause", cause.Error()))
			cause = errors.Join(cause, fmt.Errorf("rollback: %w", err))
		}
	}
	f.undo = nil
	events.DeferredFrom(ctx).Discard()
	return cause
}

func transferFailed(step string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransferFailed, step, err)
}
