package synth

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"synthvault/core/events"
	"synthvault/crypto"
)

var errInsufficientBalance = errors.New("insufficient balance")

func makeAddress(suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(crypto.SynthPrefix, raw)
}

func amount(t *testing.T, v string) *big.Int {
	t.Helper()
	out, ok := new(big.Int).SetString(v, 10)
	if !ok {
		t.Fatalf("invalid amount %q", v)
	}
	return out
}

// mockToken is a balance map standing in for both token collaborators.
type mockToken struct {
	decimals uint8
	balances map[string]*big.Int
	supply   *big.Int

	failTransfer error
	failIssue    error
	failBurn     error
	onIssue      func(ctx context.Context)
	emitter      events.Emitter
}

func newMockToken(decimals uint8) *mockToken {
	return &mockToken{decimals: decimals, balances: make(map[string]*big.Int), supply: big.NewInt(0)}
}

func (m *mockToken) balance(addr crypto.Address) *big.Int {
	bal, ok := m.balances[addr.Key()]
	if !ok {
		bal = big.NewInt(0)
		m.balances[addr.Key()] = bal
	}
	return bal
}

func (m *mockToken) credit(addr crypto.Address, amt *big.Int) {
	m.balance(addr).Add(m.balance(addr), amt)
}

func (m *mockToken) move(from, to crypto.Address, amt *big.Int) error {
	if m.balance(from).Cmp(amt) < 0 {
		return errInsufficientBalance
	}
	m.balance(from).Sub(m.balance(from), amt)
	m.balance(to).Add(m.balance(to), amt)
	return nil
}

func (m *mockToken) emit(ctx context.Context, evt events.Event) {
	if m.emitter != nil {
		events.EmitContext(ctx, m.emitter, evt)
	}
}

func (m *mockToken) TransferFrom(ctx context.Context, owner, recipient crypto.Address, amt *big.Int) error {
	return m.Transfer(ctx, owner, recipient, amt)
}

func (m *mockToken) Transfer(ctx context.Context, sender, recipient crypto.Address, amt *big.Int) error {
	if m.failTransfer != nil {
		return m.failTransfer
	}
	if err := m.move(sender, recipient, amt); err != nil {
		return err
	}
	m.emit(ctx, events.Transfer{From: sender, To: recipient, Amount: new(big.Int).Set(amt)})
	return nil
}

func (m *mockToken) BalanceOf(addr crypto.Address) *big.Int {
	return new(big.Int).Set(m.balance(addr))
}

func (m *mockToken) Decimals() uint8 { return m.decimals }

func (m *mockToken) Issue(ctx context.Context, recipient crypto.Address, amt *big.Int) error {
	if m.onIssue != nil {
		m.onIssue(ctx)
	}
	if m.failIssue != nil {
		return m.failIssue
	}
	m.credit(recipient, amt)
	m.supply.Add(m.supply, amt)
	m.emit(ctx, events.TokenSupply{Total: new(big.Int).Set(m.supply), Delta: new(big.Int).Set(amt)})
	return nil
}

func (m *mockToken) Burn(ctx context.Context, holder crypto.Address, amt *big.Int) error {
	if m.failBurn != nil {
		return m.failBurn
	}
	if m.balance(holder).Cmp(amt) < 0 {
		return errInsufficientBalance
	}
	m.balance(holder).Sub(m.balance(holder), amt)
	m.supply.Sub(m.supply, amt)
	m.emit(ctx, events.TokenSupply{Total: new(big.Int).Set(m.supply), Delta: new(big.Int).Neg(amt)})
	return nil
}

type mockFeed struct {
	id       string
	price    *big.Int
	decimals uint8
	updated  uint64
	err      error
}

func newMockFeed(id string, price int64, decimals uint8) *mockFeed {
	return &mockFeed{id: id, price: big.NewInt(price), decimals: decimals, updated: 1_700_000_000}
}

func (f *mockFeed) ID() string { return f.id }

func (f *mockFeed) Latest(context.Context) (Reading, error) {
	if f.err != nil {
		return Reading{}, f.err
	}
	return Reading{Price: new(big.Int).Set(f.price), UpdatedAt: f.updated}, nil
}

func (f *mockFeed) Decimals(context.Context) (uint8, error) { return f.decimals, nil }

func (f *mockFeed) set(price int64) { f.price = big.NewInt(price) }

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) { r.events = append(r.events, evt) }

type failingState struct {
	*MemState
	failPut error
}

func (s *failingState) PutPosition(addr crypto.Address, pos *Position) error {
	if s.failPut != nil {
		return s.failPut
	}
	return s.MemState.PutPosition(addr, pos)
}

const (
	usd = 100_000_000 // one dollar at 8 price decimals
)

// testEnv wires an engine with a 6 decimal collateral worth $1 and an 18
// decimal synthetic worth $5200, at 150% target, 120% minimum and 5% bonus.
type testEnv struct {
	engine         *Engine
	state          *MemState
	collateral     *mockToken
	synthetic      *mockToken
	collateralFeed *mockFeed
	syntheticFeed  *mockFeed
	emitter        *recordingEmitter
	module         crypto.Address
	admin          crypto.Address
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		state:          NewMemState(),
		collateral:     newMockToken(6),
		synthetic:      newMockToken(18),
		collateralFeed: newMockFeed("usdc-usd", 1*usd, 8),
		syntheticFeed:  newMockFeed("xau-usd", 5200*usd, 8),
		emitter:        &recordingEmitter{},
		module:         makeAddress(0xF0),
		admin:          makeAddress(0xAD),
	}
	engine, err := NewEngine(env.module, Params{TargetRatioBps: 15_000, MinRatioBps: 12_000, LiquidationBonusBps: 500})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	engine.SetState(env.state)
	if err := engine.LoadState(); err != nil {
		t.Fatalf("load state: %v", err)
	}
	engine.SetTokens(env.collateral, env.synthetic)
	if err := engine.SetPriceFeeds(context.Background(), env.collateralFeed, env.syntheticFeed); err != nil {
		t.Fatalf("set feeds: %v", err)
	}
	engine.SetEmitter(env.emitter)
	engine.SetAuthorizer(NewAllowList(env.admin))
	env.engine = engine
	return env
}

// fund credits account with whole collateral tokens.
func (env *testEnv) fund(account crypto.Address, whole int64) {
	env.collateral.credit(account, new(big.Int).Mul(big.NewInt(whole), big.NewInt(1_000_000)))
}

func (env *testEnv) position(t *testing.T, account crypto.Address) *Position {
	t.Helper()
	pos, err := env.engine.Position(account)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	return pos
}
