package bank

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"synthvault/core/events"
	"synthvault/crypto"
	"synthvault/storage"
)

var (
	ErrInvalidAmount       = errors.New("bank: amount must be positive")
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
)

// Token is a fungible token ledger. It serves as the collateral token (plain
// transfers) and the synthetic token (issue and burn) of the synth engine
// when no external token system is attached. Balances are kept in memory and
// mirrored to db when one is supplied.
type Token struct {
	mu       sync.Mutex
	symbol   string
	decimals uint8
	balances map[string]*big.Int
	supply   *big.Int
	db       storage.Database
	emitter  events.Emitter
}

// NewToken creates an empty token. A nil db keeps the ledger in memory only.
func NewToken(symbol string, decimals uint8, db storage.Database) *Token {
	return &Token{
		symbol:   strings.ToUpper(strings.TrimSpace(symbol)),
		decimals: decimals,
		balances: make(map[string]*big.Int),
		supply:   big.NewInt(0),
		db:       db,
		emitter:  events.NoopEmitter{},
	}
}

// SetEmitter configures the sink for transfer and supply events. Events of a
// call whose context carries an events.Deferred are queued there instead.
func (t *Token) SetEmitter(emitter events.Emitter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	t.emitter = emitter
}

func (t *Token) Symbol() string  { return t.symbol }
func (t *Token) Decimals() uint8 { return t.decimals }

func (t *Token) balanceKey(addr crypto.Address) []byte {
	return ethcrypto.Keccak256([]byte("bank/"+t.symbol+"/balance/"), addr.Bytes())
}

func (t *Token) supplyKey() []byte {
	return ethcrypto.Keccak256([]byte("bank/" + t.symbol + "/supply"))
}

func (t *Token) load(key []byte) (*big.Int, error) {
	out := big.NewInt(0)
	if t.db == nil {
		return out, nil
	}
	data, err := t.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return nil, fmt.Errorf("bank: decode: %w", err)
	}
	return out, nil
}

// ledgerWrite is one balance or supply record of a batched update.
type ledgerWrite struct {
	key   []byte
	value *big.Int
}

// store commits writes in a single batch so balances and supply never
// diverge on a partial failure.
func (t *Token) store(writes ...ledgerWrite) error {
	if t.db == nil {
		return nil
	}
	batch := t.db.NewBatch()
	for _, w := range writes {
		encoded, err := rlp.EncodeToBytes(w.value)
		if err != nil {
			return err
		}
		batch.Put(w.key, encoded)
	}
	return batch.Write()
}

// balance returns the live balance entry for addr, reading through to the
// database on first access.
func (t *Token) balance(addr crypto.Address) (*big.Int, error) {
	if bal, ok := t.balances[addr.Key()]; ok {
		return bal, nil
	}
	bal, err := t.load(t.balanceKey(addr))
	if err != nil {
		return nil, err
	}
	t.balances[addr.Key()] = bal
	return bal, nil
}

func (t *Token) totalSupply() (*big.Int, error) {
	if t.supply.Sign() == 0 && t.db != nil {
		stored, err := t.load(t.supplyKey())
		if err != nil {
			return nil, err
		}
		t.supply = stored
	}
	return t.supply, nil
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// BalanceOf returns a copy of addr's balance. Storage failures read as zero.
func (t *Token) BalanceOf(addr crypto.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	bal, err := t.balance(addr)
	if err != nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(bal)
}

// TotalSupply returns the outstanding supply.
func (t *Token) TotalSupply() (*big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	supply, err := t.totalSupply()
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(supply), nil
}

// Transfer moves amount from sender to recipient.
func (t *Token) Transfer(ctx context.Context, sender, recipient crypto.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(ctx, sender, recipient, amount)
}

// TransferFrom moves amount from owner to recipient on behalf of the engine.
// Allowances belong to the external token system and are not modelled.
func (t *Token) TransferFrom(ctx context.Context, owner, recipient crypto.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(ctx, owner, recipient, amount)
}

func (t *Token) move(ctx context.Context, from, to crypto.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	fromBal, err := t.balance(from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s %s, needs %s", ErrInsufficientBalance, from, fromBal, t.symbol, amount)
	}
	toBal, err := t.balance(to)
	if err != nil {
		return err
	}
	nextFrom := new(big.Int).Sub(fromBal, amount)
	nextTo := new(big.Int).Add(toBal, amount)
	if from.Equal(to) {
		nextTo = new(big.Int).Set(fromBal)
		nextFrom = nextTo
	}
	if err := t.store(
		ledgerWrite{key: t.balanceKey(from), value: nextFrom},
		ledgerWrite{key: t.balanceKey(to), value: nextTo},
	); err != nil {
		return err
	}
	fromBal.Set(nextFrom)
	toBal.Set(nextTo)
	events.EmitContext(ctx, t.emitter, events.Transfer{Token: t.symbol, From: from, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

// Credit adds amount to addr and to the supply without an issuer check. It
// seeds balances for faucets and tests.
func (t *Token) Credit(addr crypto.Address, amount *big.Int) error {
	return t.Issue(context.Background(), addr, amount)
}

// Issue mints amount to recipient.
func (t *Token) Issue(ctx context.Context, recipient crypto.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := validAmount(amount); err != nil {
		return err
	}
	bal, err := t.balance(recipient)
	if err != nil {
		return err
	}
	supply, err := t.totalSupply()
	if err != nil {
		return err
	}
	nextBal := new(big.Int).Add(bal, amount)
	nextSupply := new(big.Int).Add(supply, amount)
	if err := t.commit(recipient, nextBal, nextSupply); err != nil {
		return err
	}
	bal.Set(nextBal)
	supply.Set(nextSupply)
	events.EmitContext(ctx, t.emitter, events.TokenSupply{Token: t.symbol, Total: new(big.Int).Set(nextSupply), Delta: new(big.Int).Set(amount), Reason: events.SupplyReasonMint})
	return nil
}

// Burn destroys amount held by holder.
func (t *Token) Burn(ctx context.Context, holder crypto.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := validAmount(amount); err != nil {
		return err
	}
	bal, err := t.balance(holder)
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s %s, burning %s", ErrInsufficientBalance, holder, bal, t.symbol, amount)
	}
	supply, err := t.totalSupply()
	if err != nil {
		return err
	}
	nextBal := new(big.Int).Sub(bal, amount)
	nextSupply := new(big.Int).Sub(supply, amount)
	if err := t.commit(holder, nextBal, nextSupply); err != nil {
		return err
	}
	bal.Set(nextBal)
	supply.Set(nextSupply)
	events.EmitContext(ctx, t.emitter, events.TokenSupply{Token: t.symbol, Total: new(big.Int).Set(nextSupply), Delta: new(big.Int).Neg(amount), Reason: events.SupplyReasonBurn})
	return nil
}

func (t *Token) commit(addr crypto.Address, balance, supply *big.Int) error {
	return t.store(
		ledgerWrite{key: t.balanceKey(addr), value: balance},
		ledgerWrite{key: t.supplyKey(), value: supply},
	)
}
