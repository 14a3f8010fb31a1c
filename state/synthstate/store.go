package synthstate

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"synthvault/crypto"
	"synthvault/native/synth"
	"synthvault/storage"
)

var (
	positionPrefix = []byte("synth/position/")
	positionIndex  = []byte("synth/position/index")
	paramsKey      = []byte("synth/params")
	pausedKey      = []byte("synth/paused")
	feedPrefix     = []byte("synth/feed/")
)

type storedPosition struct {
	Collateral *big.Int
	Debt       *big.Int
}

type storedParams struct {
	TargetRatioBps      uint64
	MinRatioBps         uint64
	LiquidationBonusBps uint64
}

// Store persists the synth ledger as RLP records in a key-value database.
// Keys are keccak256 hashed so record layout is independent of address
// encoding.
type Store struct {
	mu sync.Mutex
	db storage.Database
}

var _ synth.State = (*Store)(nil)

// New wraps db. The caller retains ownership of db and closes it.
func New(db storage.Database) *Store {
	return &Store{db: db}
}

func hashKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func positionKey(addr crypto.Address) []byte {
	return append(append([]byte(nil), positionPrefix...), addr.Bytes()...)
}

func feedKey(kind synth.FeedKind) []byte {
	return append(append([]byte(nil), feedPrefix...), string(kind)...)
}

func (s *Store) put(key []byte, value interface{}) error {
	batch := s.db.NewBatch()
	if err := stage(batch, key, value); err != nil {
		return err
	}
	return batch.Write()
}

func stage(batch storage.Batch, key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	batch.Put(hashKey(key), encoded)
	return nil
}

func (s *Store) get(key []byte, out interface{}) (bool, error) {
	data, err := s.db.Get(hashKey(key))
	if errors.Is(err, storage.ErrNotFound) || (err == nil && len(data) == 0) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

// GetPosition returns the stored position or a zero position.
func (s *Store) GetPosition(addr crypto.Address) (*synth.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rec storedPosition
	ok, err := s.get(positionKey(addr), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &synth.Position{Collateral: big.NewInt(0), Debt: big.NewInt(0)}, nil
	}
	return (&synth.Position{Collateral: rec.Collateral, Debt: rec.Debt}).Clone(), nil
}

// PutPosition stores pos and records addr in the position index on first
// write. Both records are committed in one batch.
func (s *Store) PutPosition(addr crypto.Address, pos *synth.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := pos.Clone()
	batch := s.db.NewBatch()
	if err := stage(batch, positionKey(addr), storedPosition{Collateral: clone.Collateral, Debt: clone.Debt}); err != nil {
		return err
	}
	if err := s.stageIndex(batch, addr.Bytes()); err != nil {
		return err
	}
	return batch.Write()
}

func (s *Store) stageIndex(batch storage.Batch, value []byte) error {
	var list [][]byte
	if _, err := s.get(positionIndex, &list); err != nil {
		return err
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	return stage(batch, positionIndex, list)
}

// Accounts returns every account that has ever held a position, in first
// write order.
func (s *Store) Accounts() ([]crypto.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list [][]byte
	if _, err := s.get(positionIndex, &list); err != nil {
		return nil, err
	}
	out := make([]crypto.Address, 0, len(list))
	for _, raw := range list {
		out = append(out, crypto.NewAddress(crypto.SynthPrefix, raw))
	}
	return out, nil
}

// Totals sums collateral and debt across every recorded position.
func (s *Store) Totals() (collateral, debt *big.Int, err error) {
	accounts, err := s.Accounts()
	if err != nil {
		return nil, nil, err
	}
	collateral, debt = big.NewInt(0), big.NewInt(0)
	for _, addr := range accounts {
		pos, err := s.GetPosition(addr)
		if err != nil {
			return nil, nil, err
		}
		collateral.Add(collateral, pos.Collateral)
		debt.Add(debt, pos.Debt)
	}
	return collateral, debt, nil
}

func (s *Store) GetParams() (*synth.Params, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rec storedParams
	ok, err := s.get(paramsKey, &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &synth.Params{
		TargetRatioBps:      rec.TargetRatioBps,
		MinRatioBps:         rec.MinRatioBps,
		LiquidationBonusBps: rec.LiquidationBonusBps,
	}, nil
}

func (s *Store) PutParams(params synth.Params) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(paramsKey, storedParams{
		TargetRatioBps:      params.TargetRatioBps,
		MinRatioBps:         params.MinRatioBps,
		LiquidationBonusBps: params.LiquidationBonusBps,
	})
}

func (s *Store) GetPaused() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var paused bool
	_, err := s.get(pausedKey, &paused)
	return paused, err
}

func (s *Store) PutPaused(paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(pausedKey, paused)
}

func (s *Store) GetFeedBinding(kind synth.FeedKind) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var id string
	_, err := s.get(feedKey(kind), &id)
	return id, err
}

func (s *Store) PutFeedBinding(kind synth.FeedKind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(feedKey(kind), id)
}
