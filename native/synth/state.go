package synth

import (
	"sync"

	"synthvault/crypto"
)

// State is the persistence boundary of the engine: the position ledger plus
// the persisted administrative surface. Stores perform no validation; the
// engine computes every value before writing it.
type State interface {
	GetPosition(addr crypto.Address) (*Position, error)
	PutPosition(addr crypto.Address, pos *Position) error

	// GetParams returns nil when no parameters have been persisted yet.
	GetParams() (*Params, error)
	PutParams(params Params) error
	GetPaused() (bool, error)
	PutPaused(paused bool) error
	GetFeedBinding(kind FeedKind) (string, error)
	PutFeedBinding(kind FeedKind, id string) error
}

// MemState is an in-memory State used by tests and embedded deployments.
type MemState struct {
	mu        sync.RWMutex
	positions map[string]*Position
	params    *Params
	paused    bool
	feeds     map[FeedKind]string
}

// NewMemState constructs an empty in-memory state.
func NewMemState() *MemState {
	return &MemState{
		positions: make(map[string]*Position),
		feeds:     make(map[FeedKind]string),
	}
}

// GetPosition returns a copy of the stored position or a zero position.
func (s *MemState) GetPosition(addr crypto.Address) (*Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.positions[addr.Key()].Clone(), nil
}

// PutPosition stores a copy of pos.
func (s *MemState) PutPosition(addr crypto.Address, pos *Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[addr.Key()] = pos.Clone()
	return nil
}

func (s *MemState) GetParams() (*Params, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.params == nil {
		return nil, nil
	}
	p := *s.params
	return &p, nil
}

func (s *MemState) PutParams(params Params) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = &params
	return nil
}

func (s *MemState) GetPaused() (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused, nil
}

func (s *MemState) PutPaused(paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = paused
	return nil
}

func (s *MemState) GetFeedBinding(kind FeedKind) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.feeds[kind], nil
}

func (s *MemState) PutFeedBinding(kind FeedKind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeds[kind] = id
	return nil
}
