package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"synthvault/native/synth"
)

// ErrNoPrice is returned by a manual feed that has never been published to.
var ErrNoPrice = errors.New("oracle: no price published")

// ManualFeed is an operator published price. Readings carry the time of the
// last publish so the engine's age check applies to them as to any feed.
type ManualFeed struct {
	mu        sync.RWMutex
	id        string
	decimals  uint8
	price     *big.Int
	updatedAt uint64
	now       func() time.Time
}

var _ synth.PriceSource = (*ManualFeed)(nil)

// NewManualFeed constructs an empty feed quoting prices with decimals.
func NewManualFeed(id string, decimals uint8) *ManualFeed {
	return &ManualFeed{id: strings.TrimSpace(id), decimals: decimals, now: time.Now}
}

func (f *ManualFeed) ID() string { return f.id }

// Publish records price as the latest reading.
func (f *ManualFeed) Publish(price *big.Int) error {
	if price == nil || price.Sign() <= 0 {
		return fmt.Errorf("oracle: %s price must be positive", f.id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = new(big.Int).Set(price)
	f.updatedAt = uint64(f.now().Unix())
	return nil
}

// PublishString parses a base-10 price before publishing it.
func (f *ManualFeed) PublishString(raw string) error {
	price, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return fmt.Errorf("oracle: %s invalid price %q", f.id, raw)
	}
	return f.Publish(price)
}

func (f *ManualFeed) Latest(context.Context) (synth.Reading, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.price == nil {
		return synth.Reading{}, ErrNoPrice
	}
	return synth.Reading{Price: new(big.Int).Set(f.price), UpdatedAt: f.updatedAt}, nil
}

func (f *ManualFeed) Decimals(context.Context) (uint8, error) { return f.decimals, nil }
