package synth

import (
	"context"
	"fmt"
	"math/big"
	"time"
)

// Reading is the raw answer returned by a price source.
type Reading struct {
	// Price is signed; upstream aggregators may report zero or negative
	// answers which must be rejected.
	Price *big.Int
	// UpdatedAt is the unix timestamp of the answer; zero means the feed has
	// never been updated.
	UpdatedAt uint64
}

// PriceSource is the read contract of an external price feed.
type PriceSource interface {
	// ID identifies the feed binding, e.g. an aggregator contract address.
	ID() string
	Latest(ctx context.Context) (Reading, error)
	Decimals(ctx context.Context) (uint8, error)
}

// PriceQuote is a validated reading scaled by Decimals. It lives only for the
// duration of a single operation.
type PriceQuote struct {
	Price     *big.Int
	Decimals  uint8
	UpdatedAt uint64
}

// PriceReader validates readings from a PriceSource. A zero MaxAge disables
// the age check.
type PriceReader struct {
	MaxAge time.Duration
	Now    func() time.Time
}

// Read fetches and validates the latest reading of src. decimals is the
// cached feed scale.
func (r PriceReader) Read(ctx context.Context, src PriceSource, decimals uint8) (PriceQuote, error) {
	if src == nil {
		return PriceQuote{}, ErrOracleUnset
	}
	reading, err := src.Latest(ctx)
	if err != nil {
		return PriceQuote{}, fmt.Errorf("%w: %s: %w", ErrOracleInvalid, src.ID(), err)
	}
	if reading.UpdatedAt == 0 || reading.Price == nil || reading.Price.Sign() <= 0 {
		return PriceQuote{}, fmt.Errorf("%w: %s", ErrOracleInvalid, src.ID())
	}
	if r.MaxAge > 0 {
		now := time.Now
		if r.Now != nil {
			now = r.Now
		}
		updated := time.Unix(int64(reading.UpdatedAt), 0)
		if now().Sub(updated) > r.MaxAge {
			return PriceQuote{}, fmt.Errorf("%w: %s updated %s", ErrOracleStale, src.ID(), updated.UTC().Format(time.RFC3339))
		}
	}
	return PriceQuote{
		Price:     new(big.Int).Set(reading.Price),
		Decimals:  decimals,
		UpdatedAt: reading.UpdatedAt,
	}, nil
}
