package synth

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"
)

func TestPriceReaderValidatesReadings(t *testing.T) {
	ctx := context.Background()
	reader := PriceReader{}

	if _, err := reader.Read(ctx, nil, 8); !errors.Is(err, ErrOracleUnset) {
		t.Fatalf("expected ErrOracleUnset, got %v", err)
	}

	feed := newMockFeed("feed", 0, 8)
	if _, err := reader.Read(ctx, feed, 8); !errors.Is(err, ErrOracleInvalid) {
		t.Fatalf("expected ErrOracleInvalid for zero price, got %v", err)
	}
	feed.set(-5)
	if _, err := reader.Read(ctx, feed, 8); !errors.Is(err, ErrOracleInvalid) {
		t.Fatalf("expected ErrOracleInvalid for negative price, got %v", err)
	}
	feed.set(usd)
	feed.updated = 0
	if _, err := reader.Read(ctx, feed, 8); !errors.Is(err, ErrOracleInvalid) {
		t.Fatalf("expected ErrOracleInvalid for unset timestamp, got %v", err)
	}
	feed.updated = 1
	feed.err = errors.New("rpc down")
	if _, err := reader.Read(ctx, feed, 8); !errors.Is(err, ErrOracleInvalid) {
		t.Fatalf("expected ErrOracleInvalid for transport error, got %v", err)
	}
	feed.err = nil

	// An ancient reading passes while the age check is disabled.
	q, err := reader.Read(ctx, feed, 8)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if q.Price.Cmp(big.NewInt(usd)) != 0 || q.Decimals != 8 || q.UpdatedAt != 1 {
		t.Fatalf("unexpected quote %+v", q)
	}
}

func TestPriceReaderRejectsStaleReadings(t *testing.T) {
	now := time.Unix(1_700_000_600, 0)
	reader := PriceReader{MaxAge: 5 * time.Minute, Now: func() time.Time { return now }}
	feed := newMockFeed("feed", usd, 8)

	feed.updated = 1_700_000_000
	if _, err := reader.Read(context.Background(), feed, 8); !errors.Is(err, ErrOracleStale) {
		t.Fatalf("expected ErrOracleStale, got %v", err)
	}
	feed.updated = 1_700_000_400
	if _, err := reader.Read(context.Background(), feed, 8); err != nil {
		t.Fatalf("fresh reading rejected: %v", err)
	}
}

func TestPriceReaderCopiesPrice(t *testing.T) {
	feed := newMockFeed("feed", usd, 8)
	q, err := PriceReader{}.Read(context.Background(), feed, 8)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	q.Price.SetInt64(1)
	if feed.price.Cmp(big.NewInt(usd)) != 0 {
		t.Fatalf("quote aliases feed price")
	}
}
