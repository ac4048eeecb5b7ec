// Package treasure implements the per-entity coin-accumulation ledger.
package treasure

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/pedalhouse/engine/internal/domain/zone"
	"github.com/pedalhouse/engine/pkg/metrics"
)

// defaultCoinUnit is the elapsed time worth one coin.
const defaultCoinUnit = 5 * time.Second

// Crediter credits coins to a participation entity. Satisfied by
// entity.Registry.
type Crediter interface {
	AddCoins(entityID string, coins int) error
}

// Summary reports accumulated currency for the persistence payload.
type Summary struct {
	TotalCoins int            `json:"totalCoins"`
	Buckets    map[string]int `json:"buckets"`
}

// Box converts zone plus elapsed time into coins. Totals only grow;
// they reset solely by creating a new entity.
type Box struct {
	mu       sync.Mutex
	coinUnit time.Duration
	crediter Crediter
	total    int
	buckets  map[zone.Zone]int
}

// Option applies a configuration option to the Box.
type Option func(*Box)

// WithCoinUnit sets the elapsed time worth one coin.
func WithCoinUnit(unit time.Duration) Option {
	return func(b *Box) {
		if unit > 0 {
			b.coinUnit = unit
		}
	}
}

// New creates a treasure box crediting entities through the given crediter.
func New(crediter Crediter, opts ...Option) *Box {
	b := &Box{
		coinUnit: defaultCoinUnit,
		crediter: crediter,
		buckets:  make(map[zone.Zone]int),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Tick credits round(elapsed/coinUnit) coins to the entity and the
// zone's bucket. Crediting an ended entity fails; the bucket is only
// touched when the entity credit succeeds.
func (b *Box) Tick(entityID string, z zone.Zone, elapsed time.Duration) (int, error) {
	coins := int(math.Round(float64(elapsed.Milliseconds()) / float64(b.coinUnit.Milliseconds())))
	if coins <= 0 {
		return 0, nil
	}
	if err := b.crediter.AddCoins(entityID, coins); err != nil {
		return 0, fmt.Errorf("credit entity: %w", err)
	}

	b.mu.Lock()
	b.total += coins
	b.buckets[z] += coins
	b.mu.Unlock()

	metrics.RecordCoinsMinted(coins)
	metrics.RecordCoinsByZone(string(z), coins)
	return coins, nil
}

// Summary returns the session-wide totals and per-zone buckets.
func (b *Box) Summary() Summary {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Summary{
		TotalCoins: b.total,
		Buckets:    make(map[string]int, len(b.buckets)),
	}
	for z, coins := range b.buckets {
		s.Buckets[string(z)] = coins
	}
	return s
}
