// Package idgen generates the correlation IDs stamped onto signals for
// tracing a cascade back to the publish that started it.
package idgen

import (
	"sync"

	"github.com/google/uuid"
)

// Generator produces a new correlation ID on each call.
type Generator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 correlation IDs. The
// embedded timestamp makes IDs sortable by creation time, which is
// convenient when reading signal_store rows back for debugging.
//
// Stateless, safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new UUIDv7, hyphenated.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns a predetermined sequence of IDs, for tests that
// need deterministic correlation IDs to assert against.
type FixedGenerator struct {
	mu     sync.Mutex
	ids    []string
	idx    int
}

// NewFixedGenerator returns a generator that yields ids in order.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined id. Panics once exhausted, to
// fail fast on test miscounts rather than silently wrapping around.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("idgen: FixedGenerator exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
