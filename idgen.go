package peerrpc

import (
	mathrand "math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

// IDGenerator issues the ids of outgoing calls. Implementations must be safe for
// concurrent use and should not repeat an id while a call using it is pending.
type IDGenerator interface {
	NextID() ID
}

// ULIDGenerator issues lexicographically sortable ULID string ids.
// It is the default [IDGenerator] of an [Engine].
type ULIDGenerator struct {
	entropy *ulid.MonotonicEntropy
	mu      sync.Mutex
}

// NewULIDGenerator returns a [*ULIDGenerator] seeded from the current time.
func NewULIDGenerator() *ULIDGenerator {
	//nolint:gosec // Ids only need to be unique, not unpredictable
	return &ULIDGenerator{entropy: ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)}
}

// NextID implements [IDGenerator].
func (g *ULIDGenerator) NextID() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	return NewID(ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy).String())
}

// SequenceGenerator issues ids made of a prefix and an increasing counter ("c1", "c2", ...).
type SequenceGenerator struct {
	prefix string
	n      atomic.Uint64
}

// NewSequenceGenerator returns a [*SequenceGenerator] using prefix.
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	return &SequenceGenerator{prefix: prefix}
}

// NextID implements [IDGenerator].
func (g *SequenceGenerator) NextID() ID {
	return NewID(g.prefix + strconv.FormatUint(g.n.Add(1), 10))
}
