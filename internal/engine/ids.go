package engine

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator produces session and log-entry IDs.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator produces UUIDv7 IDs: time-ordered, so log-entry IDs sort in
// creation order as a tiebreaker.
type UUIDGenerator struct{}

// NewID returns a new UUIDv7, falling back to UUIDv4 if the monotonic
// clock source fails.
func (UUIDGenerator) NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// FixedGenerator produces sequential prefixed IDs for deterministic tests
// and harness runs.
type FixedGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewFixedGenerator creates a generator yielding prefix-0001, prefix-0002, …
func NewFixedGenerator(prefix string) *FixedGenerator {
	return &FixedGenerator{prefix: prefix}
}

// NewID returns the next sequential ID.
func (g *FixedGenerator) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}
