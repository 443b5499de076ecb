package id

import (
	"strconv"
	"sync/atomic"

	"github.com/rs/xid"
)

// An IDGenerator assigns identities to kernel objects.
type IDGenerator interface {
	Generate() string
}

// NewSequentialIDGenerator returns a generator that produces deterministic,
// monotonically increasing IDs. Deterministic IDs keep recorded runs
// reproducible.
func NewSequentialIDGenerator() IDGenerator {
	return &sequentialIDGenerator{}
}

type sequentialIDGenerator struct {
	nextID uint64
}

func (g *sequentialIDGenerator) Generate() string {
	idNumber := atomic.AddUint64(&g.nextID, 1)
	id := strconv.FormatUint(idNumber, 10)

	return id
}

// NewGlobalIDGenerator returns a generator that produces globally unique IDs,
// suitable for naming runs and output files.
func NewGlobalIDGenerator() IDGenerator {
	return globalIDGenerator{}
}

type globalIDGenerator struct{}

func (g globalIDGenerator) Generate() string {
	return xid.New().String()
}
