package ingest

import (
	"fmt"
	"sync"
	"time"
)

// ID kind prefixes. The prefix makes ids sortable by entity kind and
// human-scannable in logs.
const (
	prefixDataset    = "1"
	prefixCollection = "2"
	prefixData       = "3"
	prefixVector     = "4"
)

// IDGenerator issues timestamp-derived ids. Dataset and collection ids
// carry a 3-digit per-process counter; data and vector ids carry the last
// 5 digits of the microsecond clock, bumped when two calls land in the
// same microsecond. The store's unique constraints remain the real
// duplicate guard.
type IDGenerator struct {
	now func() time.Time

	mu        sync.Mutex
	counter   int
	lastMicro int64
}

func NewIDGenerator() *IDGenerator {
	return &IDGenerator{now: time.Now}
}

func (g *IDGenerator) secs() string {
	s := fmt.Sprintf("%06d", g.now().Unix()%1000000)
	return s
}

func (g *IDGenerator) nextCounter() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter = (g.counter + 1) % 1000
	return g.counter
}

func (g *IDGenerator) nextMicro() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	micro := g.now().UnixMicro() % 100000
	if micro <= g.lastMicro {
		micro = (g.lastMicro + 1) % 100000
	}
	g.lastMicro = micro
	return micro
}

func (g *IDGenerator) DatasetID() string {
	return fmt.Sprintf("%s%s%03d", prefixDataset, g.secs(), g.nextCounter())
}

func (g *IDGenerator) CollectionID() string {
	return fmt.Sprintf("%s%s%03d", prefixCollection, g.secs(), g.nextCounter())
}

func (g *IDGenerator) DataID() string {
	return fmt.Sprintf("%s%s%05d", prefixData, g.secs(), g.nextMicro())
}

func (g *IDGenerator) VectorID() string {
	return fmt.Sprintf("%s%s%05d", prefixVector, g.secs(), g.nextMicro())
}
