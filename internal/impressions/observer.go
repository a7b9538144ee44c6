package impressions

import (
	"fmt"
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spaolacci/murmur3"
)

// Hash identifies an impression by (matching key, flag, treatment, label,
// change number). It is the first half of MurmurHash3 x64_128 with seed 0.
func Hash(imp *Impression) uint64 {
	buf := make([]byte, 0, len(imp.MatchingKey)+len(imp.FlagName)+len(imp.Treatment)+len(imp.Label)+24)
	buf = append(buf, imp.MatchingKey...)
	buf = append(buf, ':')
	buf = append(buf, imp.FlagName...)
	buf = append(buf, ':')
	buf = append(buf, imp.Treatment...)
	buf = append(buf, ':')
	buf = append(buf, imp.Label...)
	buf = append(buf, ':')
	buf = strconv.AppendInt(buf, imp.ChangeNumber, 10)

	h1, _ := murmur3.Sum128WithSeed(buf, 0)
	return h1
}

// Observer remembers when each distinct impression was last seen, within a
// bounded LRU history.
type Observer struct {
	mu    sync.Mutex
	cache *lru.Cache[uint64, int64]
}

// NewObserver creates an Observer holding at most size entries.
func NewObserver(size int) (*Observer, error) {
	cache, err := lru.New[uint64, int64](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create impressions observer: %w", err)
	}
	return &Observer{cache: cache}, nil
}

// TestAndSet stores imp.Time as the last-seen time of imp. When imp was seen
// before it returns the smaller of the previous last-seen time and imp.Time,
// and true.
func (o *Observer) TestAndSet(imp *Impression) (int64, bool) {
	h := Hash(imp)

	o.mu.Lock()
	defer o.mu.Unlock()

	prev, ok := o.cache.Get(h)
	o.cache.Add(h, imp.Time)
	if !ok {
		return 0, false
	}
	return min(prev, imp.Time), true
}

// size returns the number of remembered impressions.
func (o *Observer) size() int {
	return o.cache.Len()
}
