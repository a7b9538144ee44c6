package impressions

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const counterShards = 16

// CountKey identifies a counter bucket.
type CountKey struct {
	FlagName  string
	TimeFrame int64
}

type counterShard struct {
	mu     sync.Mutex
	counts map[CountKey]int64
}

// Counter accumulates impression counts per flag and hour bucket. Writers
// for different flags rarely contend because flags are spread over shards.
type Counter struct {
	shards [counterShards]counterShard
}

// NewCounter creates an empty Counter.
func NewCounter() *Counter {
	c := &Counter{}
	for i := range c.shards {
		c.shards[i].counts = make(map[CountKey]int64)
	}
	return c
}

// Inc adds n to the bucket of flag containing the timestamp ms.
func (c *Counter) Inc(flag string, ms int64, n int64) {
	s := c.shard(flag)
	key := CountKey{FlagName: flag, TimeFrame: TruncateTimeFrame(ms)}

	s.mu.Lock()
	s.counts[key] += n
	s.mu.Unlock()
}

// Pop returns the accumulated counts and resets the Counter.
func (c *Counter) Pop() map[CountKey]int64 {
	out := make(map[CountKey]int64)
	for i := range c.shards {
		s := &c.shards[i]

		s.mu.Lock()
		counts := s.counts
		s.counts = make(map[CountKey]int64)
		s.mu.Unlock()

		for k, v := range counts {
			out[k] += v
		}
	}
	return out
}

// get returns the current count of a bucket without resetting it.
func (c *Counter) get(flag string, ms int64) int64 {
	s := c.shard(flag)
	key := CountKey{FlagName: flag, TimeFrame: TruncateTimeFrame(ms)}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[key]
}

func (c *Counter) shard(flag string) *counterShard {
	return &c.shards[xxhash.Sum64String(flag)%counterShards]
}
