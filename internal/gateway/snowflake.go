package gateway

import (
	"sync"
	"time"
)

// Snowflake epoch: 2023-01-01T00:00:00Z, milliseconds.
const snowflakeEpoch = int64(1672531200000)

const (
	snowflakeNodeBits = 10
	snowflakeSeqBits  = 12

	snowflakeNodeMax = -1 ^ (-1 << snowflakeNodeBits)
	snowflakeSeqMask = -1 ^ (-1 << snowflakeSeqBits)

	snowflakeTimeShift = snowflakeNodeBits + snowflakeSeqBits
	snowflakeNodeShift = snowflakeSeqBits
)

// Snowflake produces unique, time-ordered message identifiers. IDs from a
// single generator are strictly increasing; the generator is safe for
// concurrent use.
type Snowflake struct {
	mu   sync.Mutex
	node int64
	last int64 // ms since epoch of the most recent ID
	seq  int64
}

// NewSnowflake creates a generator for the given node. The node value is
// masked to 10 bits.
func NewSnowflake(node int64) *Snowflake {
	return &Snowflake{node: node & snowflakeNodeMax}
}

// Next returns the next identifier.
func (s *Snowflake) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli() - snowflakeEpoch
	if now < s.last {
		// Clock went backwards; hold at the last timestamp so IDs stay
		// monotonic.
		now = s.last
	}

	if now == s.last {
		s.seq = (s.seq + 1) & snowflakeSeqMask
		if s.seq == 0 {
			// Sequence exhausted within this millisecond.
			s.last++
			now = s.last
		}
	} else {
		s.seq = 0
		s.last = now
	}

	return now<<snowflakeTimeShift | s.node<<snowflakeNodeShift | s.seq
}
