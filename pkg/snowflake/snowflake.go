// Package snowflake generates time-ordered 64-bit message ids:
// 41 bits of milliseconds since epoch, 10 bits of node id, 12 bits of
// per-millisecond sequence. Ids from one node are strictly increasing,
// which gives messages a total order even within a millisecond.
package snowflake

import (
	"errors"
	"sync"
	"time"
)

const (
	nodeBits  = 10
	stepBits  = 12
	nodeMax   = -1 ^ (-1 << nodeBits)
	stepMask  = -1 ^ (-1 << stepBits)
	timeShift = nodeBits + stepBits
	nodeShift = stepBits

	// 2024-01-01T00:00:00Z
	epoch int64 = 1704067200000
)

type Node struct {
	mu   sync.Mutex
	last int64
	node int64
	step int64
	now  func() int64
}

// NewNode creates a generator for the given node id (0..1023). Node ids
// must be unique per running instance.
func NewNode(node int64) (*Node, error) {
	if node < 0 || node > nodeMax {
		return nil, errors.New("snowflake: node id out of range 0..1023")
	}
	return &Node{node: node, now: func() int64 { return time.Now().UnixMilli() }}, nil
}

func (n *Node) Generate() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	ms := n.now()
	if ms < n.last {
		// Clock went backwards; hold at the last timestamp rather than
		// risk duplicate ids.
		ms = n.last
	}

	if ms == n.last {
		n.step = (n.step + 1) & stepMask
		if n.step == 0 {
			for ms <= n.last {
				ms = n.now()
			}
		}
	} else {
		n.step = 0
	}
	n.last = ms

	return ((ms - epoch) << timeShift) | (n.node << nodeShift) | n.step
}

// Time extracts the millisecond timestamp embedded in an id.
func Time(id int64) time.Time {
	return time.UnixMilli((id >> timeShift) + epoch)
}
