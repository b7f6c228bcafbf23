package ring

import (
	"sync"

	"github.com/samcharles93/ringattn/internal/tensor"
)

// Axis selects the tensor dimension a collective operates on.
type Axis int

const (
	AxisBatch Axis = iota
	AxisLen
)

// collective is a reusable rendezvous point: each rank deposits its
// contribution, the last arrival snapshots the round, and every rank leaves
// with the same ordered set of parts. A new round cannot begin until every
// rank has left the previous one.
type collective struct {
	mu      sync.Mutex
	cond    *sync.Cond
	size    int
	parts   []any
	snap    []any
	arrived int
	leaving int
	gen     uint64
}

func newCollective(size int) *collective {
	c := &collective{
		size:  size,
		parts: make([]any, size),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// round deposits part for rank and returns every rank's contribution in
// rank order. Blocks until all ranks of the world have arrived.
func (c *collective) round(rank int, part any) []any {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.leaving > 0 {
		c.cond.Wait()
	}
	c.parts[rank] = part
	c.arrived++
	gen := c.gen
	if c.arrived == c.size {
		c.snap = append([]any(nil), c.parts...)
		c.arrived = 0
		c.leaving = c.size
		c.gen++
		c.cond.Broadcast()
	} else {
		for gen == c.gen {
			c.cond.Wait()
		}
	}
	out := c.snap
	c.leaving--
	if c.leaving == 0 {
		c.cond.Broadcast()
	}
	return out
}

// Barrier blocks until every rank of the world has reached it.
func (c *Context) Barrier() {
	c.w.coll.round(c.Rank, nil)
}

// AllGatherSeq gathers x from every rank along the given axis and returns
// the concatenation in rank order together with each rank's contributed
// extent along that axis. Ranks may contribute uneven extents along the
// batch axis; the returned sizes make the reverse split unambiguous.
func (c *Context) AllGatherSeq(x *tensor.Seq, axis Axis) (*tensor.Seq, []int) {
	raw := c.w.coll.round(c.Rank, x)
	parts := make([]*tensor.Seq, len(raw))
	sizes := make([]int, len(raw))
	for i, p := range raw {
		parts[i] = p.(*tensor.Seq)
		switch axis {
		case AxisBatch:
			sizes[i] = parts[i].Batch
		case AxisLen:
			sizes[i] = parts[i].Len
		}
	}
	switch axis {
	case AxisBatch:
		return tensor.ConcatBatch(parts), sizes
	case AxisLen:
		return tensor.ConcatLen(parts), sizes
	default:
		panic("unknown gather axis")
	}
}

// AllGatherMask gathers a validity mask from every rank along the batch
// axis, in rank order.
func (c *Context) AllGatherMask(m *tensor.Mask) (*tensor.Mask, []int) {
	raw := c.w.coll.round(c.Rank, m)
	parts := make([]*tensor.Mask, len(raw))
	sizes := make([]int, len(raw))
	for i, p := range raw {
		parts[i] = p.(*tensor.Mask)
		sizes[i] = parts[i].Batch
	}
	return tensor.ConcatMaskBatch(parts), sizes
}
