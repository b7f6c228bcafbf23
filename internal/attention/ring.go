package attention

import (
	"github.com/samcharles93/ringattn/internal/ring"
	"github.com/samcharles93/ringattn/internal/tensor"
)

// RingParams configures the ring orchestration of the block kernel.
type RingParams struct {
	Causal bool
	// QBlock and KBlock are the tile sizes used when folding the resident
	// query shard against the currently held key/value shard.
	QBlock, KBlock int
	Scale          float32
}

// Ring computes attention for the local query shard against every rank's
// key/value shard. The query shard never moves; the key/value shard (and
// its mask shard) rotate around the ring, one ring exchange per step, for
// WorldSize steps. Each shard visits each rank exactly once, after which
// every shard is back at its origin and the accumulated output is
// normalized.
//
// q, k, v are this rank's shards of shape [batch, heads, shardLen, dim];
// mask is the key validity mask for this rank's shard (nil = all valid).
// In a world of one rank the ring machinery is skipped entirely and the
// materialized reference path is used.
func Ring(c *ring.Context, q, k, v *tensor.Heads, mask *tensor.Mask, p RingParams) *tensor.Heads {
	if !c.Distributed() {
		return Full(q, k, v, mask, p.Causal, p.Scale)
	}

	localLen := q.Len
	qBlock := p.QBlock
	if qBlock <= 0 || qBlock > localLen {
		qBlock = localLen
	}
	kBlock := p.KBlock
	if kBlock <= 0 || kBlock > localLen {
		kBlock = localLen
	}

	st := newSoftmaxState(q.Batch, q.NumHeads, localLen, q.Dim)
	qBase := c.Rank * localLen

	heldK, heldV, heldMask := k, v, mask
	for t := 0; t < c.WorldSize; t++ {
		// The shard held at step t originated at rank (rank - t) mod W;
		// its global key offset follows from that origin.
		origin := (c.Rank - t + c.WorldSize) % c.WorldSize
		kBase := origin * localLen

		for qs := 0; qs < localLen; qs += qBlock {
			qe := min(qs+qBlock, localLen)
			for ks := 0; ks < localLen; ks += kBlock {
				ke := min(ks+kBlock, localLen)
				if p.Causal && kBase+ks > qBase+qe-1 {
					// Key block is strictly ahead of every query in the
					// block; skipping is a local optimisation only, the
					// ring exchange below still runs every step.
					continue
				}
				foldBlock(st, q, heldK, heldV, heldMask, p.Causal, p.Scale, qs, qe, ks, ke, qBase, kBase)
			}
		}

		heldK, heldV, heldMask = rotate(c, heldK, heldV, heldMask)
	}

	return st.output()
}

// rotate sends the held key/value/mask shard to the successor rank and
// receives the predecessor's. All shards share one shape, so the received
// buffers are reinterpreted with the sender-independent local dimensions.
func rotate(c *ring.Context, k, v *tensor.Heads, mask *tensor.Mask) (*tensor.Heads, *tensor.Heads, *tensor.Mask) {
	payload := [][]float32{k.Data, v.Data}
	if mask != nil {
		payload = append(payload, mask.Floats())
	}
	recv := c.Exchange(payload)

	nk := &tensor.Heads{Batch: k.Batch, NumHeads: k.NumHeads, Len: k.Len, Dim: k.Dim, Data: recv[0]}
	nv := &tensor.Heads{Batch: v.Batch, NumHeads: v.NumHeads, Len: v.Len, Dim: v.Dim, Data: recv[1]}
	var nm *tensor.Mask
	if mask != nil {
		nm = tensor.MaskFromFloats(mask.Batch, mask.Len, recv[2])
	}
	return nk, nv, nm
}
