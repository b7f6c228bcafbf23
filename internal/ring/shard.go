package ring

import (
	"fmt"

	"github.com/samcharles93/ringattn/internal/tensor"
)

// ShardBatchToSequence converts a batch-sharded, whole-sequence-per-rank
// tensor into a sequence-sharded one: the sequence axis is padded to a
// multiple of shardSize, every rank's batch is gathered, the gathered
// sequence is split into WorldSize chunks of shardSize positions, and rank
// r keeps chunk r.
//
// The returned sizes record each rank's contributed batch extent and are
// required by ShardSequenceToBatch to invert the conversion. padLen is the
// number of synthetic positions appended; the caller must truncate the
// final output back to the original sequence length. Padded positions are
// always marked invalid in the returned mask, which is synthesized as
// all-valid first when padding is needed and no mask was given.
func ShardBatchToSequence(c *Context, x *tensor.Seq, mask *tensor.Mask, shardSize int) (*tensor.Seq, *tensor.Mask, []int, int, error) {
	if shardSize <= 0 {
		return nil, nil, nil, 0, fmt.Errorf("shard size must be positive, got %d", shardSize)
	}
	if mask != nil && (mask.Batch != x.Batch || mask.Len != x.Len) {
		return nil, nil, nil, 0, fmt.Errorf("mask shape [%d,%d] does not match sequence shape [%d,%d]",
			mask.Batch, mask.Len, x.Batch, x.Len)
	}

	padLen := tensor.PadLength(x.Len, shardSize)
	if padLen > 0 {
		if mask == nil {
			mask = tensor.AllValid(x.Batch, x.Len)
		}
		x = tensor.PadSeq(x, padLen)
		mask = tensor.PadMask(mask, padLen)
	}

	gathered, sizes := c.AllGatherSeq(x, AxisBatch)

	chunks := gathered.Len / shardSize
	if chunks != c.WorldSize {
		return nil, nil, nil, 0, fmt.Errorf("sequence of length %d splits into %d shards of %d, world size is %d",
			gathered.Len, chunks, shardSize, c.WorldSize)
	}

	var maskShard *tensor.Mask
	if mask != nil {
		gatheredMask, _ := c.AllGatherMask(mask)
		maskShard = gatheredMask.SplitLen(shardSize)[c.Rank]
	}
	return gathered.SplitLen(shardSize)[c.Rank], maskShard, sizes, padLen, nil
}

// ShardSequenceToBatch inverts ShardBatchToSequence: every rank's sequence
// shard is gathered back into the full sequence, which is then split along
// the batch axis using the recorded per-rank extents; rank r keeps the
// extent it originally contributed. The caller must subsequently truncate
// to the pre-padding sequence length.
func ShardSequenceToBatch(c *Context, out *tensor.Seq, sizes []int) (*tensor.Seq, error) {
	if len(sizes) != c.WorldSize {
		return nil, fmt.Errorf("got %d batch extents for world size %d", len(sizes), c.WorldSize)
	}
	gathered, _ := c.AllGatherSeq(out, AxisLen)

	total := 0
	for _, n := range sizes {
		total += n
	}
	if total != gathered.Batch {
		return nil, fmt.Errorf("batch extents sum to %d, gathered batch is %d", total, gathered.Batch)
	}
	return gathered.SplitBatch(sizes)[c.Rank], nil
}
