package attention

import (
	"github.com/samcharles93/ringattn/internal/tensor"
)

// Full computes materialized softmax attention over an entire in-memory
// sequence. It is the single-device path and the reference every block-tiled
// and ring result must match within floating point tolerance.
//
// q, k and v have shape [batch, heads, len, dim]; mask marks valid key
// positions, nil meaning all valid.
func Full(q, k, v *tensor.Heads, mask *tensor.Mask, causal bool, scale float32) *tensor.Heads {
	if k.Len != v.Len || k.Batch != q.Batch || k.NumHeads != q.NumHeads || k.Dim != q.Dim {
		panic("attention shape mismatch")
	}
	out := tensor.NewHeads(q.Batch, q.NumHeads, q.Len, q.Dim)
	scores := make([]float32, k.Len)
	for b := 0; b < q.Batch; b++ {
		var valid []bool
		if mask != nil {
			valid = mask.Row(b)
		}
		for h := 0; h < q.NumHeads; h++ {
			for i := 0; i < q.Len; i++ {
				qRow := q.Row(b, h, i)
				for j := 0; j < k.Len; j++ {
					if (valid != nil && !valid[j]) || (causal && j > i) {
						scores[j] = negInf
						continue
					}
					scores[j] = tensor.Dot(qRow, k.Row(b, h, j)) * scale
				}
				tensor.Softmax(scores)
				outRow := out.Row(b, h, i)
				for j := 0; j < k.Len; j++ {
					w := scores[j]
					if w == 0 {
						continue
					}
					vRow := v.Row(b, h, j)
					for d := range outRow {
						outRow[d] += w * vRow[d]
					}
				}
			}
		}
	}
	return out
}
