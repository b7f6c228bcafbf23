package attention

import (
	"github.com/samcharles93/ringattn/internal/tensor"
)

// Blocked computes attention over a whole in-memory sequence with the
// block-tiled online softmax kernel, folding query blocks of qBlock
// positions against key blocks of kBlock positions. The result equals Full
// within floating point tolerance regardless of block sizes or fold order.
func Blocked(q, k, v *tensor.Heads, mask *tensor.Mask, causal bool, scale float32, qBlock, kBlock int) *tensor.Heads {
	if k.Len != v.Len || k.Batch != q.Batch || k.NumHeads != q.NumHeads || k.Dim != q.Dim {
		panic("attention shape mismatch")
	}
	if qBlock <= 0 || qBlock > q.Len {
		qBlock = q.Len
	}
	if kBlock <= 0 || kBlock > k.Len {
		kBlock = k.Len
	}

	st := newSoftmaxState(q.Batch, q.NumHeads, q.Len, q.Dim)
	for qs := 0; qs < q.Len; qs += qBlock {
		qe := min(qs+qBlock, q.Len)
		for ks := 0; ks < k.Len; ks += kBlock {
			ke := min(ks+kBlock, k.Len)
			if causal && ks > qe-1 {
				continue
			}
			foldBlock(st, q, k, v, mask, causal, scale, qs, qe, ks, ke, 0, 0)
		}
	}
	return st.output()
}
