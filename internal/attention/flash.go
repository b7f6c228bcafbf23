// Package attention implements block-tiled self-attention with a running
// (online) softmax, a materialized reference implementation, the ring
// orchestrator that rotates key/value shards between ranks, and the module
// that projects sequences to queries, keys and values.
package attention

import (
	"math"

	"github.com/samcharles93/ringattn/internal/tensor"
)

var negInf = float32(math.Inf(-1))

// softmaxState holds the online-softmax accumulators for every query row of
// a local shard: the running maximum m, the running sum of exponentials l,
// and the running weighted output. After the final fold, dividing the
// weighted output by l yields exact softmax attention over every key block
// folded so far, in any order.
type softmaxState struct {
	batch, heads, qLen, dim int

	m   []float32
	l   []float32
	out []float32
}

func newSoftmaxState(batch, heads, qLen, dim int) *softmaxState {
	st := &softmaxState{
		batch: batch,
		heads: heads,
		qLen:  qLen,
		dim:   dim,
		m:     make([]float32, batch*heads*qLen),
		l:     make([]float32, batch*heads*qLen),
		out:   make([]float32, batch*heads*qLen*dim),
	}
	for i := range st.m {
		st.m[i] = negInf
	}
	return st
}

func (st *softmaxState) row(b, h, t int) int {
	return (b*st.heads+h)*st.qLen + t
}

// foldBlock folds attention between query positions [qStart, qEnd) of q and
// key positions [kStart, kEnd) of the held k/v shard into st.
//
// qBase and kBase are the global sequence offsets of the query shard and the
// held key shard; causal masking compares global positions. kMask marks
// valid key positions of the held shard, nil meaning all valid. A block
// whose keys are entirely masked contributes nothing and never produces a
// NaN: the running sum stays in the accumulator, division happens only once
// at the end.
func foldBlock(st *softmaxState, q, k, v *tensor.Heads, kMask *tensor.Mask, causal bool, scale float32, qStart, qEnd, kStart, kEnd, qBase, kBase int) {
	scores := make([]float32, kEnd-kStart)
	for b := 0; b < q.Batch; b++ {
		var valid []bool
		if kMask != nil {
			valid = kMask.Row(b)
		}
		for h := 0; h < q.NumHeads; h++ {
			for i := qStart; i < qEnd; i++ {
				qRow := q.Row(b, h, i)
				blockMax := negInf
				for j := kStart; j < kEnd; j++ {
					s := negInf
					masked := valid != nil && !valid[j]
					if causal && kBase+j > qBase+i {
						masked = true
					}
					if !masked {
						s = tensor.Dot(qRow, k.Row(b, h, j)) * scale
					}
					scores[j-kStart] = s
					if s > blockMax {
						blockMax = s
					}
				}
				if blockMax == negInf {
					// Every key in the block is masked for this query.
					continue
				}

				r := st.row(b, h, i)
				mPrev := st.m[r]
				mNew := mPrev
				if blockMax > mNew {
					mNew = blockMax
				}
				var rescale float32
				if mPrev != negInf {
					rescale = float32(math.Exp(float64(mPrev - mNew)))
				}

				outRow := st.out[r*st.dim : (r+1)*st.dim]
				if rescale != 1 {
					for d := range outRow {
						outRow[d] *= rescale
					}
				}

				var blockSum float64
				for j := kStart; j < kEnd; j++ {
					s := scores[j-kStart]
					if s == negInf {
						continue
					}
					w := float32(math.Exp(float64(s - mNew)))
					blockSum += float64(w)
					vRow := v.Row(b, h, j)
					for d := range outRow {
						outRow[d] += w * vRow[d]
					}
				}

				st.m[r] = mNew
				st.l[r] = st.l[r]*rescale + float32(blockSum)
			}
		}
	}
}

// output divides the accumulated weighted sums by the running sums. Query
// rows that never saw a valid key yield zeros.
func (st *softmaxState) output() *tensor.Heads {
	out := tensor.NewHeads(st.batch, st.heads, st.qLen, st.dim)
	for b := 0; b < st.batch; b++ {
		for h := 0; h < st.heads; h++ {
			for t := 0; t < st.qLen; t++ {
				r := st.row(b, h, t)
				l := st.l[r]
				if l == 0 {
					continue
				}
				inv := 1 / l
				src := st.out[r*st.dim : (r+1)*st.dim]
				dst := out.Row(b, h, t)
				for d := range dst {
					dst[d] = src[d] * inv
				}
			}
		}
	}
	return out
}
