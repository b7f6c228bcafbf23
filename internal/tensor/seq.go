package tensor

import "math/rand"

// Seq is a dense row-major [batch, len, dim] float32 tensor holding one
// feature vector per sequence position. One rank owns one contiguous shard
// of a logical sequence; concatenating all ranks' shards in rank order
// reproduces the full (possibly padded) sequence.
type Seq struct {
	Batch, Len, Dim int
	Data            []float32
}

// NewSeq allocates a zero-initialised sequence tensor.
func NewSeq(batch, length, dim int) *Seq {
	if batch < 0 || length < 0 || dim < 0 {
		panic("negative dimension for sequence tensor")
	}
	return &Seq{
		Batch: batch,
		Len:   length,
		Dim:   dim,
		Data:  make([]float32, batch*length*dim),
	}
}

// Row returns a view of the feature vector at batch item b, position t.
func (s *Seq) Row(b, t int) []float32 {
	if b < 0 || b >= s.Batch || t < 0 || t >= s.Len {
		panic("sequence index out of range")
	}
	start := (b*s.Len + t) * s.Dim
	return s.Data[start : start+s.Dim]
}

// Clone returns a deep copy of s.
func (s *Seq) Clone() *Seq {
	out := NewSeq(s.Batch, s.Len, s.Dim)
	copy(out.Data, s.Data)
	return out
}

// FillSeqRand fills s with reproducible pseudo-random values in a small
// range around zero.
func FillSeqRand(s *Seq, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for i := range s.Data {
		s.Data[i] = (rng.Float32() - 0.5) * 2
	}
}

// SliceLen returns a copy of positions [start, end) of every batch item.
func (s *Seq) SliceLen(start, end int) *Seq {
	if start < 0 || end > s.Len || start > end {
		panic("sequence slice out of range")
	}
	out := NewSeq(s.Batch, end-start, s.Dim)
	for b := 0; b < s.Batch; b++ {
		from := (b*s.Len + start) * s.Dim
		to := (b*s.Len + end) * s.Dim
		copy(out.Data[b*out.Len*out.Dim:], s.Data[from:to])
	}
	return out
}

// SliceBatch returns a copy of batch items [start, end).
func (s *Seq) SliceBatch(start, end int) *Seq {
	if start < 0 || end > s.Batch || start > end {
		panic("batch slice out of range")
	}
	out := NewSeq(end-start, s.Len, s.Dim)
	copy(out.Data, s.Data[start*s.Len*s.Dim:end*s.Len*s.Dim])
	return out
}

// SplitLen splits s into contiguous chunks of chunkLen positions each.
// The sequence length must be a multiple of chunkLen.
func (s *Seq) SplitLen(chunkLen int) []*Seq {
	if chunkLen <= 0 || s.Len%chunkLen != 0 {
		panic("sequence length not divisible by chunk length")
	}
	parts := make([]*Seq, 0, s.Len/chunkLen)
	for start := 0; start < s.Len; start += chunkLen {
		parts = append(parts, s.SliceLen(start, start+chunkLen))
	}
	return parts
}

// SplitBatch splits s along the batch axis into extents given by sizes.
// The sizes must sum to the batch dimension.
func (s *Seq) SplitBatch(sizes []int) []*Seq {
	total := 0
	for _, n := range sizes {
		total += n
	}
	if total != s.Batch {
		panic("batch split sizes do not sum to batch dimension")
	}
	parts := make([]*Seq, 0, len(sizes))
	start := 0
	for _, n := range sizes {
		parts = append(parts, s.SliceBatch(start, start+n))
		start += n
	}
	return parts
}

// ConcatBatch concatenates parts along the batch axis. All parts must share
// the same sequence length and feature dimension.
func ConcatBatch(parts []*Seq) *Seq {
	if len(parts) == 0 {
		panic("ConcatBatch of no parts")
	}
	batch := 0
	for _, p := range parts {
		if p.Len != parts[0].Len || p.Dim != parts[0].Dim {
			panic("ConcatBatch shape mismatch")
		}
		batch += p.Batch
	}
	out := NewSeq(batch, parts[0].Len, parts[0].Dim)
	off := 0
	for _, p := range parts {
		copy(out.Data[off:], p.Data)
		off += len(p.Data)
	}
	return out
}

// ConcatLen concatenates parts along the sequence axis. All parts must share
// the same batch and feature dimensions.
func ConcatLen(parts []*Seq) *Seq {
	if len(parts) == 0 {
		panic("ConcatLen of no parts")
	}
	length := 0
	for _, p := range parts {
		if p.Batch != parts[0].Batch || p.Dim != parts[0].Dim {
			panic("ConcatLen shape mismatch")
		}
		length += p.Len
	}
	out := NewSeq(parts[0].Batch, length, parts[0].Dim)
	for b := 0; b < out.Batch; b++ {
		t := 0
		for _, p := range parts {
			for pt := 0; pt < p.Len; pt++ {
				copy(out.Row(b, t), p.Row(b, pt))
				t++
			}
		}
	}
	return out
}

// Heads is a dense row-major [batch, heads, len, dim] float32 tensor holding
// per-head projections of a sequence shard.
type Heads struct {
	Batch, NumHeads, Len, Dim int
	Data                      []float32
}

// NewHeads allocates a zero-initialised per-head tensor.
func NewHeads(batch, numHeads, length, dim int) *Heads {
	if batch < 0 || numHeads < 0 || length < 0 || dim < 0 {
		panic("negative dimension for heads tensor")
	}
	return &Heads{
		Batch:    batch,
		NumHeads: numHeads,
		Len:      length,
		Dim:      dim,
		Data:     make([]float32, batch*numHeads*length*dim),
	}
}

// Row returns a view of the head-dim vector at batch b, head h, position t.
func (h *Heads) Row(b, hd, t int) []float32 {
	if b < 0 || b >= h.Batch || hd < 0 || hd >= h.NumHeads || t < 0 || t >= h.Len {
		panic("heads index out of range")
	}
	start := ((b*h.NumHeads+hd)*h.Len + t) * h.Dim
	return h.Data[start : start+h.Dim]
}

// Clone returns a deep copy of h.
func (h *Heads) Clone() *Heads {
	out := NewHeads(h.Batch, h.NumHeads, h.Len, h.Dim)
	copy(out.Data, h.Data)
	return out
}

// SliceLen returns a copy of positions [start, end) of every batch item and
// head.
func (h *Heads) SliceLen(start, end int) *Heads {
	if start < 0 || end > h.Len || start > end {
		panic("heads slice out of range")
	}
	out := NewHeads(h.Batch, h.NumHeads, end-start, h.Dim)
	for b := 0; b < h.Batch; b++ {
		for hd := 0; hd < h.NumHeads; hd++ {
			for t := start; t < end; t++ {
				copy(out.Row(b, hd, t-start), h.Row(b, hd, t))
			}
		}
	}
	return out
}

// ConcatHeadsLen concatenates parts along the sequence axis.
func ConcatHeadsLen(parts []*Heads) *Heads {
	if len(parts) == 0 {
		panic("ConcatHeadsLen of no parts")
	}
	length := 0
	for _, p := range parts {
		if p.Batch != parts[0].Batch || p.NumHeads != parts[0].NumHeads || p.Dim != parts[0].Dim {
			panic("ConcatHeadsLen shape mismatch")
		}
		length += p.Len
	}
	out := NewHeads(parts[0].Batch, parts[0].NumHeads, length, parts[0].Dim)
	for b := 0; b < out.Batch; b++ {
		for hd := 0; hd < out.NumHeads; hd++ {
			t := 0
			for _, p := range parts {
				for pt := 0; pt < p.Len; pt++ {
					copy(out.Row(b, hd, t), p.Row(b, hd, pt))
					t++
				}
			}
		}
	}
	return out
}
