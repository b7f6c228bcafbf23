package tensor

// Mask is a [batch, len] boolean validity mask sharing the sharding of its
// sequence tensor. True marks a valid position. A nil *Mask means every
// position is valid.
type Mask struct {
	Batch, Len int
	Data       []bool
}

// NewMask allocates a mask with every position marked invalid.
func NewMask(batch, length int) *Mask {
	if batch < 0 || length < 0 {
		panic("negative dimension for mask")
	}
	return &Mask{
		Batch: batch,
		Len:   length,
		Data:  make([]bool, batch*length),
	}
}

// AllValid allocates a mask with every position marked valid.
func AllValid(batch, length int) *Mask {
	m := NewMask(batch, length)
	for i := range m.Data {
		m.Data[i] = true
	}
	return m
}

// Row returns a view of batch item b's validity bits.
func (m *Mask) Row(b int) []bool {
	if b < 0 || b >= m.Batch {
		panic("mask batch index out of range")
	}
	return m.Data[b*m.Len : (b+1)*m.Len]
}

// Valid reports whether position t of batch item b is valid.
func (m *Mask) Valid(b, t int) bool {
	if t < 0 || t >= m.Len {
		panic("mask index out of range")
	}
	return m.Row(b)[t]
}

// Clone returns a deep copy of m.
func (m *Mask) Clone() *Mask {
	out := NewMask(m.Batch, m.Len)
	copy(out.Data, m.Data)
	return out
}

// SliceLen returns a copy of positions [start, end) for every batch item.
func (m *Mask) SliceLen(start, end int) *Mask {
	if start < 0 || end > m.Len || start > end {
		panic("mask slice out of range")
	}
	out := NewMask(m.Batch, end-start)
	for b := 0; b < m.Batch; b++ {
		copy(out.Row(b), m.Row(b)[start:end])
	}
	return out
}

// SliceBatch returns a copy of batch items [start, end).
func (m *Mask) SliceBatch(start, end int) *Mask {
	if start < 0 || end > m.Batch || start > end {
		panic("mask batch slice out of range")
	}
	out := NewMask(end-start, m.Len)
	copy(out.Data, m.Data[start*m.Len:end*m.Len])
	return out
}

// SplitLen splits m into contiguous chunks of chunkLen positions each.
func (m *Mask) SplitLen(chunkLen int) []*Mask {
	if chunkLen <= 0 || m.Len%chunkLen != 0 {
		panic("mask length not divisible by chunk length")
	}
	parts := make([]*Mask, 0, m.Len/chunkLen)
	for start := 0; start < m.Len; start += chunkLen {
		parts = append(parts, m.SliceLen(start, start+chunkLen))
	}
	return parts
}

// ConcatMaskBatch concatenates parts along the batch axis.
func ConcatMaskBatch(parts []*Mask) *Mask {
	if len(parts) == 0 {
		panic("ConcatMaskBatch of no parts")
	}
	batch := 0
	for _, p := range parts {
		if p.Len != parts[0].Len {
			panic("ConcatMaskBatch length mismatch")
		}
		batch += p.Batch
	}
	out := NewMask(batch, parts[0].Len)
	off := 0
	for _, p := range parts {
		copy(out.Data[off:], p.Data)
		off += len(p.Data)
	}
	return out
}

// Floats encodes the mask as float32 values, 1 for valid and 0 for invalid.
// Used to move masks over transports that carry float buffers.
func (m *Mask) Floats() []float32 {
	out := make([]float32, len(m.Data))
	for i, v := range m.Data {
		if v {
			out[i] = 1
		}
	}
	return out
}

// MaskFromFloats decodes a mask produced by Floats.
func MaskFromFloats(batch, length int, data []float32) *Mask {
	if batch*length != len(data) {
		panic("mask data length mismatch")
	}
	out := NewMask(batch, length)
	for i, v := range data {
		out.Data[i] = v != 0
	}
	return out
}
