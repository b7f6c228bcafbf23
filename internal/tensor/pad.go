package tensor

// PadLength returns the number of synthetic positions that must be appended
// to a sequence of length n to reach the next multiple of multiple.
func PadLength(n, multiple int) int {
	if multiple <= 0 {
		panic("pad multiple must be positive")
	}
	rem := n % multiple
	if rem == 0 {
		return 0
	}
	return multiple - rem
}

// PadSeq returns a copy of s with padLen zero-valued positions appended to
// the sequence axis. padLen of zero returns s unchanged.
func PadSeq(s *Seq, padLen int) *Seq {
	if padLen < 0 {
		panic("negative pad length")
	}
	if padLen == 0 {
		return s
	}
	out := NewSeq(s.Batch, s.Len+padLen, s.Dim)
	for b := 0; b < s.Batch; b++ {
		copy(out.Data[b*out.Len*out.Dim:], s.Data[b*s.Len*s.Dim:(b+1)*s.Len*s.Dim])
	}
	return out
}

// PadMask returns a copy of m with padLen positions appended to the sequence
// axis, all marked invalid. Padding must never mark new positions valid.
func PadMask(m *Mask, padLen int) *Mask {
	if padLen < 0 {
		panic("negative pad length")
	}
	if padLen == 0 {
		return m
	}
	out := NewMask(m.Batch, m.Len+padLen)
	for b := 0; b < m.Batch; b++ {
		copy(out.Row(b), m.Row(b))
	}
	return out
}
