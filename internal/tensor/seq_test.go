package tensor

import "testing"

func seqEqual(a, b *Seq) bool {
	if a.Batch != b.Batch || a.Len != b.Len || a.Dim != b.Dim {
		return false
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			return false
		}
	}
	return true
}

func TestSplitLenConcatRoundTrip(t *testing.T) {
	s := NewSeq(3, 12, 4)
	FillSeqRand(s, 7)

	parts := s.SplitLen(4)
	if len(parts) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(parts))
	}
	if !seqEqual(ConcatLen(parts), s) {
		t.Fatal("ConcatLen(SplitLen(s)) != s")
	}
}

func TestSplitBatchConcatRoundTrip(t *testing.T) {
	s := NewSeq(6, 5, 3)
	FillSeqRand(s, 11)

	sizes := []int{1, 3, 2}
	parts := s.SplitBatch(sizes)
	for i, p := range parts {
		if p.Batch != sizes[i] {
			t.Fatalf("part %d batch: got %d, want %d", i, p.Batch, sizes[i])
		}
	}
	if !seqEqual(ConcatBatch(parts), s) {
		t.Fatal("ConcatBatch(SplitBatch(s)) != s")
	}
}

func TestSplitBatchBadSizes(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for sizes not summing to batch")
		}
	}()
	NewSeq(4, 2, 2).SplitBatch([]int{1, 2})
}

func TestSliceLenCopies(t *testing.T) {
	s := NewSeq(1, 4, 2)
	FillSeqRand(s, 3)
	sl := s.SliceLen(1, 3)
	sl.Row(0, 0)[0] = 99
	if s.Row(0, 1)[0] == 99 {
		t.Fatal("SliceLen must copy, not alias")
	}
}

func TestMaskFloatsRoundTrip(t *testing.T) {
	m := NewMask(2, 5)
	m.Row(0)[1] = true
	m.Row(1)[4] = true

	back := MaskFromFloats(2, 5, m.Floats())
	for i := range m.Data {
		if back.Data[i] != m.Data[i] {
			t.Fatalf("mask round trip mismatch at %d", i)
		}
	}
}

func TestHeadsRowLayout(t *testing.T) {
	h := NewHeads(2, 3, 4, 2)
	h.Row(1, 2, 3)[1] = 42
	idx := ((1*3+2)*4+3)*2 + 1
	if h.Data[idx] != 42 {
		t.Fatalf("unexpected layout: Data[%d] = %v", idx, h.Data[idx])
	}
}
