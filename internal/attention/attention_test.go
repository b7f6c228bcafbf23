package attention

import (
	"math"
	"sync"
	"testing"

	"github.com/samcharles93/ringattn/internal/ring"
	"github.com/samcharles93/ringattn/internal/tensor"
)

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "zero dim", cfg: Config{Dim: 0, Heads: 2, HeadDim: 8}},
		{name: "negative heads", cfg: Config{Dim: 16, Heads: -1, HeadDim: 8}},
		{name: "zero head dim", cfg: Config{Dim: 16, Heads: 2, HeadDim: 0}},
		{name: "negative block size", cfg: Config{Dim: 16, Heads: 2, HeadDim: 8, QBlockSize: -4}},
		{name: "shard not divisible by query block", cfg: Config{Dim: 16, Heads: 2, HeadDim: 8, QBlockSize: 48, KBlockSize: 64, RingShardSize: 64}},
		{name: "shard not divisible by key block", cfg: Config{Dim: 16, Heads: 2, HeadDim: 8, QBlockSize: 64, KBlockSize: 48, RingShardSize: 64}},
		{name: "auto shard without ring", cfg: Config{Dim: 16, Heads: 2, HeadDim: 8, AutoShard: true}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.cfg); err == nil {
				t.Fatal("expected a configuration error")
			}
		})
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	m, err := New(Config{Dim: 16, Heads: 2, HeadDim: 8})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	cfg := m.Config()
	if cfg.QBlockSize != defaultBlockSize || cfg.KBlockSize != defaultBlockSize {
		t.Fatalf("block size defaults: got %d/%d, want %d", cfg.QBlockSize, cfg.KBlockSize, defaultBlockSize)
	}
	if cfg.RingShardSize != defaultShardSize {
		t.Fatalf("shard size default: got %d, want %d", cfg.RingShardSize, defaultShardSize)
	}
	if cfg.Eps != defaultEps {
		t.Fatalf("eps default: got %v, want %v", cfg.Eps, defaultEps)
	}
}

func TestForwardShapeAndErrors(t *testing.T) {
	m, err := New(Config{Dim: 16, Heads: 2, HeadDim: 8, Seed: 1})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	c := ring.Single()

	x := tensor.NewSeq(2, 12, 16)
	tensor.FillSeqRand(x, 2)
	out, err := m.Forward(c, x, nil)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if out.Batch != 2 || out.Len != 12 || out.Dim != 16 {
		t.Fatalf("output shape [%d,%d,%d], want [2,12,16]", out.Batch, out.Len, out.Dim)
	}

	bad := tensor.NewSeq(2, 12, 8)
	if _, err := m.Forward(c, bad, nil); err == nil {
		t.Fatal("expected an error for a mismatched feature dimension")
	}
	if _, err := m.Forward(c, x, tensor.NewMask(2, 7)); err == nil {
		t.Fatal("expected an error for a mismatched mask shape")
	}
}

func TestForwardMaskedKeysExcluded(t *testing.T) {
	m, err := New(Config{Dim: 16, Heads: 2, HeadDim: 8, Seed: 3})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	c := ring.Single()

	x := tensor.NewSeq(1, 10, 16)
	tensor.FillSeqRand(x, 4)
	mask := tensor.AllValid(1, 10)
	for j := 6; j < 10; j++ {
		mask.Row(0)[j] = false
	}

	base, err := m.Forward(c, x, mask)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	// Changing a masked position must not affect any output row that only
	// attends to valid keys, except its own row (its query still runs).
	x2 := x.Clone()
	for d := 0; d < 16; d++ {
		x2.Row(0, 7)[d] += 5
	}
	got, err := m.Forward(c, x2, mask)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	for tpos := 0; tpos < 10; tpos++ {
		if tpos == 7 {
			continue
		}
		for d := 0; d < 16; d++ {
			if base.Row(0, tpos)[d] != got.Row(0, tpos)[d] {
				t.Fatalf("masked key leaked into output row %d", tpos)
			}
		}
	}
}

func TestForwardRingMatchesSingleDevice(t *testing.T) {
	const (
		dim     = 16
		heads   = 2
		headDim = 8
		seqLen  = 64
		world   = 4
		seed    = 11
	)
	sizes := []int{2, 1, 1, 1}
	batch := 0
	for _, s := range sizes {
		batch += s
	}

	x := tensor.NewSeq(batch, seqLen, dim)
	tensor.FillSeqRand(x, 12)
	mask := tensor.AllValid(batch, seqLen)
	for j := 56; j < seqLen; j++ {
		mask.Row(0)[j] = false
	}

	single, err := New(Config{Dim: dim, Heads: heads, HeadDim: headDim, Causal: true, Seed: seed})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	want, err := single.Forward(ring.Single(), x, mask)
	if err != nil {
		t.Fatalf("single-device forward: %v", err)
	}

	ringed, err := New(Config{
		Dim: dim, Heads: heads, HeadDim: headDim, Causal: true,
		QBlockSize: 8, KBlockSize: 8,
		RingEnabled: true, RingShardSize: 16, AutoShard: true,
		Seed: seed,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	starts := make([]int, world)
	for r := 1; r < world; r++ {
		starts[r] = starts[r-1] + sizes[r-1]
	}

	var mu sync.Mutex
	outputs := make([]*tensor.Seq, world)
	err = ring.Launch(world, func(c *ring.Context) error {
		lo, hi := starts[c.Rank], starts[c.Rank]+sizes[c.Rank]
		out, err := ringed.Forward(c, x.SliceBatch(lo, hi), mask.SliceBatch(lo, hi))
		if err != nil {
			return err
		}
		mu.Lock()
		outputs[c.Rank] = out
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}

	got := tensor.ConcatBatch(outputs)
	if got.Batch != batch || got.Len != seqLen || got.Dim != dim {
		t.Fatalf("reassembled shape [%d,%d,%d], want [%d,%d,%d]",
			got.Batch, got.Len, got.Dim, batch, seqLen, dim)
	}
	var worst float64
	for i := range got.Data {
		if math.IsNaN(float64(got.Data[i])) {
			t.Fatalf("NaN in ring output at index %d", i)
		}
		d := math.Abs(float64(got.Data[i] - want.Data[i]))
		if d > worst {
			worst = d
		}
	}
	if worst > 1e-4 {
		t.Fatalf("ring forward deviates from single-device by %v", worst)
	}
}
