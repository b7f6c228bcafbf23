package transformer

import (
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/samcharles93/ringattn/internal/ring"
	"github.com/samcharles93/ringattn/internal/tensor"
)

func randTokens(batch, seqLen, vocab int, seed int64) [][]int {
	rng := rand.New(rand.NewSource(seed))
	tokens := make([][]int, batch)
	for b := range tokens {
		tokens[b] = make([]int, seqLen)
		for t := range tokens[b] {
			tokens[b][t] = rng.Intn(vocab)
		}
	}
	return tokens
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "zero vocab", cfg: Config{Vocab: 0, Dim: 16, Depth: 1, Heads: 2, HeadDim: 8}},
		{name: "zero depth", cfg: Config{Vocab: 32, Dim: 16, Depth: 0, Heads: 2, HeadDim: 8}},
		{name: "auto shard without ring", cfg: Config{Vocab: 32, Dim: 16, Depth: 1, Heads: 2, HeadDim: 8, AutoShard: true}},
		{name: "bad attention config", cfg: Config{Vocab: 32, Dim: 16, Depth: 1, Heads: 0, HeadDim: 8}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.cfg); err == nil {
				t.Fatal("expected a configuration error")
			}
		})
	}
}

func TestForwardTokenValidation(t *testing.T) {
	m, err := New(Config{Vocab: 32, Dim: 16, Depth: 1, Heads: 2, HeadDim: 8, Seed: 1})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	c := ring.Single()

	if _, err := m.Forward(c, nil, nil); err == nil {
		t.Fatal("expected an error for an empty batch")
	}
	if _, err := m.Forward(c, [][]int{{1, 2, 3}, {4, 5}}, nil); err == nil {
		t.Fatal("expected an error for a ragged batch")
	}
	if _, err := m.Forward(c, [][]int{{1, 99}}, nil); err == nil {
		t.Fatal("expected an error for an out-of-range token")
	}
}

func TestForwardLogitsShape(t *testing.T) {
	m, err := New(Config{Vocab: 32, Dim: 16, Depth: 2, Heads: 2, HeadDim: 8, FFMult: 2, Causal: true, Seed: 2})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	tokens := randTokens(3, 20, 32, 3)
	logits, err := m.Forward(ring.Single(), tokens, nil)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if logits.Batch != 3 || logits.Len != 20 || logits.Dim != 32 {
		t.Fatalf("logits shape [%d,%d,%d], want [3,20,32]", logits.Batch, logits.Len, logits.Dim)
	}
}

func TestForwardRingMatchesSingleDevice(t *testing.T) {
	const (
		vocab  = 32
		dim    = 16
		seqLen = 64
		world  = 4
		seed   = 7
	)
	base := Config{
		Vocab: vocab, Dim: dim, Depth: 2, Heads: 2, HeadDim: 8, FFMult: 2,
		Causal: true, QBlockSize: 8, KBlockSize: 8, Seed: seed,
	}

	sizes := []int{2, 1, 1, 1}
	batch := 0
	for _, s := range sizes {
		batch += s
	}
	tokens := randTokens(batch, seqLen, vocab, 8)
	mask := tensor.AllValid(batch, seqLen)
	for j := 60; j < seqLen; j++ {
		mask.Row(0)[j] = false
	}

	single, err := New(base)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	want, err := single.Forward(ring.Single(), tokens, mask)
	if err != nil {
		t.Fatalf("single-device forward: %v", err)
	}

	ringCfg := base
	ringCfg.RingEnabled = true
	ringCfg.RingShardSize = 16
	ringCfg.AutoShard = true
	ringed, err := New(ringCfg)
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
		out, err := ringed.Forward(c, tokens[lo:hi], mask.SliceBatch(lo, hi))
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
	var worst float64
	for i := range got.Data {
		if math.IsNaN(float64(got.Data[i])) {
			t.Fatalf("NaN in logits at index %d", i)
		}
		d := math.Abs(float64(got.Data[i] - want.Data[i]))
		if d > worst {
			worst = d
		}
	}
	if worst > 1e-3 {
		t.Fatalf("ring logits deviate from single-device by %v", worst)
	}
}
