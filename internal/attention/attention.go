package attention

import (
	"fmt"
	"math"

	"github.com/samcharles93/ringattn/internal/ring"
	"github.com/samcharles93/ringattn/internal/tensor"
)

const (
	defaultBlockSize = 512
	defaultShardSize = 512
	defaultEps       = 1e-5
)

// Config describes an attention module. Configuration errors are fatal at
// construction and never retried.
type Config struct {
	// Dim is the model (feature) dimension of the input sequence.
	Dim int
	// Heads and HeadDim shape the per-head projection; the inner dimension
	// is Heads*HeadDim.
	Heads   int
	HeadDim int

	Causal bool

	// QBlockSize and KBlockSize are the tile sizes of the block kernel.
	// Zero selects the default.
	QBlockSize int
	KBlockSize int

	// RingEnabled selects the ring path in distributed worlds. When false
	// each rank computes materialized attention over its own shard only.
	RingEnabled bool
	// RingShardSize is the per-rank sequence shard length used by the
	// sharding gateway. It must be divisible by both block sizes.
	RingShardSize int
	// AutoShard wraps Forward with the batch-to-sequence gateway so callers
	// always see whole, unsharded batches. Requires RingEnabled.
	AutoShard bool

	// Eps is the RMSNorm epsilon. Zero selects the default.
	Eps float32
	// Seed makes the projection weights reproducible.
	Seed int64
}

// Module projects an input sequence to queries, keys and values, runs the
// configured attention path, and projects back to the model dimension.
type Module struct {
	cfg   Config
	inner int
	scale float32

	normW tensor.Mat // [1, dim] RMSNorm gain
	wqkv  tensor.Mat // [3*inner, dim] fused projection, no bias
	wout  tensor.Mat // [dim, inner]

	attend func(c *ring.Context, q, k, v *tensor.Heads, mask *tensor.Mask) *tensor.Heads
}

// New validates cfg and constructs the module. The attention path (full,
// ring, or per-rank full) is selected here, once, not re-evaluated per call.
func New(cfg Config) (*Module, error) {
	if cfg.Dim <= 0 || cfg.Heads <= 0 || cfg.HeadDim <= 0 {
		return nil, fmt.Errorf("dim, heads and head dim must be positive: %d, %d, %d", cfg.Dim, cfg.Heads, cfg.HeadDim)
	}
	if cfg.QBlockSize == 0 {
		cfg.QBlockSize = defaultBlockSize
	}
	if cfg.KBlockSize == 0 {
		cfg.KBlockSize = defaultBlockSize
	}
	if cfg.RingShardSize == 0 {
		cfg.RingShardSize = defaultShardSize
	}
	if cfg.Eps == 0 {
		cfg.Eps = defaultEps
	}
	if cfg.QBlockSize < 0 || cfg.KBlockSize < 0 || cfg.RingShardSize < 0 {
		return nil, fmt.Errorf("block and shard sizes must be positive")
	}
	if cfg.RingShardSize%cfg.QBlockSize != 0 {
		return nil, fmt.Errorf("ring shard size %d not divisible by query block size %d", cfg.RingShardSize, cfg.QBlockSize)
	}
	if cfg.RingShardSize%cfg.KBlockSize != 0 {
		return nil, fmt.Errorf("ring shard size %d not divisible by key block size %d", cfg.RingShardSize, cfg.KBlockSize)
	}
	if cfg.AutoShard && !cfg.RingEnabled {
		return nil, fmt.Errorf("auto-sharding requires ring attention to be enabled")
	}

	inner := cfg.Heads * cfg.HeadDim
	m := &Module{
		cfg:   cfg,
		inner: inner,
		scale: float32(1 / math.Sqrt(float64(cfg.HeadDim))),
		normW: tensor.NewMat(1, cfg.Dim),
		wqkv:  tensor.NewMat(3*inner, cfg.Dim),
		wout:  tensor.NewMat(cfg.Dim, inner),
	}
	for i := range m.normW.Data {
		m.normW.Data[i] = 1
	}
	tensor.FillRand(&m.wqkv, cfg.Seed+1)
	tensor.FillRand(&m.wout, cfg.Seed+2)

	switch {
	case cfg.RingEnabled:
		m.attend = func(c *ring.Context, q, k, v *tensor.Heads, mask *tensor.Mask) *tensor.Heads {
			return Ring(c, q, k, v, mask, RingParams{
				Causal: cfg.Causal,
				QBlock: cfg.QBlockSize,
				KBlock: cfg.KBlockSize,
				Scale:  m.scale,
			})
		}
	default:
		// Materialized attention over whatever shard this rank holds.
		m.attend = func(_ *ring.Context, q, k, v *tensor.Heads, mask *tensor.Mask) *tensor.Heads {
			return Full(q, k, v, mask, cfg.Causal, m.scale)
		}
	}
	return m, nil
}

// Config returns the validated configuration, including defaulted fields.
func (m *Module) Config() Config { return m.cfg }

// Forward computes attention over x, which is sharded per the configured
// sharding mode: with AutoShard enabled every rank passes its own batch
// shard holding full sequences, otherwise x is already this rank's sequence
// shard. The output has the same shape as the input.
func (m *Module) Forward(c *ring.Context, x *tensor.Seq, mask *tensor.Mask) (*tensor.Seq, error) {
	if x.Dim != m.cfg.Dim {
		return nil, fmt.Errorf("input feature dimension %d, module dimension %d", x.Dim, m.cfg.Dim)
	}
	if mask != nil && (mask.Batch != x.Batch || mask.Len != x.Len) {
		return nil, fmt.Errorf("mask shape [%d,%d] does not match sequence shape [%d,%d]",
			mask.Batch, mask.Len, x.Batch, x.Len)
	}

	autoShard := m.cfg.AutoShard && c.Distributed()
	origLen := x.Len

	var sizes []int
	if autoShard {
		var err error
		x, mask, sizes, _, err = ring.ShardBatchToSequence(c, x, mask, m.cfg.RingShardSize)
		if err != nil {
			return nil, err
		}
	}

	q, k, v := m.project(x)
	heads := m.attend(c, q, k, v, mask)
	out := m.merge(heads)

	if autoShard {
		joined, err := ring.ShardSequenceToBatch(c, out, sizes)
		if err != nil {
			return nil, err
		}
		out = joined.SliceLen(0, origLen)
	}
	return out, nil
}

// project applies the pre-norm and fused QKV projection, splitting the
// result into per-head query, key and value shards.
func (m *Module) project(x *tensor.Seq) (q, k, v *tensor.Heads) {
	q = tensor.NewHeads(x.Batch, m.cfg.Heads, x.Len, m.cfg.HeadDim)
	k = tensor.NewHeads(x.Batch, m.cfg.Heads, x.Len, m.cfg.HeadDim)
	v = tensor.NewHeads(x.Batch, m.cfg.Heads, x.Len, m.cfg.HeadDim)

	normed := make([]float32, m.cfg.Dim)
	qkv := make([]float32, 3*m.inner)
	for b := 0; b < x.Batch; b++ {
		for t := 0; t < x.Len; t++ {
			tensor.RMSNorm(normed, x.Row(b, t), m.normW.Row(0), m.cfg.Eps)
			tensor.MatVec(qkv, &m.wqkv, normed)
			for h := 0; h < m.cfg.Heads; h++ {
				off := h * m.cfg.HeadDim
				copy(q.Row(b, h, t), qkv[off:off+m.cfg.HeadDim])
				copy(k.Row(b, h, t), qkv[m.inner+off:m.inner+off+m.cfg.HeadDim])
				copy(v.Row(b, h, t), qkv[2*m.inner+off:2*m.inner+off+m.cfg.HeadDim])
			}
		}
	}
	return q, k, v
}

// merge recombines heads and applies the output projection.
func (m *Module) merge(heads *tensor.Heads) *tensor.Seq {
	out := tensor.NewSeq(heads.Batch, heads.Len, m.cfg.Dim)
	joined := make([]float32, m.inner)
	for b := 0; b < heads.Batch; b++ {
		for t := 0; t < heads.Len; t++ {
			for h := 0; h < heads.NumHeads; h++ {
				copy(joined[h*m.cfg.HeadDim:], heads.Row(b, h, t))
			}
			tensor.MatVec(out.Row(b, t), &m.wout, joined)
		}
	}
	return out
}
