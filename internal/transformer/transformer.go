// Package transformer stacks the attention module with token embeddings and
// feed-forward blocks into a small end-to-end model. Its purpose is to
// exercise sequence sharding through a whole forward stack: sharding happens
// once at the token level, every layer then runs on sequence shards with the
// ring path, and the logits are reassembled at the end.
package transformer

import (
	"fmt"

	"github.com/samcharles93/ringattn/internal/attention"
	"github.com/samcharles93/ringattn/internal/ring"
	"github.com/samcharles93/ringattn/internal/tensor"
)

// Config describes the model stack.
type Config struct {
	Vocab   int
	Dim     int
	Depth   int
	Heads   int
	HeadDim int
	FFMult  int

	Causal        bool
	QBlockSize    int
	KBlockSize    int
	RingEnabled   bool
	RingShardSize int
	// AutoShard shards the token sequence across ranks before the first
	// layer; per-layer attention then runs with sharding already done.
	AutoShard bool

	Eps  float32
	Seed int64
}

type layer struct {
	attn *attention.Module

	ffNormW []float32
	w1      tensor.Mat // [ffDim, dim]
	w2      tensor.Mat // [dim, ffDim]
}

// Model is a stack of pre-norm attention and feed-forward blocks with
// residual connections, a token embedding and a logits projection.
type Model struct {
	cfg     Config
	shard   int
	emb     tensor.Mat // [vocab, dim]
	layers  []layer
	outNorm []float32
	wLogits tensor.Mat // [vocab, dim]
}

// New constructs the model with reproducible weights.
func New(cfg Config) (*Model, error) {
	if cfg.Vocab <= 0 || cfg.Dim <= 0 || cfg.Depth <= 0 {
		return nil, fmt.Errorf("vocab, dim and depth must be positive: %d, %d, %d", cfg.Vocab, cfg.Dim, cfg.Depth)
	}
	if cfg.FFMult == 0 {
		cfg.FFMult = 4
	}
	if cfg.Eps == 0 {
		cfg.Eps = 1e-5
	}
	if cfg.AutoShard && !cfg.RingEnabled {
		return nil, fmt.Errorf("auto-sharding requires ring attention to be enabled")
	}

	m := &Model{
		cfg:     cfg,
		emb:     tensor.NewMat(cfg.Vocab, cfg.Dim),
		outNorm: ones(cfg.Dim),
		wLogits: tensor.NewMat(cfg.Vocab, cfg.Dim),
	}
	tensor.FillRand(&m.emb, cfg.Seed+100)
	tensor.FillRand(&m.wLogits, cfg.Seed+200)

	ffDim := cfg.Dim * cfg.FFMult
	for i := 0; i < cfg.Depth; i++ {
		attn, err := attention.New(attention.Config{
			Dim:           cfg.Dim,
			Heads:         cfg.Heads,
			HeadDim:       cfg.HeadDim,
			Causal:        cfg.Causal,
			QBlockSize:    cfg.QBlockSize,
			KBlockSize:    cfg.KBlockSize,
			RingEnabled:   cfg.RingEnabled,
			RingShardSize: cfg.RingShardSize,
			AutoShard:     false, // sharding is done once, at the token level
			Eps:           cfg.Eps,
			Seed:          cfg.Seed + int64(i)*10,
		})
		if err != nil {
			return nil, err
		}
		l := layer{
			attn:    attn,
			ffNormW: ones(cfg.Dim),
			w1:      tensor.NewMat(ffDim, cfg.Dim),
			w2:      tensor.NewMat(cfg.Dim, ffDim),
		}
		tensor.FillRand(&l.w1, cfg.Seed+int64(i)*10+3)
		tensor.FillRand(&l.w2, cfg.Seed+int64(i)*10+4)
		m.layers = append(m.layers, l)
	}
	m.shard = m.layers[0].attn.Config().RingShardSize
	return m, nil
}

// Forward embeds tokens and runs the stack, returning per-position logits of
// shape [batch, len, vocab]. tokens is this rank's batch shard; with
// AutoShard enabled the embedded sequence is converted to a sequence shard
// before the first layer and the logits are reassembled and truncated after
// the last.
func (m *Model) Forward(c *ring.Context, tokens [][]int, mask *tensor.Mask) (*tensor.Seq, error) {
	x, err := m.embed(tokens)
	if err != nil {
		return nil, err
	}

	autoShard := m.cfg.AutoShard && c.Distributed()
	origLen := x.Len
	var sizes []int
	if autoShard {
		x, mask, sizes, _, err = ring.ShardBatchToSequence(c, x, mask, m.shard)
		if err != nil {
			return nil, err
		}
	}

	for i := range m.layers {
		l := &m.layers[i]

		attnOut, err := l.attn.Forward(c, x, mask)
		if err != nil {
			return nil, err
		}
		tensor.Add(x.Data, attnOut.Data)

		ff := m.feedForward(l, x)
		tensor.Add(x.Data, ff.Data)
	}

	logits := m.logits(x)

	if autoShard {
		joined, err := ring.ShardSequenceToBatch(c, logits, sizes)
		if err != nil {
			return nil, err
		}
		logits = joined.SliceLen(0, origLen)
	}
	return logits, nil
}

func (m *Model) embed(tokens [][]int) (*tensor.Seq, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty token batch")
	}
	seqLen := len(tokens[0])
	x := tensor.NewSeq(len(tokens), seqLen, m.cfg.Dim)
	for b, row := range tokens {
		if len(row) != seqLen {
			return nil, fmt.Errorf("ragged token batch: item %d has %d tokens, expected %d", b, len(row), seqLen)
		}
		for t, tok := range row {
			if tok < 0 || tok >= m.cfg.Vocab {
				return nil, fmt.Errorf("token id out of range: %d", tok)
			}
			copy(x.Row(b, t), m.emb.Row(tok))
		}
	}
	return x, nil
}

// feedForward applies the pre-norm GELU MLP to every position.
func (m *Model) feedForward(l *layer, x *tensor.Seq) *tensor.Seq {
	out := tensor.NewSeq(x.Batch, x.Len, x.Dim)
	normed := make([]float32, x.Dim)
	hidden := make([]float32, l.w1.R)
	for b := 0; b < x.Batch; b++ {
		for t := 0; t < x.Len; t++ {
			tensor.RMSNorm(normed, x.Row(b, t), l.ffNormW, m.cfg.Eps)
			tensor.MatVec(hidden, &l.w1, normed)
			for i := range hidden {
				hidden[i] = tensor.Gelu(hidden[i])
			}
			tensor.MatVec(out.Row(b, t), &l.w2, hidden)
		}
	}
	return out
}

func (m *Model) logits(x *tensor.Seq) *tensor.Seq {
	out := tensor.NewSeq(x.Batch, x.Len, m.cfg.Vocab)
	normed := make([]float32, x.Dim)
	for b := 0; b < x.Batch; b++ {
		for t := 0; t < x.Len; t++ {
			tensor.RMSNorm(normed, x.Row(b, t), m.outNorm, m.cfg.Eps)
			tensor.MatVec(out.Row(b, t), &m.wLogits, normed)
		}
	}
	return out
}

func ones(n int) []float32 {
	w := make([]float32, n)
	for i := range w {
		w[i] = 1
	}
	return w
}
