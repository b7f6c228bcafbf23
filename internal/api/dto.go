package api

import (
	"fmt"

	"github.com/samcharles93/ringattn/internal/tensor"
)

// AttentionRequest carries one attention computation. Query, key and value
// are nested [batch][heads][len][dim] arrays; mask is an optional
// [batch][len] validity mask (true = valid). Block sizes of zero select the
// materialized reference path; non-zero sizes select the block-tiled online
// softmax path.
type AttentionRequest struct {
	Query [][][][]float32 `json:"query"`
	Key   [][][][]float32 `json:"key"`
	Value [][][][]float32 `json:"value"`
	Mask  [][]bool        `json:"mask,omitempty"`

	Causal         bool `json:"causal,omitempty"`
	QueryBlockSize int  `json:"query_block_size,omitempty"`
	KeyBlockSize   int  `json:"key_block_size,omitempty"`
}

// AttentionResponse returns the attention output with the same nesting as
// the request tensors.
type AttentionResponse struct {
	ID        string          `json:"id"`
	Output    [][][][]float32 `json:"output"`
	ElapsedMS float64         `json:"elapsed_ms"`
}

// headsFromNested validates and flattens a nested [batch][heads][len][dim]
// array into a Heads tensor.
func headsFromNested(name string, a [][][][]float32) (*tensor.Heads, error) {
	if len(a) == 0 || len(a[0]) == 0 || len(a[0][0]) == 0 || len(a[0][0][0]) == 0 {
		return nil, fmt.Errorf("%s: empty tensor", name)
	}
	batch, heads, length, dim := len(a), len(a[0]), len(a[0][0]), len(a[0][0][0])
	out := tensor.NewHeads(batch, heads, length, dim)
	for b, perHead := range a {
		if len(perHead) != heads {
			return nil, fmt.Errorf("%s: ragged heads dimension at batch %d", name, b)
		}
		for h, rows := range perHead {
			if len(rows) != length {
				return nil, fmt.Errorf("%s: ragged sequence dimension at batch %d head %d", name, b, h)
			}
			for t, row := range rows {
				if len(row) != dim {
					return nil, fmt.Errorf("%s: ragged feature dimension at batch %d head %d position %d", name, b, h, t)
				}
				copy(out.Row(b, h, t), row)
			}
		}
	}
	return out, nil
}

func headsToNested(h *tensor.Heads) [][][][]float32 {
	out := make([][][][]float32, h.Batch)
	for b := range out {
		out[b] = make([][][]float32, h.NumHeads)
		for hd := range out[b] {
			out[b][hd] = make([][]float32, h.Len)
			for t := range out[b][hd] {
				row := make([]float32, h.Dim)
				copy(row, h.Row(b, hd, t))
				out[b][hd][t] = row
			}
		}
	}
	return out
}

func maskFromNested(a [][]bool, batch, length int) (*tensor.Mask, error) {
	if len(a) != batch {
		return nil, fmt.Errorf("mask: batch dimension %d does not match tensors (%d)", len(a), batch)
	}
	out := tensor.NewMask(batch, length)
	for b, row := range a {
		if len(row) != length {
			return nil, fmt.Errorf("mask: sequence dimension %d at batch %d does not match tensors (%d)", len(row), b, length)
		}
		copy(out.Row(b), row)
	}
	return out, nil
}
