// Package ring provides the distributed substrate for sequence-parallel
// attention: a fixed circular ordering of worker ranks, a point-to-point
// shard exchange between ring neighbours, all-gather collectives, and the
// gateway that converts batch-sharded tensors to sequence-sharded ones.
//
// Worlds are simulated in-process: Launch runs one goroutine per rank, each
// holding an explicit Context. Nothing in this package is ambient state, so
// multi-rank behaviour is testable from a single test binary.
package ring

import (
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/ringattn/internal/logger"
)

// Context is one rank's view of the collective world. Rank is the 0-indexed
// identity in the ring and WorldSize the ring length; both are constant for
// the lifetime of a launch. Every sharding and orchestration call takes a
// Context explicitly.
type Context struct {
	Rank      int
	WorldSize int

	w *world
}

// world holds the rendezvous state shared by all ranks of one launch.
type world struct {
	size  int
	runID string
	links []chan [][]float32
	coll  *collective
}

func newWorld(size int) *world {
	w := &world{
		size:  size,
		runID: uuid.NewString(),
		links: make([]chan [][]float32, size),
		coll:  newCollective(size),
	}
	for i := range w.links {
		// Buffered one deep so every rank can post its send before any
		// rank blocks on its receive.
		w.links[i] = make(chan [][]float32, 1)
	}
	return w
}

// Single returns a context for a world of one rank. Transport and
// collectives degenerate to identity operations.
func Single() *Context {
	return &Context{Rank: 0, WorldSize: 1, w: newWorld(1)}
}

// RunID returns the identifier assigned to this world launch.
func (c *Context) RunID() string { return c.w.runID }

// Distributed reports whether more than one rank is active.
func (c *Context) Distributed() bool { return c.WorldSize > 1 }

// Launch runs fn once per rank on its own goroutine and blocks until every
// rank returns. The first non-nil error is returned; any rank failing is
// fatal to the whole collective operation, there is no per-rank recovery.
func Launch(worldSize int, fn func(*Context) error) error {
	if worldSize < 1 {
		return fmt.Errorf("world size must be at least 1, got %d", worldSize)
	}
	w := newWorld(worldSize)
	logger.Default().Debug("launching world", "run_id", w.runID, "world_size", worldSize)

	var g errgroup.Group
	for rank := 0; rank < worldSize; rank++ {
		ctx := &Context{Rank: rank, WorldSize: worldSize, w: w}
		g.Go(func() error {
			if err := fn(ctx); err != nil {
				return fmt.Errorf("rank %d: %w", ctx.Rank, err)
			}
			return nil
		})
	}
	return g.Wait()
}
