package ring

import (
	"strings"
	"sync"
	"testing"

	"github.com/samcharles93/ringattn/internal/tensor"
)

func TestLaunchRunsEveryRank(t *testing.T) {
	var mu sync.Mutex
	seen := map[int]bool{}
	err := Launch(4, func(c *Context) error {
		if c.WorldSize != 4 {
			t.Errorf("rank %d: world size %d", c.Rank, c.WorldSize)
		}
		mu.Lock()
		seen[c.Rank] = true
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	for r := 0; r < 4; r++ {
		if !seen[r] {
			t.Fatalf("rank %d never ran", r)
		}
	}
}

func TestLaunchRejectsEmptyWorld(t *testing.T) {
	if err := Launch(0, func(*Context) error { return nil }); err == nil {
		t.Fatal("expected error for world size 0")
	}
}

func TestLaunchWrapsRankErrors(t *testing.T) {
	err := Launch(1, func(c *Context) error {
		return errTest
	})
	if err == nil || !strings.Contains(err.Error(), "rank 0") {
		t.Fatalf("expected rank-tagged error, got %v", err)
	}
}

type testError string

func (e testError) Error() string { return string(e) }

const errTest = testError("boom")

// Each rank repeatedly passes its payload forward. After t exchanges a rank
// must hold the payload that originated at rank (rank - t) mod W, and after
// W exchanges its own again.
func TestExchangeRotation(t *testing.T) {
	const world = 4
	err := Launch(world, func(c *Context) error {
		held := [][]float32{{float32(c.Rank)}}
		for step := 1; step <= world; step++ {
			held = c.Exchange(held)
			origin := (c.Rank - step + world) % world
			if got := int(held[0][0]); got != origin {
				t.Errorf("rank %d step %d: holds payload from %d, want %d", c.Rank, step, got, origin)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestExchangeSingleRankIsIdentity(t *testing.T) {
	c := Single()
	payload := [][]float32{{1, 2}}
	got := c.Exchange(payload)
	if &got[0][0] != &payload[0][0] {
		t.Fatal("single-rank exchange should return the payload unchanged")
	}
}

func TestAllGatherSeqBatchOrderAndSizes(t *testing.T) {
	const world = 3
	err := Launch(world, func(c *Context) error {
		// Rank r contributes r+1 batch items, each filled with its rank id.
		local := tensor.NewSeq(c.Rank+1, 2, 1)
		for i := range local.Data {
			local.Data[i] = float32(c.Rank)
		}
		gathered, sizes := c.AllGatherSeq(local, AxisBatch)

		wantSizes := []int{1, 2, 3}
		for i := range wantSizes {
			if sizes[i] != wantSizes[i] {
				t.Errorf("rank %d: sizes[%d] = %d, want %d", c.Rank, i, sizes[i], wantSizes[i])
			}
		}
		if gathered.Batch != 6 {
			t.Errorf("rank %d: gathered batch %d, want 6", c.Rank, gathered.Batch)
		}
		b := 0
		for r := 0; r < world; r++ {
			for i := 0; i < r+1; i++ {
				if gathered.Row(b, 0)[0] != float32(r) {
					t.Errorf("rank %d: batch item %d not from rank %d", c.Rank, b, r)
				}
				b++
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestAllGatherSeqLenAxis(t *testing.T) {
	const world = 2
	err := Launch(world, func(c *Context) error {
		local := tensor.NewSeq(1, 3, 1)
		for i := range local.Data {
			local.Data[i] = float32(c.Rank)
		}
		gathered, sizes := c.AllGatherSeq(local, AxisLen)
		if gathered.Len != 6 || sizes[0] != 3 || sizes[1] != 3 {
			t.Errorf("rank %d: gathered len %d sizes %v", c.Rank, gathered.Len, sizes)
		}
		if gathered.Row(0, 0)[0] != 0 || gathered.Row(0, 3)[0] != 1 {
			t.Errorf("rank %d: wrong rank order along sequence", c.Rank)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestCollectiveReusableAcrossRounds(t *testing.T) {
	const world = 4
	err := Launch(world, func(c *Context) error {
		for round := 0; round < 10; round++ {
			local := tensor.NewSeq(1, 1, 1)
			local.Data[0] = float32(c.Rank*100 + round)
			gathered, _ := c.AllGatherSeq(local, AxisBatch)
			for r := 0; r < world; r++ {
				want := float32(r*100 + round)
				if gathered.Row(r, 0)[0] != want {
					t.Errorf("rank %d round %d: slot %d = %v, want %v",
						c.Rank, round, r, gathered.Row(r, 0)[0], want)
				}
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestBarrier(t *testing.T) {
	err := Launch(3, func(c *Context) error {
		for i := 0; i < 5; i++ {
			c.Barrier()
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
