package nn

import (
	"fmt"

	"github.com/minerva-chess/minerva/internal/encoding"
	"github.com/minerva-chess/minerva/internal/weights"
)

// Computation accumulates one batch of positions against an engine.
// It borrows a staging buffer for its lifetime: append inputs, run
// Compute once, read the typed accessors, then Close to recycle the
// buffer.
type Computation struct {
	engine *Engine
	io     *InputsOutputs
	batch  int
	done   bool
}

// NewComputation borrows a staging buffer for one batch.
func (e *Engine) NewComputation() *Computation {
	return &Computation{engine: e, io: e.ios.Acquire()}
}

// AddInput appends one position's 112 packed planes. It fails once
// the configured batch bound is reached.
func (c *Computation) AddInput(masks []uint64, values []float32) error {
	if len(masks) != weights.InputPlanes || len(values) != weights.InputPlanes {
		return fmt.Errorf("position has %d masks / %d values, want %d",
			len(masks), len(values), weights.InputPlanes)
	}
	if c.batch >= c.engine.maxBatch {
		return fmt.Errorf("%w: %d positions", ErrBatchTooLarge, c.batch+1)
	}
	off := c.batch * weights.InputPlanes
	copy(c.io.Masks[off:], masks)
	copy(c.io.Values[off:], values)
	c.batch++
	return nil
}

// Batch returns the number of positions added so far.
func (c *Computation) Batch() int { return c.batch }

// Compute runs the blocking evaluation for the accumulated batch.
func (c *Computation) Compute() error {
	if c.batch == 0 {
		return fmt.Errorf("empty computation")
	}
	if err := c.engine.Evaluate(c.io, c.batch); err != nil {
		return err
	}
	c.done = true
	return nil
}

// QVal returns sample i's expected value: win−loss under WDL, the raw
// scalar otherwise.
func (c *Computation) QVal(i int) float32 {
	if c.engine.wdl {
		return c.io.Value[3*i] - c.io.Value[3*i+2]
	}
	return c.io.Value[i]
}

// DVal returns sample i's draw probability, 0 when the value head is
// scalar.
func (c *Computation) DVal(i int) float32 {
	if c.engine.wdl {
		return c.io.Value[3*i+1]
	}
	return 0
}

// PVal returns sample i's policy output for a move index.
func (c *Computation) PVal(i int, moveID uint16) float32 {
	return c.io.Policy[i*encoding.PolicyOutputs+int(moveID)]
}

// MVal returns sample i's moves-left estimate, 0 when the head is
// disabled.
func (c *Computation) MVal(i int) float32 {
	if !c.engine.mlh {
		return 0
	}
	return c.io.MovesLeft[i]
}

// Close returns the staging buffer to the freelist. The computation
// must not be used afterwards.
func (c *Computation) Close() {
	c.engine.ios.Release(c.io)
	c.io = nil
}
