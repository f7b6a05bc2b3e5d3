package nn

import (
	"sync"

	"github.com/minerva-chess/minerva/internal/encoding"
	"github.com/minerva-chess/minerva/internal/weights"
)

// InputsOutputs is one staging buffer pairing the packed input planes
// of a batch with the regions the engine writes results into. Buffers
// are recycled through the engine's freelist and are never held by two
// computations at once.
type InputsOutputs struct {
	// Inputs, batch*112 each: one occupancy mask and one scalar per
	// plane.
	Masks  []uint64
	Values []float32

	// Outputs. Policy holds the full move-index space per sample;
	// Value holds one scalar or a (win, draw, loss) triple; MovesLeft
	// is nil when the head is disabled.
	Policy    []float32
	Value     []float32
	MovesLeft []float32
}

// ioPool is the freelist of staging buffers. It has its own lock,
// independent of the execution lock, so recycling never contends with
// an in-flight evaluation.
type ioPool struct {
	mu        sync.Mutex
	free      []*InputsOutputs
	allocated int

	maxBatch   int
	valueWidth int
	movesLeft  bool
}

func newIOPool(maxBatch int, valueWidth int, movesLeft bool) *ioPool {
	return &ioPool{maxBatch: maxBatch, valueWidth: valueWidth, movesLeft: movesLeft}
}

func (p *ioPool) Acquire() *InputsOutputs {
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		io := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return io
	}
	p.allocated++
	p.mu.Unlock()

	io := &InputsOutputs{
		Masks:  make([]uint64, p.maxBatch*weights.InputPlanes),
		Values: make([]float32, p.maxBatch*weights.InputPlanes),
		Policy: make([]float32, p.maxBatch*encoding.PolicyOutputs),
		Value:  make([]float32, p.maxBatch*p.valueWidth),
	}
	if p.movesLeft {
		io.MovesLeft = make([]float32, p.maxBatch)
	}
	return io
}

func (p *ioPool) Release(io *InputsOutputs) {
	if io == nil {
		return
	}
	p.mu.Lock()
	p.free = append(p.free, io)
	p.mu.Unlock()
}

// Allocated reports how many staging buffers exist, free or in use.
func (p *ioPool) Allocated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocated
}
