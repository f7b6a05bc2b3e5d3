package minerva

import (
	"fmt"
	"sync"

	"k8s.io/klog/v2"

	"github.com/minerva-chess/minerva/internal/nn"
	"github.com/minerva-chess/minerva/internal/weights"
)

// Precision selects the engine's arithmetic path.
type Precision = nn.Precision

const (
	PrecisionAuto   = nn.PrecisionAuto
	PrecisionSingle = nn.PrecisionSingle
	PrecisionHalf   = nn.PrecisionHalf
)

// Fusion controls the fused residual-block optimization.
type Fusion = nn.Fusion

const (
	FuseAuto = nn.FuseAuto
	FuseOn   = nn.FuseOn
	FuseOff  = nn.FuseOff
)

// Options tunes a network allocation. The zero value gives the
// defaults: full batch bound, automatic precision and fusion, the
// moves-left head enabled when the network has one.
type Options struct {
	MaxBatch         int
	Precision        Precision
	Fusion           Fusion
	DisableMovesLeft bool
}

// SessionTable is the registry of loaded network engines. Slots are
// fully independent: operations on one never observe another, and
// concurrent Compute calls on the same slot queue behind that slot's
// engine.
type SessionTable struct {
	mu    sync.Mutex
	slots [MaxSessions]*nn.Engine
}

// NewSessionTable returns an empty table.
func NewSessionTable() *SessionTable {
	return &SessionTable{}
}

func checkSlot(slot int) error {
	if slot < 0 || slot >= MaxSessions {
		return fmt.Errorf("%w: %d", ErrInvalidSlot, slot)
	}
	return nil
}

// Alloc loads the weights file and constructs an engine in the given
// slot. On any failure the slot stays empty.
func (t *SessionTable) Alloc(slot int, path string, deviceIndex int, opts Options) error {
	if err := checkSlot(slot); err != nil {
		return err
	}

	t.mu.Lock()
	occupied := t.slots[slot] != nil
	t.mu.Unlock()
	if occupied {
		return fmt.Errorf("%w: slot %d", ErrSlotOccupied, slot)
	}

	w, err := weights.Load(path)
	if err != nil {
		return fmt.Errorf("slot %d: %w", slot, err)
	}
	engine, err := nn.NewEngine(w, nn.Options{
		Device:           deviceIndex,
		MaxBatch:         opts.MaxBatch,
		Precision:        opts.Precision,
		Fusion:           opts.Fusion,
		DisableMovesLeft: opts.DisableMovesLeft,
	})
	if err != nil {
		return fmt.Errorf("slot %d: %w", slot, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.slots[slot] != nil {
		// Lost a race with another Alloc on the same slot.
		return fmt.Errorf("%w: slot %d", ErrSlotOccupied, slot)
	}
	t.slots[slot] = engine
	klog.Infof("[Session] slot %d: loaded %s (half=%v fused=%v wdl=%v mlh=%v)",
		slot, path, engine.Half(), engine.Fused(), engine.WDL(), engine.MovesLeft())
	return nil
}

// Free releases the engine in a slot. Freeing an empty slot is an
// error but harms nothing.
func (t *SessionTable) Free(slot int) error {
	if err := checkSlot(slot); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.slots[slot] == nil {
		return fmt.Errorf("%w: slot %d", ErrSlotEmpty, slot)
	}
	t.slots[slot] = nil
	return nil
}

func (t *SessionTable) engine(slot int) (*nn.Engine, error) {
	if err := checkSlot(slot); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.slots[slot] == nil {
		return nil, fmt.Errorf("%w: slot %d", ErrSlotEmpty, slot)
	}
	return t.slots[slot], nil
}

// Compute evaluates a batch against a slot's engine. Policy values
// are written only for the move indices each input supplies.
func (t *SessionTable) Compute(slot int, batch int, in []EvalInput, out []EvalOutput) error {
	engine, err := t.engine(slot)
	if err != nil {
		return err
	}
	if batch < 1 || batch > MaxBatchSize || batch > len(in) || batch > len(out) {
		return fmt.Errorf("%w: batch %d with %d inputs / %d outputs",
			ErrBatchSize, batch, len(in), len(out))
	}

	for i := 0; i < batch; i++ {
		if in[i].NumMoves > MaxMoves {
			return fmt.Errorf("%w: position %d supplies %d moves (max %d)",
				ErrBatchSize, i, in[i].NumMoves, MaxMoves)
		}
		for j := 0; j < int(in[i].NumMoves); j++ {
			if in[i].Moves[j] >= PolicyOutputs {
				return fmt.Errorf("%w: position %d move %d has index %d (policy space %d)",
					ErrBatchSize, i, j, in[i].Moves[j], PolicyOutputs)
			}
		}
	}

	c := engine.NewComputation()
	defer c.Close()
	for i := 0; i < batch; i++ {
		if err := c.AddInput(in[i].Masks[:], in[i].Values[:]); err != nil {
			return fmt.Errorf("slot %d: %w", slot, err)
		}
	}
	if err := c.Compute(); err != nil {
		return fmt.Errorf("slot %d: %w", slot, err)
	}

	for i := 0; i < batch; i++ {
		out[i].Value = c.QVal(i)
		out[i].Draw = c.DVal(i)
		out[i].MovesLeft = c.MVal(i)
		for j := 0; j < int(in[i].NumMoves); j++ {
			out[i].Policy[j] = c.PVal(i, in[i].Moves[j])
		}
	}
	return nil
}
