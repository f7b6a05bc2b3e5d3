// Package minerva is the call surface a search engine drives: a
// fixed-capacity table of independently loaded network engines for
// batched position evaluation, and a parallel table of endgame
// tablebase sessions probed by FEN.
package minerva

import "errors"

const (
	// InputPlanes is the number of packed planes encoding one position.
	InputPlanes = 112

	// MaxMoves bounds the per-position move list a caller supplies.
	MaxMoves = 96

	// MaxBatchSize bounds one evaluation batch; compute record arrays
	// are caller-allocated to this size.
	MaxBatchSize = 1024

	// MaxSessions is the capacity of the network and tablebase tables.
	MaxSessions = 32

	// PolicyOutputs is the size of the global move-index space policy
	// indices address.
	PolicyOutputs = 1858
)

var (
	// ErrInvalidSlot is returned for slot ids outside [0, MaxSessions).
	ErrInvalidSlot = errors.New("session slot out of range")

	// ErrSlotOccupied is returned when Alloc targets a loaded slot.
	ErrSlotOccupied = errors.New("session slot already allocated")

	// ErrSlotEmpty is returned when an operation targets an empty slot.
	ErrSlotEmpty = errors.New("session slot not allocated")

	// ErrBatchSize is returned when a batch violates the caller
	// contract: non-positive, above MaxBatchSize, or larger than the
	// supplied record arrays.
	ErrBatchSize = errors.New("batch size violates caller contract")
)

// InputPlane is one packed input plane: a 64-square occupancy mask
// and the value every set square expands to.
type InputPlane struct {
	Mask  uint64
	Value float32
}

// EvalInput is one position's compute record: 112 packed planes, the
// position hash, and the indices of its legal moves in the global
// move-index space. Caller-owned and read-only to the engine.
type EvalInput struct {
	Masks    [InputPlanes]uint64
	Values   [InputPlanes]float32
	Hash     uint64
	NumMoves uint32
	Moves    [MaxMoves]uint16
}

// SetPlane writes one packed plane into the record.
func (in *EvalInput) SetPlane(i int, p InputPlane) {
	in.Masks[i] = p.Mask
	in.Values[i] = p.Value
}

// EvalOutput is one position's results. Policy[i] answers Moves[i] of
// the input record; indices at or beyond NumMoves are never written.
// Value is win−loss under WDL and the raw scalar otherwise; Draw is 0
// for scalar-value networks.
type EvalOutput struct {
	Value     float32
	Draw      float32
	MovesLeft float32
	Policy    [MaxMoves]float32
}
