// Package tablebase answers endgame probes by FEN: win/draw/loss for
// a position and the best root move with its distance-to-zero. A
// probe session gates on the material whose tablebase files are
// actually present, then works through an in-memory cache, an
// optional persistent cache and an HTTP endpoint.
package tablebase

import (
	"github.com/notnil/chess"
)

// WDL is a win/draw/loss score from the side to move's perspective.
type WDL int

const (
	WDLLoss        WDL = -2
	WDLBlessedLoss WDL = -1 // loss the 50-move rule may save
	WDLDraw        WDL = 0
	WDLCursedWin   WDL = 1 // win the 50-move rule may spoil
	WDLWin         WDL = 2
)

// ProbeState classifies a WDL probe for the encoded external result.
// StateChangeSTM and StateZeroingBestMove are reserved by the probe
// protocol for probes resolved through a side-to-move flip or a
// zeroing best move.
type ProbeState int

const (
	StateFail ProbeState = iota
	StateOK
	StateChangeSTM
	StateZeroingBestMove
)

// ProbeResult is the outcome of a position lookup.
type ProbeResult struct {
	Found bool `json:"found"`
	WDL   WDL  `json:"wdl"`
	DTZ   int  `json:"dtz"`
}

// RootResult carries the best move at the root.
type RootResult struct {
	Found bool
	UCI   string
	WDL   WDL
	DTZ   int
}

// Prober looks up positions in some tablebase backend.
type Prober interface {
	// Probe returns win/draw/loss information for a position.
	Probe(pos *chess.Position) ProbeResult

	// ProbeRoot finds the best move at the root position. More
	// expensive, as it ranks every legal move.
	ProbeRoot(pos *chess.Position) RootResult

	// MaxPieces returns the largest piece count the backend covers.
	MaxPieces() int

	// Available reports whether the backend can answer at all.
	Available() bool
}

// CountPieces returns the number of pieces on the board.
func CountPieces(pos *chess.Position) int {
	return len(pos.Board().SquareMap())
}

// ParseFEN builds a position from a FEN string.
func ParseFEN(fen string) (*chess.Position, error) {
	opt, err := chess.FEN(fen)
	if err != nil {
		return nil, err
	}
	return chess.NewGame(opt).Position(), nil
}

// NormalizeFEN reduces a FEN to the fields that identify a position
// for tablebase purposes: placement, side to move, castling and
// en passant. Move counters are irrelevant to the lookup.
func NormalizeFEN(fen string) string {
	fields := 0
	for i := 0; i < len(fen); i++ {
		if fen[i] == ' ' {
			fields++
			if fields == 4 {
				return fen[:i]
			}
		}
	}
	return fen
}
