// Package encoding defines the global move-index space shared by the
// policy head and its consumers, and the packed-move integers used on
// the tablebase surface.
//
// The index space has 1858 entries: every queen-ray move (1456) and
// knight move (336) between two squares, plus the 66 underpromotion
// moves (22 seventh-to-eighth-rank pawn steps times knight, bishop and
// rook). Queen promotions share the index of the plain from-to move,
// matching the side-to-move-relative board the network sees.
package encoding

import "fmt"

const (
	// PolicyOutputs is the size of the global move-index space.
	PolicyOutputs = 1858

	// PolicyPlanes is the number of convolutional policy planes. Plane
	// layout: 0-55 queen moves (direction*7 + distance-1), 56-63 knight
	// moves, 64-72 underpromotions (direction*3 + piece).
	PolicyPlanes = 73

	// PolicyInputs is the flattened size of the convolutional policy
	// output that PolicyTable maps onto the index space.
	PolicyInputs = PolicyPlanes * 64
)

// Promotion identifies the piece a pawn promotes to. PromoQueen moves
// are indexed as plain queen-ray moves.
type Promotion uint8

const (
	PromoNone Promotion = iota
	PromoKnight
	PromoBishop
	PromoRook
	PromoQueen
)

// Direction ordering for the 56 queen-move planes.
var queenDirs = [8][2]int{
	{0, 1}, {1, 1}, {1, 0}, {1, -1}, {0, -1}, {-1, -1}, {-1, 0}, {-1, 1},
}

// Direction ordering for the 8 knight-move planes.
var knightDirs = [8][2]int{
	{1, 2}, {2, 1}, {2, -1}, {1, -2}, {-1, -2}, {-2, -1}, {-2, 1}, {-1, 2},
}

var (
	policyTable [PolicyInputs]int16
	moveIndex   map[uint32]uint16
	moveList    []uint32
)

func init() {
	buildPolicySpace()
}

func moveKey(from, to int, promo Promotion) uint32 {
	if promo == PromoQueen {
		promo = PromoNone
	}
	return uint32(from) | uint32(to)<<6 | uint32(promo)<<12
}

func buildPolicySpace() {
	moveIndex = make(map[uint32]uint16, PolicyOutputs)
	moveList = make([]uint32, 0, PolicyOutputs)
	add := func(from, to int, promo Promotion) uint16 {
		key := moveKey(from, to, promo)
		idx := uint16(len(moveList))
		moveIndex[key] = idx
		moveList = append(moveList, key)
		return idx
	}

	for i := range policyTable {
		policyTable[i] = -1
	}

	// Queen-ray and knight moves, from-square major.
	for from := 0; from < 64; from++ {
		ff, fr := from%8, from/8
		for d, dir := range queenDirs {
			for dist := 1; dist <= 7; dist++ {
				tf, tr := ff+dir[0]*dist, fr+dir[1]*dist
				if tf < 0 || tf > 7 || tr < 0 || tr > 7 {
					break
				}
				idx := add(from, tr*8+tf, PromoNone)
				policyTable[(d*7+dist-1)*64+from] = int16(idx)
			}
		}
		for k, dir := range knightDirs {
			tf, tr := ff+dir[0], fr+dir[1]
			if tf < 0 || tf > 7 || tr < 0 || tr > 7 {
				continue
			}
			idx := add(from, tr*8+tf, PromoNone)
			policyTable[(56+k)*64+from] = int16(idx)
		}
	}

	// Underpromotions: pawns on the seventh rank, three capture
	// directions, three pieces.
	promos := [3]Promotion{PromoKnight, PromoBishop, PromoRook}
	for from := 48; from < 56; from++ {
		ff := from % 8
		for d := 0; d < 3; d++ {
			tf := ff + d - 1
			if tf < 0 || tf > 7 {
				continue
			}
			to := 56 + tf
			for p, promo := range promos {
				idx := add(from, to, promo)
				policyTable[(64+d*3+p)*64+from] = int16(idx)
			}
		}
	}

	if len(moveList) != PolicyOutputs {
		panic(fmt.Sprintf("encoding: move-index space has %d entries, want %d", len(moveList), PolicyOutputs))
	}
}

// PolicyTable returns the permutation from the flattened convolutional
// policy output onto the move-index space. Entries are -1 where the
// (plane, square) pair names no move.
func PolicyTable() []int16 {
	return policyTable[:]
}

// MoveIndex returns the policy index of a move, with queen promotions
// collapsed onto the plain move. ok is false for moves outside the
// space (same-square, off-ray, malformed promotions).
func MoveIndex(from, to int, promo Promotion) (uint16, bool) {
	if from < 0 || from > 63 || to < 0 || to > 63 {
		return 0, false
	}
	idx, ok := moveIndex[moveKey(from, to, promo)]
	return idx, ok
}
