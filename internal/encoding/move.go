package encoding

import "fmt"

// Packed moves travel across the tablebase surface as plain integers:
// bits 0-5 from-square, 6-11 to-square, 12-14 promotion piece.

// PackMove packs a move into its integer form.
func PackMove(from, to int, promo Promotion) int32 {
	return int32(from) | int32(to)<<6 | int32(promo)<<12
}

// UnpackMove splits a packed move back into its fields.
func UnpackMove(m int32) (from, to int, promo Promotion) {
	return int(m & 0x3F), int(m >> 6 & 0x3F), Promotion(m >> 12 & 0x7)
}

// MoveString renders a packed move in coordinate notation
// (e.g. "e2e4", "a7a8n").
func MoveString(m int32) string {
	from, to, promo := UnpackMove(m)
	s := fmt.Sprintf("%c%c%c%c", 'a'+from%8, '1'+from/8, 'a'+to%8, '1'+to/8)
	switch promo {
	case PromoKnight:
		s += "n"
	case PromoBishop:
		s += "b"
	case PromoRook:
		s += "r"
	case PromoQueen:
		s += "q"
	}
	return s
}

// ParseMove parses coordinate notation into a packed move.
func ParseMove(s string) (int32, error) {
	if len(s) != 4 && len(s) != 5 {
		return 0, fmt.Errorf("bad move %q: want 4 or 5 characters", s)
	}
	ff, fr := int(s[0]-'a'), int(s[1]-'1')
	tf, tr := int(s[2]-'a'), int(s[3]-'1')
	if ff < 0 || ff > 7 || fr < 0 || fr > 7 || tf < 0 || tf > 7 || tr < 0 || tr > 7 {
		return 0, fmt.Errorf("bad move %q: square off the board", s)
	}
	promo := PromoNone
	if len(s) == 5 {
		switch s[4] {
		case 'n':
			promo = PromoKnight
		case 'b':
			promo = PromoBishop
		case 'r':
			promo = PromoRook
		case 'q':
			promo = PromoQueen
		default:
			return 0, fmt.Errorf("bad move %q: unknown promotion %q", s, s[4])
		}
	}
	return PackMove(fr*8+ff, tr*8+tf, promo), nil
}
