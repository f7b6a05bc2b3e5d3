package device

import "math"

// Half precision storage helpers. Buffers flagged as half keep their
// values rounded through IEEE 754 binary16 after every kernel store,
// while all arithmetic accumulates in float32. This reproduces the
// numeric behaviour of reduced-precision hardware paths (wide
// accumulate, narrow store).

// Float32ToHalf converts f to its nearest binary16 bit pattern using
// round-to-nearest-even.
func Float32ToHalf(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16(bits>>16) & 0x8000
	exp := int32(bits>>23&0xFF) - 127 + 15
	mant := bits & 0x7FFFFF

	// Inf and NaN keep their class.
	if bits>>23&0xFF == 0xFF {
		if mant != 0 {
			return sign | 0x7E00
		}
		return sign | 0x7C00
	}

	// Values beyond the binary16 range overflow to infinity.
	if exp >= 0x1F {
		return sign | 0x7C00
	}

	if exp <= 0 {
		// Too small even for a subnormal.
		if exp < -10 {
			return sign
		}
		// Subnormal: shift out the implicit bit, round to nearest even.
		mant |= 0x800000
		shift := uint32(14 - exp)
		h := uint16(mant >> shift)
		rem := mant & (1<<shift - 1)
		halfway := uint32(1) << (shift - 1)
		if rem > halfway || (rem == halfway && h&1 == 1) {
			h++
		}
		return sign | h
	}

	h := sign | uint16(exp)<<10 | uint16(mant>>13)
	rem := mant & 0x1FFF
	// A carry out of the mantissa correctly bumps the exponent.
	if rem > 0x1000 || (rem == 0x1000 && h&1 == 1) {
		h++
	}
	return h
}

// HalfToFloat32 expands a binary16 bit pattern to float32.
func HalfToFloat32(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	exp := uint32(h >> 10 & 0x1F)
	mant := uint32(h & 0x3FF)

	switch {
	case exp == 0:
		if mant == 0 {
			return math.Float32frombits(sign)
		}
		// Subnormal: renormalize into the float32 range.
		e := uint32(127 - 15 + 1)
		for mant&0x400 == 0 {
			mant <<= 1
			e--
		}
		mant &= 0x3FF
		return math.Float32frombits(sign | e<<23 | mant<<13)
	case exp == 0x1F:
		if mant == 0 {
			return math.Float32frombits(sign | 0x7F800000)
		}
		return math.Float32frombits(sign | 0x7FC00000 | mant<<13)
	default:
		return math.Float32frombits(sign | (exp+112)<<23 | mant<<13)
	}
}

// RoundHalf rounds f through binary16 storage and back.
func RoundHalf(f float32) float32 {
	return HalfToFloat32(Float32ToHalf(f))
}

// RoundHalfSlice rounds every element of s in place. Used when layer
// weights are prepared for a half precision engine.
func RoundHalfSlice(s []float32) {
	for i, v := range s {
		s[i] = RoundHalf(v)
	}
}
