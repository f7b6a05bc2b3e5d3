package device

import (
	"math"
	"testing"
)

func TestHalfRoundTrip(t *testing.T) {
	// Every binary16 value must survive a trip through float32.
	for bits := 0; bits < 1<<16; bits++ {
		h := uint16(bits)
		f := HalfToFloat32(h)
		back := Float32ToHalf(f)
		if math.IsNaN(float64(f)) {
			if back&0x7C00 != 0x7C00 || back&0x3FF == 0 {
				t.Fatalf("NaN %04x came back as %04x", h, back)
			}
			continue
		}
		if back != h {
			t.Fatalf("half %04x -> %g -> %04x", h, f, back)
		}
	}
}

func TestHalfRounding(t *testing.T) {
	tests := []struct {
		in   float32
		want float32
	}{
		{0, 0},
		{1, 1},
		{-1, -1},
		{0.5, 0.5},
		{65504, 65504},           // largest finite half
		{1.0009765625, 1.0009765625}, // 1 + 2^-10, exactly representable
		{1.00048828125, 1},        // 1 + 2^-11 rounds to even
		{1e30, float32(math.Inf(1))},
		{-1e30, float32(math.Inf(-1))},
		{6.103515625e-05, 6.103515625e-05}, // smallest normal half
		{5.960464477539063e-08, 5.960464477539063e-08}, // smallest subnormal
	}
	for _, tc := range tests {
		got := RoundHalf(tc.in)
		if got != tc.want {
			t.Errorf("RoundHalf(%g) = %g, want %g", tc.in, got, tc.want)
		}
	}
}

func TestHalfErrorBound(t *testing.T) {
	// Storage rounding is within half a ULP across the normal range.
	state := uint64(7)
	for i := 0; i < 10000; i++ {
		state = state*6364136223846793005 + 1442695040888963407
		f := (float32(state>>40) - float32(1<<23)) / (1 << 18)
		r := RoundHalf(f)
		ulp := float32(math.Max(math.Abs(float64(f))/1024, 5.96e-08))
		if diff := float32(math.Abs(float64(r - f))); diff > ulp/2+1e-12 {
			t.Fatalf("RoundHalf(%g) = %g, off by %g (> half ULP %g)", f, r, diff, ulp/2)
		}
	}
}

func TestHalfBufferStores(t *testing.T) {
	dev, err := Get(0)
	if err != nil {
		t.Fatal(err)
	}
	b := dev.NewBuffer(4, true)
	b.data[0] = 1.00048828125 // rounds to 1 in half
	b.roundStored(0, 1)
	if b.data[0] != 1 {
		t.Errorf("half buffer kept %g after rounding", b.data[0])
	}
	b.store(1, 1.00048828125)
	if b.data[1] != 1 {
		t.Errorf("half store kept %g", b.data[1])
	}
}
