package device

import (
	"math"
	"testing"
)

// convDirect is the reference 3×3 convolution with zero padding.
func convDirect(batch, outC, inC int, in, w, bias []float32, relu bool, skip []float32) []float32 {
	out := make([]float32, batch*outC*64)
	for n := 0; n < batch; n++ {
		for k := 0; k < outC; k++ {
			for y := 0; y < 8; y++ {
				for x := 0; x < 8; x++ {
					acc := bias[k]
					for c := 0; c < inC; c++ {
						for dy := -1; dy <= 1; dy++ {
							for dx := -1; dx <= 1; dx++ {
								sy, sx := y+dy, x+dx
								if sy < 0 || sy > 7 || sx < 0 || sx > 7 {
									continue
								}
								acc += w[((k*inC+c)*3+dy+1)*3+dx+1] * in[(n*inC+c)*64+sy*8+sx]
							}
						}
					}
					idx := (n*outC+k)*64 + y*8 + x
					if skip != nil {
						acc += skip[idx]
					}
					if relu && acc < 0 {
						acc = 0
					}
					out[idx] = acc
				}
			}
		}
	}
	return out
}

func winogradEval(t *testing.T, dev *Device, batch, outC, inC int, in, w, bias []float32, relu bool, skip []float32) []float32 {
	t.Helper()
	T := batch * 4
	u := TransformFilter(w, outC, inC)
	inBuf := dev.NewBuffer(batch*inC*64, false)
	copy(inBuf.data, in)
	var skipBuf *Buffer
	if skip != nil {
		skipBuf = dev.NewBuffer(batch*outC*64, false)
		copy(skipBuf.data, skip)
	}
	scratch := dev.NewBuffer(36*(inC+outC)*T, false)
	out := dev.NewBuffer(batch*outC*64, false)

	dev.WinogradInput(batch, inC, scratch, 0, inBuf)
	dev.GemmBatched(36, outC, T, inC, u, outC*inC, scratch, 0, inC*T, scratch, 36*inC*T, outC*T)
	dev.WinogradOutput(batch, outC, out, scratch, 36*inC*T, bias, relu, skipBuf)
	dev.Synchronize()
	return append([]float32(nil), out.Data()...)
}

func TestWinogradMatchesDirect(t *testing.T) {
	dev := testDevice(t)
	cases := []struct {
		name         string
		batch, inC, outC int
		relu, skip   bool
	}{
		{"plain", 1, 4, 4, false, false},
		{"relu", 2, 3, 5, true, false},
		{"skip relu", 3, 6, 6, true, true},
		{"wide input", 2, 112, 8, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			next := testRand(11)
			in := fill(tc.batch*tc.inC*64, next)
			w := fill(tc.outC*tc.inC*9, next)
			bias := fill(tc.outC, next)
			var skip []float32
			if tc.skip {
				skip = fill(tc.batch*tc.outC*64, next)
			}

			want := convDirect(tc.batch, tc.outC, tc.inC, in, w, bias, tc.relu, skip)
			got := winogradEval(t, dev, tc.batch, tc.outC, tc.inC, in, w, bias, tc.relu, skip)

			for i := range want {
				if math.Abs(float64(got[i]-want[i])) > 1e-4 {
					t.Fatalf("output[%d] = %g, want %g", i, got[i], want[i])
				}
			}
		})
	}
}

func TestFusedResidualMatchesUnfused(t *testing.T) {
	dev := testDevice(t)
	const batch, channels = 2, 8
	next := testRand(13)
	in := fill(batch*channels*64, next)
	w1 := fill(channels*channels*9, next)
	b1 := fill(channels, next)
	w2 := fill(channels*channels*9, next)
	b2 := fill(channels, next)

	// Reference: conv1+relu, conv2+skip+relu, all direct.
	mid := convDirect(batch, channels, channels, in, w1, b1, true, nil)
	want := convDirect(batch, channels, channels, mid, w2, b2, true, in)

	inBuf := dev.NewBuffer(batch*channels*64, false)
	copy(inBuf.data, in)
	out := dev.NewBuffer(batch*channels*64, false)
	scratch := dev.NewBuffer(2*36*channels*batch*4, false)
	u1 := TransformFilter(w1, channels, channels)
	u2 := TransformFilter(w2, channels, channels)

	dev.FusedResidual(batch, channels, out, inBuf, u1, b1, u2, b2, nil, scratch)
	dev.Synchronize()

	for i := range want {
		if math.Abs(float64(out.Data()[i]-want[i])) > 1e-3 {
			t.Fatalf("fused output[%d] = %g, want %g", i, out.Data()[i], want[i])
		}
	}
}

func TestFusedResidualWithSE(t *testing.T) {
	dev := testDevice(t)
	const batch, channels, k = 1, 4, 2
	next := testRand(17)
	in := fill(batch*channels*64, next)
	w1 := fill(channels*channels*9, next)
	b1 := fill(channels, next)
	w2 := fill(channels*channels*9, next)
	b2 := fill(channels, next)
	se := SEParams{
		K:  k,
		W1: fill(k*channels, next),
		B1: fill(k, next),
		W2: fill(2*channels*k, next),
		B2: fill(2*channels, next),
	}

	// Reference path through the unfused kernels.
	mid := convDirect(batch, channels, channels, in, w1, b1, true, nil)
	conv2 := convDirect(batch, channels, channels, mid, w2, b2, false, nil)
	xBuf := dev.NewBuffer(batch*channels*64, false)
	copy(xBuf.data, conv2)
	skipBuf := dev.NewBuffer(batch*channels*64, false)
	copy(skipBuf.data, in)
	wantBuf := dev.NewBuffer(batch*channels*64, false)
	dev.SqueezeExcite(batch, channels, wantBuf, xBuf, skipBuf, se)
	dev.Synchronize()

	inBuf := dev.NewBuffer(batch*channels*64, false)
	copy(inBuf.data, in)
	out := dev.NewBuffer(batch*channels*64, false)
	scratch := dev.NewBuffer(2*36*channels*batch*4, false)
	dev.FusedResidual(batch, channels, out, inBuf,
		TransformFilter(w1, channels, channels), b1,
		TransformFilter(w2, channels, channels), b2, &se, scratch)
	dev.Synchronize()

	for i := range wantBuf.data {
		if math.Abs(float64(out.Data()[i]-wantBuf.Data()[i])) > 1e-3 {
			t.Fatalf("fused SE output[%d] = %g, want %g", i, out.Data()[i], wantBuf.Data()[i])
		}
	}
}

func TestTransformFilterLayout(t *testing.T) {
	// A center-tap filter transforms into the outer product of G's
	// middle column with itself, which pins down the [36][outC][inC]
	// layout.
	w := make([]float32, 9)
	w[4] = 1
	u := TransformFilter(w, 1, 1)
	if len(u) != 36 {
		t.Fatalf("transformed filter has %d elements, want 36", len(u))
	}
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			want := winG[i][1] * winG[j][1]
			if got := u[i*6+j]; math.Abs(float64(got-want)) > 1e-6 {
				t.Errorf("transform point (%d,%d) = %g, want %g", i, j, got, want)
			}
		}
	}
}
