package device

import "fmt"

// Transform-domain 3×3 convolution, F(4×4, 3×3): each 8×8 board is
// covered by four 4×4 output tiles, each computed from a 6×6 input
// patch. Per-tile transforms turn the convolution into 36 independent
// matrix products over channels, which is where all the arithmetic
// lives. Transformed tensors are laid out [36][channels][tiles] with
// tiles = batch*4, so each of the 36 points is one contiguous
// channels×tiles matrix.

// winB is Bᵀ, the input transform.
var winB = [6][6]float32{
	{4, 0, -5, 0, 1, 0},
	{0, -4, -4, 1, 1, 0},
	{0, 4, -4, -1, 1, 0},
	{0, -2, -1, 2, 1, 0},
	{0, 2, -1, -2, 1, 0},
	{0, 4, 0, -5, 0, 1},
}

// winG is the filter transform.
var winG = [6][3]float32{
	{1.0 / 4, 0, 0},
	{-1.0 / 6, -1.0 / 6, -1.0 / 6},
	{-1.0 / 6, 1.0 / 6, -1.0 / 6},
	{1.0 / 24, 1.0 / 12, 1.0 / 6},
	{1.0 / 24, -1.0 / 12, 1.0 / 6},
	{0, 0, 1},
}

// winA is Aᵀ, the output transform.
var winA = [4][6]float32{
	{1, 1, 1, 1, 1, 0},
	{0, 1, -1, 2, -2, 0},
	{0, 1, 1, 4, 4, 0},
	{0, 1, -1, 8, -8, 1},
}

// TransformFilter precomputes the 6×6 transform of every 3×3 filter
// in w (outC×inC×3×3 row-major). The result is laid out
// [36][outC][inC] so that each transform point is a ready GEMM
// operand. Called once at graph build; the returned slice is owned by
// the layer.
func TransformFilter(w []float32, outC, inC int) []float32 {
	u := make([]float32, 36*outC*inC)
	var tmp [6][3]float32
	var u6 [6][6]float32
	for o := 0; o < outC; o++ {
		for c := 0; c < inC; c++ {
			g := w[(o*inC+c)*9 : (o*inC+c)*9+9]
			for i := 0; i < 6; i++ {
				for j := 0; j < 3; j++ {
					tmp[i][j] = winG[i][0]*g[j] + winG[i][1]*g[3+j] + winG[i][2]*g[6+j]
				}
			}
			for i := 0; i < 6; i++ {
				for j := 0; j < 6; j++ {
					u6[i][j] = tmp[i][0]*winG[j][0] + tmp[i][1]*winG[j][1] + tmp[i][2]*winG[j][2]
				}
			}
			for i := 0; i < 6; i++ {
				for j := 0; j < 6; j++ {
					u[((i*6+j)*outC+o)*inC+c] = u6[i][j]
				}
			}
		}
	}
	return u
}

// transformIn6 computes v = Bᵀ·d·B.
func transformIn6(d, v *[6][6]float32) {
	var tmp [6][6]float32
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			var s float32
			for k := 0; k < 6; k++ {
				s += winB[i][k] * d[k][j]
			}
			tmp[i][j] = s
		}
	}
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			var s float32
			for k := 0; k < 6; k++ {
				s += tmp[i][k] * winB[j][k]
			}
			v[i][j] = s
		}
	}
}

// transformOut6 computes y = Aᵀ·m·A.
func transformOut6(m *[6][6]float32, y *[4][4]float32) {
	var tmp [4][6]float32
	for i := 0; i < 4; i++ {
		for j := 0; j < 6; j++ {
			var s float32
			for k := 0; k < 6; k++ {
				s += winA[i][k] * m[k][j]
			}
			tmp[i][j] = s
		}
	}
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var s float32
			for k := 0; k < 6; k++ {
				s += tmp[i][k] * winA[j][k]
			}
			y[i][j] = s
		}
	}
}

// loadPatch fills the zero-padded 6×6 input patch for tile t of an
// 8×8 board.
func loadPatch(board []float32, t int, patch *[6][6]float32) {
	oy := t / 2 * 4
	ox := t % 2 * 4
	for i := 0; i < 6; i++ {
		y := oy + i - 1
		for j := 0; j < 6; j++ {
			x := ox + j - 1
			if y < 0 || y > 7 || x < 0 || x > 7 {
				patch[i][j] = 0
			} else {
				patch[i][j] = board[y*8+x]
			}
		}
	}
}

// WinogradInput transforms a spatial tensor into the [36][C][T]
// transform domain at v[vOff:].
func (d *Device) WinogradInput(batch, channels int, v *Buffer, vOff int, in *Buffer) {
	d.Submit(func() error {
		return d.winInputPhase(batch, channels, v, vOff, in)
	})
}

func (d *Device) winInputPhase(batch, channels int, v *Buffer, vOff int, in *Buffer) error {
	T := batch * 4
	if in.Len() < batch*channels*64 {
		return fmt.Errorf("winograd input: tensor holds %d, need %d", in.Len(), batch*channels*64)
	}
	if v.Len() < vOff+36*channels*T {
		return fmt.Errorf("winograd input: transform region holds %d, need %d", v.Len()-vOff, 36*channels*T)
	}
	return d.parallelFor(batch*channels, func(lo, hi int) error {
		var patch, vt [6][6]float32
		for u := lo; u < hi; u++ {
			nn := u / channels
			c := u % channels
			board := in.data[u*64 : u*64+64]
			for t := 0; t < 4; t++ {
				loadPatch(board, t, &patch)
				transformIn6(&patch, &vt)
				col := nn*4 + t
				for i := 0; i < 6; i++ {
					for j := 0; j < 6; j++ {
						v.store(vOff+((i*6+j)*channels+c)*T+col, vt[i][j])
					}
				}
			}
		}
		return nil
	})
}

// WinogradOutput transforms [36][K][T] products at m[mOff:] back to a
// spatial tensor, adding bias, the optional skip tensor, and the
// optional ReLU at store time.
func (d *Device) WinogradOutput(batch, channels int, out *Buffer, m *Buffer, mOff int, bias []float32, relu bool, skip *Buffer) {
	d.Submit(func() error {
		return d.winOutputPhase(batch, channels, out, m, mOff, bias, relu, skip)
	})
}

func (d *Device) winOutputPhase(batch, channels int, out *Buffer, m *Buffer, mOff int, bias []float32, relu bool, skip *Buffer) error {
	T := batch * 4
	if len(bias) != channels {
		return fmt.Errorf("winograd output: %d biases for %d channels", len(bias), channels)
	}
	if m.Len() < mOff+36*channels*T {
		return fmt.Errorf("winograd output: transform region holds %d, need %d", m.Len()-mOff, 36*channels*T)
	}
	if out.Len() < batch*channels*64 || (skip != nil && skip.Len() < batch*channels*64) {
		return fmt.Errorf("winograd output: tensor buffers too small for batch %d", batch)
	}
	return d.parallelFor(batch*channels, func(lo, hi int) error {
		var mt [6][6]float32
		var yt [4][4]float32
		for u := lo; u < hi; u++ {
			nn := u / channels
			k := u % channels
			base := u * 64
			for t := 0; t < 4; t++ {
				col := nn*4 + t
				for i := 0; i < 6; i++ {
					for j := 0; j < 6; j++ {
						mt[i][j] = m.data[mOff+((i*6+j)*channels+k)*T+col]
					}
				}
				transformOut6(&mt, &yt)
				oy := t / 2 * 4
				ox := t % 2 * 4
				for i := 0; i < 4; i++ {
					for j := 0; j < 4; j++ {
						v := yt[i][j] + bias[k]
						idx := base + (oy+i)*8 + ox + j
						if skip != nil {
							v += skip.data[idx]
						}
						if relu && v < 0 {
							v = 0
						}
						out.store(idx, v)
					}
				}
			}
		}
		return nil
	})
}

// FusedResidual runs a whole residual block as one queued operation:
// conv1 + bias + ReLU, conv2 + bias, optional SE gating, skip add
// from the block input, final ReLU. The first convolution's spatial
// result exists only in per-channel private workspace; the two
// transform-domain tensors are staged in scratch.
func (d *Device) FusedResidual(batch, channels int, out, in *Buffer, u1, bias1, u2, bias2 []float32, se *SEParams, scratch *Buffer) {
	d.Submit(func() error {
		T := batch * 4
		vOff := 0
		mOff := 36 * channels * T
		if scratch.Len() < 2*36*channels*T {
			return fmt.Errorf("fused residual: scratch holds %d, need %d", scratch.Len(), 2*36*channels*T)
		}
		if len(u1) != 36*channels*channels || len(u2) != 36*channels*channels {
			return fmt.Errorf("fused residual: transformed weights %d/%d for %d channels", len(u1), len(u2), channels)
		}
		if len(bias1) != channels || len(bias2) != channels {
			return fmt.Errorf("fused residual: biases %d/%d for %d channels", len(bias1), len(bias2), channels)
		}
		if in.Len() < batch*channels*64 || out.Len() < batch*channels*64 {
			return fmt.Errorf("fused residual: tensor buffers too small for batch %d", batch)
		}

		if err := d.winInputPhase(batch, channels, scratch, vOff, in); err != nil {
			return err
		}
		if err := d.gemmPhase(36, channels, T, channels, u1, channels*channels, scratch, vOff, channels*T, scratch, mOff, channels*T); err != nil {
			return err
		}
		if err := d.fusedMidPhase(batch, channels, scratch, mOff, vOff, bias1); err != nil {
			return err
		}
		if err := d.gemmPhase(36, channels, T, channels, u2, channels*channels, scratch, vOff, channels*T, scratch, mOff, channels*T); err != nil {
			return err
		}
		if se != nil {
			// Conv2 + bias lands in out un-gated; the SE pass reads it
			// back, gates, adds the skip and applies the final ReLU.
			if err := d.winOutputPhase(batch, channels, out, scratch, mOff, bias2, false, nil); err != nil {
				return err
			}
			return d.sePhase(batch, channels, out, out, in, *se)
		}
		return d.winOutputPhase(batch, channels, out, scratch, mOff, bias2, true, in)
	})
}

// fusedMidPhase bridges the two convolutions of a fused block: for
// every (image, channel) it assembles conv1's spatial board from the
// transform products, applies bias + ReLU, and immediately re-enters
// the transform domain for conv2. The board lives only in the worker's
// stack frame.
func (d *Device) fusedMidPhase(batch, channels int, scratch *Buffer, mOff, vOff int, bias1 []float32) error {
	T := batch * 4
	half := scratch.half
	return d.parallelFor(batch*channels, func(lo, hi int) error {
		var mt [6][6]float32
		var yt [4][4]float32
		var board [64]float32
		var patch, vt [6][6]float32
		for u := lo; u < hi; u++ {
			nn := u / channels
			k := u % channels
			for t := 0; t < 4; t++ {
				col := nn*4 + t
				for i := 0; i < 6; i++ {
					for j := 0; j < 6; j++ {
						mt[i][j] = scratch.data[mOff+((i*6+j)*channels+k)*T+col]
					}
				}
				transformOut6(&mt, &yt)
				oy := t / 2 * 4
				ox := t % 2 * 4
				for i := 0; i < 4; i++ {
					for j := 0; j < 4; j++ {
						v := yt[i][j] + bias1[k]
						if v < 0 {
							v = 0
						}
						if half {
							v = RoundHalf(v)
						}
						board[(oy+i)*8+ox+j] = v
					}
				}
			}
			for t := 0; t < 4; t++ {
				loadPatch(board[:], t, &patch)
				transformIn6(&patch, &vt)
				col := nn*4 + t
				for i := 0; i < 6; i++ {
					for j := 0; j < 6; j++ {
						scratch.store(vOff+((i*6+j)*channels+k)*T+col, vt[i][j])
					}
				}
			}
		}
		return nil
	})
}
