package device

import (
	"fmt"
	"math"
)

// Activation selects the nonlinearity a kernel applies at store time.
type Activation int

const (
	ActNone Activation = iota
	ActRelu
	ActTanh
)

func (a Activation) apply(v float32) float32 {
	switch a {
	case ActRelu:
		if v < 0 {
			return 0
		}
		return v
	case ActTanh:
		return float32(math.Tanh(float64(v)))
	default:
		return v
	}
}

// SEParams carries squeeze-excitation weights for kernels that gate
// channels. W1 is K×C row-major, W2 is 2C×K row-major.
type SEParams struct {
	K  int
	W1 []float32
	B1 []float32
	W2 []float32
	B2 []float32
}

func (p *SEParams) check(channels int) error {
	if len(p.W1) != p.K*channels || len(p.B1) != p.K {
		return fmt.Errorf("se fc1 weights: have %d/%d elements for k=%d c=%d",
			len(p.W1), len(p.B1), p.K, channels)
	}
	if len(p.W2) != 2*channels*p.K || len(p.B2) != 2*channels {
		return fmt.Errorf("se fc2 weights: have %d/%d elements for k=%d c=%d",
			len(p.W2), len(p.B2), p.K, channels)
	}
	return nil
}

// ExpandPlanes scatters n (mask, value) plane pairs into a dense
// board tensor: out[i*64+sq] = values[i] when bit sq of masks[i] is
// set, else 0.
func (d *Device) ExpandPlanes(out *Buffer, masks []uint64, values []float32, n int) {
	d.Submit(func() error {
		if len(masks) < n || len(values) < n {
			return fmt.Errorf("expand planes: %d planes, have %d masks / %d values", n, len(masks), len(values))
		}
		if out.Len() < n*64 {
			return fmt.Errorf("expand planes: output holds %d, need %d", out.Len(), n*64)
		}
		return d.parallelFor(n, func(lo, hi int) error {
			for i := lo; i < hi; i++ {
				mask := masks[i]
				val := values[i]
				base := i * 64
				for sq := 0; sq < 64; sq++ {
					if mask>>uint(sq)&1 != 0 {
						out.data[base+sq] = val
					} else {
						out.data[base+sq] = 0
					}
				}
			}
			out.roundStored(lo*64, hi*64)
			return nil
		})
	})
}

// GemmBatched computes count independent products C[i] = A[i]·B[i]
// with A m×k, B k×n and C m×n, all row-major, each operand advancing
// by its stride between products. A is host-prepared weight data; B
// and C address buffer regions.
func (d *Device) GemmBatched(count, m, n, k int, a []float32, aStride int, b *Buffer, bOff, bStride int, c *Buffer, cOff, cStride int) {
	d.Submit(func() error {
		return d.gemmPhase(count, m, n, k, a, aStride, b, bOff, bStride, c, cOff, cStride)
	})
}

func (d *Device) gemmPhase(count, m, n, k int, a []float32, aStride int, b *Buffer, bOff, bStride int, c *Buffer, cOff, cStride int) error {
	if need := (count-1)*aStride + m*k; len(a) < need {
		return fmt.Errorf("gemm: A holds %d, need %d", len(a), need)
	}
	if need := bOff + (count-1)*bStride + k*n; b.Len() < need {
		return fmt.Errorf("gemm: B holds %d, need %d", b.Len(), need)
	}
	if need := cOff + (count-1)*cStride + m*n; c.Len() < need {
		return fmt.Errorf("gemm: C holds %d, need %d", c.Len(), need)
	}
	return d.parallelFor(count, func(lo, hi int) error {
		for t := lo; t < hi; t++ {
			at := a[t*aStride:]
			bt := b.data[bOff+t*bStride:]
			ct := c.data[cOff+t*cStride:]
			for i := 0; i < m; i++ {
				row := ct[i*n : i*n+n]
				clear(row)
				for kk := 0; kk < k; kk++ {
					aik := at[i*k+kk]
					if aik == 0 {
						continue
					}
					bRow := bt[kk*n : kk*n+n]
					for j, bv := range bRow {
						row[j] += aik * bv
					}
				}
			}
			c.roundStored(cOff+t*cStride, cOff+t*cStride+m*n)
		}
		return nil
	})
}

// Conv1x1 computes a pointwise convolution over the 64 board squares:
// out[n,k,sq] = act(sum_c w[k,c]·in[n,c,sq] + bias[k]). Weights are
// outC×inC row-major.
func (d *Device) Conv1x1(batch, outC, inC int, out, in *Buffer, w, bias []float32, relu bool) {
	d.Submit(func() error {
		if len(w) != outC*inC || len(bias) != outC {
			return fmt.Errorf("conv1x1: weights %d bias %d for %dx%d", len(w), len(bias), outC, inC)
		}
		if in.Len() < batch*inC*64 || out.Len() < batch*outC*64 {
			return fmt.Errorf("conv1x1: buffers %d/%d for batch %d", in.Len(), out.Len(), batch)
		}
		return d.parallelFor(batch, func(lo, hi int) error {
			for nn := lo; nn < hi; nn++ {
				x := in.data[nn*inC*64:]
				y := out.data[nn*outC*64:]
				for k := 0; k < outC; k++ {
					wRow := w[k*inC : k*inC+inC]
					for sq := 0; sq < 64; sq++ {
						acc := bias[k]
						for cc, wv := range wRow {
							acc += wv * x[cc*64+sq]
						}
						if relu && acc < 0 {
							acc = 0
						}
						y[k*64+sq] = acc
					}
				}
			}
			out.roundStored(lo*outC*64, hi*outC*64)
			return nil
		})
	})
}

// FullyConnected computes out[n,o] = act(sum_i w[o,i]·in[n,i] +
// bias[o]). Weights are outSize×inSize row-major.
func (d *Device) FullyConnected(batch, outSize, inSize int, out, in *Buffer, w, bias []float32, act Activation) {
	d.Submit(func() error {
		if len(w) != outSize*inSize || len(bias) != outSize {
			return fmt.Errorf("fc: weights %d bias %d for %dx%d", len(w), len(bias), outSize, inSize)
		}
		if in.Len() < batch*inSize || out.Len() < batch*outSize {
			return fmt.Errorf("fc: buffers %d/%d for batch %d", in.Len(), out.Len(), batch)
		}
		return d.parallelFor(batch, func(lo, hi int) error {
			for nn := lo; nn < hi; nn++ {
				x := in.data[nn*inSize : nn*inSize+inSize]
				y := out.data[nn*outSize:]
				for o := 0; o < outSize; o++ {
					acc := bias[o]
					wRow := w[o*inSize : o*inSize+inSize]
					for i, wv := range wRow {
						acc += wv * x[i]
					}
					y[o] = act.apply(acc)
				}
			}
			out.roundStored(lo*outSize, hi*outSize)
			return nil
		})
	})
}

// SqueezeExcite gates channels of x by a two-layer excitation network
// and finishes the residual: out[n,c,sq] = relu(sigmoid(g[c])·x[n,c,sq]
// + b[c] + skip[n,c,sq]), where (g, b) split the second FC's 2C
// outputs. out and x may alias.
func (d *Device) SqueezeExcite(batch, channels int, out, x, skip *Buffer, se SEParams) {
	d.Submit(func() error {
		return d.sePhase(batch, channels, out, x, skip, se)
	})
}

func (d *Device) sePhase(batch, channels int, out, x, skip *Buffer, se SEParams) error {
	if err := se.check(channels); err != nil {
		return err
	}
	if x.Len() < batch*channels*64 || out.Len() < batch*channels*64 || skip.Len() < batch*channels*64 {
		return fmt.Errorf("se: buffers too small for batch %d, channels %d", batch, channels)
	}
	return d.parallelFor(batch, func(lo, hi int) error {
		pool := make([]float32, channels)
		fc1 := make([]float32, se.K)
		fc2 := make([]float32, 2*channels)
		for nn := lo; nn < hi; nn++ {
			base := nn * channels * 64
			xb := x.data[base : base+channels*64]
			sb := skip.data[base : base+channels*64]
			yb := out.data[base : base+channels*64]

			for c := 0; c < channels; c++ {
				var sum float32
				for sq := 0; sq < 64; sq++ {
					sum += xb[c*64+sq]
				}
				pool[c] = sum / 64
			}
			for k := 0; k < se.K; k++ {
				acc := se.B1[k]
				wRow := se.W1[k*channels : k*channels+channels]
				for c, wv := range wRow {
					acc += wv * pool[c]
				}
				if acc < 0 {
					acc = 0
				}
				fc1[k] = acc
			}
			for j := 0; j < 2*channels; j++ {
				acc := se.B2[j]
				wRow := se.W2[j*se.K : j*se.K+se.K]
				for k, wv := range wRow {
					acc += wv * fc1[k]
				}
				fc2[j] = acc
			}
			for c := 0; c < channels; c++ {
				gate := float32(1 / (1 + math.Exp(-float64(fc2[c]))))
				beta := fc2[channels+c]
				for sq := 0; sq < 64; sq++ {
					v := gate*xb[c*64+sq] + beta + sb[c*64+sq]
					if v < 0 {
						v = 0
					}
					yb[c*64+sq] = v
				}
			}
		}
		out.roundStored(lo*channels*64, hi*channels*64)
		return nil
	})
}

// PolicyMap scatters convolution policy planes onto the flat policy
// vector: out[n, table[i]] = in[n, i] for every table entry ≥ 0.
func (d *Device) PolicyMap(batch int, out, in *Buffer, table []int16, usedSize, outSize int) {
	d.Submit(func() error {
		if len(table) != usedSize {
			return fmt.Errorf("policy map: table %d for used size %d", len(table), usedSize)
		}
		if in.Len() < batch*usedSize || out.Len() < batch*outSize {
			return fmt.Errorf("policy map: buffers %d/%d for batch %d", in.Len(), out.Len(), batch)
		}
		return d.parallelFor(batch, func(lo, hi int) error {
			for nn := lo; nn < hi; nn++ {
				src := in.data[nn*usedSize : nn*usedSize+usedSize]
				dst := out.data[nn*outSize : nn*outSize+outSize]
				for i, idx := range table {
					if idx >= 0 {
						dst[idx] = src[i]
					}
				}
			}
			out.roundStored(lo*outSize, hi*outSize)
			return nil
		})
	})
}
