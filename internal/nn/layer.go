// Package nn builds and runs the layer graph of one loaded network:
// the residual tower, the three output heads, the three-buffer tensor
// pool and the staging-buffer freelist behind batched evaluation.
package nn

import (
	"github.com/minerva-chess/minerva/internal/device"
	"github.com/minerva-chess/minerva/internal/encoding"
	"github.com/minerva-chess/minerva/internal/weights"
)

// Layer is one compute unit of the graph. Eval dispatches onto the
// owning device's queue and returns without waiting; skip is nil for
// layers without a residual input. Every layer transforms and owns
// its weights at construction and never mutates them afterwards.
type Layer interface {
	Eval(batch int, out, in, skip, scratch *device.Buffer)
	OutputSize(batch int) int
}

// winogradConv is a 3×3 convolution in the transform domain, with
// bias, optional ReLU, optional residual input and optional SE
// gating. The two transform-domain tensors live in the engine
// scratch buffer.
type winogradConv struct {
	dev      *device.Device
	inC, outC int
	u        []float32 // transformed filter, [36][outC][inC]
	bias     []float32
	relu     bool
	se       *device.SEParams
}

func newWinogradConv(dev *device.Device, c *weights.ConvBlock, inC int, relu, half bool) *winogradConv {
	outC := len(c.Biases)
	l := &winogradConv{
		dev:  dev,
		inC:  inC,
		outC: outC,
		u:    device.TransformFilter(c.Weights, outC, inC),
		bias: append([]float32(nil), c.Biases...),
		relu: relu,
	}
	if half {
		device.RoundHalfSlice(l.u)
		device.RoundHalfSlice(l.bias)
	}
	return l
}

func (l *winogradConv) withSE(se *weights.SEUnit, half bool) *winogradConv {
	l.se = seParams(se, half)
	return l
}

func seParams(se *weights.SEUnit, half bool) *device.SEParams {
	p := &device.SEParams{
		K:  len(se.B1),
		W1: append([]float32(nil), se.W1...),
		B1: append([]float32(nil), se.B1...),
		W2: append([]float32(nil), se.W2...),
		B2: append([]float32(nil), se.B2...),
	}
	if half {
		device.RoundHalfSlice(p.W1)
		device.RoundHalfSlice(p.B1)
		device.RoundHalfSlice(p.W2)
		device.RoundHalfSlice(p.B2)
	}
	return p
}

func (l *winogradConv) Eval(batch int, out, in, skip, scratch *device.Buffer) {
	T := batch * 4
	mOff := 36 * l.inC * T
	l.dev.WinogradInput(batch, l.inC, scratch, 0, in)
	l.dev.GemmBatched(36, l.outC, T, l.inC, l.u, l.outC*l.inC,
		scratch, 0, l.inC*T, scratch, mOff, l.outC*T)
	if l.se != nil {
		// Conv output lands un-gated; the SE pass gates it, adds the
		// residual input and applies the final ReLU.
		l.dev.WinogradOutput(batch, l.outC, out, scratch, mOff, l.bias, false, nil)
		l.dev.SqueezeExcite(batch, l.outC, out, out, skip, *l.se)
		return
	}
	l.dev.WinogradOutput(batch, l.outC, out, scratch, mOff, l.bias, l.relu, skip)
}

func (l *winogradConv) OutputSize(batch int) int { return batch * l.outC * 64 }

// scratchSize is the transform-domain footprint of one evaluation.
func (l *winogradConv) scratchSize(batch int) int {
	return 36 * (l.inC + l.outC) * batch * 4
}

// fusedResidual runs a whole residual block as one operation,
// skipping the spatial materialization between its two convolutions.
type fusedResidual struct {
	dev      *device.Device
	channels int
	u1, u2   []float32
	b1, b2   []float32
	se       *device.SEParams
}

func newFusedResidual(dev *device.Device, r *weights.Residual, channels int, half bool) *fusedResidual {
	l := &fusedResidual{
		dev:      dev,
		channels: channels,
		u1:       device.TransformFilter(r.Conv1.Weights, channels, channels),
		u2:       device.TransformFilter(r.Conv2.Weights, channels, channels),
		b1:       append([]float32(nil), r.Conv1.Biases...),
		b2:       append([]float32(nil), r.Conv2.Biases...),
	}
	if half {
		device.RoundHalfSlice(l.u1)
		device.RoundHalfSlice(l.u2)
		device.RoundHalfSlice(l.b1)
		device.RoundHalfSlice(l.b2)
	}
	if r.SE != nil {
		l.se = seParams(r.SE, half)
	}
	return l
}

func (l *fusedResidual) Eval(batch int, out, in, skip, scratch *device.Buffer) {
	l.dev.FusedResidual(batch, l.channels, out, in, l.u1, l.b1, l.u2, l.b2, l.se, scratch)
}

func (l *fusedResidual) OutputSize(batch int) int { return batch * l.channels * 64 }

func (l *fusedResidual) scratchSize(batch int) int {
	return 2 * 36 * l.channels * batch * 4
}

// conv1x1 is a pointwise convolution over the board squares.
type conv1x1 struct {
	dev      *device.Device
	inC, outC int
	w, bias  []float32
	relu     bool
}

func newConv1x1(dev *device.Device, c *weights.ConvBlock, inC int, relu, half bool) *conv1x1 {
	l := &conv1x1{
		dev:  dev,
		inC:  inC,
		outC: len(c.Biases),
		w:    append([]float32(nil), c.Weights...),
		bias: append([]float32(nil), c.Biases...),
		relu: relu,
	}
	if half {
		device.RoundHalfSlice(l.w)
		device.RoundHalfSlice(l.bias)
	}
	return l
}

func (l *conv1x1) Eval(batch int, out, in, skip, scratch *device.Buffer) {
	l.dev.Conv1x1(batch, l.outC, l.inC, out, in, l.w, l.bias, l.relu)
}

func (l *conv1x1) OutputSize(batch int) int { return batch * l.outC * 64 }

// fullyConnected is one dense layer with an optional activation.
type fullyConnected struct {
	dev              *device.Device
	inSize, outSize  int
	w, bias          []float32
	act              device.Activation
}

func newFullyConnected(dev *device.Device, f *weights.FC, inSize int, act device.Activation, half bool) *fullyConnected {
	l := &fullyConnected{
		dev:     dev,
		inSize:  inSize,
		outSize: len(f.B),
		w:       append([]float32(nil), f.W...),
		bias:    append([]float32(nil), f.B...),
		act:     act,
	}
	if half {
		device.RoundHalfSlice(l.w)
		device.RoundHalfSlice(l.bias)
	}
	return l
}

func (l *fullyConnected) Eval(batch int, out, in, skip, scratch *device.Buffer) {
	l.dev.FullyConnected(batch, l.outSize, l.inSize, out, in, l.w, l.bias, l.act)
}

func (l *fullyConnected) OutputSize(batch int) int { return batch * l.outSize }

// policyMap permutes the convolutional policy planes onto the global
// move-index space. The permutation is onto, so every output index is
// written on every evaluation.
type policyMap struct {
	dev   *device.Device
	table []int16
}

func newPolicyMap(dev *device.Device) *policyMap {
	return &policyMap{dev: dev, table: encoding.PolicyTable()}
}

func (l *policyMap) Eval(batch int, out, in, skip, scratch *device.Buffer) {
	l.dev.PolicyMap(batch, out, in, l.table, encoding.PolicyInputs, encoding.PolicyOutputs)
}

func (l *policyMap) OutputSize(batch int) int { return batch * encoding.PolicyOutputs }
