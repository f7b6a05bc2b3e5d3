// Package weights holds the parsed network weights consumed at engine
// construction: four format flags describing the topology and output
// heads, and the per-layer float tensors. The structure is immutable
// once loaded; the engine that loads it owns it for its lifetime.
package weights

import (
	"errors"
	"fmt"
)

// ErrUnsupportedFormat is returned when the format flags name a
// network this engine cannot run.
var ErrUnsupportedFormat = errors.New("unsupported network format")

// Topology selects the residual-tower variant.
type Topology uint8

const (
	TopologyClassical Topology = iota
	TopologySE
)

// PolicyKind selects the policy-head variant.
type PolicyKind uint8

const (
	PolicyClassical PolicyKind = iota
	PolicyConvolution
)

// ValueKind selects scalar or win/draw/loss value output.
type ValueKind uint8

const (
	ValueClassical ValueKind = iota
	ValueWDL
)

// MovesLeftKind selects whether a moves-left head is present.
type MovesLeftKind uint8

const (
	MovesLeftNone MovesLeftKind = iota
	MovesLeftV1
)

// ConvBlock is one convolution's weights and biases. 3×3 kernels are
// outC×inC×3×3 row-major, 1×1 kernels outC×inC.
type ConvBlock struct {
	Weights []float32
	Biases  []float32
}

// SEUnit is a squeeze-excitation unit: FC1 K×C plus FC2 2C×K with
// their biases.
type SEUnit struct {
	W1 []float32
	B1 []float32
	W2 []float32
	B2 []float32
}

// Residual is one residual block: two 3×3 convolutions and an
// optional SE unit.
type Residual struct {
	Conv1 ConvBlock
	Conv2 ConvBlock
	SE    *SEUnit
}

// FC is one fully-connected layer.
type FC struct {
	W []float32
	B []float32
}

// Weights is the parsed network.
type Weights struct {
	Topology  Topology
	Policy    PolicyKind
	Value     ValueKind
	MovesLeft MovesLeftKind

	Input     ConvBlock // 3×3, 112 → filters
	Residuals []Residual

	// Convolutional policy head: Policy1 is 3×3 filters → filters,
	// PolicyConv 3×3 filters → policy planes.
	Policy1    ConvBlock
	PolicyConv ConvBlock
	// Classical policy head: PolicyConv is 1×1 instead, followed by
	// one fully-connected layer onto the move-index space.
	PolicyFC FC

	ValueConv ConvBlock // 1×1
	ValueFC1  FC
	ValueFC2  FC

	MLHConv ConvBlock // 1×1
	MLHFC1  FC
	MLHFC2  FC
}

// Filters returns the residual-tower channel width.
func (w *Weights) Filters() int { return len(w.Input.Biases) }

// Blocks returns the residual-tower depth.
func (w *Weights) Blocks() int { return len(w.Residuals) }

// SEChannels returns the SE bottleneck width, or 0 for a classical
// tower.
func (w *Weights) SEChannels() int {
	if len(w.Residuals) == 0 || w.Residuals[0].SE == nil {
		return 0
	}
	return len(w.Residuals[0].SE.B1)
}

// Validate checks the format flags and every tensor dimension. A nil
// return guarantees the engine can build its layer graph without
// further shape checks.
func (w *Weights) Validate() error {
	if w.Topology > TopologySE {
		return fmt.Errorf("%w: topology %d", ErrUnsupportedFormat, w.Topology)
	}
	if w.Policy > PolicyConvolution {
		return fmt.Errorf("%w: policy kind %d", ErrUnsupportedFormat, w.Policy)
	}
	if w.Value > ValueWDL {
		return fmt.Errorf("%w: value kind %d", ErrUnsupportedFormat, w.Value)
	}
	if w.MovesLeft > MovesLeftV1 {
		return fmt.Errorf("%w: moves-left kind %d", ErrUnsupportedFormat, w.MovesLeft)
	}

	filters := w.Filters()
	if filters == 0 || len(w.Residuals) == 0 {
		return fmt.Errorf("%w: empty residual tower", ErrUnsupportedFormat)
	}
	if err := checkConv(&w.Input, "input", filters, InputPlanes, 3); err != nil {
		return err
	}
	for i := range w.Residuals {
		r := &w.Residuals[i]
		if err := checkConv(&r.Conv1, fmt.Sprintf("block %d conv1", i), filters, filters, 3); err != nil {
			return err
		}
		if err := checkConv(&r.Conv2, fmt.Sprintf("block %d conv2", i), filters, filters, 3); err != nil {
			return err
		}
		if w.Topology == TopologySE {
			if r.SE == nil {
				return fmt.Errorf("%w: SE topology but block %d has no SE unit", ErrUnsupportedFormat, i)
			}
			k := len(r.SE.B1)
			if k == 0 || len(r.SE.W1) != k*filters || len(r.SE.W2) != 2*filters*k || len(r.SE.B2) != 2*filters {
				return fmt.Errorf("block %d SE unit: inconsistent dimensions", i)
			}
		} else if r.SE != nil {
			return fmt.Errorf("%w: classical topology with SE unit in block %d", ErrUnsupportedFormat, i)
		}
	}

	switch w.Policy {
	case PolicyConvolution:
		if err := checkConv(&w.Policy1, "policy1", filters, filters, 3); err != nil {
			return err
		}
		planes := len(w.PolicyConv.Biases)
		if err := checkConv(&w.PolicyConv, "policy conv", planes, filters, 3); err != nil {
			return err
		}
	case PolicyClassical:
		ch := len(w.PolicyConv.Biases)
		if err := checkConv(&w.PolicyConv, "policy conv", ch, filters, 1); err != nil {
			return err
		}
		if err := checkFC(&w.PolicyFC, "policy fc", len(w.PolicyFC.B), ch*64); err != nil {
			return err
		}
	}

	vch := len(w.ValueConv.Biases)
	if err := checkConv(&w.ValueConv, "value conv", vch, filters, 1); err != nil {
		return err
	}
	if err := checkFC(&w.ValueFC1, "value fc1", len(w.ValueFC1.B), vch*64); err != nil {
		return err
	}
	wantOut := 1
	if w.Value == ValueWDL {
		wantOut = 3
	}
	if len(w.ValueFC2.B) != wantOut {
		return fmt.Errorf("%w: value head emits %d outputs, want %d", ErrUnsupportedFormat, len(w.ValueFC2.B), wantOut)
	}
	if err := checkFC(&w.ValueFC2, "value fc2", wantOut, len(w.ValueFC1.B)); err != nil {
		return err
	}

	if w.MovesLeft == MovesLeftV1 {
		mch := len(w.MLHConv.Biases)
		if err := checkConv(&w.MLHConv, "moves-left conv", mch, filters, 1); err != nil {
			return err
		}
		if err := checkFC(&w.MLHFC1, "moves-left fc1", len(w.MLHFC1.B), mch*64); err != nil {
			return err
		}
		if err := checkFC(&w.MLHFC2, "moves-left fc2", 1, len(w.MLHFC1.B)); err != nil {
			return err
		}
	}
	return nil
}

// InputPlanes is the fixed number of input planes per position.
const InputPlanes = 112

func checkConv(c *ConvBlock, name string, outC, inC, k int) error {
	if outC == 0 {
		return fmt.Errorf("%s: no output channels", name)
	}
	if len(c.Weights) != outC*inC*k*k || len(c.Biases) != outC {
		return fmt.Errorf("%s: have %d weights / %d biases, want %d / %d",
			name, len(c.Weights), len(c.Biases), outC*inC*k*k, outC)
	}
	return nil
}

func checkFC(f *FC, name string, outSize, inSize int) error {
	if outSize == 0 {
		return fmt.Errorf("%s: no outputs", name)
	}
	if len(f.W) != outSize*inSize || len(f.B) != outSize {
		return fmt.Errorf("%s: have %d weights / %d biases, want %d / %d",
			name, len(f.W), len(f.B), outSize*inSize, outSize)
	}
	return nil
}
