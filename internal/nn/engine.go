package nn

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"k8s.io/klog/v2"

	"github.com/minerva-chess/minerva/internal/device"
	"github.com/minerva-chess/minerva/internal/encoding"
	"github.com/minerva-chess/minerva/internal/weights"
)

// ErrBatchTooLarge is returned when a batch exceeds the engine's
// configured maximum.
var ErrBatchTooLarge = errors.New("batch exceeds configured maximum")

// DefaultMaxBatch bounds one evaluation when Options.MaxBatch is zero.
const DefaultMaxBatch = 1024

// fuseFilterLimit bounds the channel width for the automatic fused
// residual-block decision.
const fuseFilterLimit = 384

// Precision selects the arithmetic path.
type Precision int

const (
	PrecisionAuto Precision = iota // half when the device supports it
	PrecisionSingle
	PrecisionHalf
)

// Fusion controls the fused residual-block path.
type Fusion int

const (
	FuseAuto Fusion = iota
	FuseOn
	FuseOff
)

// Options configures engine construction. The zero value asks for the
// default device, the default batch bound, automatic precision and
// automatic fusion.
type Options struct {
	Device           int
	MaxBatch         int
	Precision        Precision
	Fusion           Fusion
	DisableMovesLeft bool
}

// stage pairs a layer with its buffer-role needs. Stages consuming a
// residual input read it from the pool's spare role.
type stage struct {
	layer Layer
	skip  bool
}

// Engine owns the layer graph, tensor pool and staging freelist for
// one loaded network and runs serialized batched forward passes on
// one device.
type Engine struct {
	dev *device.Device

	maxBatch int
	half     bool
	fused    bool
	wdl      bool
	mlh      bool
	filters  int
	blocks   int

	tower      []stage
	policyHead []stage
	valueHead  []stage
	mlhHead    []stage

	valueWidth int

	pool *TensorPool
	ios  *ioPool

	// mu serializes device dispatch and synchronization. Host-side
	// post-processing runs after release.
	mu sync.Mutex
}

// NewEngine validates the weights and configuration, sizes the tensor
// pool and scratch region, and builds the layer graph. On error no
// engine state survives.
func NewEngine(w *weights.Weights, opts Options) (*Engine, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	dev, err := device.Get(opts.Device)
	if err != nil {
		return nil, err
	}

	maxBatch := opts.MaxBatch
	if maxBatch == 0 {
		maxBatch = DefaultMaxBatch
	}
	if maxBatch < 1 || maxBatch > DefaultMaxBatch {
		return nil, fmt.Errorf("max batch %d out of range [1, %d]", maxBatch, DefaultMaxBatch)
	}

	half := false
	switch opts.Precision {
	case PrecisionAuto:
		half = dev.HalfPrecision()
	case PrecisionHalf:
		if !dev.HalfPrecision() {
			return nil, fmt.Errorf("device %s does not support half precision", dev.Name())
		}
		half = true
	case PrecisionSingle:
	default:
		return nil, fmt.Errorf("unknown precision mode %d", opts.Precision)
	}

	filters := w.Filters()
	fused := false
	switch opts.Fusion {
	case FuseAuto:
		fused = half && filters <= fuseFilterLimit
	case FuseOn:
		if !half {
			return nil, errors.New("fused residual blocks require half precision")
		}
		fused = true
	case FuseOff:
	default:
		return nil, fmt.Errorf("unknown fusion mode %d", opts.Fusion)
	}

	if w.Policy == weights.PolicyConvolution && len(w.PolicyConv.Biases) != encoding.PolicyPlanes {
		return nil, fmt.Errorf("%w: convolutional policy head has %d planes, want %d",
			weights.ErrUnsupportedFormat, len(w.PolicyConv.Biases), encoding.PolicyPlanes)
	}
	if w.Policy == weights.PolicyClassical && len(w.PolicyFC.B) != encoding.PolicyOutputs {
		return nil, fmt.Errorf("%w: classical policy head emits %d outputs, want %d",
			weights.ErrUnsupportedFormat, len(w.PolicyFC.B), encoding.PolicyOutputs)
	}

	e := &Engine{
		dev:      dev,
		maxBatch: maxBatch,
		half:     half,
		fused:    fused,
		wdl:      w.Value == weights.ValueWDL,
		mlh:      w.MovesLeft == weights.MovesLeftV1 && !opts.DisableMovesLeft,
		filters:  filters,
		blocks:   w.Blocks(),
	}
	e.valueWidth = 1
	if e.wdl {
		e.valueWidth = 3
	}

	e.buildGraph(w)

	// Size the pool to the largest tensor any stage touches, and the
	// scratch to the widest transform-domain pair.
	elems := maxBatch * weights.InputPlanes * 64
	scratch := 0
	for _, s := range allStages(e.tower, e.policyHead, e.valueHead, e.mlhHead) {
		if n := s.layer.OutputSize(maxBatch); n > elems {
			elems = n
		}
		switch l := s.layer.(type) {
		case *winogradConv:
			if n := l.scratchSize(maxBatch); n > scratch {
				scratch = n
			}
		case *fusedResidual:
			if n := l.scratchSize(maxBatch); n > scratch {
				scratch = n
			}
		}
	}
	e.pool = newTensorPool(dev, elems, scratch, half)
	e.ios = newIOPool(maxBatch, e.valueWidth, e.mlh)

	if budget := dev.Memory(); budget > 0 {
		residual := int64(e.blocks) * 2 * 36 * int64(filters) * int64(filters) * 4
		if residual*10 > budget*4 {
			klog.Warningf("[Engine] transformed residual weights use %d MB of a %d MB budget",
				residual>>20, budget>>20)
		}
	}
	return e, nil
}

func allStages(lists ...[]stage) []stage {
	var out []stage
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

func (e *Engine) buildGraph(w *weights.Weights) {
	dev, half, filters := e.dev, e.half, e.filters

	e.tower = append(e.tower, stage{layer: newWinogradConv(dev, &w.Input, weights.InputPlanes, true, half)})
	for i := range w.Residuals {
		r := &w.Residuals[i]
		if e.fused {
			e.tower = append(e.tower, stage{layer: newFusedResidual(dev, r, filters, half)})
			continue
		}
		e.tower = append(e.tower, stage{layer: newWinogradConv(dev, &r.Conv1, filters, true, half)})
		conv2 := newWinogradConv(dev, &r.Conv2, filters, true, half)
		if r.SE != nil {
			conv2.withSE(r.SE, half)
		}
		e.tower = append(e.tower, stage{layer: conv2, skip: true})
	}

	if w.Policy == weights.PolicyConvolution {
		e.policyHead = append(e.policyHead,
			stage{layer: newWinogradConv(dev, &w.Policy1, filters, true, half)},
			stage{layer: newWinogradConv(dev, &w.PolicyConv, filters, false, half)},
			stage{layer: newPolicyMap(dev)},
		)
	} else {
		ch := len(w.PolicyConv.Biases)
		e.policyHead = append(e.policyHead,
			stage{layer: newConv1x1(dev, &w.PolicyConv, filters, true, half)},
			stage{layer: newFullyConnected(dev, &w.PolicyFC, ch*64, device.ActNone, half)},
		)
	}

	vch := len(w.ValueConv.Biases)
	act := device.ActTanh
	if e.wdl {
		act = device.ActNone
	}
	e.valueHead = append(e.valueHead,
		stage{layer: newConv1x1(dev, &w.ValueConv, filters, true, half)},
		stage{layer: newFullyConnected(dev, &w.ValueFC1, vch*64, device.ActRelu, half)},
		stage{layer: newFullyConnected(dev, &w.ValueFC2, len(w.ValueFC1.B), act, half)},
	)

	if e.mlh {
		mch := len(w.MLHConv.Biases)
		e.mlhHead = append(e.mlhHead,
			stage{layer: newConv1x1(dev, &w.MLHConv, filters, true, half)},
			stage{layer: newFullyConnected(dev, &w.MLHFC1, mch*64, device.ActRelu, half)},
			stage{layer: newFullyConnected(dev, &w.MLHFC2, len(w.MLHFC1.B), device.ActRelu, half)},
		)
	}
}

// MaxBatch returns the configured batch bound.
func (e *Engine) MaxBatch() int { return e.maxBatch }

// WDL reports whether the value head emits win/draw/loss triples.
func (e *Engine) WDL() bool { return e.wdl }

// MovesLeft reports whether the moves-left head is active.
func (e *Engine) MovesLeft() bool { return e.mlh }

// Half reports whether the engine stores tensors in half precision.
func (e *Engine) Half() bool { return e.half }

// Fused reports whether residual blocks run on the fused path.
func (e *Engine) Fused() bool { return e.fused }

// BuffersAllocated reports the staging-buffer count, for pool-reuse
// accounting.
func (e *Engine) BuffersAllocated() int { return e.ios.Allocated() }

// Evaluate runs one batched forward pass. Dispatch and the fence are
// serialized per engine; the WDL softmax runs on the host after the
// lock is released so it overlaps with the next caller's dispatch.
func (e *Engine) Evaluate(io *InputsOutputs, batch int) error {
	if batch < 1 || batch > e.maxBatch {
		return fmt.Errorf("%w: %d (configured maximum %d)", ErrBatchTooLarge, batch, e.maxBatch)
	}

	e.mu.Lock()
	p := e.pool
	n := batch * weights.InputPlanes
	e.dev.ExpandPlanes(p.Output(), io.Masks[:n], io.Values[:n], n)
	p.Advance()

	for _, s := range e.tower {
		e.runStage(s, batch)
	}
	p.Mark()

	for _, s := range e.policyHead {
		e.runStage(s, batch)
	}
	e.dev.CopyOut(io.Policy, p.Input(), batch*encoding.PolicyOutputs)

	p.Rewind()
	for _, s := range e.valueHead {
		e.runStage(s, batch)
	}
	e.dev.CopyOut(io.Value, p.Input(), batch*e.valueWidth)

	if e.mlh {
		p.Rewind()
		for _, s := range e.mlhHead {
			e.runStage(s, batch)
		}
		e.dev.CopyOut(io.MovesLeft, p.Input(), batch)
	}
	p.Unmark()

	e.dev.Synchronize()
	e.mu.Unlock()

	if e.wdl {
		softmaxWDL(io.Value, batch)
	}
	return nil
}

func (e *Engine) runStage(s stage, batch int) {
	var skip *device.Buffer
	if s.skip {
		skip = e.pool.Spare()
	}
	s.layer.Eval(batch, e.pool.Output(), e.pool.Input(), skip, e.pool.Scratch())
	e.pool.Advance()
}

// softmaxWDL turns value-head logits into probabilities in place:
// exponentiate, normalize, then recompute draw as 1−win−loss so the
// triple sums to one exactly.
func softmaxWDL(v []float32, batch int) {
	for i := 0; i < batch; i++ {
		w := float32(math.Exp(float64(v[3*i])))
		d := float32(math.Exp(float64(v[3*i+1])))
		l := float32(math.Exp(float64(v[3*i+2])))
		sum := w + d + l
		w /= sum
		l /= sum
		v[3*i] = w
		v[3*i+1] = 1 - w - l
		v[3*i+2] = l
	}
}
