package nn

import (
	"errors"
	"math"
	"testing"

	"github.com/minerva-chess/minerva/internal/weights"
)

func testWeights(topo weights.Topology, policy weights.PolicyKind, value weights.ValueKind, mlh weights.MovesLeftKind) *weights.Weights {
	return weights.Generate(weights.GenSpec{
		Blocks:    2,
		Filters:   16,
		Topology:  topo,
		Policy:    policy,
		Value:     value,
		MovesLeft: mlh,
	}, 12345)
}

func addTestBatch(t *testing.T, c *Computation, batch int) {
	t.Helper()
	masks := make([]uint64, weights.InputPlanes)
	values := make([]float32, weights.InputPlanes)
	for i := 0; i < batch; i++ {
		for p := range masks {
			masks[p] = uint64(i+1) * 0x9E3779B97F4A7C15 >> uint(p%13)
			values[p] = float32(p%5) * 0.25
		}
		if err := c.AddInput(masks, values); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSupportedFormatMatrix(t *testing.T) {
	for _, topo := range []weights.Topology{weights.TopologyClassical, weights.TopologySE} {
		for _, policy := range []weights.PolicyKind{weights.PolicyClassical, weights.PolicyConvolution} {
			for _, value := range []weights.ValueKind{weights.ValueClassical, weights.ValueWDL} {
				for _, mlh := range []weights.MovesLeftKind{weights.MovesLeftNone, weights.MovesLeftV1} {
					w := testWeights(topo, policy, value, mlh)
					e, err := NewEngine(w, Options{MaxBatch: 8, Precision: PrecisionSingle})
					if err != nil {
						t.Fatalf("topo=%d policy=%d value=%d mlh=%d: %v", topo, policy, value, mlh, err)
					}
					if e.WDL() != (value == weights.ValueWDL) {
						t.Errorf("value kind %d: wdl = %v", value, e.WDL())
					}
					if e.MovesLeft() != (mlh == weights.MovesLeftV1) {
						t.Errorf("moves-left kind %d: mlh = %v", mlh, e.MovesLeft())
					}

					c := e.NewComputation()
					addTestBatch(t, c, 3)
					if err := c.Compute(); err != nil {
						t.Fatal(err)
					}
					for i := 0; i < 3; i++ {
						q := c.QVal(i)
						if math.IsNaN(float64(q)) || q < -1.0001 || q > 1.0001 {
							t.Errorf("sample %d: q = %g", i, q)
						}
						if mlh == weights.MovesLeftV1 && c.MVal(i) < 0 {
							t.Errorf("sample %d: moves-left %g < 0", i, c.MVal(i))
						}
					}
					c.Close()
				}
			}
		}
	}
}

func TestUnsupportedFormatLeavesNoEngine(t *testing.T) {
	w := testWeights(weights.TopologySE, weights.PolicyConvolution, weights.ValueWDL, weights.MovesLeftV1)
	w.Topology = 7
	if _, err := NewEngine(w, Options{}); !errors.Is(err, weights.ErrUnsupportedFormat) {
		t.Errorf("bad topology: err = %v", err)
	}

	w = testWeights(weights.TopologySE, weights.PolicyConvolution, weights.ValueWDL, weights.MovesLeftV1)
	if _, err := NewEngine(w, Options{Device: 99}); err == nil {
		t.Error("invalid device accepted")
	}
}

func TestRepeatedComputeIsDeterministic(t *testing.T) {
	w := testWeights(weights.TopologySE, weights.PolicyConvolution, weights.ValueWDL, weights.MovesLeftV1)
	e, err := NewEngine(w, Options{MaxBatch: 4, Precision: PrecisionSingle})
	if err != nil {
		t.Fatal(err)
	}

	run := func() ([]float32, []float32) {
		c := e.NewComputation()
		defer c.Close()
		addTestBatch(t, c, 4)
		if err := c.Compute(); err != nil {
			t.Fatal(err)
		}
		q := make([]float32, 4)
		p := make([]float32, 4)
		for i := range q {
			q[i] = c.QVal(i)
			p[i] = c.PVal(i, uint16(100*i))
		}
		return q, p
	}

	q1, p1 := run()
	q2, p2 := run()
	for i := range q1 {
		if q1[i] != q2[i] || p1[i] != p2[i] {
			t.Errorf("sample %d: (%g, %g) then (%g, %g)", i, q1[i], p1[i], q2[i], p2[i])
		}
	}
}

func TestWDLComplementarity(t *testing.T) {
	w := testWeights(weights.TopologySE, weights.PolicyConvolution, weights.ValueWDL, weights.MovesLeftNone)
	e, err := NewEngine(w, Options{MaxBatch: 8, Precision: PrecisionSingle})
	if err != nil {
		t.Fatal(err)
	}
	c := e.NewComputation()
	defer c.Close()
	addTestBatch(t, c, 8)
	if err := c.Compute(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 8; i++ {
		win := (c.QVal(i) + 1 - c.DVal(i)) / 2
		loss := win - c.QVal(i)
		d := c.DVal(i)
		sum := win + d + loss
		if math.Abs(float64(sum-1)) > 1e-6 {
			t.Errorf("sample %d: w+d+l = %g", i, sum)
		}
		for name, v := range map[string]float32{"win": win, "draw": d, "loss": loss} {
			if v < -1e-6 || v > 1+1e-6 {
				t.Errorf("sample %d: %s = %g outside [0,1]", i, name, v)
			}
		}
	}
}

func TestStagingBufferReuse(t *testing.T) {
	w := testWeights(weights.TopologyClassical, weights.PolicyClassical, weights.ValueClassical, weights.MovesLeftNone)
	e, err := NewEngine(w, Options{MaxBatch: 2, Precision: PrecisionSingle})
	if err != nil {
		t.Fatal(err)
	}
	for k := 0; k < 20; k++ {
		c := e.NewComputation()
		addTestBatch(t, c, 2)
		if err := c.Compute(); err != nil {
			t.Fatal(err)
		}
		c.Close()
	}
	if n := e.BuffersAllocated(); n != 1 {
		t.Errorf("20 sequential computations allocated %d staging buffers", n)
	}
}

func TestBatchBound(t *testing.T) {
	w := testWeights(weights.TopologyClassical, weights.PolicyClassical, weights.ValueClassical, weights.MovesLeftNone)
	e, err := NewEngine(w, Options{MaxBatch: 2, Precision: PrecisionSingle})
	if err != nil {
		t.Fatal(err)
	}
	c := e.NewComputation()
	defer c.Close()
	addTestBatch(t, c, 2)

	masks := make([]uint64, weights.InputPlanes)
	values := make([]float32, weights.InputPlanes)
	if err := c.AddInput(masks, values); !errors.Is(err, ErrBatchTooLarge) {
		t.Errorf("third input on a 2-batch engine: %v", err)
	}

	if err := e.Evaluate(e.ios.Acquire(), 3); !errors.Is(err, ErrBatchTooLarge) {
		t.Errorf("oversized Evaluate: %v", err)
	}
}

func TestFusedMatchesUnfused(t *testing.T) {
	w := testWeights(weights.TopologySE, weights.PolicyConvolution, weights.ValueWDL, weights.MovesLeftV1)

	run := func(fusion Fusion, precision Precision) []float32 {
		e, err := NewEngine(w, Options{MaxBatch: 3, Precision: precision, Fusion: fusion})
		if err != nil {
			t.Fatal(err)
		}
		c := e.NewComputation()
		defer c.Close()
		addTestBatch(t, c, 3)
		if err := c.Compute(); err != nil {
			t.Fatal(err)
		}
		out := make([]float32, 0, 9)
		for i := 0; i < 3; i++ {
			out = append(out, c.QVal(i), c.DVal(i), c.MVal(i))
		}
		return out
	}

	// Half precision is the fusion precondition, so compare fused
	// against unfused at half, and both against fp32 loosely.
	fused := run(FuseOn, PrecisionHalf)
	unfused := run(FuseOff, PrecisionHalf)
	single := run(FuseOff, PrecisionSingle)

	for i := range fused {
		if diff := math.Abs(float64(fused[i] - unfused[i])); diff > 5e-3 {
			t.Errorf("output %d: fused %g vs unfused %g", i, fused[i], unfused[i])
		}
		if diff := math.Abs(float64(unfused[i] - single[i])); diff > 5e-2 {
			t.Errorf("output %d: half %g vs single %g", i, unfused[i], single[i])
		}
	}
}

func TestFusionConfig(t *testing.T) {
	w := testWeights(weights.TopologySE, weights.PolicyConvolution, weights.ValueWDL, weights.MovesLeftNone)

	if _, err := NewEngine(w, Options{Precision: PrecisionSingle, Fusion: FuseOn}); err == nil {
		t.Error("forced fusion with single precision accepted")
	}

	e, err := NewEngine(w, Options{Precision: PrecisionHalf, Fusion: FuseAuto})
	if err != nil {
		t.Fatal(err)
	}
	if !e.Fused() {
		t.Error("auto fusion off for a 16-filter half-precision engine")
	}

	e, err = NewEngine(w, Options{Precision: PrecisionSingle, Fusion: FuseAuto})
	if err != nil {
		t.Fatal(err)
	}
	if e.Fused() {
		t.Error("auto fusion on for a single-precision engine")
	}
}

func TestTensorPoolRotation(t *testing.T) {
	w := testWeights(weights.TopologyClassical, weights.PolicyClassical, weights.ValueClassical, weights.MovesLeftNone)
	e, err := NewEngine(w, Options{MaxBatch: 1, Precision: PrecisionSingle})
	if err != nil {
		t.Fatal(err)
	}
	p := e.pool

	in, out, spare := p.Input(), p.Output(), p.Spare()
	if in == out || out == spare || in == spare {
		t.Fatal("pool roles share a buffer")
	}

	p.Advance()
	if p.Input() != out {
		t.Error("advance did not promote the output to input")
	}

	p.Mark()
	marked := p.Input()
	for i := 0; i < 5; i++ {
		p.Advance()
		if p.Output() == marked {
			t.Fatal("marked buffer handed the output role")
		}
	}
	p.Rewind()
	if p.Input() != marked {
		t.Error("rewind did not restore the marked buffer")
	}
	if p.Input() == p.Output() || p.Output() == p.Spare() {
		t.Error("rewind left overlapping roles")
	}
	p.Unmark()
}
