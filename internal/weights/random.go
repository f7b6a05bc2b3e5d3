package weights

// Synthetic networks for tests and benchmarks. Values come from a
// seeded LCG so every (seed, shape) pair reproduces bit-identical
// weights, and are kept small so deep towers stay numerically tame.

// GenSpec describes a synthetic network.
type GenSpec struct {
	Blocks    int
	Filters   int
	Topology  Topology
	Policy    PolicyKind
	Value     ValueKind
	MovesLeft MovesLeftKind

	// Head widths; zero picks the defaults below.
	SEChannels     int
	PolicyChannels int
	ValueChannels  int
	ValueFCSize    int
	MLHChannels    int
	MLHFCSize      int
}

func (g *GenSpec) defaults() {
	if g.Blocks == 0 {
		g.Blocks = 2
	}
	if g.Filters == 0 {
		g.Filters = 64
	}
	if g.SEChannels == 0 {
		g.SEChannels = 8
	}
	if g.PolicyChannels == 0 {
		if g.Policy == PolicyConvolution {
			g.PolicyChannels = 73
		} else {
			g.PolicyChannels = 32
		}
	}
	if g.ValueChannels == 0 {
		g.ValueChannels = 32
	}
	if g.ValueFCSize == 0 {
		g.ValueFCSize = 128
	}
	if g.MLHChannels == 0 {
		g.MLHChannels = 8
	}
	if g.MLHFCSize == 0 {
		g.MLHFCSize = 64
	}
}

type lcg uint64

func (s *lcg) next() float32 {
	*s = *s*6364136223846793005 + 1442695040888963407
	// Top 16 bits, scaled to roughly ±0.05.
	return (float32(*s>>48) - 32768) / 655360
}

func (s *lcg) tensor(n int) []float32 {
	t := make([]float32, n)
	for i := range t {
		t[i] = s.next()
	}
	return t
}

// Generate builds a random network of the given shape. The result
// always validates.
func Generate(spec GenSpec, seed int64) *Weights {
	spec.defaults()
	state := lcg(seed)
	f := spec.Filters

	w := &Weights{
		Topology:  spec.Topology,
		Policy:    spec.Policy,
		Value:     spec.Value,
		MovesLeft: spec.MovesLeft,
		Input: ConvBlock{
			Weights: state.tensor(f * InputPlanes * 9),
			Biases:  state.tensor(f),
		},
	}

	w.Residuals = make([]Residual, spec.Blocks)
	for i := range w.Residuals {
		r := &w.Residuals[i]
		r.Conv1 = ConvBlock{Weights: state.tensor(f * f * 9), Biases: state.tensor(f)}
		r.Conv2 = ConvBlock{Weights: state.tensor(f * f * 9), Biases: state.tensor(f)}
		if spec.Topology == TopologySE {
			k := spec.SEChannels
			r.SE = &SEUnit{
				W1: state.tensor(k * f),
				B1: state.tensor(k),
				W2: state.tensor(2 * f * k),
				B2: state.tensor(2 * f),
			}
		}
	}

	pc := spec.PolicyChannels
	if spec.Policy == PolicyConvolution {
		w.Policy1 = ConvBlock{Weights: state.tensor(f * f * 9), Biases: state.tensor(f)}
		w.PolicyConv = ConvBlock{Weights: state.tensor(pc * f * 9), Biases: state.tensor(pc)}
	} else {
		w.PolicyConv = ConvBlock{Weights: state.tensor(pc * f), Biases: state.tensor(pc)}
		w.PolicyFC = FC{W: state.tensor(policyOutputs * pc * 64), B: state.tensor(policyOutputs)}
	}

	vc, vfc := spec.ValueChannels, spec.ValueFCSize
	w.ValueConv = ConvBlock{Weights: state.tensor(vc * f), Biases: state.tensor(vc)}
	w.ValueFC1 = FC{W: state.tensor(vfc * vc * 64), B: state.tensor(vfc)}
	vout := 1
	if spec.Value == ValueWDL {
		vout = 3
	}
	w.ValueFC2 = FC{W: state.tensor(vout * vfc), B: state.tensor(vout)}

	if spec.MovesLeft == MovesLeftV1 {
		mc, mfc := spec.MLHChannels, spec.MLHFCSize
		w.MLHConv = ConvBlock{Weights: state.tensor(mc * f), Biases: state.tensor(mc)}
		w.MLHFC1 = FC{W: state.tensor(mfc * mc * 64), B: state.tensor(mfc)}
		w.MLHFC2 = FC{W: state.tensor(mfc), B: state.tensor(1)}
	}
	return w
}

// policyOutputs mirrors encoding.PolicyOutputs without importing it;
// Validate only checks internal consistency, the engine checks the
// head size against the move-index space.
const policyOutputs = 1858
