// minerva-bench generates a synthetic network, loads it through the
// public session surface and reports batched-evaluation throughput.
package main

import (
	"flag"
	"os"
	"path/filepath"
	"time"

	"k8s.io/klog/v2"

	"github.com/minerva-chess/minerva"
	"github.com/minerva-chess/minerva/internal/weights"
)

var (
	blocks    = flag.Int("blocks", 6, "residual blocks of the synthetic network")
	filters   = flag.Int("filters", 64, "channel width of the synthetic network")
	batch     = flag.Int("batch", 256, "positions per Compute call")
	iters     = flag.Int("iters", 20, "Compute calls to time")
	seed      = flag.Int64("seed", 42, "weight generator seed")
	precision = flag.String("precision", "auto", "arithmetic path: auto, single or half")
	classical = flag.Bool("classical", false, "classical tower and heads instead of SE/conv/WDL")
	gz        = flag.Bool("gzip", false, "write the weights container gzip-compressed")
	netFile   = flag.String("net", "", "existing weights file; empty generates one")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	var prec minerva.Precision
	switch *precision {
	case "auto":
		prec = minerva.PrecisionAuto
	case "single":
		prec = minerva.PrecisionSingle
	case "half":
		prec = minerva.PrecisionHalf
	default:
		klog.Exitf("unknown precision %q", *precision)
	}

	path := *netFile
	if path == "" {
		spec := weights.GenSpec{
			Blocks:    *blocks,
			Filters:   *filters,
			Topology:  weights.TopologySE,
			Policy:    weights.PolicyConvolution,
			Value:     weights.ValueWDL,
			MovesLeft: weights.MovesLeftV1,
		}
		if *classical {
			spec.Topology = weights.TopologyClassical
			spec.Policy = weights.PolicyClassical
			spec.Value = weights.ValueClassical
			spec.MovesLeft = weights.MovesLeftNone
		}
		dir, err := os.MkdirTemp("", "minerva-bench")
		if err != nil {
			klog.Exitf("temp dir: %v", err)
		}
		defer os.RemoveAll(dir)
		path = filepath.Join(dir, "net.weights")
		if *gz {
			path += ".gz"
		}
		if err := weights.Generate(spec, *seed).Save(path); err != nil {
			klog.Exitf("save weights: %v", err)
		}
		klog.Infof("[Bench] generated %d-block %d-filter network at %s", *blocks, *filters, path)
	}

	table := minerva.NewSessionTable()
	if err := table.Alloc(0, path, 0, minerva.Options{Precision: prec}); err != nil {
		klog.Exitf("alloc: %v", err)
	}
	defer table.Free(0)

	in := make([]minerva.EvalInput, *batch)
	out := make([]minerva.EvalOutput, *batch)
	for i := range in {
		fillStartPosition(&in[i], uint64(i))
	}

	// One warm-up call keeps buffer allocation out of the timing.
	if err := table.Compute(0, *batch, in, out); err != nil {
		klog.Exitf("compute: %v", err)
	}

	start := time.Now()
	for it := 0; it < *iters; it++ {
		if err := table.Compute(0, *batch, in, out); err != nil {
			klog.Exitf("compute: %v", err)
		}
	}
	elapsed := time.Since(start)

	evals := *iters * *batch
	klog.Infof("[Bench] %d evals in %v: %.0f evals/s, avg batch %d, sample value %.4f",
		evals, elapsed.Round(time.Millisecond),
		float64(evals)/elapsed.Seconds(), *batch, out[0].Value)
}

// fillStartPosition packs a rough opening-position encoding: the
// first twelve planes carry the piece occupancy, the tail planes the
// usual constant features. Exact history planes don't matter for
// throughput measurement.
func fillStartPosition(in *minerva.EvalInput, salt uint64) {
	const (
		whitePawns   = uint64(0xFF) << 8
		whiteKnights = uint64(0x42)
		whiteBishops = uint64(0x24)
		whiteRooks   = uint64(0x81)
		whiteQueens  = uint64(0x08)
		whiteKing    = uint64(0x10)
	)
	pieces := [12]uint64{
		whitePawns, whiteKnights, whiteBishops, whiteRooks, whiteQueens, whiteKing,
		whitePawns << 40, whiteKnights << 56, whiteBishops << 56,
		whiteRooks << 56, whiteQueens << 56, whiteKing << 56,
	}
	for i, mask := range pieces {
		in.Masks[i] = mask
		in.Values[i] = 1
	}
	// Constant planes: castling rights and the all-ones plane.
	for i := 104; i < 108; i++ {
		in.Masks[i] = ^uint64(0)
		in.Values[i] = 1
	}
	in.Masks[111] = ^uint64(0)
	in.Values[111] = 1

	in.Hash = 0x9E3779B97F4A7C15 ^ salt
	in.NumMoves = 20
	for j := 0; j < 20; j++ {
		in.Moves[j] = uint16(j)
	}
}
