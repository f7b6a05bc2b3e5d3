package weights

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Binary container format, little-endian:
//   - Header: Magic (4 bytes), Version (4 bytes), the four format
//     flags (1 byte each), residual block count (4 bytes)
//   - Tensors in fixed order, each a uint32 element count followed by
//     that many float32 values
//
// Files may be gzip-framed; Load detects the frame, Save compresses
// when the filename ends in ".gz".
// fileMagic spells "MNVW".
const fileMagic = 0x57564E4D

// fileVersion is the container version this loader understands.
const fileVersion = 1

type fileHeader struct {
	Magic     uint32
	Version   uint32
	Topology  uint8
	Policy    uint8
	Value     uint8
	MovesLeft uint8
	Blocks    uint32
}

// Load reads and validates a weights file.
func Load(filename string) (*Weights, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open weights file: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var r io.Reader = br
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1F && magic[1] == 0x8B {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip frame: %w", err)
		}
		defer gz.Close()
		r = gz
	}
	return Read(r)
}

// Read parses a weights container from r and validates the result.
func Read(r io.Reader) (*Weights, error) {
	var header fileHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if header.Magic != fileMagic {
		return nil, fmt.Errorf("invalid magic number: expected %x, got %x", uint32(fileMagic), header.Magic)
	}
	if header.Version != fileVersion {
		return nil, fmt.Errorf("unsupported version: expected %d, got %d", fileVersion, header.Version)
	}

	w := &Weights{
		Topology:  Topology(header.Topology),
		Policy:    PolicyKind(header.Policy),
		Value:     ValueKind(header.Value),
		MovesLeft: MovesLeftKind(header.MovesLeft),
	}

	var err error
	read := func(name string) []float32 {
		if err != nil {
			return nil
		}
		var t []float32
		if t, err = readTensor(r); err != nil {
			err = fmt.Errorf("failed to read %s: %w", name, err)
		}
		return t
	}
	readConv := func(name string, c *ConvBlock) {
		c.Weights = read(name + " weights")
		c.Biases = read(name + " biases")
	}
	readFC := func(name string, f *FC) {
		f.W = read(name + " weights")
		f.B = read(name + " biases")
	}

	readConv("input conv", &w.Input)
	w.Residuals = make([]Residual, header.Blocks)
	for i := range w.Residuals {
		res := &w.Residuals[i]
		readConv(fmt.Sprintf("block %d conv1", i), &res.Conv1)
		readConv(fmt.Sprintf("block %d conv2", i), &res.Conv2)
		if w.Topology == TopologySE {
			se := &SEUnit{}
			se.W1 = read(fmt.Sprintf("block %d se w1", i))
			se.B1 = read(fmt.Sprintf("block %d se b1", i))
			se.W2 = read(fmt.Sprintf("block %d se w2", i))
			se.B2 = read(fmt.Sprintf("block %d se b2", i))
			res.SE = se
		}
	}
	if w.Policy == PolicyConvolution {
		readConv("policy1", &w.Policy1)
		readConv("policy conv", &w.PolicyConv)
	} else {
		readConv("policy conv", &w.PolicyConv)
		readFC("policy fc", &w.PolicyFC)
	}
	readConv("value conv", &w.ValueConv)
	readFC("value fc1", &w.ValueFC1)
	readFC("value fc2", &w.ValueFC2)
	if w.MovesLeft == MovesLeftV1 {
		readConv("moves-left conv", &w.MLHConv)
		readFC("moves-left fc1", &w.MLHFC1)
		readFC("moves-left fc2", &w.MLHFC2)
	}
	if err != nil {
		return nil, err
	}

	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}

// Save writes the weights to a container file, gzip-compressed when
// the filename ends in ".gz".
func (w *Weights) Save(filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create weights file: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	if strings.HasSuffix(filename, ".gz") {
		gz := gzip.NewWriter(bw)
		if err := w.Write(gz); err != nil {
			return err
		}
		if err := gz.Close(); err != nil {
			return fmt.Errorf("failed to close gzip frame: %w", err)
		}
	} else if err := w.Write(bw); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush weights file: %w", err)
	}
	return f.Close()
}

// Write serializes the weights container to wr.
func (w *Weights) Write(wr io.Writer) error {
	header := fileHeader{
		Magic:     fileMagic,
		Version:   fileVersion,
		Topology:  uint8(w.Topology),
		Policy:    uint8(w.Policy),
		Value:     uint8(w.Value),
		MovesLeft: uint8(w.MovesLeft),
		Blocks:    uint32(len(w.Residuals)),
	}
	if err := binary.Write(wr, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	var err error
	write := func(name string, t []float32) {
		if err != nil {
			return
		}
		if err = writeTensor(wr, t); err != nil {
			err = fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	writeConv := func(name string, c *ConvBlock) {
		write(name+" weights", c.Weights)
		write(name+" biases", c.Biases)
	}
	writeFC := func(name string, f *FC) {
		write(name+" weights", f.W)
		write(name+" biases", f.B)
	}

	writeConv("input conv", &w.Input)
	for i := range w.Residuals {
		res := &w.Residuals[i]
		writeConv(fmt.Sprintf("block %d conv1", i), &res.Conv1)
		writeConv(fmt.Sprintf("block %d conv2", i), &res.Conv2)
		if w.Topology == TopologySE {
			write(fmt.Sprintf("block %d se w1", i), res.SE.W1)
			write(fmt.Sprintf("block %d se b1", i), res.SE.B1)
			write(fmt.Sprintf("block %d se w2", i), res.SE.W2)
			write(fmt.Sprintf("block %d se b2", i), res.SE.B2)
		}
	}
	if w.Policy == PolicyConvolution {
		writeConv("policy1", &w.Policy1)
		writeConv("policy conv", &w.PolicyConv)
	} else {
		writeConv("policy conv", &w.PolicyConv)
		writeFC("policy fc", &w.PolicyFC)
	}
	writeConv("value conv", &w.ValueConv)
	writeFC("value fc1", &w.ValueFC1)
	writeFC("value fc2", &w.ValueFC2)
	if w.MovesLeft == MovesLeftV1 {
		writeConv("moves-left conv", &w.MLHConv)
		writeFC("moves-left fc1", &w.MLHFC1)
		writeFC("moves-left fc2", &w.MLHFC2)
	}
	return err
}

func readTensor(r io.Reader) ([]float32, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if n > 1<<28 {
		return nil, fmt.Errorf("tensor of %d elements exceeds sanity bound", n)
	}
	t := make([]float32, n)
	if err := binary.Read(r, binary.LittleEndian, t); err != nil {
		return nil, err
	}
	return t, nil
}

func writeTensor(w io.Writer, t []float32) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(t))); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, t)
}
