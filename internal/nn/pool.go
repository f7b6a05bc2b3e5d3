package nn

import "github.com/minerva-chess/minerva/internal/device"

// TensorPool is the engine's working memory: three interchangeable
// buffers sized to the largest tensor any stage produces, plus one
// scratch buffer for transform-domain staging. Stages address the
// buffers only through the Input/Output/Spare roles; Advance rotates
// the roles so a stage's output becomes the next stage's input, and a
// marked buffer is never handed the output role, which is what lets
// the three head branches restart from the tower activation.
type TensorPool struct {
	bufs    [3]*device.Buffer
	scratch *device.Buffer

	input, output, spare int
	marked               int // buffer index, -1 when unset
}

func newTensorPool(dev *device.Device, elems, scratchElems int, half bool) *TensorPool {
	p := &TensorPool{
		scratch: dev.NewBuffer(scratchElems, half),
		input:   0,
		output:  1,
		spare:   2,
		marked:  -1,
	}
	for i := range p.bufs {
		p.bufs[i] = dev.NewBuffer(elems, half)
	}
	return p
}

// Input is the buffer the current stage reads.
func (p *TensorPool) Input() *device.Buffer { return p.bufs[p.input] }

// Output is the buffer the current stage writes.
func (p *TensorPool) Output() *device.Buffer { return p.bufs[p.output] }

// Spare is the buffer holding the residual/skip source, the input of
// two stages ago.
func (p *TensorPool) Spare() *device.Buffer { return p.bufs[p.spare] }

// Scratch is the transform-domain staging buffer.
func (p *TensorPool) Scratch() *device.Buffer { return p.scratch }

// Advance rotates roles after a stage: the stage's output becomes the
// next input, and the write role moves to a buffer that is neither the
// new input nor the mark.
func (p *TensorPool) Advance() {
	prev := p.input
	p.input = p.output
	if p.spare == p.marked {
		p.output = prev
	} else {
		p.output = p.spare
		p.spare = prev
	}
}

// Mark pins the current input so head branches can restart from it.
func (p *TensorPool) Mark() {
	p.marked = p.input
}

// Rewind makes the marked buffer the input again and reassigns the
// other two as output and spare.
func (p *TensorPool) Rewind() {
	p.input = p.marked
	rest := make([]int, 0, 2)
	for i := 0; i < 3; i++ {
		if i != p.marked {
			rest = append(rest, i)
		}
	}
	p.output, p.spare = rest[0], rest[1]
}

// Unmark clears the pin after the last head branch.
func (p *TensorPool) Unmark() {
	p.marked = -1
}
