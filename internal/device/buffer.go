package device

import "fmt"

// Buffer is device-owned float32 storage. When the half flag is set,
// every kernel store into the buffer is rounded through binary16, so
// the buffer never holds values that half precision hardware could
// not represent.
type Buffer struct {
	dev  *Device
	data []float32
	half bool
}

// NewBuffer allocates a zeroed buffer of n float32 elements.
func (d *Device) NewBuffer(n int, half bool) *Buffer {
	if half && !d.info.HalfPrecision {
		d.fault(fmt.Errorf("half precision buffer requested on %s", d.info.Name))
	}
	return &Buffer{dev: d, data: make([]float32, n), half: half}
}

// Len returns the element capacity.
func (b *Buffer) Len() int { return len(b.data) }

// Half reports whether stores are rounded to binary16.
func (b *Buffer) Half() bool { return b.half }

// Data exposes the underlying storage. Callers must Synchronize the
// owning device before reading kernel results.
func (b *Buffer) Data() []float32 { return b.data }

// Zero clears the buffer synchronously.
func (b *Buffer) Zero() {
	clear(b.data)
}

// CopyOut copies the first n elements of src into dst as a queued
// transfer, ordered after every previously submitted kernel.
func (d *Device) CopyOut(dst []float32, src *Buffer, n int) {
	d.Submit(func() error {
		if len(dst) < n || src.Len() < n {
			return fmt.Errorf("copy out: %d elements, have dst %d / src %d", n, len(dst), src.Len())
		}
		copy(dst[:n], src.data[:n])
		return nil
	})
}

// roundStored applies half precision storage rounding to data[lo:hi].
// Kernels call it on the region they wrote.
func (b *Buffer) roundStored(lo, hi int) {
	if !b.half {
		return
	}
	for i := lo; i < hi; i++ {
		b.data[i] = RoundHalf(b.data[i])
	}
}

// store writes one element with storage rounding. Used by kernels
// with strided store patterns where region rounding does not apply.
func (b *Buffer) store(i int, v float32) {
	if b.half {
		v = RoundHalf(v)
	}
	b.data[i] = v
}
