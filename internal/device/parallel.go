package device

import "golang.org/x/sync/errgroup"

// parallelFor splits [0, n) into contiguous chunks across the device's
// workers and waits for all of them. Bodies receive [lo, hi) ranges.
func (d *Device) parallelFor(n int, body func(lo, hi int) error) error {
	if n <= 0 {
		return nil
	}
	workers := d.info.Workers
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		return body(0, n)
	}

	chunk := (n + workers - 1) / workers
	var g errgroup.Group
	for lo := 0; lo < n; lo += chunk {
		lo := lo
		hi := min(lo+chunk, n)
		g.Go(func() error {
			return body(lo, hi)
		})
	}
	return g.Wait()
}
