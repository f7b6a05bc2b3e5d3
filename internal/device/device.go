package device

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"k8s.io/klog/v2"
)

// ErrInvalidDevice is returned when a device index does not name a
// configured device.
var ErrInvalidDevice = errors.New("invalid device index")

// Info describes one logical compute device.
type Info struct {
	Name          string
	Workers       int   // data-parallel worker count for kernels
	HalfPrecision bool  // half precision storage supported
	Memory        int64 // advisory memory budget in bytes (0 = unknown)
}

// Device is a logical compute device. Kernels are enqueued on a serial
// command queue and run asynchronously in submission order;
// Synchronize acts as a fence. A kernel failure is a device fault and
// aborts the process (see fault), mirroring the behaviour of a
// corrupted accelerator context that cannot be recovered in-process.
type Device struct {
	index int
	info  Info
	queue *commandQueue
}

var (
	tableMu sync.Mutex
	table   []*Device

	logOnce sync.Once
)

func defaultTable() []*Device {
	workers := runtime.GOMAXPROCS(0)
	return []*Device{newDevice(0, Info{
		Name:          fmt.Sprintf("cpu/%d", workers),
		Workers:       workers,
		HalfPrecision: true,
		Memory:        8 << 30,
	})}
}

func newDevice(index int, info Info) *Device {
	if info.Workers < 1 {
		info.Workers = 1
	}
	d := &Device{index: index, info: info}
	d.queue = newCommandQueue(d)
	return d
}

func ensureTable() {
	if table == nil {
		table = defaultTable()
	}
}

// Count returns the number of configured devices.
func Count() int {
	tableMu.Lock()
	defer tableMu.Unlock()
	ensureTable()
	return len(table)
}

// Get returns the device with the given index, or ErrInvalidDevice.
func Get(index int) (*Device, error) {
	tableMu.Lock()
	ensureTable()
	if index < 0 || index >= len(table) {
		n := len(table)
		tableMu.Unlock()
		return nil, fmt.Errorf("%w: %d (%d configured)", ErrInvalidDevice, index, n)
	}
	d := table[index]
	tableMu.Unlock()

	logOnce.Do(logTable)
	return d, nil
}

// Configure replaces the device table. Intended for tests and for
// embedders that model more than one device.
func Configure(infos ...Info) {
	tableMu.Lock()
	defer tableMu.Unlock()
	table = make([]*Device, 0, len(infos))
	for i, info := range infos {
		table = append(table, newDevice(i, info))
	}
}

func logTable() {
	tableMu.Lock()
	defer tableMu.Unlock()
	for _, d := range table {
		klog.Infof("[Device] %d: %s, workers=%d, half=%v, memory=%d MB",
			d.index, d.info.Name, d.info.Workers, d.info.HalfPrecision, d.info.Memory>>20)
	}
}

// Index returns the device's position in the table.
func (d *Device) Index() int { return d.index }

// Name returns the device name.
func (d *Device) Name() string { return d.info.Name }

// Workers returns the data-parallel worker count.
func (d *Device) Workers() int { return d.info.Workers }

// HalfPrecision reports whether half precision storage is supported.
func (d *Device) HalfPrecision() bool { return d.info.HalfPrecision }

// Memory returns the advisory memory budget in bytes.
func (d *Device) Memory() int64 { return d.info.Memory }

// Submit enqueues a job on the command queue without waiting for it.
func (d *Device) Submit(fn func() error) { d.queue.Submit(fn) }

// Synchronize blocks until every previously submitted job has retired.
func (d *Device) Synchronize() { d.queue.Synchronize() }

// fault terminates the process. Runtime failures inside kernels leave
// the device state undefined, so recovery is not attempted.
func (d *Device) fault(err error) {
	klog.Fatalf("[Device] %s: unrecoverable fault: %v", d.info.Name, err)
}
