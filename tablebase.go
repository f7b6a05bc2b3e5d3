package minerva

import (
	"fmt"
	"sync"

	"k8s.io/klog/v2"

	"github.com/minerva-chess/minerva/internal/tablebase"
)

// InitResult reports what a tablebase initialization found.
type InitResult int

const (
	InitFailed InitResult = iota
	InitWDLOnly
	InitWDLAndDTZ
)

// TablebaseOptions configures a tablebase session. The zero value
// probes the default endpoint without a persistent cache; set
// CacheDir (or the MINERVA_TB_CACHE environment variable through
// DefaultTablebaseCacheDir) to keep probe results across processes.
type TablebaseOptions = tablebase.SessionOptions

// DefaultTablebaseCacheDir returns the default persistent probe-cache
// location.
func DefaultTablebaseCacheDir() string {
	return tablebase.DefaultCacheDir()
}

// TablebaseTable is the registry of tablebase sessions, independent
// of the network table and mirroring its slot discipline.
type TablebaseTable struct {
	mu    sync.Mutex
	slots [MaxSessions]*tablebase.Session
}

// NewTablebaseTable returns an empty table.
func NewTablebaseTable() *TablebaseTable {
	return &TablebaseTable{}
}

// Init scans the path list and installs a probe session in the slot.
// Re-initializing an occupied slot replaces its session. A scan that
// finds no WDL file reports InitFailed and leaves the slot empty.
func (t *TablebaseTable) Init(slot int, paths string, opts TablebaseOptions) (InitResult, error) {
	if err := checkSlot(slot); err != nil {
		return InitFailed, err
	}

	session, err := tablebase.NewSession(paths, opts)
	if err != nil {
		return InitFailed, nil
	}

	t.mu.Lock()
	old := t.slots[slot]
	t.slots[slot] = session
	t.mu.Unlock()
	if old != nil {
		if err := old.Close(); err != nil {
			klog.Warningf("[Syzygy] slot %d: closing replaced session: %v", slot, err)
		}
	}

	if session.HasDTZ() {
		return InitWDLAndDTZ, nil
	}
	return InitWDLOnly, nil
}

// Free releases a slot's session.
func (t *TablebaseTable) Free(slot int) error {
	if err := checkSlot(slot); err != nil {
		return err
	}
	t.mu.Lock()
	session := t.slots[slot]
	t.slots[slot] = nil
	t.mu.Unlock()
	if session == nil {
		return fmt.Errorf("%w: slot %d", ErrSlotEmpty, slot)
	}
	return session.Close()
}

func (t *TablebaseTable) session(slot int) (*tablebase.Session, error) {
	if err := checkSlot(slot); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.slots[slot] == nil {
		return nil, fmt.Errorf("%w: slot %d", ErrSlotEmpty, slot)
	}
	return t.slots[slot], nil
}

// MaxCardinality returns the largest piece count the slot's file set
// covers.
func (t *TablebaseTable) MaxCardinality(slot int) (int, error) {
	session, err := t.session(slot)
	if err != nil {
		return 0, err
	}
	return session.MaxCardinality(), nil
}

// ProbeWDL probes a FEN and encodes the outcome as
// (state+10)*256 + (score+10), with score in [-2, 2] from loss to win.
func (t *TablebaseTable) ProbeWDL(slot int, fen string) (int32, error) {
	session, err := t.session(slot)
	if err != nil {
		return 0, err
	}
	state, score, err := session.ProbeWDL(fen)
	if err != nil {
		return 0, err
	}
	return (int32(state)+10)*256 + int32(score) + 10, nil
}

// ProbeDTZ probes a FEN for the best root move, packed as an integer,
// or -1 when no DTZ-backed answer exists.
func (t *TablebaseTable) ProbeDTZ(slot int, fen string) (int32, error) {
	session, err := t.session(slot)
	if err != nil {
		return -1, err
	}
	return session.ProbeDTZ(fen)
}
