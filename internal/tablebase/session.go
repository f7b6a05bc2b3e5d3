package tablebase

import (
	"fmt"
	"time"

	"k8s.io/klog/v2"

	"github.com/notnil/chess"

	"github.com/minerva-chess/minerva/internal/encoding"
)

// SessionOptions configures one probe session. The zero value scans
// only, probes the default endpoint and keeps no persistent cache.
type SessionOptions struct {
	// CacheDir enables the persistent probe cache when non-empty.
	// InMemoryStore enables it without touching disk.
	CacheDir      string
	InMemoryStore bool

	// Endpoint and Timeout configure the HTTP prober.
	Endpoint string
	Timeout  time.Duration

	// CacheSize bounds the in-memory probe cache.
	CacheSize int
}

// Session is one initialized tablebase instance: the scanned file
// set plus the probe chain. Probes are gated on the file set, so only
// material whose WDL table is actually present gets answered.
type Session struct {
	files  *FileSet
	store  *Store
	prober *CachedProber
}

// chainProber consults the persistent store before the endpoint and
// writes endpoint answers back.
type chainProber struct {
	store *Store
	http  *HTTPProber
}

func (c *chainProber) Probe(pos *chess.Position) ProbeResult {
	var key uint64
	if c.store != nil {
		key = PositionKey(pos.String())
		if result, ok, err := c.store.Lookup(key); err != nil {
			klog.Warningf("[Syzygy] probe cache lookup: %v", err)
		} else if ok {
			return result
		}
	}
	result := c.http.Probe(pos)
	if result.Found && c.store != nil {
		if err := c.store.Save(key, result); err != nil {
			klog.Warningf("[Syzygy] probe cache save: %v", err)
		}
	}
	return result
}

func (c *chainProber) ProbeRoot(pos *chess.Position) RootResult {
	return c.http.ProbeRoot(pos)
}

func (c *chainProber) MaxPieces() int { return c.http.MaxPieces() }

func (c *chainProber) Available() bool { return c.http.Available() }

// NewSession scans the path list and assembles the probe chain. A
// scan that finds no WDL file returns (nil, error); a failing
// persistent cache degrades to the uncached chain.
func NewSession(paths string, opts SessionOptions) (*Session, error) {
	files := ScanPaths(paths)
	if files.Empty() {
		return nil, fmt.Errorf("no tablebase files under %q", paths)
	}

	var store *Store
	var err error
	switch {
	case opts.InMemoryStore:
		store, err = OpenStoreInMemory()
	case opts.CacheDir != "":
		store, err = OpenStore(opts.CacheDir)
	}
	if err != nil {
		klog.Warningf("[Syzygy] persistent cache disabled: %v", err)
		store = nil
	}

	size := opts.CacheSize
	if size == 0 {
		size = 100000
	}
	chain := &chainProber{store: store, http: NewHTTPProber(opts.Endpoint, opts.Timeout)}
	return &Session{
		files:  files,
		store:  store,
		prober: NewCachedProber(chain, size),
	}, nil
}

// Close releases the persistent cache, if any.
func (s *Session) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// MaxCardinality returns the largest piece count the file set covers.
func (s *Session) MaxCardinality() int { return s.files.MaxCardinality() }

// HasDTZ reports whether any DTZ table is present.
func (s *Session) HasDTZ() bool { return s.files.HasDTZ() }

// HitRate exposes the in-memory cache hit rate.
func (s *Session) HitRate() float64 { return s.prober.HitRate() }

// ProbeWDL looks up the position's win/draw/loss score. StateFail
// means the position is outside the file set or the chain had no
// answer.
func (s *Session) ProbeWDL(fen string) (ProbeState, WDL, error) {
	pos, err := ParseFEN(fen)
	if err != nil {
		return StateFail, WDLDraw, fmt.Errorf("bad FEN %q: %w", fen, err)
	}
	if CountPieces(pos) > s.files.MaxCardinality() || !s.files.CoversWDL(pos) {
		return StateFail, WDLDraw, nil
	}
	result := s.prober.Probe(pos)
	if !result.Found {
		return StateFail, WDLDraw, nil
	}
	return StateOK, result.WDL, nil
}

// ProbeDTZ returns the best root move as a packed integer, or -1 when
// no DTZ-backed answer exists, including WDL-only file sets.
func (s *Session) ProbeDTZ(fen string) (int32, error) {
	pos, err := ParseFEN(fen)
	if err != nil {
		return -1, fmt.Errorf("bad FEN %q: %w", fen, err)
	}
	if CountPieces(pos) > s.files.MaxCardinality() || !s.files.CoversDTZ(pos) {
		return -1, nil
	}
	result := s.prober.ProbeRoot(pos)
	if !result.Found {
		return -1, nil
	}
	packed, err := encoding.ParseMove(result.UCI)
	if err != nil {
		return -1, nil
	}
	return packed, nil
}
