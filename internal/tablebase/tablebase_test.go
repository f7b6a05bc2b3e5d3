package tablebase

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/notnil/chess"

	"github.com/minerva-chess/minerva/internal/encoding"
)

// kqkFEN is a trivially won KQvK position, white to move.
const kqkFEN = "4k3/8/8/8/8/8/2Q5/2K5 w - - 0 1"

func writeTables(t *testing.T, dir string, materials []string, dtz bool) {
	t.Helper()
	for _, m := range materials {
		if err := os.WriteFile(filepath.Join(dir, m+".rtbw"), []byte{0}, 0o644); err != nil {
			t.Fatal(err)
		}
		if dtz {
			if err := os.WriteFile(filepath.Join(dir, m+".rtbz"), []byte{0}, 0o644); err != nil {
				t.Fatal(err)
			}
		}
	}
}

func probeServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"category":"win","dtz":12,"moves":[{"uci":"c2c3","category":"loss","dtz":-11}]}`)
	}))
	t.Cleanup(server.Close)
	return server
}

func testSession(t *testing.T, dir string, server *httptest.Server) *Session {
	t.Helper()
	s, err := NewSession(dir, SessionOptions{
		Endpoint:      server.URL,
		InMemoryStore: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestScanPaths(t *testing.T) {
	full := t.TempDir()
	writeTables(t, full, []string{"KQvK", "KRvK", "KQvKR"}, true)
	wdlOnly := t.TempDir()
	writeTables(t, wdlOnly, []string{"KPvK"}, false)

	fs := ScanPaths(full + ":" + wdlOnly)
	if fs.Empty() {
		t.Fatal("scan found nothing")
	}
	if got := fs.MaxCardinality(); got != 4 {
		t.Errorf("max cardinality %d, want 4", got)
	}
	if !fs.HasDTZ() {
		t.Error("DTZ files not seen")
	}

	fs = ScanPaths(wdlOnly)
	if fs.HasDTZ() {
		t.Error("wdl-only directory reports DTZ")
	}
	if got := fs.MaxCardinality(); got != 3 {
		t.Errorf("wdl-only max cardinality %d, want 3", got)
	}

	if !ScanPaths(t.TempDir()).Empty() {
		t.Error("empty directory produced a file set")
	}

	// Stray files never become material keys.
	junk := t.TempDir()
	os.WriteFile(filepath.Join(junk, "readme.txt"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(junk, "KXvK.rtbw"), []byte{0}, 0o644)
	if !ScanPaths(junk).Empty() {
		t.Error("junk files produced a file set")
	}
}

func TestMaterialKeys(t *testing.T) {
	pos, err := ParseFEN(kqkFEN)
	if err != nil {
		t.Fatal(err)
	}
	a, b := MaterialKeys(pos)
	if a != "KQvK" || b != "KvKQ" {
		t.Errorf("material keys %q / %q", a, b)
	}
	if got := CountPieces(pos); got != 3 {
		t.Errorf("counted %d pieces, want 3", got)
	}
}

func TestNormalizeFEN(t *testing.T) {
	fen := "4k3/8/8/8/8/8/2Q5/2K5 w - - 17 93"
	if got := NormalizeFEN(fen); got != "4k3/8/8/8/8/8/2Q5/2K5 w - -" {
		t.Errorf("normalized to %q", got)
	}
	if PositionKey(fen) != PositionKey(kqkFEN) {
		t.Error("move counters changed the position key")
	}
}

func TestSessionProbeWDL(t *testing.T) {
	dir := t.TempDir()
	writeTables(t, dir, []string{"KQvK"}, true)
	s := testSession(t, dir, probeServer(t))

	state, score, err := s.ProbeWDL(kqkFEN)
	if err != nil {
		t.Fatal(err)
	}
	if state != StateOK || score != WDLWin {
		t.Errorf("probe = (%d, %d), want (%d, %d)", state, score, StateOK, WDLWin)
	}

	// Material outside the file set is gated off before any lookup.
	state, _, err = s.ProbeWDL("4k3/8/8/8/8/8/2R5/2K5 w - - 0 1")
	if err != nil {
		t.Fatal(err)
	}
	if state != StateFail {
		t.Errorf("uncovered material probed with state %d", state)
	}

	if _, _, err := s.ProbeWDL("this is not a fen"); err == nil {
		t.Error("bad FEN accepted")
	}
}

func TestSessionProbeDTZ(t *testing.T) {
	full := t.TempDir()
	writeTables(t, full, []string{"KQvK"}, true)
	s := testSession(t, full, probeServer(t))

	packed, err := s.ProbeDTZ(kqkFEN)
	if err != nil {
		t.Fatal(err)
	}
	want, _ := encoding.ParseMove("c2c3")
	if packed != want {
		t.Errorf("ProbeDTZ = %d (%s), want %d", packed, encoding.MoveString(packed), want)
	}

	// A WDL-only file set answers DTZ probes with the sentinel.
	wdlOnly := t.TempDir()
	writeTables(t, wdlOnly, []string{"KQvK"}, false)
	s2 := testSession(t, wdlOnly, probeServer(t))
	if !s2.HasDTZ() {
		if packed, err := s2.ProbeDTZ(kqkFEN); err != nil || packed != -1 {
			t.Errorf("wdl-only ProbeDTZ = (%d, %v), want (-1, nil)", packed, err)
		}
	} else {
		t.Error("wdl-only session reports DTZ")
	}
}

func TestProbeRootRejectsIllegalBestMove(t *testing.T) {
	dir := t.TempDir()
	writeTables(t, dir, []string{"KQvK"}, true)

	// The endpoint's best move is not legal in the probed position, so
	// the root probe must decline rather than report it.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"category":"win","dtz":12,"moves":[{"uci":"e7e5","category":"loss","dtz":-11}]}`)
	}))
	t.Cleanup(server.Close)
	s := testSession(t, dir, server)

	packed, err := s.ProbeDTZ(kqkFEN)
	if err != nil {
		t.Fatal(err)
	}
	if packed != -1 {
		t.Errorf("illegal endpoint move probed to %d, want -1", packed)
	}
}

func TestSessionCaching(t *testing.T) {
	dir := t.TempDir()
	writeTables(t, dir, []string{"KQvK"}, true)

	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"category":"win","dtz":12,"moves":[]}`)
	}))
	defer server.Close()
	s := testSession(t, dir, server)

	for i := 0; i < 5; i++ {
		if _, _, err := s.ProbeWDL(kqkFEN); err != nil {
			t.Fatal(err)
		}
	}
	if calls != 1 {
		t.Errorf("endpoint hit %d times for one position", calls)
	}
	if s.HitRate() < 0.7 {
		t.Errorf("hit rate %.2f after repeated probes", s.HitRate())
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store, err := OpenStoreInMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	key := PositionKey(kqkFEN)
	if _, found, err := store.Lookup(key); err != nil || found {
		t.Fatalf("empty store lookup = (%v, %v)", found, err)
	}

	want := ProbeResult{Found: true, WDL: WDLCursedWin, DTZ: 42}
	if err := store.Save(key, want); err != nil {
		t.Fatal(err)
	}
	got, found, err := store.Lookup(key)
	if err != nil || !found {
		t.Fatalf("lookup after save = (%v, %v)", found, err)
	}
	if got != want {
		t.Errorf("stored %+v, loaded %+v", want, got)
	}
}

func TestStoreBacksTheChain(t *testing.T) {
	dir := t.TempDir()
	writeTables(t, dir, []string{"KQvK"}, true)

	store, err := OpenStoreInMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if err := store.Save(PositionKey(kqkFEN), ProbeResult{Found: true, WDL: WDLWin, DTZ: 9}); err != nil {
		t.Fatal(err)
	}

	// No endpoint at all: the chain must answer from the store.
	pos, err := ParseFEN(kqkFEN)
	if err != nil {
		t.Fatal(err)
	}
	chain := &chainProber{store: store, http: NewHTTPProber("http://127.0.0.1:1", 1)}
	result := chain.Probe(pos)
	if !result.Found || result.WDL != WDLWin || result.DTZ != 9 {
		t.Errorf("chain probe = %+v", result)
	}
}

func TestCachedProberEviction(t *testing.T) {
	inner := &staticProber{result: ProbeResult{Found: true, WDL: WDLDraw}}
	cp := NewCachedProber(inner, 4)
	fens := []string{
		"4k3/8/8/8/8/8/2Q5/2K5 w - - 0 1",
		"3k4/8/8/8/8/8/2Q5/2K5 w - - 0 1",
		"5k2/8/8/8/8/8/2Q5/2K5 w - - 0 1",
		"4k3/8/8/8/8/8/2Q5/3K4 w - - 0 1",
		"4k3/8/8/8/8/8/3Q4/2K5 w - - 0 1",
		"4k3/8/8/8/8/2Q5/8/2K5 w - - 0 1",
	}
	for _, fen := range fens {
		pos, err := ParseFEN(fen)
		if err != nil {
			t.Fatalf("%s: %v", fen, err)
		}
		cp.Probe(pos)
	}
	if cp.Size() > 4 {
		t.Errorf("cache grew to %d entries with a bound of 4", cp.Size())
	}
}

type staticProber struct {
	result ProbeResult
}

func (p *staticProber) Probe(pos *chess.Position) ProbeResult { return p.result }

func (p *staticProber) ProbeRoot(pos *chess.Position) RootResult { return RootResult{} }

func (p *staticProber) MaxPieces() int { return 7 }

func (p *staticProber) Available() bool { return true }
