package tablebase

import (
	"os"
	"path/filepath"
	"strings"

	"k8s.io/klog/v2"

	"github.com/notnil/chess"
)

// FileSet is the inventory of Syzygy files found under a path list:
// which material keys have a WDL (.rtbw) file, which also have a DTZ
// (.rtbz) file, and the largest piece count covered.
type FileSet struct {
	wdl            map[string]bool
	dtz            map[string]bool
	maxCardinality int
}

// ScanPaths walks every directory in a path-list string (separated by
// the platform's list separator, with ':' accepted everywhere) and
// records the tablebase files present.
func ScanPaths(paths string) *FileSet {
	fs := &FileSet{
		wdl: make(map[string]bool),
		dtz: make(map[string]bool),
	}
	for _, dir := range splitPathList(paths) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			klog.Warningf("[Syzygy] cannot read %s: %v", dir, err)
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			name := e.Name()
			ext := filepath.Ext(name)
			material := strings.TrimSuffix(name, ext)
			if !validMaterial(material) {
				continue
			}
			switch ext {
			case ".rtbw":
				fs.wdl[material] = true
			case ".rtbz":
				fs.dtz[material] = true
			default:
				continue
			}
			if n := len(material) - 1; n > fs.maxCardinality { // minus the 'v'
				fs.maxCardinality = n
			}
		}
	}
	if len(fs.wdl) > 0 {
		klog.Infof("[Syzygy] %d WDL / %d DTZ tables, up to %d pieces",
			len(fs.wdl), len(fs.dtz), fs.maxCardinality)
	}
	return fs
}

func splitPathList(paths string) []string {
	var out []string
	for _, p := range strings.FieldsFunc(paths, func(r rune) bool {
		return r == ':' || r == os.PathListSeparator
	}) {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validMaterial accepts keys like "KQvKR".
func validMaterial(m string) bool {
	i := strings.IndexByte(m, 'v')
	if i < 1 || i == len(m)-1 || m[0] != 'K' || m[i+1] != 'K' {
		return false
	}
	for j := 0; j < len(m); j++ {
		switch m[j] {
		case 'K', 'Q', 'R', 'B', 'N', 'P':
		case 'v':
			if j != i {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// MaxCardinality returns the largest piece count any present WDL file
// covers, 0 for an empty set.
func (fs *FileSet) MaxCardinality() int { return fs.maxCardinality }

// HasDTZ reports whether any DTZ file is present.
func (fs *FileSet) HasDTZ() bool { return len(fs.dtz) > 0 }

// Empty reports whether the scan found no WDL file at all.
func (fs *FileSet) Empty() bool { return len(fs.wdl) == 0 }

// CoversWDL reports whether the position's material has a WDL file,
// under either color orientation.
func (fs *FileSet) CoversWDL(pos *chess.Position) bool {
	a, b := MaterialKeys(pos)
	return fs.wdl[a] || fs.wdl[b]
}

// CoversDTZ reports whether the position's material has a DTZ file.
func (fs *FileSet) CoversDTZ(pos *chess.Position) bool {
	a, b := MaterialKeys(pos)
	return fs.dtz[a] || fs.dtz[b]
}

// MaterialKeys returns the position's material key in both
// orientations, e.g. ("KQvKR", "KRvKQ"). Tablebase files are named
// for the stronger side, so a lookup tries both.
func MaterialKeys(pos *chess.Position) (string, string) {
	order := [6]chess.PieceType{
		chess.King, chess.Queen, chess.Rook, chess.Bishop, chess.Knight, chess.Pawn,
	}
	var wc, bc [6]int
	for _, p := range pos.Board().SquareMap() {
		for i, pt := range order {
			if p.Type() == pt {
				if p.Color() == chess.White {
					wc[i]++
				} else {
					bc[i]++
				}
				break
			}
		}
	}
	var white, black strings.Builder
	for i, pt := range order {
		for n := 0; n < wc[i]; n++ {
			white.WriteByte(pieceChar(pt))
		}
		for n := 0; n < bc[i]; n++ {
			black.WriteByte(pieceChar(pt))
		}
	}
	w, b := white.String(), black.String()
	return w + "v" + b, b + "v" + w
}

func pieceChar(pt chess.PieceType) byte {
	switch pt {
	case chess.King:
		return 'K'
	case chess.Queen:
		return 'Q'
	case chess.Rook:
		return 'R'
	case chess.Bishop:
		return 'B'
	case chess.Knight:
		return 'N'
	default:
		return 'P'
	}
}
