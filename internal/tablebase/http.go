package tablebase

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/notnil/chess"
)

// DefaultEndpoint is the public Lichess tablebase service.
const DefaultEndpoint = "https://tablebase.lichess.ovh"

// HTTPProber answers probes through a lichess-protocol tablebase
// endpoint. Network or protocol failures degrade to "not found".
type HTTPProber struct {
	baseURL   string
	client    *http.Client
	maxPieces int
}

// NewHTTPProber creates a prober against the given endpoint; an empty
// base URL selects the default service.
func NewHTTPProber(baseURL string, timeout time.Duration) *HTTPProber {
	if baseURL == "" {
		baseURL = DefaultEndpoint
	}
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProber{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		client:    &http.Client{Timeout: timeout},
		maxPieces: 7,
	}
}

type endpointResponse struct {
	Category string `json:"category"`
	DTZ      int    `json:"dtz"`
	Moves    []struct {
		UCI      string `json:"uci"`
		Category string `json:"category"`
		DTZ      int    `json:"dtz"`
	} `json:"moves"`
}

func (hp *HTTPProber) fetch(pos *chess.Position) (*endpointResponse, bool) {
	// Spaces become underscores in the FEN query parameter.
	fen := strings.ReplaceAll(pos.String(), " ", "_")
	url := fmt.Sprintf("%s/standard?fen=%s", hp.baseURL, fen)
	resp, err := hp.client.Get(url)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, false
	}
	var result endpointResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, false
	}
	return &result, true
}

func (hp *HTTPProber) Probe(pos *chess.Position) ProbeResult {
	if CountPieces(pos) > hp.maxPieces {
		return ProbeResult{}
	}
	result, ok := hp.fetch(pos)
	if !ok {
		return ProbeResult{}
	}
	return ProbeResult{
		Found: true,
		WDL:   categoryToWDL(result.Category),
		DTZ:   result.DTZ,
	}
}

func (hp *HTTPProber) ProbeRoot(pos *chess.Position) RootResult {
	if CountPieces(pos) > hp.maxPieces {
		return RootResult{}
	}
	result, ok := hp.fetch(pos)
	if !ok || len(result.Moves) == 0 {
		return RootResult{}
	}

	// The endpoint ranks moves best-first.
	best := result.Moves[0]
	if _, err := (chess.UCINotation{}).Decode(pos, best.UCI); err != nil {
		return RootResult{}
	}
	return RootResult{
		Found: true,
		UCI:   best.UCI,
		WDL:   categoryToWDL(best.Category),
		DTZ:   best.DTZ,
	}
}

func (hp *HTTPProber) MaxPieces() int { return hp.maxPieces }

func (hp *HTTPProber) Available() bool { return true }

func categoryToWDL(category string) WDL {
	switch category {
	case "win":
		return WDLWin
	case "cursed-win", "maybe-win":
		return WDLCursedWin
	case "draw", "maybe-draw":
		return WDLDraw
	case "blessed-loss":
		return WDLBlessedLoss
	case "loss":
		return WDLLoss
	default:
		return WDLDraw
	}
}
