package explorer

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/blackwell-systems/prepwatch/internal/model"
)

// Platforms a player opening tree can come from. Lichess trees can be
// fetched live from the Lichess player explorer; chess.com trees are only
// ever built locally from downloaded game archives.
const (
	PlatformLichess  = "lichess"
	PlatformChesscom = "chesscom"
)

// playerInterval spaces live player explorer requests to stay well under
// the Lichess rate limit.
const playerInterval = 500 * time.Millisecond

// PlayerBackend returns the cache backend key for a player's opening tree.
// The username is lowercased so the same player never splits across keys.
func PlayerBackend(platform, username, color, speeds string) string {
	user := strings.ToLower(username)
	if platform == PlatformChesscom {
		return fmt.Sprintf("chesscom_player_%s_%s_%s", user, color, speeds)
	}
	return fmt.Sprintf("lichess_player_%s_%s_%s", user, color, speeds)
}

// Player queries a single player's opening tree for one color, reading
// through the local position cache. With LocalOnly set, or for chess.com
// players, a cache miss is reported as no data rather than fetched.
type Player struct {
	cache   Cache
	httpc   *http.Client
	baseURL string
	limiter *rate.Limiter
	sleep   func(time.Duration)

	platform string
	username string
	color    string
	speeds   string

	// LocalOnly disables all network access; only cached data is served.
	LocalOnly bool
}

// NewPlayer returns a player opening tree client. Color must be "white"
// or "black". Speeds is a comma-separated list of time controls, e.g.
// "blitz,rapid".
func NewPlayer(cache Cache, platform, username, color, speeds string) (*Player, error) {
	if color != "white" && color != "black" {
		return nil, fmt.Errorf("invalid color %q: must be white or black", color)
	}
	if username == "" {
		return nil, fmt.Errorf("player username is required")
	}
	return &Player{
		cache:    cache,
		httpc:    &http.Client{Timeout: 30 * time.Second},
		baseURL:  defaultBaseURL,
		limiter:  rate.NewLimiter(rate.Every(playerInterval), 1),
		sleep:    time.Sleep,
		platform: platform,
		username: strings.ToLower(username),
		color:    color,
		speeds:   speeds,
	}, nil
}

// Backend returns the cache backend key this client reads and writes.
func (p *Player) Backend() string {
	return PlayerBackend(p.platform, p.username, p.color, p.speeds)
}

// Data returns the player's explorer statistics for a position, or nil
// with no error when no data is available. Corrupt cached rows are
// treated as misses, and exhausted fetch retries report no data rather
// than an error.
func (p *Player) Data(fen string) (*model.ExplorerData, error) {
	backend := p.Backend()
	if cached, err := p.cache.GetPosition(fen, backend); err == nil && cached != nil {
		if data, perr := ParsePayload(cached); perr == nil {
			return data, nil
		}
	}

	// chess.com trees are built by the fetcher; there is no live endpoint.
	if p.LocalOnly || p.platform == PlatformChesscom {
		return nil, nil
	}

	if err := p.limiter.Wait(context.Background()); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("player", p.username)
	query.Set("color", p.color)
	query.Set("speeds", p.speeds)
	query.Set("recentGames", "0")
	query.Set("fen", fen)

	raw := fetchWithRetry(p.httpc, p.baseURL+"/player?"+query.Encode(), p.sleep)
	if raw == nil {
		return nil, nil
	}
	// The player endpoint streams refinements as NDJSON; the final line
	// carries the complete statistics.
	if idx := strings.LastIndexByte(strings.TrimSpace(string(raw)), '\n'); idx >= 0 {
		raw = []byte(strings.TrimSpace(string(raw))[idx+1:])
	}

	data, err := ParsePayload(raw)
	if err != nil {
		return nil, err
	}
	if err := p.cache.PutPosition(fen, backend, raw); err != nil {
		return nil, err
	}
	return data, nil
}
