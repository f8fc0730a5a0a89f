package fetcher

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/notnil/chess"

	"github.com/blackwell-systems/prepwatch/internal/explorer"
)

const (
	lichessBaseURL  = "https://lichess.org"
	chesscomBaseURL = "https://api.chess.com"
)

// Client downloads player games from the supported platforms.
type Client struct {
	httpc           *http.Client
	lichessBaseURL  string
	chesscomBaseURL string
}

// NewClient returns a download client. Bulk game exports are slow on the
// server side, so the timeout is generous.
func NewClient() *Client {
	return &Client{
		httpc:           &http.Client{Timeout: 180 * time.Second},
		lichessBaseURL:  lichessBaseURL,
		chesscomBaseURL: chesscomBaseURL,
	}
}

// FetchOptions controls a game download. A non-zero Since restricts the
// download to games played after that moment (lichess only; chess.com
// archives are month-granular and downloaded newest first regardless).
type FetchOptions struct {
	Platform string
	Username string
	Side     chess.Color
	Speeds   string
	MaxGames int
	MaxPlies int
	Since    time.Time
	Merge    bool
}

// Fetch downloads a player's games, builds their opening book, and stores
// it in the cache. It returns the number of games processed.
func (c *Client) Fetch(st Store, opts FetchOptions) (int, error) {
	pgn, err := c.RawPGN(opts)
	if err != nil {
		return 0, err
	}
	defer pgn.Close()

	return importPGN(st, pgn, opts)
}

// RawPGN downloads the player's games and returns the PGN stream without
// building a book. Used for game-phase sampling.
func (c *Client) RawPGN(opts FetchOptions) (io.ReadCloser, error) {
	switch opts.Platform {
	case explorer.PlatformLichess:
		return c.lichessExport(opts)
	case explorer.PlatformChesscom:
		return c.chesscomExport(opts)
	default:
		return nil, fmt.Errorf("unknown platform %q", opts.Platform)
	}
}

// ImportFile builds a book from a local PGN file instead of a download.
func ImportFile(st Store, path string, opts FetchOptions) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening PGN file: %w", err)
	}
	defer f.Close()
	return importPGN(st, f, opts)
}

func importPGN(st Store, r io.Reader, opts FetchOptions) (int, error) {
	book, games, err := BuildBook(r, opts.Username, opts.Side, opts.MaxPlies)
	if err != nil {
		return 0, err
	}
	if games == 0 {
		return 0, fmt.Errorf("no games found for %s as %s", opts.Username, colorName(opts.Side))
	}

	backend := explorer.PlayerBackend(opts.Platform, opts.Username, colorName(opts.Side), opts.Speeds)
	if err := StoreBook(st, backend, book, games, opts.Merge); err != nil {
		return 0, err
	}
	return games, nil
}

// lichessExport streams the player's games in PGN form.
func (c *Client) lichessExport(opts FetchOptions) (io.ReadCloser, error) {
	query := url.Values{}
	if opts.MaxGames > 0 {
		query.Set("max", fmt.Sprintf("%d", opts.MaxGames))
	}
	if opts.Speeds != "" {
		query.Set("perfType", opts.Speeds)
	}
	if !opts.Since.IsZero() {
		query.Set("since", fmt.Sprintf("%d", opts.Since.UnixMilli()))
	}
	query.Set("color", colorName(opts.Side))
	query.Set("moves", "true")

	u := fmt.Sprintf("%s/api/games/user/%s?%s", c.lichessBaseURL, url.PathEscape(opts.Username), query.Encode())
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/x-chess-pgn")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading games: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("lichess user %q not found", opts.Username)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("lichess export returned status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// chesscomExport downloads the player's monthly archives, newest first,
// and concatenates their PGNs until the game budget is spent.
func (c *Client) chesscomExport(opts FetchOptions) (io.ReadCloser, error) {
	u := fmt.Sprintf("%s/pub/player/%s/games/archives", c.chesscomBaseURL, url.PathEscape(strings.ToLower(opts.Username)))
	resp, err := c.httpc.Get(u)
	if err != nil {
		return nil, fmt.Errorf("listing archives: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("chess.com user %q not found", opts.Username)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chess.com archives returned status %d", resp.StatusCode)
	}

	var archives struct {
		Archives []string `json:"archives"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&archives); err != nil {
		return nil, fmt.Errorf("decoding archive list: %w", err)
	}

	var b strings.Builder
	games := 0
	for i := len(archives.Archives) - 1; i >= 0; i-- {
		monthGames, err := c.chesscomMonth(archives.Archives[i])
		if err != nil {
			return nil, err
		}
		for _, pgn := range monthGames {
			b.WriteString(pgn)
			b.WriteString("\n\n")
			games++
			if opts.MaxGames > 0 && games >= opts.MaxGames {
				return io.NopCloser(strings.NewReader(b.String())), nil
			}
		}
	}
	return io.NopCloser(strings.NewReader(b.String())), nil
}

func (c *Client) chesscomMonth(archiveURL string) ([]string, error) {
	resp, err := c.httpc.Get(archiveURL)
	if err != nil {
		return nil, fmt.Errorf("downloading archive: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("archive %s returned status %d", archiveURL, resp.StatusCode)
	}

	var month struct {
		Games []struct {
			PGN string `json:"pgn"`
		} `json:"games"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&month); err != nil {
		return nil, fmt.Errorf("decoding archive: %w", err)
	}

	pgns := make([]string, 0, len(month.Games))
	for _, g := range month.Games {
		if g.PGN != "" {
			pgns = append(pgns, g.PGN)
		}
	}
	return pgns, nil
}

func colorName(side chess.Color) string {
	if side == chess.Black {
		return "black"
	}
	return "white"
}
