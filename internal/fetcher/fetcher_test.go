package fetcher

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/notnil/chess"

	"github.com/blackwell-systems/prepwatch/internal/explorer"
	"github.com/blackwell-systems/prepwatch/internal/store"
)

const samplePGN = `[Event "Test"]
[White "TestUser"]
[Black "Someone"]
[Result "1-0"]

1. e4 e5 2. Nf3 1-0

[Event "Test"]
[White "TestUser"]
[Black "Other"]
[Result "0-1"]

1. e4 c5 0-1

[Event "Test"]
[White "Other"]
[Black "TestUser"]
[Result "1/2-1/2"]

1. d4 d5 1/2-1/2
`

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func testStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBuildBookWhite(t *testing.T) {
	book, games, err := BuildBook(strings.NewReader(samplePGN), "testuser", chess.White, 20)
	if err != nil {
		t.Fatalf("BuildBook: %v", err)
	}
	// The third game has TestUser as Black and is skipped.
	if games != 2 {
		t.Errorf("games = %d, want 2", games)
	}

	root, ok := book[startFEN]
	if !ok {
		t.Fatalf("no book entry for the starting position; got %d entries", len(book))
	}
	if root.White != 1 || root.Black != 1 || root.Draws != 0 {
		t.Errorf("root results = %d/%d/%d, want 1/0/1", root.White, root.Draws, root.Black)
	}
	if len(root.Moves) != 1 || root.Moves[0].UCI != "e2e4" {
		t.Fatalf("root moves = %+v, want just e2e4", root.Moves)
	}
	if got := root.Moves[0].White + root.Moves[0].Draws + root.Moves[0].Black; got != 2 {
		t.Errorf("e2e4 played %d times, want 2", got)
	}
}

func TestBuildBookBlack(t *testing.T) {
	book, games, err := BuildBook(strings.NewReader(samplePGN), "testuser", chess.Black, 20)
	if err != nil {
		t.Fatalf("BuildBook: %v", err)
	}
	if games != 1 {
		t.Errorf("games = %d, want 1", games)
	}
	// Black's only recorded decision comes after 1.d4.
	afterD4 := "rnbqkbnr/pppppppp/8/8/3P4/8/PPP1PPPP/RNBQKBNR b KQkq d3 0 1"
	entry, ok := book[afterD4]
	if !ok {
		t.Fatalf("no entry after 1.d4; book keys: %d", len(book))
	}
	if len(entry.Moves) != 1 || entry.Moves[0].UCI != "d7d5" {
		t.Errorf("moves after 1.d4 = %+v, want d7d5", entry.Moves)
	}
	if entry.Draws != 1 {
		t.Errorf("draws = %d, want 1", entry.Draws)
	}
}

func TestBuildBookMaxPlies(t *testing.T) {
	book, _, err := BuildBook(strings.NewReader(samplePGN), "testuser", chess.White, 1)
	if err != nil {
		t.Fatalf("BuildBook: %v", err)
	}
	if len(book) != 1 {
		t.Errorf("book has %d positions, want only the root with a 1-ply cap", len(book))
	}
}

func TestStoreBookAndMeta(t *testing.T) {
	db := testStore(t)
	book, games, err := BuildBook(strings.NewReader(samplePGN), "testuser", chess.White, 20)
	if err != nil {
		t.Fatalf("BuildBook: %v", err)
	}

	backend := explorer.PlayerBackend(explorer.PlatformLichess, "testuser", "white", "blitz")
	if err := StoreBook(db, backend, book, games, false); err != nil {
		t.Fatalf("StoreBook: %v", err)
	}

	raw, err := db.GetPosition(startFEN, backend)
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if raw == nil {
		t.Fatal("root position not stored")
	}
	data, err := explorer.ParsePayload(raw)
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if data.Total() != 2 {
		t.Errorf("stored root total = %d, want 2", data.Total())
	}

	meta, err := ReadMeta(db, backend)
	if err != nil {
		t.Fatalf("ReadMeta: %v", err)
	}
	if meta == nil || meta.Games != 2 {
		t.Errorf("meta = %+v, want 2 games", meta)
	}

	// The bookkeeping row must not appear in the book backend itself.
	entries, err := db.ScanBackend(backend)
	if err != nil {
		t.Fatalf("ScanBackend: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.FEN, "_") {
			t.Errorf("meta row leaked into book backend: %s", e.FEN)
		}
	}
}

func TestStoreBookMerge(t *testing.T) {
	db := testStore(t)
	backend := explorer.PlayerBackend(explorer.PlatformLichess, "testuser", "white", "blitz")

	book, games, err := BuildBook(strings.NewReader(samplePGN), "testuser", chess.White, 20)
	if err != nil {
		t.Fatalf("BuildBook: %v", err)
	}
	if err := StoreBook(db, backend, book, games, false); err != nil {
		t.Fatalf("StoreBook: %v", err)
	}
	// Storing the same book again in merge mode doubles every count.
	if err := StoreBook(db, backend, book, games, true); err != nil {
		t.Fatalf("StoreBook (merge): %v", err)
	}

	raw, err := db.GetPosition(startFEN, backend)
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	data, err := explorer.ParsePayload(raw)
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if data.Total() != 4 {
		t.Errorf("merged root total = %d, want 4", data.Total())
	}
	if got := data.GamesForMove("e2e4"); got != 4 {
		t.Errorf("merged e2e4 games = %d, want 4", got)
	}

	meta, err := ReadMeta(db, backend)
	if err != nil {
		t.Fatalf("ReadMeta: %v", err)
	}
	if meta.Games != 4 {
		t.Errorf("merged meta games = %d, want 4", meta.Games)
	}

	// A non-merge store resets the counts.
	if err := StoreBook(db, backend, book, games, false); err != nil {
		t.Fatalf("StoreBook (replace): %v", err)
	}
	raw, _ = db.GetPosition(startFEN, backend)
	data, err = explorer.ParsePayload(raw)
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if data.Total() != 2 {
		t.Errorf("replaced root total = %d, want 2", data.Total())
	}
}

func TestFetchLichess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/x-chess-pgn" {
			t.Errorf("Accept = %q, want application/x-chess-pgn", r.Header.Get("Accept"))
		}
		if !strings.Contains(r.URL.Path, "/api/games/user/testuser") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("color"); got != "white" {
			t.Errorf("color = %q, want white", got)
		}
		w.Write([]byte(samplePGN))
	}))
	defer srv.Close()

	c := NewClient()
	c.lichessBaseURL = srv.URL
	db := testStore(t)

	games, err := c.Fetch(db, FetchOptions{
		Platform: explorer.PlatformLichess,
		Username: "testuser",
		Side:     chess.White,
		Speeds:   "blitz",
		MaxPlies: 20,
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if games != 2 {
		t.Errorf("games = %d, want 2", games)
	}
}

func TestFetchLichessUserNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient()
	c.lichessBaseURL = srv.URL

	_, err := c.Fetch(testStore(t), FetchOptions{
		Platform: explorer.PlatformLichess,
		Username: "ghost",
		Side:     chess.White,
	})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestFetchChesscom(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/games/archives"):
			w.Write([]byte(`{"archives":["` + srv.URL + `/pub/player/testuser/games/2026/08"]}`))
		case strings.HasSuffix(r.URL.Path, "/2026/08"):
			w.Write([]byte(`{"games":[{"pgn":"[Event \"Test\"]\n[White \"TestUser\"]\n[Black \"X\"]\n[Result \"1-0\"]\n\n1. e4 e5 1-0"}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient()
	c.chesscomBaseURL = srv.URL
	db := testStore(t)

	games, err := c.Fetch(db, FetchOptions{
		Platform: explorer.PlatformChesscom,
		Username: "TestUser",
		Side:     chess.White,
		Speeds:   "blitz",
		MaxPlies: 20,
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if games != 1 {
		t.Errorf("games = %d, want 1", games)
	}

	backend := explorer.PlayerBackend(explorer.PlatformChesscom, "testuser", "white", "blitz")
	raw, err := db.GetPosition(startFEN, backend)
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if raw == nil {
		t.Error("chess.com book was not stored under the chesscom backend")
	}
}

func TestFetchUnknownPlatform(t *testing.T) {
	c := NewClient()
	if _, err := c.Fetch(testStore(t), FetchOptions{Platform: "icc"}); err == nil {
		t.Error("expected error for unknown platform")
	}
}

func TestImportPGNNoGames(t *testing.T) {
	db := testStore(t)
	_, err := importPGN(db, strings.NewReader(samplePGN), FetchOptions{
		Platform: explorer.PlatformLichess,
		Username: "nobody",
		Side:     chess.White,
		MaxPlies: 20,
	})
	if err == nil {
		t.Error("expected error when no games match the player")
	}
}
