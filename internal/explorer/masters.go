package explorer

import (
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/blackwell-systems/prepwatch/internal/model"
)

// MastersBackend is the cache backend key for the masters database.
const MastersBackend = "lichess_masters"

const (
	defaultBaseURL = "https://explorer.lichess.ovh"
	maxAttempts    = 5
)

// Cache is the position cache the explorer clients read through. A nil
// payload with a nil error means the position is not cached.
type Cache interface {
	GetPosition(fen, backend string) ([]byte, error)
	PutPosition(fen, backend string, payload []byte) error
}

// Masters queries the masters opening database, reading through a local
// position cache so each position is fetched at most once.
type Masters struct {
	cache   Cache
	httpc   *http.Client
	baseURL string

	// sleep is replaced in tests to avoid real backoff waits.
	sleep func(time.Duration)
}

// NewMasters returns a masters database client backed by the given cache.
func NewMasters(cache Cache) *Masters {
	return &Masters{
		cache:   cache,
		httpc:   &http.Client{Timeout: 30 * time.Second},
		baseURL: defaultBaseURL,
		sleep:   time.Sleep,
	}
}

// Data returns explorer statistics for a position. A cached payload is
// served without network traffic; a corrupt cached row is treated as a
// miss and refetched. When the remote database cannot be reached after
// all retries, Data returns nil with no error so callers treat the
// position as out of book instead of aborting.
func (m *Masters) Data(fen string) (*model.ExplorerData, error) {
	if cached, err := m.cache.GetPosition(fen, MastersBackend); err == nil && cached != nil {
		if data, perr := ParsePayload(cached); perr == nil {
			return data, nil
		}
	}

	query := url.Values{}
	query.Set("fen", fen)
	raw := fetchWithRetry(m.httpc, m.baseURL+"/masters?"+query.Encode(), m.sleep)
	if raw == nil {
		return nil, nil
	}

	// Validate before caching so a malformed response is never persisted.
	data, err := ParsePayload(raw)
	if err != nil {
		return nil, err
	}
	if err := m.cache.PutPosition(fen, MastersBackend, raw); err != nil {
		return nil, err
	}
	return data, nil
}

// fetchWithRetry retrieves a URL, retrying network errors, rate limits
// and server errors with exponential backoff. It returns nil once every
// attempt has failed so callers can degrade to "no data".
func fetchWithRetry(httpc *http.Client, u string, sleep func(time.Duration)) []byte {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		backoff := time.Duration(1<<uint(attempt)) * time.Second
		resp, err := httpc.Get(u)
		if err != nil {
			sleep(backoff)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			sleep(backoff)
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			sleep(backoff)
			continue
		}
		return body
	}
	return nil
}
