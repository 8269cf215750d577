package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"torrentd/internal/domain"
)

const (
	fetchTimeout = 15 * time.Second

	// maxTorrentSize caps how much of a remote response is read; real
	// .torrent files are far smaller.
	maxTorrentSize = 16 << 20

	// Some trackers gate .torrent downloads behind browser checks and
	// reject default Go user agents outright.
	fetchUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
)

// Fetcher retrieves remote .torrent payloads for URL sources.
type Fetcher struct {
	client *http.Client
}

func NewFetcher() *Fetcher {
	return &Fetcher{client: &http.Client{Timeout: fetchTimeout}}
}

// Fetch downloads the .torrent file at rawURL and verifies the response
// looks like bencoded content. All failures are invalid-input errors: the
// remote source, not the engine, is what misbehaved.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build torrent request: %v", domain.ErrInvalidInput, err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "application/x-bittorrent,*/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch torrent file: %v", domain.ErrInvalidInput, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: source returned 403, try the magnet link instead", domain.ErrInvalidInput)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: source returned status %d", domain.ErrInvalidInput, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTorrentSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read torrent file: %v", domain.ErrInvalidInput, err)
	}
	if len(data) == 0 || data[0] != 'd' {
		return nil, fmt.Errorf("%w: URL did not return a bencoded torrent file", domain.ErrInvalidInput)
	}
	return data, nil
}
