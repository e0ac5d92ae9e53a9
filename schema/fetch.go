package schema

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// ErrNotFound reports that a schema document does not exist at its location.
var ErrNotFound = errors.New("schema document not found")

// maxDocumentBytes bounds a single fetched schema document.
const maxDocumentBytes = 16 << 20

// Fetcher returns the raw bytes of the document at an absolute URI.
//
// URIs use the file, http or https scheme and never carry a fragment.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// DefaultFetcher reads file URIs from disk and http(s) URIs over the network.
type DefaultFetcher struct {
	// Client is used for http(s) URIs; nil uses a client with a 30s timeout.
	Client *http.Client
}

func (f DefaultFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "file", "":
		b, err := os.ReadFile(filepath.FromSlash(u.Path))
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, u.Path)
		}
		return b, err
	case "http", "https":
		return f.fetchHTTP(ctx, uri)
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
}

func (f DefaultFetcher) fetchHTTP(ctx context.Context, uri string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/schema+json, application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, fmt.Errorf("%w: %s (%s)", ErrNotFound, uri, resp.Status)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: %s", uri, resp.Status)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes+1))
	if err != nil {
		return nil, err
	}
	if len(b) > maxDocumentBytes {
		return nil, fmt.Errorf("fetch %s: document exceeds %d bytes", uri, maxDocumentBytes)
	}
	return b, nil
}

// MapFetcher serves documents from memory, keyed by absolute URI.
type MapFetcher map[string][]byte

func (m MapFetcher) Fetch(_ context.Context, uri string) ([]byte, error) {
	b, ok := m[uri]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	return b, nil
}
