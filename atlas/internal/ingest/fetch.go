package ingest

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
)

// maxSnapshotBytes caps the snapshot download. The published corpus is a few
// megabytes; anything near this limit is a broken upstream.
const maxSnapshotBytes = 64 * 1024 * 1024

// fetchSnapshot retrieves the corpus snapshot bytes and computes the sha256
// digest over the raw payload, before any parsing. The digest is the
// tamper/version fingerprint regardless of how parsing goes.
func fetchSnapshot(ctx context.Context, client *http.Client, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/yaml, text/yaml, */*")

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}

	sum := sha256.Sum256(body)
	return body, fmt.Sprintf("%x", sum), nil
}
