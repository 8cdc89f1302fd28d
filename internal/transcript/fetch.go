package transcript

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/hpungsan/cardvault/internal/errors"
)

// OpenURL starts a GET for url and returns the response body for ReadPage.
// Expiry of a presigned url is the only time limit applied.
func OpenURL(ctx context.Context, client *http.Client, url string) (io.ReadCloser, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid transcript url: %v", err))
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.NewTranscriptRetrieval(url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, errors.NewTranscriptRetrieval(url, fmt.Errorf("unexpected status %s", resp.Status))
	}
	return resp.Body, nil
}
