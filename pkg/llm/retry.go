package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const maxRetries = 3

var retryBaseDelay = 250 * time.Millisecond

// doWithRetry issues the request built by build, retrying rate-limit and
// server errors with exponential backoff. The build func is invoked per
// attempt so the request body can be re-read.
func doWithRetry(ctx context.Context, client *http.Client, build func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := build()
		if err != nil {
			return nil, err
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			lastErr = fmt.Errorf("llm: server returned %s", resp.Status)
			resp.Body.Close()
			continue
		}

		return resp, nil
	}
	return nil, fmt.Errorf("llm: retries exhausted: %w", lastErr)
}
