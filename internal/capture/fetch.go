package capture

import (
	"context"
	"io"
	"net/http"
)

// Fetch issues one HTTP request through transport, honoring whatever
// capture scope is installed on ctx (via WithScope/WithoutScope).
func Fetch(ctx context.Context, transport *Transport, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Transport: transport}
	return client.Do(req)
}
