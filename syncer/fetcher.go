package syncer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loomhq/loom/connector"
	"github.com/loomhq/loom/execution"
)

// fetcher pulls a domain resource from an external system through the
// execution engine, so every pull shows up as exactly one integration log
// under the connector's retry policy.
type fetcher struct {
	engine *execution.Engine
	client *http.Client
}

func newFetcher(engine *execution.Engine, timeout time.Duration) *fetcher {
	return &fetcher{
		engine: engine,
		client: &http.Client{Timeout: timeout},
	}
}

// pull GETs {base}/{resource} and returns the full response body of the
// successful attempt along with the integration log. A nil error with a
// non-success log means the pull itself failed; callers inspect the log.
func (f *fetcher) pull(ctx context.Context, conn *connector.Connector, resource, operation, correlationID string) ([]byte, *execution.IntegrationLog, error) {
	endpoint := strings.TrimRight(conn.BaseURL, "/") + "/" + resource

	var body []byte
	call := func(ctx context.Context) (*execution.CallResult, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Correlation-ID", correlationID)

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			return nil, fmt.Errorf("GET %s returned %d", endpoint, resp.StatusCode)
		}

		body = data
		return &execution.CallResult{
			Method:         http.MethodGet,
			Endpoint:       endpoint,
			StatusCode:     resp.StatusCode,
			RequestSummary: "GET " + endpoint,
			Body:           data,
		}, nil
	}

	log, err := f.engine.ExecuteWithRetry(ctx, conn.ID, operation, correlationID, "", call)
	if err != nil {
		return nil, nil, err
	}
	return body, log, nil
}
