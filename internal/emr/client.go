// Package emr talks to the external EMR feed. The feed is optional: an
// empty base URL leaves the client unconfigured and the aggregation layer
// marks its section unavailable instead of calling out.
package emr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"commandcenter/pkg/types"
)

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Configured reports whether a feed endpoint was provided.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// Fetch pulls the patient's EMR record.
func (c *Client) Fetch(ctx context.Context, mrn string) (*types.EMRRecord, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("emr: %w", types.ErrNotConfigured)
	}

	url := fmt.Sprintf("%s/api/patients/%s", c.baseURL, mrn)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("emr request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("emr fetch: %w: %v", types.ErrTransport, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("emr record for %s: %w", mrn, types.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("emr fetch: unexpected status %d", resp.StatusCode)
	}

	var record types.EMRRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, fmt.Errorf("emr decode: %w", err)
	}
	return &record, nil
}
