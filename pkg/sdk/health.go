package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// Health returns the server health. An unhealthy server answers 503 with
// the same body; it is decoded and returned together with the *APIError.
func (c *Client) Health(ctx context.Context) (status HealthStatus, err error) {
	start := time.Now()
	defer func() { c.obs.observe("health", start, err) }()

	_, err = c.do(ctx, http.MethodGet, "/health", nil, nil, &status)
	if err == nil {
		return status, nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable {
		var body HealthStatus
		if json.Unmarshal([]byte(apiErr.Message), &body) == nil && body.Status != "" {
			return body, err
		}
	}
	return HealthStatus{}, err
}
