package sdk

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// Datasets lists live and precomputed datasets.
func (c *Client) Datasets(ctx context.Context) (_ []Dataset, err error) {
	start := time.Now()
	defer func() { c.obs.observe("datasets", start, err) }()

	var resp datasetListResponse
	if _, err = c.do(ctx, http.MethodGet, "/datasets", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// Referrers returns the items whose precomputed lists contain iid.
func (c *Client) Referrers(ctx context.Context, dataset, iid string) (_ []string, err error) {
	start := time.Now()
	defer func() { c.obs.observe("referrers", start, err) }()

	q := url.Values{}
	q.Set("iid", iid)
	var resp referrersResponse
	if _, err = c.do(ctx, http.MethodGet, "/datasets/"+url.PathEscape(dataset)+"/referrers", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Referrers, nil
}

// Rebuild re-indexes a dataset on the server and returns the new snapshot.
func (c *Client) Rebuild(ctx context.Context, dataset string) (_ Dataset, err error) {
	start := time.Now()
	defer func() { c.obs.observe("rebuild", start, err) }()

	var resp Dataset
	if _, err = c.do(ctx, http.MethodPost, "/datasets/"+url.PathEscape(dataset)+"/rebuild", nil, nil, &resp); err != nil {
		return Dataset{}, err
	}
	return resp, nil
}
