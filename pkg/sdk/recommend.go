package sdk

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Recommend returns items related to an indexed item of a dataset.
// A dataset without a live index answers from precomputed lists.
func (c *Client) Recommend(ctx context.Context, dataset, iid string, opts ...RecommendOption) (resp RecommendResponse, err error) {
	start := time.Now()
	defer func() { c.obs.observe("recommend", start, err) }()

	p := recommendParams{}
	for _, o := range opts {
		o(&p)
	}
	q := url.Values{}
	q.Set("dataset", dataset)
	q.Set("iid", iid)
	if p.n != nil {
		q.Set("n", strconv.Itoa(*p.n))
	}
	if p.k != nil {
		q.Set("k", strconv.Itoa(*p.k))
	}

	h, err := c.do(ctx, http.MethodGet, "/recommend", q, nil, &resp)
	if err != nil {
		return RecommendResponse{}, err
	}
	resp.EmbeddingTokens = tokens(h)
	return resp, nil
}

// RecommendText returns indexed items related to ad-hoc text.
func (c *Client) RecommendText(ctx context.Context, dataset, text string, opts ...RecommendOption) (resp RecommendResponse, err error) {
	start := time.Now()
	defer func() { c.obs.observe("recommend_text", start, err) }()

	p := recommendParams{}
	for _, o := range opts {
		o(&p)
	}
	body := recommendTextRequest{Dataset: dataset, Text: text, N: p.n, K: p.k}

	h, err := c.do(ctx, http.MethodPost, "/recommend", nil, body, &resp)
	if err != nil {
		return RecommendResponse{}, err
	}
	resp.EmbeddingTokens = tokens(h)
	return resp, nil
}

func tokens(h http.Header) int {
	n, _ := strconv.Atoi(h.Get("X-Embedding-Tokens"))
	return n
}
