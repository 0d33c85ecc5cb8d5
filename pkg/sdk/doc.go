// Package sdk is a Go client for the itemrec HTTP API.
//
//	c, _ := sdk.New("http://localhost:8080", sdk.WithAPIKey(os.Getenv("ITEMREC_API_KEY")))
//	resp, _ := c.Recommend(ctx, "mathe", "962.pdf", sdk.N(5))
//	for _, id := range resp.Recommendations {
//	    fmt.Println(id)
//	}
//
// Errors returned by the server are *APIError values. They match the itemrec
// sentinel errors with errors.Is:
//
//	if errors.Is(err, itemrec.ErrItemNotFound) { ... }
package sdk
