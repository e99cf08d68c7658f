// Package client is the Go SDK for the loan treasury REST API.
//
// Read-only calls need no credentials:
//
//	c, _ := client.New("http://localhost:8080")
//	ov, err := c.Overview(ctx)
//	fmt.Println(ov.TreasuryBalance)
//
// Mutating calls act as a principal. Against a server with token auth,
// exchange the principal's secret for a caller token (refreshed
// automatically before it expires):
//
//	c, _ := client.New(baseURL, client.WithCredentials("ST2GOV", secret))
//	balance, err := c.Fund(ctx, 10_000)
//
// A development server without token auth trusts the X-Treasury-Caller
// header instead:
//
//	c, _ := client.New(baseURL, client.WithCaller("ST2GOV"))
//
// Ledger rejections are returned as *APIError carrying the numeric code:
//
//	err := c.Disburse(ctx, req)
//	if client.IsCode(err, client.CodeInsufficientEndorsements) { ... }
package client
