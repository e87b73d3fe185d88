// Package graph provides the indexed-graph query transport: GraphQL
// over HTTP with retries, exponential backoff, and same-key request
// coalescing. The service is eventually consistent and may lag the
// chain by several blocks; freshness decisions belong to callers.
package graph

import "context"

// Client executes GraphQL queries against the indexed graph service.
// cacheKey identifies the logical request: concurrent calls sharing a
// key are coalesced into one round trip at this layer. Re-fetch
// triggering built on top of keys is the caller's business.
type Client interface {
	Execute(ctx context.Context, cacheKey string, query Query, out any) error
}

// Query is a GraphQL request document plus its variables.
type Query struct {
	OperationName string         `json:"operationName,omitempty"`
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
}
