package stub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"gauge-staking-view/internal/graph"
)

// Client implements graph.Client for testing. Data payloads are
// scripted per operation name and every executed query is recorded for
// inspection.
type Client struct {
	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	calls     []graph.Query
	callKeys  []string
}

// NewClient creates a new stub graph client.
func NewClient() *Client {
	return &Client{
		responses: make(map[string]string),
		errs:      make(map[string]error),
	}
}

// SetResponse scripts the data JSON returned for an operation name.
func (c *Client) SetResponse(operation, dataJSON string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses[operation] = dataJSON
	delete(c.errs, operation)
}

// SetError forces an error for an operation name.
func (c *Client) SetError(operation string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs[operation] = err
}

// Execute returns the scripted payload for the query's operation name.
func (c *Client) Execute(_ context.Context, cacheKey string, query graph.Query, out any) error {
	c.mu.Lock()
	c.calls = append(c.calls, query)
	c.callKeys = append(c.callKeys, cacheKey)
	err := c.errs[query.OperationName]
	payload, ok := c.responses[query.OperationName]
	c.mu.Unlock()

	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("stub: no response scripted for operation %q", query.OperationName)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal([]byte(payload), out)
}

// Calls returns a copy of the executed queries.
func (c *Client) Calls() []graph.Query {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]graph.Query(nil), c.calls...)
}

// CallKeys returns a copy of the cache keys seen by Execute.
func (c *Client) CallKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.callKeys...)
}

// CallCount returns how many times an operation was executed.
func (c *Client) CallCount(operation string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, q := range c.calls {
		if q.OperationName == operation {
			n++
		}
	}
	return n
}
