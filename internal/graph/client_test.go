package graph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPClient_Execute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Query
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		if req.OperationName != "GaugeShares" {
			t.Errorf("expected operation GaugeShares, got %s", req.OperationName)
		}
		if !strings.Contains(req.Query, "gaugeShares") {
			t.Errorf("query document missing gaugeShares field: %s", req.Query)
		}
		if req.Variables["user"] != "0xabc" {
			t.Errorf("expected user variable 0xabc, got %v", req.Variables["user"])
		}

		resp := map[string]interface{}{
			"data": map[string]interface{}{
				"gaugeShares": []map[string]interface{}{
					{"id": "share1", "balance": "150.0"},
				},
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx := context.Background()

	query := Query{
		OperationName: "GaugeShares",
		Query:         "query GaugeShares($user: String!) { gaugeShares(where: {user: $user}) { id balance } }",
		Variables:     map[string]any{"user": "0xabc"},
	}

	var out struct {
		GaugeShares []struct {
			ID      string `json:"id"`
			Balance string `json:"balance"`
		} `json:"gaugeShares"`
	}
	if err := client.Execute(ctx, "gauge-shares|0xabc", query, &out); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(out.GaugeShares) != 1 {
		t.Fatalf("expected 1 share, got %d", len(out.GaugeShares))
	}
	if out.GaugeShares[0].Balance != "150.0" {
		t.Errorf("expected balance 150.0, got %s", out.GaugeShares[0].Balance)
	}
}

func TestHTTPClient_QueryError(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		resp := map[string]interface{}{
			"errors": []map[string]interface{}{
				{"message": "Field 'gaugeShares' doesn't exist"},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithMaxRetries(3), WithRetryDelay(time.Millisecond))
	ctx := context.Background()

	err := client.Execute(ctx, "k", Query{Query: "query { gaugeShares { id } }"}, nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "doesn't exist") {
		t.Errorf("error should carry the graph message, got: %v", err)
	}
	if attempts.Load() != 1 {
		t.Errorf("query errors must not be retried, got %d attempts", attempts.Load())
	}
}

func TestHTTPClient_Retry(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := attempts.Add(1)
		if count < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		resp := map[string]interface{}{
			"data": map[string]interface{}{"pools": []interface{}{}},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(3),
		WithRetryDelay(10*time.Millisecond),
	)
	ctx := context.Background()

	var out struct {
		Pools []interface{} `json:"pools"`
	}
	if err := client.Execute(ctx, "pools", Query{Query: "query { pools { id } }"}, &out); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestHTTPClient_RetriesExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithMaxRetries(1), WithRetryDelay(time.Millisecond))

	err := client.Execute(context.Background(), "k", Query{Query: "query { pools { id } }"}, nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "max retries exceeded") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestHTTPClient_CoalescesConcurrentSameKey(t *testing.T) {
	var attempts atomic.Int32
	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		<-release

		resp := map[string]interface{}{
			"data": map[string]interface{}{"slot": "1"},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx := context.Background()
	query := Query{Query: "query { slot }"}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := client.Execute(ctx, "same-key", query, nil); err != nil {
				t.Errorf("Execute: %v", err)
			}
		}()
	}

	// Let all goroutines reach the in-flight group before releasing.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := attempts.Load(); got != 1 {
		t.Errorf("expected 1 round trip for 5 same-key callers, got %d", got)
	}
}

func TestHTTPClient_SequentialSameKeyReExecutes(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		resp := map[string]interface{}{
			"data": map[string]interface{}{"slot": "1"},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx := context.Background()
	query := Query{Query: "query { slot }"}

	// Coalescing applies to overlapping calls only; a later call with
	// the same key must hit the service again.
	for i := 0; i < 2; i++ {
		if err := client.Execute(ctx, "same-key", query, nil); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}

	if got := attempts.Load(); got != 2 {
		t.Errorf("expected 2 round trips for sequential calls, got %d", got)
	}
}

func TestHTTPClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	err := client.Execute(ctx, "k", Query{Query: "query { slot }"}, nil)
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
