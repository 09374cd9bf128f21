// Package plugins dispatches entity payloads to registered webhook
// processors. Each plugin gets its own circuit breaker so one flapping
// endpoint cannot poison delivery to the others.
package plugins

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/scrypster/retina/pkg/types"
)

// requestIDHeader carries a per-dispatch id so plugin logs can be correlated
// with ours.
const requestIDHeader = "X-Retina-Request-ID"

// Result is what a webhook returns: tags and metadata to merge into the
// entity. An empty result is a valid completion.
type Result struct {
	Tags            []string                   `json:"tags,omitempty"`
	MetadataEntries []types.MetadataEntryParam `json:"metadata_entries,omitempty"`
}

// Dispatcher delivers entities to plugin webhooks. Deliveries across all
// plugins share one rate limiter sized from the configured concurrency, and
// each plugin's endpoint sits behind its own breaker.
type Dispatcher struct {
	client  *http.Client
	limiter *rate.Limiter

	mu       sync.Mutex
	breakers map[int64]*gobreaker.CircuitBreaker
}

// NewDispatcher creates a dispatcher allowing concurrency requests per
// second with the same burst.
func NewDispatcher(concurrency int) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 1
	}

	return &Dispatcher{
		client:   &http.Client{Timeout: 30 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(concurrency), concurrency),
		breakers: make(map[int64]*gobreaker.CircuitBreaker),
	}
}

// Dispatch posts the entity to the plugin's webhook and returns the parsed
// result. The error covers rate-limit cancellation, breaker rejection,
// transport failure, and non-2xx responses alike; the caller decides whether
// completion is recorded.
func (d *Dispatcher) Dispatch(ctx context.Context, plugin types.Plugin, entity *types.Entity) (*Result, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("dispatch to %q cancelled: %w", plugin.Name, err)
	}

	out, err := d.breakerFor(plugin).Execute(func() (interface{}, error) {
		return d.post(ctx, plugin, entity)
	})
	if err != nil {
		return nil, fmt.Errorf("dispatch to %q failed: %w", plugin.Name, err)
	}

	return out.(*Result), nil
}

func (d *Dispatcher) post(ctx context.Context, plugin types.Plugin, entity *types.Entity) (*Result, error) {
	jsonData, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entity: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", plugin.WebhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(requestIDHeader, uuid.NewString())

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(body))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode webhook response: %w", err)
	}

	return &result, nil
}

// breakerFor returns the plugin's breaker, creating it on first dispatch.
// Defaults match the breaker package: open after 5 consecutive failures,
// retry after 60 seconds.
func (d *Dispatcher) breakerFor(plugin types.Plugin) *gobreaker.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()

	cb, ok := d.breakers[plugin.ID]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: plugin.Name,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
		d.breakers[plugin.ID] = cb
	}

	return cb
}
