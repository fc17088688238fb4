// Package connector is the SourceConnector capability (spec.md §4.2): a
// uniform page-fetch interface per external SaaS service, registered by
// service name at process start, modeled on the teacher's pkg/mcp client
// registry — one connector value per service, registered ready to use (no
// lazy connect or reconnect), with per-service rate limiting shared across
// all chunk workers targeting that service.
package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/avesa-io/avesa/internal/avesaerr"
	"github.com/avesa-io/avesa/internal/model"
)

// Auth carries the resolved credential material for one FetchPage call, as
// returned by the SecretStore for a ServiceConfig's credentials_ref.
type Auth struct {
	Token string
}

// Page is the result of one FetchPage call.
type Page struct {
	Records           []model.RawRecord
	NextCursor        *string
	RawLastUpdatedMax time.Time
}

// SourceConnector is the uniform capability every service implementation
// satisfies (spec.md §4.2).
type SourceConnector interface {
	// FetchPage retrieves one page of records for endpoint, filtered to
	// [sinceTS, untilTS) on the endpoint's incremental_field, resuming from
	// cursor (nil for the first page). RateLimited/AuthFailure/Transient are
	// reported as avesaerr Kinds.
	FetchPage(ctx context.Context, endpoint model.EndpointConfig, auth Auth, cursor *string, sinceTS, untilTS time.Time, pageSize int) (Page, error)
	// SupportsResume reports whether a next_cursor from this connector
	// remains valid across a fresh connection (spec.md §4.4's timed-out
	// resumption path).
	SupportsResume() bool
}

// Registry holds one SourceConnector per service name, each guarded by a
// rate.Limiter shared across every caller targeting that service within
// the process (spec.md §5).
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]SourceConnector
	limiters   map[string]*rate.Limiter
	waitMax    time.Duration
}

// NewRegistry returns an empty registry; connectors are added with
// Register before the orchestrator starts dispatching. Service names are
// not checked up front: a chunk whose service is not registered fails with
// UnknownService when it first fetches a page.
func NewRegistry(waitMax time.Duration) *Registry {
	return &Registry{
		connectors: make(map[string]SourceConnector),
		limiters:   make(map[string]*rate.Limiter),
		waitMax:    waitMax,
	}
}

// Register adds a connector for service, rate-limited to ratePerSecond
// sustained with burst headroom.
func (r *Registry) Register(service string, c SourceConnector, ratePerSecond float64, burst int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[service] = c
	r.limiters[service] = rate.NewLimiter(rate.Limit(ratePerSecond), burst)
}

// Get returns the connector for service, failing with UnknownService if
// none was registered.
func (r *Registry) Get(service string) (SourceConnector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[service]
	if !ok {
		return nil, avesaerr.New("connector.Get", avesaerr.KindUnknownService, fmt.Errorf("service %q not registered", service))
	}
	return c, nil
}

// FetchPage waits for the service's token bucket (up to waitMax) then
// delegates to the registered connector's FetchPage. Rate-limit wait
// timeouts surface as RateLimited, matching the connector's own contract.
func (r *Registry) FetchPage(ctx context.Context, service string, endpoint model.EndpointConfig, auth Auth, cursor *string, sinceTS, untilTS time.Time, pageSize int) (Page, error) {
	r.mu.RLock()
	c, ok := r.connectors[service]
	limiter := r.limiters[service]
	r.mu.RUnlock()
	if !ok {
		return Page{}, avesaerr.New("connector.FetchPage", avesaerr.KindUnknownService, fmt.Errorf("service %q not registered", service))
	}

	waitCtx, cancel := context.WithTimeout(ctx, r.waitMax)
	defer cancel()
	if err := limiter.Wait(waitCtx); err != nil {
		return Page{}, avesaerr.New("connector.FetchPage", avesaerr.KindRateLimited, fmt.Errorf("service %q: %w", service, err))
	}

	return c.FetchPage(ctx, endpoint, auth, cursor, sinceTS, untilTS, pageSize)
}

// SupportsResume reports whether service's connector supports cursor
// resumption, defaulting to false for an unregistered service.
func (r *Registry) SupportsResume(service string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[service]
	if !ok {
		return false
	}
	return c.SupportsResume()
}
