// Package ratelimit spaces and serializes outbound requests per origin.
package ratelimit

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultDelay is the minimum gap between two requests to one origin.
const DefaultDelay = 2 * time.Second

// Origins hands out one limiter per scheme://host. Requests to the same
// origin start at least delay apart and never overlap; different origins
// proceed independently.
type Origins struct {
	delay time.Duration

	mu   sync.Mutex
	gate map[string]*gate
}

type gate struct {
	lim  *rate.Limiter
	busy chan struct{}
}

func New(delay time.Duration) *Origins {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Origins{delay: delay, gate: make(map[string]*gate)}
}

// Origin normalizes u to its limiter key.
func Origin(u *url.URL) string {
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

func (o *Origins) get(origin string) *gate {
	o.mu.Lock()
	defer o.mu.Unlock()
	g, ok := o.gate[origin]
	if !ok {
		g = &gate{lim: rate.NewLimiter(rate.Every(o.delay), 1), busy: make(chan struct{}, 1)}
		o.gate[origin] = g
	}
	return g
}

// Acquire blocks until a request to u may start and returns the function
// that ends it. Callers must call release exactly once.
func (o *Origins) Acquire(ctx context.Context, u *url.URL) (release func(), err error) {
	g := o.get(Origin(u))
	select {
	case g.busy <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := g.lim.Wait(ctx); err != nil {
		<-g.busy
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { <-g.busy }) }, nil
}

// Transport is an http.RoundTripper that passes every request, redirects
// included, through Origins. The origin is held until response headers
// arrive so a caller may read one body while issuing the next request.
type Transport struct {
	Base    http.RoundTripper
	Origins *Origins
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	release, err := t.Origins.Acquire(req.Context(), req.URL)
	if err != nil {
		return nil, err
	}
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	defer release()
	return base.RoundTrip(req)
}
