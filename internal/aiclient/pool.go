package aiclient

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/latchkey-labs/pileup/internal/common"
	"github.com/latchkey-labs/pileup/internal/config"
	"github.com/latchkey-labs/pileup/internal/probe"
)

// endpoint wraps one configured AI endpoint with a worker-count-bounded
// semaphore, the same channel-based worker pool shape used elsewhere in
// this codebase (scanner, hasher) but applied to concurrent HTTP calls
// rather than batch CPU work.
type endpoint struct {
	url     string
	model   string
	kind    string // "openai" or "ollama", detected lazily
	sem     chan struct{}
	http    *http.Client
	timeout time.Duration
}

// Pool dispatches folder and file classification requests round-robin
// across a set of endpoints, each with its own bounded concurrency,
// matching spec.md section 4.7's "total in-flight <= sum of endpoint
// worker counts" requirement.
type Pool struct {
	endpoints []*endpoint
	next      atomic.Uint64
	maxRetry  int
}

// NewPool builds a Pool from parsed endpoint specs.
func NewPool(specs []config.Endpoint, requestTimeout time.Duration, maxRetries int) (*Pool, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: no AI endpoints configured", common.ErrConfig)
	}

	p := &Pool{maxRetry: maxRetries}
	for _, s := range specs {
		ep := &endpoint{
			url:     s.URL,
			model:   s.Model,
			sem:     make(chan struct{}, s.Workers),
			timeout: requestTimeout,
			http: &http.Client{
				Timeout: requestTimeout,
			},
		}
		p.endpoints = append(p.endpoints, ep)
	}
	return p, nil
}

// pick returns the next endpoint round-robin, detecting its API kind on
// first use and caching it for the process lifetime.
func (p *Pool) pick(ctx context.Context) (*endpoint, error) {
	idx := p.next.Add(1) - 1
	ep := p.endpoints[idx%uint64(len(p.endpoints))]

	if ep.kind == "" {
		kind, err := probe.DetectEndpointKind(ctx, ep.http, ep.url)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrAIUnavailable, err)
		}
		ep.kind = kind
	}
	return ep, nil
}

// acquire blocks until a worker slot on ep is free or ctx is cancelled.
func (ep *endpoint) acquire(ctx context.Context) error {
	select {
	case ep.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (ep *endpoint) release() {
	<-ep.sem
}
