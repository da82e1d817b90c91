package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/santiagomed/forge/logger"
	"github.com/santiagomed/forge/metrics"
	"golang.org/x/time/rate"
)

// Adapter routes requests to registered backends. It is stateless per invocation
// apart from the per-backend rate limiters.
type Adapter struct {
	mu       sync.RWMutex
	backends map[string]Backend
	limiters map[string]*rate.Limiter
	metrics  *metrics.Collector
	logger   logger.Logger
}

func NewAdapter(l logger.Logger, m *metrics.Collector) *Adapter {
	if l == nil {
		l = logger.NewNullLogger()
	}
	return &Adapter{
		backends: make(map[string]Backend),
		limiters: make(map[string]*rate.Limiter),
		metrics:  m,
		logger:   l,
	}
}

// Register adds b. A zero limit disables rate limiting for the backend.
func (a *Adapter) Register(b Backend, limit rate.Limit, burst int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.backends[b.ID()] = b
	if limit > 0 {
		if burst < 1 {
			burst = 1
		}
		a.limiters[b.ID()] = rate.NewLimiter(limit, burst)
	} else {
		delete(a.limiters, b.ID())
	}
}

// Backends lists the registered backend ids in order.
func (a *Adapter) Backends() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ids := make([]string, 0, len(a.backends))
	for id := range a.backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (a *Adapter) Capabilities(backendID string) (Capabilities, error) {
	b, _, err := a.lookup(backendID)
	if err != nil {
		return Capabilities{}, err
	}
	return b.Capabilities(), nil
}

func (a *Adapter) lookup(backendID string) (Backend, *rate.Limiter, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	b, ok := a.backends[backendID]
	if !ok {
		return nil, nil, &ProviderError{Backend: backendID, Kind: KindUnsupported, Err: ErrUnknownBackend}
	}
	return b, a.limiters[backendID], nil
}

// Invoke sends req to backendID and returns the raw text. The text of a free-form
// backend must go through ExtractJSON before it is parsed.
func (a *Adapter) Invoke(ctx context.Context, backendID string, req Request) (string, error) {
	b, limiter, err := a.lookup(backendID)
	if err != nil {
		return "", err
	}
	caps := b.Capabilities()
	if req.Image != nil && !caps.Vision {
		return "", &ProviderError{Backend: backendID, Kind: KindUnsupported, Err: errors.New("backend does not accept images")}
	}
	if req.Schema != nil && !caps.Structured {
		req.System += schemaInstruction(req.Schema)
	}

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return "", &ProviderError{Backend: backendID, Kind: KindNetwork, Err: err}
		}
	}

	log := a.logger.WithField("backend", backendID).WithField("task", string(req.Task))
	start := time.Now()
	out, err := b.Complete(ctx, req)
	duration := time.Since(start)
	a.metrics.ObserveCall(backendID, string(req.Task), duration, err)

	if err != nil {
		var pe *ProviderError
		if !errors.As(err, &pe) {
			err = &ProviderError{Backend: backendID, Kind: KindNetwork, Err: err}
		}
		log.Error(fmt.Sprintf("Backend call failed after %v: %v", duration, err))
		return "", err
	}
	log.Debug(fmt.Sprintf("Backend call completed in %v", duration))
	return out, nil
}
