package deploy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/santiagomed/forge/core"
	"github.com/santiagomed/forge/logger"
	"github.com/santiagomed/forge/metrics"
	"golang.org/x/oauth2"
)

var (
	ErrUnknownTarget = errors.New("unknown deploy target")
	ErrNoFiles       = errors.New("nothing to deploy")
	ErrNoDestination = errors.New("no deploy destination")
)

// Target is one push of an artifact. Destination is target specific: "owner/repo" for
// GitHub, a project name for Vercel, "bucket/prefix" for a bucket.
type Target struct {
	Files       core.ArtifactSet
	Destination string
	Token       string
	Message     string
}

// Deployer publishes an artifact and returns where it can be seen. Deployers keep no
// state between calls.
type Deployer interface {
	Name() string
	Deploy(ctx context.Context, t Target) (string, error)
}

// Error is a failed deployment.
type Error struct {
	Target     string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("deploy to %s failed with status %d: %s", e.Target, e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("deploy to %s failed: %v", e.Target, e.Err)
	default:
		return fmt.Sprintf("deploy to %s failed", e.Target)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Registry looks deployers up by name.
type Registry struct {
	mu        sync.RWMutex
	deployers map[string]Deployer
	metrics   *metrics.Collector
	logger    logger.Logger
}

func NewRegistry(m *metrics.Collector, l logger.Logger) *Registry {
	if l == nil {
		l = logger.NewNullLogger()
	}
	return &Registry{deployers: make(map[string]Deployer), metrics: m, logger: l}
}

func (r *Registry) Register(d Deployer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deployers[d.Name()] = d
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.deployers))
	for n := range r.deployers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Deploy pushes t with the deployer called name.
func (r *Registry) Deploy(ctx context.Context, name string, t Target) (string, error) {
	r.mu.RLock()
	d, ok := r.deployers[name]
	r.mu.RUnlock()
	if !ok {
		return "", &Error{Target: name, Err: ErrUnknownTarget}
	}
	if len(t.Files) == 0 {
		return "", &Error{Target: name, Err: ErrNoFiles}
	}
	if t.Destination == "" {
		return "", &Error{Target: name, Err: ErrNoDestination}
	}

	url, err := d.Deploy(ctx, t)
	r.metrics.ObserveDeploy(name, err)
	if err != nil {
		r.logger.WithField("target", name).Error(err.Error())
		return "", err
	}
	r.logger.WithField("target", name).Info("Deployed to " + url)
	return url, nil
}

// tokenClient returns an HTTP client sending token as a bearer credential. A client
// stored in ctx under oauth2.HTTPClient is used as the transport.
func tokenClient(ctx context.Context, token string) *http.Client {
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
}
