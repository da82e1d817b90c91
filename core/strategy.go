package core

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/santiagomed/forge/llm"
)

// Invoker is the provider adapter as seen by the stages.
type Invoker interface {
	Invoke(ctx context.Context, backendID string, req llm.Request) (string, error)
	Capabilities(backendID string) (llm.Capabilities, error)
}

// Call carries what every LLM-calling stage needs: the adapter, the backend and the
// optional agent whose instruction prefixes the system prompt.
type Call struct {
	Invoker Invoker
	Backend string
	Agent   *Agent
}

func (c Call) system(base string) string {
	if c.Agent == nil || c.Agent.Instruction == "" {
		return base
	}
	return c.Agent.Instruction + "\n\n" + base
}

// invokeJSON sends req and decodes the answer into T, extracting the JSON span first
// when the backend is free-form.
func invokeJSON[T any](ctx context.Context, c Call, req llm.Request, label string) (*T, error) {
	caps, err := c.Invoker.Capabilities(c.Backend)
	if err != nil {
		return nil, err
	}
	raw, err := c.Invoker.Invoke(ctx, c.Backend, req)
	if err != nil {
		return nil, err
	}
	return llm.Decode[T](raw, caps.Structured && req.Schema != nil, label)
}

// Strategy is the plan and code builder pair of one mode.
type Strategy interface {
	Mode() Mode
	Shape() OutputShape
	// Entry is the file key of single-file modes and empty for file-map modes.
	Entry() string
	BuildPlan(ctx context.Context, c Call, prompt string) (Plan, error)
	BuildCode(ctx context.Context, c Call, plan Plan) (ArtifactSet, error)
}

type PlanBuilder[P Plan] func(ctx context.Context, c Call, prompt string) (P, error)

type CodeBuilder[P Plan] func(ctx context.Context, c Call, plan P) (ArtifactSet, error)

// strategy binds a mode to its concrete plan type at registration time.
type strategy[P Plan] struct {
	mode  Mode
	shape OutputShape
	entry string
	plan  PlanBuilder[P]
	code  CodeBuilder[P]
}

func (s *strategy[P]) Mode() Mode         { return s.mode }
func (s *strategy[P]) Shape() OutputShape { return s.shape }
func (s *strategy[P]) Entry() string      { return s.entry }

func (s *strategy[P]) BuildPlan(ctx context.Context, c Call, prompt string) (Plan, error) {
	return s.plan(ctx, c, prompt)
}

func (s *strategy[P]) BuildCode(ctx context.Context, c Call, plan Plan) (ArtifactSet, error) {
	p, ok := plan.(P)
	if !ok {
		return nil, fmt.Errorf("plan of type %T does not belong to mode %s", plan, s.mode)
	}
	return s.code(ctx, c, p)
}

// Registry maps modes to strategies.
type Registry struct {
	mu         sync.RWMutex
	strategies map[Mode]Strategy
}

func NewRegistry() *Registry {
	return &Registry{strategies: make(map[Mode]Strategy)}
}

// Register adds the strategy of mode, replacing any previous one. entry is the file
// key of single-file modes.
func Register[P Plan](r *Registry, mode Mode, shape OutputShape, entry string, plan PlanBuilder[P], code CodeBuilder[P]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[mode] = &strategy[P]{mode: mode, shape: shape, entry: entry, plan: plan, code: code}
}

// Get returns the strategy of mode or an UnsupportedModeError.
func (r *Registry) Get(mode Mode) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[mode]
	if !ok {
		return nil, &UnsupportedModeError{Mode: mode}
	}
	return s, nil
}

// Modes lists the registered modes in lexical order.
func (r *Registry) Modes() []Mode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	modes := make([]Mode, 0, len(r.strategies))
	for m := range r.strategies {
		modes = append(modes, m)
	}
	sort.Slice(modes, func(i, j int) bool { return modes[i] < modes[j] })
	return modes
}
