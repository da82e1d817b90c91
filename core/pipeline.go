package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/santiagomed/forge/llm"
	"github.com/santiagomed/forge/logger"
)

type StepType int

const (
	StepPlan StepType = iota
	StepGenerate
	StepReview
	StepSelfCorrect
	StepTest
	StepReady
	StepRefine
	StepAsk
	StepDebug
	StepRevert
)

func (s StepType) String() string {
	switch s {
	case StepPlan:
		return "plan"
	case StepGenerate:
		return "generate"
	case StepReview:
		return "review"
	case StepSelfCorrect:
		return "self-correct"
	case StepTest:
		return "test"
	case StepReady:
		return "ready"
	case StepRefine:
		return "refine"
	case StepAsk:
		return "ask"
	case StepDebug:
		return "debug"
	case StepRevert:
		return "revert"
	default:
		return fmt.Sprintf("StepType(%d)", int(s))
	}
}

// StepPublisher is notified of every completed and every failed step of a session.
type StepPublisher interface {
	PublishStep(step StepType)
	Error(step StepType, err error)
}

type DefaultStepPublisher struct{}

func (p *DefaultStepPublisher) PublishStep(step StepType) {}

func (p *DefaultStepPublisher) Error(step StepType, err error) {}

// Renderer is the execution sandbox. Render loads files, forwards the console output
// emitted while loading to onConsole and returns a screenshot once the page settled.
type Renderer interface {
	Render(ctx context.Context, files ArtifactSet, onConsole func(ConsoleMessage)) (llm.Image, error)
}

// TestRunner executes a proposed interaction against the rendered artifact.
type TestRunner interface {
	Run(ctx context.Context, files ArtifactSet, proposal TestProposal) (TestReport, error)
}

// Pipeline drives a session through one full generation lifecycle against the sandbox
// collaborators. Either collaborator may be nil; the matching stage then degrades.
type Pipeline struct {
	renderer Renderer
	tests    TestRunner
	logger   logger.Logger
}

func NewPipeline(r Renderer, t TestRunner, l logger.Logger) *Pipeline {
	if l == nil {
		l = logger.NewNullLogger()
	}
	return &Pipeline{renderer: r, tests: t, logger: l}
}

// Execute plans prompt, asks confirm to accept the plan, then generates, reviews and
// tests until the session is ready. A nil confirm accepts every plan.
func (p *Pipeline) Execute(ctx context.Context, s *Session, prompt string, confirm func(Plan) bool) error {
	plan, err := s.Start(ctx, prompt)
	if err != nil {
		return err
	}
	if confirm != nil && !confirm(plan) {
		return ErrPlanRejected
	}
	files, err := s.Confirm(ctx)
	if err != nil {
		return err
	}
	return p.Finish(ctx, s, files)
}

// Finish renders freshly generated files and completes the review and test stages.
func (p *Pipeline) Finish(ctx context.Context, s *Session, files ArtifactSet) error {
	var outcome ReviewOutcome
	var err error
	if p.renderer == nil {
		outcome, err = s.SkipReview(ctx, "no renderer available")
	} else {
		_, record := s.ConsoleSink()
		shot, rerr := p.renderer.Render(ctx, files, record)
		if rerr != nil {
			p.logger.Warn(fmt.Sprintf("Render failed: %v", rerr))
			outcome, err = s.SkipReview(ctx, "the artifact could not be rendered")
		} else {
			outcome, err = s.SubmitScreenshot(ctx, shot)
		}
	}
	if err != nil {
		return err
	}
	if outcome.Test == nil {
		return nil
	}

	report := TestReport{Note: "no test runner available"}
	if p.tests != nil {
		report, err = p.tests.Run(ctx, s.Artifact(), *outcome.Test)
		if err != nil {
			report = TestReport{Passed: false, Note: err.Error()}
		}
	}
	return s.ReportTest(ctx, report)
}

// Refresh renders the current artifact again so its console output is captured, e.g.
// after a refinement or a revert.
func (p *Pipeline) Refresh(ctx context.Context, s *Session) error {
	if p.renderer == nil {
		return errors.New("no renderer available")
	}
	files, record := s.ConsoleSink()
	_, err := p.renderer.Render(ctx, files, record)
	return err
}
