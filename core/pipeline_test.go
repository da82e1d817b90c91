package core

import (
	"context"
	"errors"
	"testing"

	"github.com/santiagomed/forge/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRenderer struct {
	console []ConsoleMessage
	err     error
	calls   int
}

func (r *fakeRenderer) Render(ctx context.Context, files ArtifactSet, onConsole func(ConsoleMessage)) (llm.Image, error) {
	r.calls++
	if r.err != nil {
		return llm.Image{}, r.err
	}
	for _, c := range r.console {
		onConsole(c)
	}
	return llm.Image{MIMEType: "image/png", Data: []byte("png")}, nil
}

type fakeRunner struct {
	got TestProposal
}

func (r *fakeRunner) Run(ctx context.Context, files ArtifactSet, p TestProposal) (TestReport, error) {
	r.got = p
	return TestReport{Passed: true, Note: "count shows 1"}, nil
}

func TestPipeline_Execute(t *testing.T) {
	inv := newMockInvoker(true)
	inv.On("Invoke", llm.TaskPlan).Return(counterPlan, nil).Once()
	inv.On("Invoke", llm.TaskCode).Return(counterCode, nil).Once()
	inv.On("Invoke", llm.TaskReview).Return(noChanges, nil).Once()
	inv.On("Invoke", llm.TaskTest).Return(clickTest, nil).Once()
	pub := &Publisher{}

	renderer := &fakeRenderer{console: []ConsoleMessage{{Severity: SeverityWarn, Args: []string{"deprecated API"}}}}
	runner := &fakeRunner{}
	s := newTestSession(t, ModeWebApp, inv, pub)

	var seen Plan
	err := NewPipeline(renderer, runner, nil).Execute(context.Background(), s, "a counter app", func(p Plan) bool {
		seen = p
		return true
	})
	require.NoError(t, err)

	assert.Equal(t, "Counter", seen.Header().Title)
	assert.Equal(t, StateReady, s.State())
	assert.Equal(t, "#inc", runner.got.TargetSelector)
	assert.Equal(t, []ConsoleMessage{{Severity: SeverityWarn, Args: []string{"deprecated API"}}}, s.Console())
	assert.Equal(t, []StepType{StepPlan, StepGenerate, StepReview, StepTest, StepReady}, pub.Steps())
	inv.AssertExpectations(t)
}

func TestPipeline_PlanRejected(t *testing.T) {
	inv := newMockInvoker(true)
	inv.On("Invoke", llm.TaskPlan).Return(counterPlan, nil).Once()
	s := newTestSession(t, ModeWebApp, inv, nil)

	err := NewPipeline(nil, nil, nil).Execute(context.Background(), s, "a counter app", func(Plan) bool { return false })
	assert.ErrorIs(t, err, ErrPlanRejected)
	assert.Equal(t, StateAwaitingConfirmation, s.State())
	assert.Nil(t, s.Artifact())
}

func TestPipeline_RenderFailureSkipsReview(t *testing.T) {
	inv := newMockInvoker(true)
	inv.On("Invoke", llm.TaskPlan).Return(counterPlan, nil).Once()
	inv.On("Invoke", llm.TaskCode).Return(counterCode, nil).Once()
	inv.On("Invoke", llm.TaskTest).Return(clickTest, nil).Once()
	s := newTestSession(t, ModeWebApp, inv, nil)

	err := NewPipeline(&fakeRenderer{err: errors.New("chrome missing")}, nil, nil).Execute(context.Background(), s, "a counter app", nil)
	require.NoError(t, err)
	assert.Equal(t, StateReady, s.State())
	inv.AssertNotCalled(t, "Invoke", llm.TaskReview)
}

func TestPipeline_Refresh(t *testing.T) {
	s := readyCounter(t, newMockInvoker(true), nil)

	assert.Error(t, NewPipeline(nil, nil, nil).Refresh(context.Background(), s))

	r := &fakeRenderer{console: []ConsoleMessage{{Severity: SeverityError, Args: []string{"boom"}}}}
	require.NoError(t, NewPipeline(r, nil, nil).Refresh(context.Background(), s))
	assert.Len(t, s.Console(), 1)
	assert.Equal(t, 1, r.calls)
}

func TestStepType_String(t *testing.T) {
	assert.Equal(t, "StepType(99)", StepType(99).String())
	assert.NotEqual(t, StepPlan.String(), StepGenerate.String())
}

type blockingRenderer struct {
	started chan struct{}
	release chan struct{}
}

func (r *blockingRenderer) Render(ctx context.Context, files ArtifactSet, onConsole func(ConsoleMessage)) (llm.Image, error) {
	close(r.started)
	<-r.release
	onConsole(ConsoleMessage{Severity: SeverityError, Args: []string{"error from " + files["index.html"]}})
	return llm.Image{MIMEType: "image/png", Data: []byte("png")}, nil
}

func TestPipeline_RefreshDropsConsoleOfReplacedArtifact(t *testing.T) {
	ctx := context.Background()
	inv := newMockInvoker(true)
	s := readyCounter(t, inv, nil)

	r := &blockingRenderer{started: make(chan struct{}), release: make(chan struct{})}
	done := make(chan error, 1)
	go func() { done <- NewPipeline(r, nil, nil).Refresh(ctx, s) }()
	<-r.started

	inv.On("Invoke", llm.TaskRefine).Return(blueCode, nil).Once()
	_, err := s.Refine(ctx, "make the button blue")
	require.NoError(t, err)

	close(r.release)
	require.NoError(t, <-done)
	assert.Empty(t, s.Console())
	assert.Equal(t, ArtifactSet{"index.html": blueHTML}, s.Artifact())
}

func TestSession_ConsoleSinkFollowsRevert(t *testing.T) {
	ctx := context.Background()
	inv := newMockInvoker(true)
	s := readyCounter(t, inv, nil)
	inv.On("Invoke", llm.TaskRefine).Return(blueCode, nil).Once()
	_, err := s.Refine(ctx, "make the button blue")
	require.NoError(t, err)

	files, record := s.ConsoleSink()
	assert.Equal(t, ArtifactSet{"index.html": blueHTML}, files)
	record(ConsoleMessage{Severity: SeverityWarn, Args: []string{"kept"}})
	require.Len(t, s.Console(), 1)

	_, err = s.Revert(ctx, s.Versions()[0].ID)
	require.NoError(t, err)
	record(ConsoleMessage{Severity: SeverityError, Args: []string{"stale"}})
	assert.Empty(t, s.Console())
}
