package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/santiagomed/forge/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestSession_CounterApp(t *testing.T) {
	ctx := context.Background()
	inv := newMockInvoker(true)
	pub := &Publisher{}
	s := readyCounter(t, inv, pub)

	plan, ok := s.Plan().(WebAppPlan)
	require.True(t, ok)
	assert.Equal(t, "Counter", plan.Title)
	assert.Equal(t, []string{"increment", "decrement", "reset"}, plan.Features)
	assert.Equal(t, ArtifactSet{"index.html": counterHTML}, s.Artifact())
	for _, id := range []string{`id="inc"`, `id="dec"`, `id="reset"`} {
		assert.Contains(t, counterHTML, id)
	}
	assert.Empty(t, s.Versions(), "generation from nothing leaves no snapshot")

	inv.On("Invoke", llm.TaskRefine).Return(blueCode, nil).Once()
	res, err := s.Refine(ctx, "make the button blue")
	require.NoError(t, err)
	assert.Equal(t, []string{"styles.css"}, res.FilesEdited)
	assert.Equal(t, "Made the button blue", res.Summary)
	assert.Equal(t, ArtifactSet{"index.html": blueHTML}, s.Artifact())
	for _, id := range []string{`id="inc"`, `id="dec"`, `id="reset"`, `id="count"`} {
		assert.Contains(t, s.Artifact()["index.html"], id)
	}

	versions := s.Versions()
	require.Len(t, versions, 1)
	assert.Equal(t, ArtifactSet{"index.html": counterHTML}, versions[0].Files)
	assert.Equal(t, StateReady, s.State())

	assert.Equal(t, []StepType{StepPlan, StepGenerate, StepReview, StepTest, StepReady, StepRefine}, pub.Steps())
	assert.Empty(t, pub.Errors())
	inv.AssertExpectations(t)
}

func TestSession_FreeFormBackend(t *testing.T) {
	inv := newMockInvoker(false)
	inv.On("Invoke", llm.TaskPlan).Return("Sure! Here is the plan:\n```json\n"+counterPlan+"\n```\nEnjoy.", nil).Once()

	s := newTestSession(t, ModeWebApp, inv, nil)
	plan, err := s.Start(context.Background(), "a counter app")
	require.NoError(t, err)
	assert.Equal(t, "Counter", plan.Header().Title)
	assert.Equal(t, StateAwaitingConfirmation, s.State())
}

func TestSession_ReviewNoChangesShortCircuits(t *testing.T) {
	inv := newMockInvoker(true)
	s := readyCounter(t, inv, nil)

	assert.Equal(t, ArtifactSet{"index.html": counterHTML}, s.Artifact())
	assert.Empty(t, s.Versions())
	inv.AssertNumberOfCalls(t, "Invoke", 4)
}

func TestSession_ReviewCorrectsOnce(t *testing.T) {
	ctx := context.Background()
	inv := newMockInvoker(true)
	inv.On("Invoke", llm.TaskPlan).Return(counterPlan, nil).Once()
	inv.On("Invoke", llm.TaskCode).Return(counterCode, nil).Once()
	inv.On("Invoke", llm.TaskReview).Return(`{"summary":"The button was invisible","code":"<html><button>+</button></html>"}`, nil).Once()
	inv.On("Invoke", llm.TaskTest).Return(clickTest, nil).Once()
	pub := &Publisher{}

	s := newTestSession(t, ModeWebApp, inv, pub)
	_, err := s.Start(ctx, "a counter app")
	require.NoError(t, err)
	_, err = s.Confirm(ctx)
	require.NoError(t, err)
	outcome, err := s.SubmitScreenshot(ctx, llm.Image{MIMEType: "image/png", Data: []byte{1}})
	require.NoError(t, err)

	assert.True(t, outcome.Review.Changed)
	assert.Equal(t, ArtifactSet{"index.html": "<html><button>+</button></html>"}, s.Artifact())
	require.Len(t, s.Versions(), 1)
	assert.Equal(t, "Before self-correction", s.Versions()[0].Label)
	assert.Equal(t, StateTesting, s.State())
	assert.Contains(t, pub.Steps(), StepSelfCorrect)
	inv.AssertNumberOfCalls(t, "Invoke", 4)
}

func TestSession_ReviewFailureDegrades(t *testing.T) {
	ctx := context.Background()
	inv := newMockInvoker(true)
	inv.On("Invoke", llm.TaskPlan).Return(counterPlan, nil).Once()
	inv.On("Invoke", llm.TaskCode).Return(counterCode, nil).Once()
	inv.On("Invoke", llm.TaskReview).Return("", &llm.ProviderError{Backend: "fake", Kind: llm.KindNetwork, Err: errors.New("reset")}).Once()
	inv.On("Invoke", llm.TaskTest).Return("not json at all", nil).Once()

	s := newTestSession(t, ModeWebApp, inv, nil)
	_, err := s.Start(ctx, "a counter app")
	require.NoError(t, err)
	_, err = s.Confirm(ctx)
	require.NoError(t, err)
	outcome, err := s.SubmitScreenshot(ctx, llm.Image{})
	require.NoError(t, err)

	assert.False(t, outcome.Review.Changed)
	assert.Nil(t, outcome.Test)
	assert.Equal(t, StateReady, s.State())
	assert.Equal(t, ArtifactSet{"index.html": counterHTML}, s.Artifact())
	for _, m := range s.Messages() {
		assert.NotEqual(t, MessageError, m.Kind)
	}
}

func TestSession_PlanningFailureRestoresState(t *testing.T) {
	ctx := context.Background()
	inv := newMockInvoker(true)
	inv.On("Invoke", llm.TaskPlan).Return("", &llm.ProviderError{Backend: "fake", Kind: llm.KindNetwork, Err: errors.New("timeout")}).Once()
	pub := &Publisher{}

	s := newTestSession(t, ModeWebApp, inv, pub)
	_, err := s.Start(ctx, "a counter app")

	var pe *PlanningError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, StateIdle, s.State())
	assert.Nil(t, s.Plan())
	assert.Nil(t, s.Artifact())

	var errs []Message
	for _, m := range s.Messages() {
		if m.Kind == MessageError {
			errs = append(errs, m)
		}
	}
	require.Len(t, errs, 1)
	assert.Equal(t, "Couldn't reach the model, try again.", errs[0].Content)
	assert.Len(t, pub.Errors(), 1)

	inv.On("Invoke", llm.TaskPlan).Return(counterPlan, nil).Once()
	_, err = s.Start(ctx, "a counter app")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingConfirmation, s.State())
}

func TestSession_InvalidPlanRejected(t *testing.T) {
	inv := newMockInvoker(true)
	inv.On("Invoke", llm.TaskPlan).Return(`{"title":"","features":[]}`, nil).Once()

	s := newTestSession(t, ModeWebApp, inv, nil)
	_, err := s.Start(context.Background(), "a counter app")
	var pe *PlanningError
	assert.ErrorAs(t, err, &pe)
	assert.Equal(t, StateIdle, s.State())
}

func TestSession_GenerationFailureKeepsPlan(t *testing.T) {
	ctx := context.Background()
	inv := newMockInvoker(true)
	inv.On("Invoke", llm.TaskPlan).Return(counterPlan, nil).Once()
	inv.On("Invoke", llm.TaskCode).Return(`{"code":"just text"}`, nil).Once()

	s := newTestSession(t, ModeWebApp, inv, nil)
	_, err := s.Start(ctx, "a counter app")
	require.NoError(t, err)
	_, err = s.Confirm(ctx)

	var ge *GenerationError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, StateAwaitingConfirmation, s.State())
	assert.NotNil(t, s.Plan())
	assert.Nil(t, s.Artifact())

	inv.On("Invoke", llm.TaskCode).Return(counterCode, nil).Once()
	files, err := s.Confirm(ctx)
	require.NoError(t, err)
	assert.Equal(t, ArtifactSet{"index.html": counterHTML}, files)
	assert.Equal(t, StateReviewing, s.State())
}

func TestSession_ReplanBeforeConfirm(t *testing.T) {
	ctx := context.Background()
	inv := newMockInvoker(true)
	inv.On("Invoke", llm.TaskPlan).Return(counterPlan, nil).Once()
	inv.On("Invoke", llm.TaskPlan).Return(`{"title":"Timer","description":"t","features":["start"]}`, nil).Once()

	s := newTestSession(t, ModeWebApp, inv, nil)
	_, err := s.Start(ctx, "a counter app")
	require.NoError(t, err)
	plan, err := s.Start(ctx, "a timer instead")
	require.NoError(t, err)
	assert.Equal(t, "Timer", plan.Header().Title)
	assert.Equal(t, "a timer instead", s.Prompt())
}

func TestSession_OperationsRejectedInWrongState(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, ModeWebApp, newMockInvoker(true), nil)

	_, err := s.Confirm(ctx)
	var se *StateError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StateIdle, se.State)

	_, err = s.Refine(ctx, "anything")
	assert.ErrorAs(t, err, &se)
	_, err = s.SubmitScreenshot(ctx, llm.Image{})
	assert.ErrorAs(t, err, &se)

	_, err = s.Start(ctx, "   ")
	assert.ErrorIs(t, err, ErrEmptyPrompt)
}

func TestSession_PlanningUnreachableAfterGeneration(t *testing.T) {
	s := readyCounter(t, newMockInvoker(true), nil)
	_, err := s.Start(context.Background(), "something else")
	var se *StateError
	assert.ErrorAs(t, err, &se)
	assert.Equal(t, StateReady, s.State())
}

func TestSession_RefinementFailureLeavesArtifact(t *testing.T) {
	inv := newMockInvoker(true)
	pub := &Publisher{}
	s := readyCounter(t, inv, pub)
	before := len(s.Messages())

	inv.On("Invoke", llm.TaskRefine).Return(`{"code":"","summary":"oops"}`, nil).Once()
	_, err := s.Refine(context.Background(), "make the button blue")

	var re *RefinementError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ArtifactSet{"index.html": counterHTML}, s.Artifact())
	assert.Empty(t, s.Versions())
	assert.Equal(t, StateReady, s.State())

	msgs := s.Messages()
	require.Len(t, msgs, before+2)
	assert.Equal(t, MessagePrompt, msgs[before].Kind)
	assert.Equal(t, MessageError, msgs[before+1].Kind)
	assert.Equal(t, "Couldn't apply that change. Your web app is unchanged.", msgs[before+1].Content)
}

func TestSession_SingleInFlightRefinement(t *testing.T) {
	ctx := context.Background()
	inv := newMockInvoker(true)
	s := readyCounter(t, inv, nil)

	started := make(chan struct{})
	release := make(chan struct{})
	inv.On("Invoke", llm.TaskRefine).Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Return(blueCode, nil).Once()

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = s.Refine(ctx, "make the button blue")
	}()

	<-started
	assert.True(t, s.Busy())
	_, err := s.Refine(ctx, "make it red")
	assert.ErrorIs(t, err, ErrBusy)
	_, err = s.Ask(ctx, "what does it do?")
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	wg.Wait()
	require.NoError(t, firstErr)
	assert.Equal(t, ArtifactSet{"index.html": blueHTML}, s.Artifact())
	assert.Len(t, s.Versions(), 1)
	assert.False(t, s.Busy())
	inv.AssertNumberOfCalls(t, "Invoke", 5)
}

func TestSession_FileMapRefinement(t *testing.T) {
	ctx := context.Background()
	inv := newMockInvoker(true)
	inv.On("Invoke", llm.TaskPlan).Return(sitePlan, nil).Once()
	inv.On("Invoke", llm.TaskCode).Return(siteCode, nil).Once()
	inv.On("Invoke", llm.TaskTest).Return("", errors.New("down")).Once()

	s := newTestSession(t, ModeMultiFileApp, inv, nil)
	assert.Equal(t, FileMap, s.Shape())
	_, err := s.Start(ctx, "a small site")
	require.NoError(t, err)
	files, err := s.Confirm(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"app.js", "index.html", "styles.css"}, files.Paths())

	outcome, err := s.SkipReview(ctx, "no renderer")
	require.NoError(t, err)
	assert.Nil(t, outcome.Test)
	require.Equal(t, StateReady, s.State())

	inv.On("Invoke", llm.TaskRefine).Return(siteRefine, nil).Once()
	res, err := s.Refine(ctx, "add a red heading")
	require.NoError(t, err)
	assert.Equal(t, "h1{color:red}", s.Artifact()["styles.css"])
	assert.ElementsMatch(t, []string{"index.html", "styles.css"}, res.FilesEdited)
	assert.Empty(t, s.Artifact().Missing(files))

	inv.On("Invoke", llm.TaskRefine).Return(siteDropsFile, nil).Once()
	before := s.Artifact()
	_, err = s.Refine(ctx, "simplify")
	var re *RefinementError
	require.ErrorAs(t, err, &re)
	assert.Contains(t, err.Error(), "app.js")
	assert.Equal(t, before, s.Artifact())
	assert.Len(t, s.Versions(), 1)
}

func TestSession_RevertDoesNotSnapshot(t *testing.T) {
	ctx := context.Background()
	inv := newMockInvoker(true)
	pub := &Publisher{}
	s := readyCounter(t, inv, pub)

	inv.On("Invoke", llm.TaskRefine).Return(blueCode, nil).Once()
	_, err := s.Refine(ctx, "make the button blue")
	require.NoError(t, err)

	v := s.Versions()[0]
	files, err := s.Revert(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, ArtifactSet{"index.html": counterHTML}, files)
	assert.Equal(t, files, s.Artifact())
	assert.Len(t, s.Versions(), 1)
	assert.Equal(t, StepRevert, pub.Steps()[len(pub.Steps())-1])

	_, err = s.Revert(ctx, "missing")
	assert.ErrorIs(t, err, ErrVersionNotFound)
}

func TestSession_Ask(t *testing.T) {
	inv := newMockInvoker(true)
	s := readyCounter(t, inv, nil)

	inv.On("Invoke", llm.TaskAsk).Return("  It counts clicks.  ", nil).Once()
	answer, err := s.Ask(context.Background(), "what does it do?")
	require.NoError(t, err)
	assert.Equal(t, "It counts clicks.", answer)
	assert.Equal(t, ArtifactSet{"index.html": counterHTML}, s.Artifact())
	assert.Empty(t, s.Versions())
	msgs := s.Messages()
	assert.Equal(t, MessageAnswer, msgs[len(msgs)-1].Kind)
}

func TestSession_Debug(t *testing.T) {
	ctx := context.Background()
	inv := newMockInvoker(true)
	s := readyCounter(t, inv, nil)

	_, err := s.Debug(ctx)
	assert.ErrorIs(t, err, ErrNothingToDebug)

	s.RecordConsole(ConsoleMessage{Severity: SeverityLog, Args: []string{"hello"}})
	s.RecordConsole(ConsoleMessage{Severity: SeverityError, Args: []string{"ReferenceError: count is not defined"}})

	inv.On("Invoke", llm.TaskDebug).Return(blueCode, nil).Once()
	res, err := s.Debug(ctx)
	require.NoError(t, err)
	assert.Equal(t, ArtifactSet{"index.html": blueHTML}, res.Files)
	assert.Empty(t, s.Console(), "installing an artifact clears the console")
	require.Len(t, s.Versions(), 1)
	assert.Equal(t, "Before console fix", s.Versions()[0].Label)
}

func TestSession_UnsupportedModeFailsSession(t *testing.T) {
	ctx := context.Background()
	inv := newMockInvoker(true)
	s := newTestSession(t, Mode("spreadsheet"), inv, nil)

	_, err := s.Start(ctx, "a budget")
	var ue *UnsupportedModeError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, StateFailed, s.State())
	inv.AssertNotCalled(t, "Invoke", mock.Anything)

	_, err = s.Start(ctx, "a budget")
	var se *StateError
	assert.ErrorAs(t, err, &se)
}

func TestSession_HistoryOrdering(t *testing.T) {
	ctx := context.Background()
	inv := newMockInvoker(true)
	s := readyCounter(t, inv, nil)

	edits := []string{
		`{"code":"<html>1</html>","summary":"one"}`,
		`{"code":"<html>2</html>","summary":"two"}`,
		`{"code":"<html>3</html>","summary":"three"}`,
	}
	for _, e := range edits {
		inv.On("Invoke", llm.TaskRefine).Return(e, nil).Once()
		_, err := s.Refine(ctx, "next")
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}

	versions := s.Versions()
	require.Len(t, versions, 3)
	assert.Equal(t, counterHTML, versions[0].Files["index.html"])
	assert.Equal(t, "<html>1</html>", versions[1].Files["index.html"])
	assert.Equal(t, "<html>2</html>", versions[2].Files["index.html"])
	assert.Equal(t, "<html>3</html>", s.Artifact()["index.html"])
	for i := 1; i < len(versions); i++ {
		assert.False(t, versions[i].CreatedAt.Before(versions[i-1].CreatedAt))
	}
}

func TestSession_ArtifactIsCopied(t *testing.T) {
	s := readyCounter(t, newMockInvoker(true), nil)
	a := s.Artifact()
	a["index.html"] = "changed"
	assert.Equal(t, counterHTML, s.Artifact()["index.html"])
}

func TestNewSession_Validation(t *testing.T) {
	_, err := NewSession(NewSessionConfig(ModeWebApp, "", "", nil), Dependencies{Invoker: newMockInvoker(true)})
	assert.Error(t, err)
	_, err = NewSession(DefaultSessionConfig(), Dependencies{})
	assert.Error(t, err)
}

func TestSession_AgentInstructionPrefixesSystemPrompt(t *testing.T) {
	inv := newMockInvoker(true)
	agent := &Agent{ID: "pirate", Name: "Pirate", Instruction: "Talk like a pirate."}
	var system string
	inv.On("Invoke", llm.TaskPlan).Return(counterPlan, nil).Once()

	rec := &recordingInvoker{MockInvoker: inv, onInvoke: func(r llm.Request) { system = r.System }}
	s, err := NewSession(NewSessionConfig(ModeWebApp, "fake", "", agent), Dependencies{Invoker: rec})
	require.NoError(t, err)
	_, err = s.Start(context.Background(), "a counter app")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(system, agent.Instruction))
}

type recordingInvoker struct {
	*MockInvoker
	onInvoke func(llm.Request)
}

func (r *recordingInvoker) Invoke(ctx context.Context, backendID string, req llm.Request) (string, error) {
	r.onInvoke(req)
	return r.MockInvoker.Invoke(ctx, backendID, req)
}
