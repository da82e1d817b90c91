package core

import (
	"context"
	"sync"
	"testing"

	"github.com/santiagomed/forge/llm"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockInvoker is a mock implementation of Invoker keyed on the task of each request.
type MockInvoker struct {
	mock.Mock
	caps llm.Capabilities
}

func newMockInvoker(structured bool) *MockInvoker {
	return &MockInvoker{caps: llm.Capabilities{Structured: structured, Vision: true}}
}

func (m *MockInvoker) Invoke(ctx context.Context, backendID string, req llm.Request) (string, error) {
	args := m.Called(req.Task)
	return args.String(0), args.Error(1)
}

func (m *MockInvoker) Capabilities(backendID string) (llm.Capabilities, error) {
	return m.caps, nil
}

// Publisher records published steps and errors.
type Publisher struct {
	mu     sync.Mutex
	steps  []StepType
	errors []error
}

func (p *Publisher) PublishStep(step StepType) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, step)
}

func (p *Publisher) Error(step StepType, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errors = append(p.errors, err)
}

func (p *Publisher) Steps() []StepType {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]StepType(nil), p.steps...)
}

func (p *Publisher) Errors() []error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]error(nil), p.errors...)
}

const (
	counterPlan   = `{"title":"Counter","description":"A simple counter","features":["increment","decrement","reset"]}`
	counterCode   = `{"code":"<!DOCTYPE html><html><body><span id=\"count\">0</span><button id=\"inc\">+</button><button id=\"dec\">-</button><button id=\"reset\">Reset</button></body></html>"}`
	counterHTML   = `<!DOCTYPE html><html><body><span id="count">0</span><button id="inc">+</button><button id="dec">-</button><button id="reset">Reset</button></body></html>`
	blueCode      = `{"code":"<!DOCTYPE html><html><body><span id=\"count\">0</span><button id=\"inc\" style=\"background:blue\">+</button><button id=\"dec\" style=\"background:blue\">-</button><button id=\"reset\" style=\"background:blue\">Reset</button></body></html>","summary":"Made the button blue","files_edited":["styles.css"]}`
	blueHTML      = `<!DOCTYPE html><html><body><span id="count">0</span><button id="inc" style="background:blue">+</button><button id="dec" style="background:blue">-</button><button id="reset" style="background:blue">Reset</button></body></html>`
	noChanges     = `{"summary":"No changes needed.","code":""}`
	clickTest     = `{"target_selector":"#inc","action":"click","justification":"increments the counter","expected":"count shows 1"}`
	sitePlan      = `{"title":"Site","description":"A small site","stack":["html","css","js"],"files":[{"path":"index.html","purpose":"entry"},{"path":"styles.css","purpose":"styles"},{"path":"app.js","purpose":"logic"}]}`
	siteCode      = `{"files":{"index.html":"<html><link href=\"styles.css\"><script src=\"app.js\"></script></html>","styles.css":"body{}","app.js":"init()"}}`
	siteRefine    = `{"files":[{"path":"index.html","content":"<html><h1>Hi</h1></html>"},{"path":"styles.css","content":"h1{color:red}"},{"path":"app.js","content":"init()"}],"summary":"Added a heading","files_edited":["index.html","styles.css"]}`
	siteDropsFile = `{"files":{"index.html":"<html></html>","styles.css":"body{}"},"summary":"Trimmed","files_edited":["index.html"]}`
)

func newTestSession(t *testing.T, mode Mode, inv *MockInvoker, pub StepPublisher) *Session {
	s, err := NewSession(NewSessionConfig(mode, "fake", "", nil), Dependencies{Invoker: inv, Publisher: pub})
	require.NoError(t, err)
	return s
}

// readyCounter drives a web-app session through generation, a passing review and a
// passing test.
func readyCounter(t *testing.T, inv *MockInvoker, pub StepPublisher) *Session {
	ctx := context.Background()
	inv.On("Invoke", llm.TaskPlan).Return(counterPlan, nil).Once()
	inv.On("Invoke", llm.TaskCode).Return(counterCode, nil).Once()
	inv.On("Invoke", llm.TaskReview).Return(noChanges, nil).Once()
	inv.On("Invoke", llm.TaskTest).Return(clickTest, nil).Once()

	s := newTestSession(t, ModeWebApp, inv, pub)
	_, err := s.Start(ctx, "a counter app")
	require.NoError(t, err)
	_, err = s.Confirm(ctx)
	require.NoError(t, err)
	outcome, err := s.SubmitScreenshot(ctx, llm.Image{MIMEType: "image/png", Data: []byte{1}})
	require.NoError(t, err)
	require.NotNil(t, outcome.Test)
	require.NoError(t, s.ReportTest(ctx, TestReport{Passed: true}))
	require.Equal(t, StateReady, s.State())
	return s
}
