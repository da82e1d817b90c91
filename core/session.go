package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santiagomed/forge/llm"
	"github.com/santiagomed/forge/logger"
	"github.com/santiagomed/forge/metrics"
)

type State string

const (
	StateIdle                 State = "idle"
	StatePlanning             State = "planning"
	StateAwaitingConfirmation State = "awaiting-plan-confirmation"
	StateGenerating           State = "generating"
	StateReviewing            State = "reviewing"
	StateSelfCorrecting       State = "self-correcting"
	StateTesting              State = "testing"
	StateReady                State = "ready"
	StateRefining             State = "refining"
	// StateFailed is terminal; a new session is needed.
	StateFailed State = "failed"
)

// transitions lists the legal moves. Planning is unreachable once generation started.
var transitions = map[State][]State{
	StateIdle:                 {StatePlanning},
	StatePlanning:             {StateAwaitingConfirmation, StateIdle, StateFailed},
	StateAwaitingConfirmation: {StatePlanning, StateGenerating},
	StateGenerating:           {StateReviewing, StateAwaitingConfirmation, StateFailed},
	StateReviewing:            {StateSelfCorrecting, StateTesting},
	StateSelfCorrecting:       {StateTesting},
	StateTesting:              {StateReady},
	StateReady:                {StateRefining},
	StateRefining:             {StateReady},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Dependencies are the collaborators shared by sessions.
type Dependencies struct {
	Invoker   Invoker
	Registry  *Registry
	Publisher StepPublisher
	Logger    logger.Logger
	Metrics   *metrics.Collector
}

// ReviewOutcome is the result of the review stage together with the test proposal
// that followed it. Test is nil when testing was skipped and the session is ready.
type ReviewOutcome struct {
	Review ReviewResult
	Test   *TestProposal
}

// Session owns the artifact, its history and the conversation of one generation.
// At most one operation runs at a time; a concurrent call fails with ErrBusy.
type Session struct {
	id        string
	cfg       SessionConfig
	strategy  Strategy
	registry  *Registry
	invoker   Invoker
	history   *History
	publisher StepPublisher
	logger    logger.Logger
	metrics   *metrics.Collector
	createdAt time.Time

	mu          sync.Mutex
	busy        bool
	state       State
	prompt      string
	plan        Plan
	files       ArtifactSet
	console     []ConsoleMessage
	consoleGen  uint64
	messages    []Message
	pendingTest *TestProposal
}

func NewSession(cfg SessionConfig, deps Dependencies) (*Session, error) {
	if deps.Invoker == nil {
		return nil, errors.New("session needs a provider adapter")
	}
	if cfg.Backend == "" {
		return nil, errors.New("session needs a backend")
	}
	if deps.Registry == nil {
		deps.Registry = DefaultRegistry()
	}
	// An unregistered mode is reported by the first operation, which fails the session.
	strategy, _ := deps.Registry.Get(cfg.Mode)
	if deps.Publisher == nil {
		deps.Publisher = &DefaultStepPublisher{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNullLogger()
	}

	id := uuid.NewString()
	return &Session{
		id:        id,
		cfg:       cfg,
		strategy:  strategy,
		registry:  deps.Registry,
		invoker:   deps.Invoker,
		history:   NewHistory(),
		publisher: deps.Publisher,
		logger:    deps.Logger.WithField("session", id).WithField("mode", string(cfg.Mode)),
		metrics:   deps.Metrics,
		createdAt: time.Now(),
		state:     StateIdle,
	}, nil
}

func (s *Session) ID() string            { return s.id }
func (s *Session) Config() SessionConfig { return s.cfg }
func (s *Session) Mode() Mode            { return s.cfg.Mode }
func (s *Session) Shape() OutputShape {
	if s.strategy == nil {
		return SingleFile
	}
	return s.strategy.Shape()
}
func (s *Session) CreatedAt() time.Time     { return s.createdAt }
func (s *Session) Versions() []VersionEntry { return s.history.List() }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

func (s *Session) Prompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompt
}

func (s *Session) Plan() Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plan
}

// Artifact returns a copy of the current files.
func (s *Session) Artifact() ArtifactSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.files.Clone()
}

func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

func (s *Session) Console() []ConsoleMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ConsoleMessage(nil), s.console...)
}

func (s *Session) PendingTest() *TestProposal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingTest == nil {
		return nil
	}
	p := *s.pendingTest
	return &p
}

// RecordConsole stores a console message of the rendered artifact. It may be called at
// any time, including while an operation runs.
func (s *Session) RecordConsole(msg ConsoleMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.console = append(s.console, msg)
}

// ConsoleSink returns the current artifact with a recorder bound to it. Messages passed
// to the recorder after the artifact was replaced are dropped.
func (s *Session) ConsoleSink() (ArtifactSet, func(ConsoleMessage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gen := s.consoleGen
	return s.files.Clone(), func(msg ConsoleMessage) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.consoleGen != gen {
			return
		}
		s.console = append(s.console, msg)
	}
}

// Start plans prompt. It is allowed before generation started, so a rejected plan can
// be replaced. On failure the session returns to the state it was in.
func (s *Session) Start(ctx context.Context, prompt string) (Plan, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	prev, err := s.begin("plan", StateIdle, StateAwaitingConfirmation)
	if err != nil {
		return nil, err
	}
	defer s.end()

	s.appendMessage(RoleUser, MessagePrompt, prompt)
	if err := s.moveTo(StatePlanning); err != nil {
		return nil, err
	}

	start := time.Now()
	plan, err := RunPlanning(ctx, s.registry, s.call(s.cfg.Backend), prompt, s.cfg.Mode)
	s.observe(StepPlan, start, err)
	if err != nil {
		s.recover(prev, err)
		s.fail(StepPlan, err)
		return nil, err
	}

	s.mu.Lock()
	s.prompt = prompt
	s.plan = plan
	s.mu.Unlock()
	s.appendMessage(RoleAssistant, MessagePlan, describePlan(plan))
	if err := s.moveTo(StateAwaitingConfirmation); err != nil {
		return nil, err
	}
	s.publisher.PublishStep(StepPlan)
	return plan, nil
}

// Confirm accepts the current plan and generates the artifact. The session then waits
// in the reviewing state for a screenshot.
func (s *Session) Confirm(ctx context.Context) (ArtifactSet, error) {
	if _, err := s.begin("generate", StateAwaitingConfirmation); err != nil {
		return nil, err
	}
	defer s.end()

	if err := s.moveTo(StateGenerating); err != nil {
		return nil, err
	}
	start := time.Now()
	files, err := RunCodeGeneration(ctx, s.registry, s.call(s.cfg.Backend), s.Plan())
	s.observe(StepGenerate, start, err)
	if err != nil {
		s.recover(StateAwaitingConfirmation, err)
		s.fail(StepGenerate, err)
		return nil, err
	}

	s.install(files, "Before generation")
	s.appendMessage(RoleAssistant, MessageSummary, "Generated "+describeFiles(files)+".")
	if err := s.moveTo(StateReviewing); err != nil {
		return nil, err
	}
	s.publisher.PublishStep(StepGenerate)
	return files.Clone(), nil
}

// SubmitScreenshot resumes the pipeline once the sandbox rendered the artifact. The
// review may correct the artifact once; the result goes straight to testing.
func (s *Session) SubmitScreenshot(ctx context.Context, shot llm.Image) (ReviewOutcome, error) {
	if _, err := s.begin("review", StateReviewing); err != nil {
		return ReviewOutcome{}, err
	}
	defer s.end()

	start := time.Now()
	res, err := RunReview(ctx, s.strategy, s.call(s.cfg.reviewBackend()), s.Prompt(), s.Artifact(), shot)
	s.observe(StepReview, start, err)

	switch {
	case err != nil:
		s.soft(StepReview, "Visual review skipped, the result is usable but unreviewed.", err)
		res = ReviewResult{}
	case res.Changed:
		if err := s.moveTo(StateSelfCorrecting); err != nil {
			return ReviewOutcome{}, err
		}
		s.install(res.Files, "Before self-correction")
		s.appendMessage(RoleAssistant, MessageSummary, "Fixed after visual review: "+res.Summary)
		s.publisher.PublishStep(StepReview)
		s.publisher.PublishStep(StepSelfCorrect)
	default:
		s.appendMessage(RoleAssistant, MessageNote, "Visual review passed.")
		s.publisher.PublishStep(StepReview)
	}

	return ReviewOutcome{Review: res, Test: s.proposeTest(ctx)}, nil
}

// SkipReview continues without a screenshot, e.g. when the sandbox failed to render.
func (s *Session) SkipReview(ctx context.Context, reason string) (ReviewOutcome, error) {
	if _, err := s.begin("skip review", StateReviewing); err != nil {
		return ReviewOutcome{}, err
	}
	defer s.end()

	s.appendMessage(RoleAssistant, MessageNote, "Visual review skipped: "+reason+".")
	s.logger.Warn("Visual review skipped: " + reason)
	s.publisher.PublishStep(StepReview)
	return ReviewOutcome{Test: s.proposeTest(ctx)}, nil
}

// proposeTest enters testing and asks for a test. When none can be proposed the session
// becomes ready right away.
func (s *Session) proposeTest(ctx context.Context) *TestProposal {
	if err := s.moveTo(StateTesting); err != nil {
		return nil
	}
	start := time.Now()
	p, err := ProposeTest(ctx, s.strategy, s.call(s.cfg.Backend), s.Artifact())
	s.observe(StepTest, start, err)
	if err != nil {
		s.soft(StepTest, "Automated testing skipped.", err)
		if err := s.moveTo(StateReady); err == nil {
			s.publisher.PublishStep(StepReady)
		}
		return nil
	}

	s.mu.Lock()
	s.pendingTest = &p
	s.mu.Unlock()
	s.appendMessage(RoleAssistant, MessageNote, fmt.Sprintf("Testing: %s %s (%s)", p.Action, p.TargetSelector, p.Justification))
	s.publisher.PublishStep(StepTest)
	return &p
}

// ReportTest records the result of the proposed test and marks the session ready.
// A failed test is advisory only.
func (s *Session) ReportTest(ctx context.Context, report TestReport) error {
	if _, err := s.begin("report test", StateTesting); err != nil {
		return err
	}
	defer s.end()

	note := "Automated test passed."
	if !report.Passed {
		note = "Automated test did not pass."
	}
	if report.Note != "" {
		note += " " + report.Note
	}
	s.appendMessage(RoleAssistant, MessageNote, note)

	s.mu.Lock()
	s.pendingTest = nil
	s.mu.Unlock()
	if err := s.moveTo(StateReady); err != nil {
		return err
	}
	s.publisher.PublishStep(StepReady)
	return nil
}

// Refine applies a natural-language edit. The previous artifact is snapshotted before
// it is replaced; on failure nothing changes.
func (s *Session) Refine(ctx context.Context, request string) (RefinementResult, error) {
	request = strings.TrimSpace(request)
	if request == "" {
		return RefinementResult{}, ErrEmptyPrompt
	}
	if _, err := s.begin("refine", StateReady); err != nil {
		return RefinementResult{}, err
	}
	defer s.end()

	s.appendMessage(RoleUser, MessagePrompt, request)
	return s.mutate(StepRefine, "Before: "+shorten(request, 60), func(files ArtifactSet) (RefinementResult, error) {
		return RunRefinement(ctx, s.strategy, s.call(s.cfg.Backend), files, request)
	})
}

// Debug sends the captured console errors and warnings to a corrective call.
func (s *Session) Debug(ctx context.Context) (RefinementResult, error) {
	if _, err := s.begin("debug", StateReady); err != nil {
		return RefinementResult{}, err
	}
	defer s.end()

	var problems []ConsoleMessage
	for _, c := range s.Console() {
		if c.Severity == SeverityError || c.Severity == SeverityWarn {
			problems = append(problems, c)
		}
	}
	if len(problems) == 0 {
		return RefinementResult{}, ErrNothingToDebug
	}

	s.appendMessage(RoleUser, MessagePrompt, fmt.Sprintf("Fix %d console problem(s).", len(problems)))
	return s.mutate(StepDebug, "Before console fix", func(files ArtifactSet) (RefinementResult, error) {
		return RunDebug(ctx, s.strategy, s.call(s.cfg.Backend), files, problems)
	})
}

func (s *Session) mutate(step StepType, label string, run func(ArtifactSet) (RefinementResult, error)) (RefinementResult, error) {
	if err := s.moveTo(StateRefining); err != nil {
		return RefinementResult{}, err
	}
	start := time.Now()
	res, err := run(s.Artifact())
	s.observe(step, start, err)
	if err != nil {
		_ = s.moveTo(StateReady)
		s.fail(step, err)
		return RefinementResult{}, err
	}

	s.install(res.Files, label)
	s.appendMessage(RoleAssistant, MessageSummary, describeChange(res))
	if err := s.moveTo(StateReady); err != nil {
		return RefinementResult{}, err
	}
	s.publisher.PublishStep(step)
	res.Files = res.Files.Clone()
	return res, nil
}

// Ask answers a question about the artifact without modifying it.
func (s *Session) Ask(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyPrompt
	}
	if _, err := s.begin("ask", StateReady); err != nil {
		return "", err
	}
	defer s.end()

	s.appendMessage(RoleUser, MessagePrompt, question)
	start := time.Now()
	answer, err := AskAboutCode(ctx, s.strategy, s.call(s.cfg.Backend), s.Artifact(), question)
	s.observe(StepAsk, start, err)
	if err != nil {
		s.fail(StepAsk, err)
		return "", err
	}
	s.appendMessage(RoleAssistant, MessageAnswer, answer)
	s.publisher.PublishStep(StepAsk)
	return answer, nil
}

// Revert installs the artifact of a history entry. The revert itself is not recorded
// in the history, so the entry list is unchanged.
func (s *Session) Revert(ctx context.Context, versionID string) (ArtifactSet, error) {
	if _, err := s.begin("revert", StateReady); err != nil {
		return nil, err
	}
	defer s.end()

	entry, err := s.history.Get(versionID)
	if err != nil {
		return nil, err
	}
	files, err := s.history.Revert(entry)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.files = files
	s.console = nil
	s.consoleGen++
	s.mu.Unlock()
	s.appendMessage(RoleAssistant, MessageNote, fmt.Sprintf("Reverted to the version saved %s (%s).", entry.CreatedAt.Format(time.Kitchen), entry.Label))
	s.logger.Info("Reverted to version " + entry.ID)
	s.publisher.PublishStep(StepRevert)
	return files.Clone(), nil
}

func (s *Session) begin(op string, allowed ...State) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return "", ErrBusy
	}
	for _, st := range allowed {
		if s.state == st {
			s.busy = true
			return s.state, nil
		}
	}
	return "", &StateError{Op: op, State: s.state}
}

func (s *Session) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
}

func (s *Session) moveTo(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !canTransition(s.state, to) {
		s.logger.Error(fmt.Sprintf("Illegal transition from %s to %s", s.state, to))
		return &StateError{Op: "move to " + string(to), State: s.state}
	}
	s.logger.Debug(fmt.Sprintf("Transitioning from %s to %s", s.state, to))
	s.state = to
	return nil
}

// recover restores prev after a failed stage, or fails the session for good when the
// mode has no strategy.
func (s *Session) recover(prev State, err error) {
	var unsupported *UnsupportedModeError
	if errors.As(err, &unsupported) {
		_ = s.moveTo(StateFailed)
		return
	}
	_ = s.moveTo(prev)
}

// install replaces the artifact, snapshotting the previous one if there was one.
func (s *Session) install(files ArtifactSet, label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.files != nil {
		s.history.Snapshot(s.files, label)
	}
	s.files = files.Clone()
	s.console = nil
	s.consoleGen++
}

func (s *Session) call(backend string) Call {
	return Call{Invoker: s.invoker, Backend: backend, Agent: s.cfg.Agent}
}

func (s *Session) appendMessage(role Role, kind MessageKind, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, Message{Role: role, Kind: kind, Content: content, Time: time.Now()})
}

func (s *Session) observe(step StepType, start time.Time, err error) {
	d := time.Since(start)
	s.metrics.ObserveStage(string(s.cfg.Mode), step.String(), d, err)
	if err == nil {
		s.logger.Info(fmt.Sprintf("Step %v completed in %v", step, d))
	}
}

// fail reports a stage failure as one conversation message.
func (s *Session) fail(step StepType, err error) {
	s.logger.WithField("step", step.String()).Error(err.Error())
	s.appendMessage(RoleAssistant, MessageError, UserMessage(s.cfg.Mode, err))
	s.publisher.Error(step, err)
}

// soft reports a failure that does not stop the pipeline.
func (s *Session) soft(step StepType, note string, err error) {
	s.logger.WithField("step", step.String()).Warn(err.Error())
	s.appendMessage(RoleAssistant, MessageNote, note)
	s.publisher.PublishStep(step)
}

func describePlan(p Plan) string {
	h := p.Header()
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%s", h.Title, h.Description)
	bullets := func(items ...string) {
		for _, it := range items {
			fmt.Fprintf(&b, "\n- %s", it)
		}
	}
	switch v := p.(type) {
	case WebAppPlan:
		bullets(v.Features...)
	case NativeAppPlan:
		bullets(v.Screens...)
		bullets(v.Features...)
	case ComponentPlan:
		for _, pr := range v.Props {
			bullets(pr.Name + " (" + pr.Type + ")")
		}
	case FormPlan:
		for _, f := range v.Fields {
			bullets(f.Label + " [" + f.Type + "]")
		}
	case DocumentPlan:
		for _, sec := range v.Sections {
			bullets(sec.Heading)
		}
	case FlashcardPlan:
		fmt.Fprintf(&b, "\n%d cards on %s", len(v.Cards), v.Topic)
	case ScaffoldPlan:
		for _, f := range v.Files {
			bullets(f.Path)
		}
	case MultiFilePlan:
		for _, f := range v.Files {
			bullets(f.Path)
		}
	case FullStackPlan:
		for _, e := range v.Endpoints {
			bullets(e.Method + " " + e.Path)
		}
	}
	return b.String()
}

func describeFiles(files ArtifactSet) string {
	if len(files) == 1 {
		return files.Paths()[0]
	}
	return fmt.Sprintf("%d files", len(files))
}

func describeChange(res RefinementResult) string {
	msg := res.Summary
	if len(res.FilesEdited) > 0 {
		msg += "\nFiles edited: " + strings.Join(res.FilesEdited, ", ")
	}
	return msg
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
