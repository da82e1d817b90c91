package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/list"
	"github.com/santiagomed/forge/core"
	"github.com/santiagomed/forge/deploy"
	"github.com/santiagomed/forge/fs"
	"github.com/santiagomed/forge/logger"
)

type state int

const (
	Input state = iota
	Planning
	Confirming
	Generating
	Ready
	Working
	Finished
)

type genFlags struct {
	mode          string
	backend       string
	visionBackend string
	agent         string
	out           string
}

type resultMsg Result

var (
	faint      = lipgloss.NewStyle().Faint(true)
	accent     = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFBA08"))
	checkStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

type generateCmdModel struct {
	textInput      textinput.Model
	spinner        spinner.Model
	state          state
	app            *App
	session        *core.Session
	engine         *Engine
	engineCtx      context.Context
	engineCancel   context.CancelFunc
	publisher      *CliStepPublisher
	completedSteps []core.StepType
	flags          genFlags
	logger         logger.Logger
}

func newGenerateModel(app *App, f genFlags) (generateCmdModel, error) {
	ti := textinput.New()
	ti.Placeholder = "Describe what to build..."
	ti.Focus()
	ti.CharLimit = 1000
	ti.Width = 80

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("202"))

	publisher := NewCliStepPublisher(app.Logger)
	session, err := app.NewSession(f.mode, f.backend, f.visionBackend, f.agent, publisher)
	if err != nil {
		return generateCmdModel{}, err
	}

	engine := NewEngine(app.Logger, 1, app.Config.Server.CallTimeout)
	ctx, cancel := context.WithCancel(context.Background())
	engine.Start(ctx)

	return generateCmdModel{
		textInput:    ti,
		spinner:      s,
		state:        Input,
		app:          app,
		session:      session,
		engine:       engine,
		engineCtx:    ctx,
		engineCancel: cancel,
		publisher:    publisher,
		flags:        f,
		logger:       app.Logger,
	}, nil
}

func (m generateCmdModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.publisher.next)
}

func (m generateCmdModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	if m.state == Finished {
		return m, tea.Quit
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if model, cmd := m.handleKeyPress(msg); cmd != nil {
			return model, cmd
		}
	case stepMsg:
		m.completedSteps = append(m.completedSteps, core.StepType(msg))
		return m, tea.Batch(m.spinner.Tick, m.publisher.next)
	case stepErrMsg:
		m.logger.Debug(fmt.Sprintf("Step %v failed: %v", msg.step, msg.err))
		return m, m.publisher.next
	case resultMsg:
		return m.handleResult(Result(msg))
	case spinner.TickMsg:
		if m.busy() {
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil
	}

	if m.busy() {
		return m, nil
	}
	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func (m generateCmdModel) busy() bool {
	return m.state == Planning || m.state == Generating || m.state == Working
}

func (m generateCmdModel) View() string {
	switch m.state {
	case Input:
		return fmt.Sprintf("%s %s\n\n%s", accent.Render(m.session.Mode().Label()+" >"), m.textInput.View(),
			faint.Render("(press enter to plan or esc to quit)"))
	case Planning:
		return fmt.Sprintf("%s Planning your %s", m.spinner.View(), m.session.Mode().Label())
	case Confirming:
		return fmt.Sprintf("Build this %s? %s", m.session.Mode().Label(), faint.Render("(y to build, n to describe it again, esc to quit)"))
	case Generating:
		return m.progressView()
	case Working:
		return fmt.Sprintf("%s Working", m.spinner.View())
	case Ready:
		return fmt.Sprintf("%s %s\n\n%s", accent.Render(">"), m.textInput.View(),
			faint.Render("Describe a change, or /ask /fix /history /undo /revert <id> /save [dir] /zip [file] /deploy <target> <dest> /quit"))
	case Finished:
		return ""
	default:
		return "An error occurred."
	}
}

// progressView lists the generation stages, checked off as the session publishes them.
func (m generateCmdModel) progressView() string {
	steps := []struct {
		step    core.StepType
		present string
		past    string
	}{
		{core.StepGenerate, "Generating code.", "Generated code."},
		{core.StepReview, "Reviewing the rendered result.", "Reviewed the rendered result."},
		{core.StepTest, "Testing an interaction.", "Tested an interaction."},
		{core.StepReady, "Finishing up.", "Ready."},
	}
	done := make(map[core.StepType]bool)
	for _, s := range m.completedSteps {
		done[s] = true
	}

	l := list.New()
	l.Enumerator(func(items list.Items, i int) string {
		if done[steps[i].step] {
			return checkStyle.Render("✓")
		}
		return m.spinner.View()
	})
	for _, s := range steps {
		if done[s.step] {
			l.Item(s.past)
			continue
		}
		l.Item(s.present)
		break
	}
	return fmt.Sprint(l)
}

func (m *generateCmdModel) Shutdown() {
	m.engineCancel()
	m.engine.Shutdown(5 * time.Second)
}

func (m *generateCmdModel) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyEsc {
		return m.handleQuit()
	}
	switch m.state {
	case Input:
		if msg.Type == tea.KeyEnter {
			return m.handlePrompt()
		}
	case Confirming:
		return m.handleConfirm(msg)
	case Ready:
		if msg.Type == tea.KeyEnter {
			return m.handleCommand(strings.TrimSpace(m.textInput.Value()))
		}
	}
	return m, nil
}

func (m *generateCmdModel) handlePrompt() (tea.Model, tea.Cmd) {
	v := strings.TrimSpace(m.textInput.Value())
	if v == "" {
		return m, tea.Sequence(tea.Printf("%s", faint.Render("Nothing described. Exiting...")), tea.Quit)
	}
	m.textInput.SetValue("")
	m.state = Planning
	plan := m.submit("plan", func(ctx context.Context) (string, error) {
		if _, err := m.session.Start(ctx, v); err != nil {
			return "", err
		}
		return lastMessage(m.session, core.MessagePlan), nil
	})
	return m, tea.Batch(tea.Printf("%s", faint.Width(80).Render("> "+v)), m.spinner.Tick, plan)
}

func (m *generateCmdModel) handleConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch strings.ToLower(msg.String()) {
	case "y", "enter":
		m.state = Generating
		m.completedSteps = nil
		build := m.submit("generate", func(ctx context.Context) (string, error) {
			files, err := m.session.Confirm(ctx)
			if err != nil {
				return "", err
			}
			if err := m.app.Pipeline.Finish(ctx, m.session, files); err != nil {
				return "", err
			}
			return m.describeArtifact(), nil
		})
		return m, tea.Batch(m.spinner.Tick, build)
	case "n":
		m.state = Input
		return m, textinput.Blink
	}
	return m, nil
}

// handleCommand runs a slash command, or treats the line as a refinement request.
func (m *generateCmdModel) handleCommand(line string) (tea.Model, tea.Cmd) {
	if line == "" {
		return m, nil
	}
	m.textInput.SetValue("")
	echo := tea.Printf("%s", faint.Width(80).Render("> "+line))

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	var run func(ctx context.Context) (string, error)

	switch name {
	case "/quit", "/exit":
		return m.handleQuit()
	case "/history":
		return m, tea.Sequence(echo, tea.Printf("%s", m.describeHistory()))
	case "/save":
		out, err := m.save(arg)
		return m, tea.Sequence(echo, printResult(out, err))
	case "/zip":
		out, err := m.zip(arg)
		return m, tea.Sequence(echo, printResult(out, err))
	case "/ask":
		run = func(ctx context.Context) (string, error) { return m.session.Ask(ctx, arg) }
	case "/fix":
		run = func(ctx context.Context) (string, error) {
			res, err := m.session.Debug(ctx)
			if err != nil {
				return "", err
			}
			m.refresh(ctx)
			return res.Summary, nil
		}
	case "/undo", "/revert":
		run = func(ctx context.Context) (string, error) { return m.revert(ctx, arg) }
	case "/deploy":
		run = func(ctx context.Context) (string, error) { return m.deploy(ctx, arg) }
	default:
		if strings.HasPrefix(name, "/") {
			return m, tea.Sequence(echo, tea.Printf("%s", warnStyle.Render("Unknown command "+name)))
		}
		run = func(ctx context.Context) (string, error) {
			res, err := m.session.Refine(ctx, line)
			if err != nil {
				return "", err
			}
			m.refresh(ctx)
			return res.Summary, nil
		}
	}

	m.state = Working
	return m, tea.Batch(echo, m.spinner.Tick, m.submit(name, run))
}

func (m *generateCmdModel) handleResult(r Result) (tea.Model, tea.Cmd) {
	m.logger.Debug(fmt.Sprintf("Finished %s", r.Name))
	if r.Err != nil {
		msg := warnStyle.Render(core.UserMessage(m.session.Mode(), r.Err))
		m.state = m.settledState()
		if m.state == Finished {
			return m, tea.Sequence(tea.Printf("%s", msg), tea.Quit)
		}
		return m, tea.Batch(tea.Printf("%s", msg), textinput.Blink)
	}

	m.state = m.settledState()
	if r.Output == "" {
		return m, textinput.Blink
	}
	return m, tea.Batch(tea.Printf("%s", r.Output), textinput.Blink)
}

// settledState maps the session state back to the interface state that accepts input.
func (m *generateCmdModel) settledState() state {
	switch m.session.State() {
	case core.StateIdle:
		return Input
	case core.StateAwaitingConfirmation:
		return Confirming
	case core.StateFailed:
		return Finished
	default:
		return Ready
	}
}

func (m *generateCmdModel) handleQuit() (tea.Model, tea.Cmd) {
	m.logger.Debug("User exited the application")
	m.state = Finished
	return m, tea.Sequence(tea.Printf("%s", faint.Render("Exiting...")), tea.Quit)
}

func (m *generateCmdModel) submit(name string, run func(ctx context.Context) (string, error)) tea.Cmd {
	ch := m.engine.AddRequest(name, run)
	return func() tea.Msg {
		return resultMsg(<-ch)
	}
}

// refresh re-renders the artifact so /fix sees the console output of the current version.
func (m *generateCmdModel) refresh(ctx context.Context) {
	if err := m.app.Pipeline.Refresh(ctx, m.session); err != nil {
		m.logger.Warn(fmt.Sprintf("Refresh failed: %v", err))
	}
}

func (m *generateCmdModel) revert(ctx context.Context, id string) (string, error) {
	versions := m.session.Versions()
	if id == "" {
		if len(versions) == 0 {
			return "", core.ErrVersionNotFound
		}
		id = versions[len(versions)-1].ID
	} else {
		for _, v := range versions {
			if strings.HasPrefix(v.ID, id) {
				id = v.ID
				break
			}
		}
	}
	if _, err := m.session.Revert(ctx, id); err != nil {
		return "", err
	}
	m.refresh(ctx)
	return lastMessage(m.session, core.MessageNote), nil
}

func (m *generateCmdModel) deploy(ctx context.Context, arg string) (string, error) {
	target, dest, _ := strings.Cut(arg, " ")
	url, err := m.app.Deployers.Deploy(ctx, target, deploy.Target{
		Files:       m.session.Artifact(),
		Destination: strings.TrimSpace(dest),
		Token:       m.app.Credentials.DeployToken(target),
		Message:     "Deploy " + m.session.Mode().Label(),
	})
	if err != nil {
		return "", err
	}
	return checkStyle.Render("✓") + " Deployed to " + accent.Render(url), nil
}

func (m *generateCmdModel) save(dir string) (string, error) {
	if dir == "" {
		dir = m.outputDir()
	}
	files := m.session.Artifact()
	if err := fs.NewOsFileSystem(dir).WriteArtifact(files); err != nil {
		return "", err
	}
	tree, err := treeOf(files)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s Saved to %s\n%s", checkStyle.Render("✓"), accent.Render(dir), tree), nil
}

func (m *generateCmdModel) zip(path string) (string, error) {
	if path == "" {
		path = m.outputDir() + ".zip"
	}
	mfs, err := fs.FromArtifact(m.session.Artifact())
	if err != nil {
		return "", err
	}
	if err := mfs.WriteZipFile(path); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s Archive written to %s", checkStyle.Render("✓"), accent.Render(path)), nil
}

func (m *generateCmdModel) outputDir() string {
	if m.flags.out != "" {
		return m.flags.out
	}
	return filepath.Join(m.app.Config.OutputDir, fmt.Sprintf("%s-%s", m.session.Mode(), m.session.ID()[:8]))
}

func (m *generateCmdModel) describeArtifact() string {
	var b strings.Builder
	b.WriteString(lastMessage(m.session, core.MessageSummary))
	if tree, err := treeOf(m.session.Artifact()); err == nil {
		b.WriteString("\n" + tree)
	}
	for _, msg := range m.session.Messages() {
		if msg.Kind == core.MessageNote {
			b.WriteString("\n" + faint.Render(msg.Content))
		}
	}
	return b.String()
}

func (m *generateCmdModel) describeHistory() string {
	versions := m.session.Versions()
	if len(versions) == 0 {
		return faint.Render("No earlier versions yet.")
	}
	var b strings.Builder
	for _, v := range versions {
		fmt.Fprintf(&b, "%s  %s  %s\n", accent.Render(v.ID[:8]), v.CreatedAt.Format(time.Kitchen), v.Label)
	}
	return strings.TrimRight(b.String(), "\n")
}

func lastMessage(s *core.Session, kind core.MessageKind) string {
	msgs := s.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Kind == kind {
			return msgs[i].Content
		}
	}
	return ""
}

func treeOf(files core.ArtifactSet) (string, error) {
	mfs, err := fs.FromArtifact(files)
	if err != nil {
		return "", err
	}
	structure, err := mfs.ListFiles()
	if err != nil {
		return "", err
	}
	return fs.Tree(structure), nil
}

func printResult(out string, err error) tea.Cmd {
	if err != nil {
		return tea.Printf("%s", warnStyle.Render(err.Error()))
	}
	return tea.Printf("%s", out)
}
