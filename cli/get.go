package cli

import (
	"archive/zip"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/santiagomed/forge/core"
	"github.com/santiagomed/forge/fs"
)

type progressMsg float64

type progressErrMsg struct{ err error }

type downloadCompleteMsg struct{}

type getFlags struct {
	server string
	out    string
}

const (
	downloading = iota
	prompting
)

// getCmdModel downloads the artifact of a server session and unpacks it into a
// directory chosen by the user.
type getCmdModel struct {
	pw          *progressWriter
	progress    progress.Model
	path        string
	defaultName string
	textinput   textinput.Model
	state       int
	err         error
}

func newGetCmdModel(pw *progressWriter, path, defaultName string) getCmdModel {
	ti := textinput.New()
	ti.Placeholder = defaultName
	ti.Focus()
	ti.CharLimit = 156
	ti.Width = 40

	return getCmdModel{
		pw:          pw,
		progress:    progress.New(progress.WithGradient("#FFBA08", "#F48C06")),
		textinput:   ti,
		path:        path,
		defaultName: defaultName,
		state:       downloading,
	}
}

func (m getCmdModel) Init() tea.Cmd {
	return nil
}

func (m getCmdModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyEscape || msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		if msg.Type == tea.KeyEnter && m.state == prompting {
			name := strings.TrimSpace(m.textinput.Value())
			if name == "" {
				name = m.defaultName
			}
			return m.handleSave(name)
		}
	case tea.WindowSizeMsg:
		m.progress.Width = msg.Width - padding*2 - 4
		if m.progress.Width > maxWidth {
			m.progress.Width = maxWidth
		}
		return m, nil

	case progressErrMsg:
		m.err = msg.err
		return m, tea.Quit

	case progressMsg:
		var cmds []tea.Cmd
		if msg >= 1.0 {
			cmds = append(cmds, tea.Sequence(finalPause(), func() tea.Msg {
				return downloadCompleteMsg{}
			}))
		}
		cmds = append(cmds, m.progress.SetPercent(float64(msg)))
		return m, tea.Batch(cmds...)

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		return m, cmd

	case downloadCompleteMsg:
		m.state = prompting
		return m, textinput.Blink
	}
	var cmd tea.Cmd
	m.textinput, cmd = m.textinput.Update(msg)
	return m, cmd
}

func (m getCmdModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("Error: %v\n", m.err)
	}
	if m.state == prompting {
		return fmt.Sprintf("\nSave into directory: %s", m.textinput.View())
	}
	pad := strings.Repeat(" ", padding)
	return "\n" +
		pad + m.progress.View() + "\n\n" +
		pad + helpStyle("Press esc to quit")
}

func finalPause() tea.Cmd {
	return tea.Tick(time.Millisecond*750, func(_ time.Time) tea.Msg {
		return nil
	})
}

func (m getCmdModel) handleSave(dir string) (tea.Model, tea.Cmd) {
	files, err := unzip(m.path, dir)
	if err != nil {
		m.err = err
		return m, tea.Quit
	}
	return m, tea.Sequence(
		tea.Printf("%s Saved %d file(s) to %s", checkStyle.Render("✓"), files, accent.Render(dir)),
		tea.Quit,
	)
}

func downloadFile(url string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Add("Accept", "application/zip")

	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("session not found on the server")
	case http.StatusConflict:
		resp.Body.Close()
		return nil, fmt.Errorf("the session has not generated anything yet")
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "application/zip" {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected content type: %s", ct)
	}
	return resp, nil
}

var helpStyle = faint.Render

const (
	padding  = 2
	maxWidth = 80
)

// progressWriter counts the bytes copied from reader into file. total may be unknown
// (zero) for streamed archives, in which case progress jumps to done at the end.
type progressWriter struct {
	total      int
	downloaded int
	file       *os.File
	reader     io.Reader
	onProgress func(float64)
}

func (pw *progressWriter) Start(p *tea.Program) {
	// TeeReader calls pw.Write() each time a new response is received
	_, err := io.Copy(pw.file, io.TeeReader(pw.reader, pw))
	if err != nil {
		p.Send(progressErrMsg{err})
		return
	}
	if pw.total <= 0 && pw.onProgress != nil {
		pw.onProgress(1)
	}
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	pw.downloaded += len(p)
	if pw.total > 0 && pw.onProgress != nil {
		pw.onProgress(float64(pw.downloaded) / float64(pw.total))
	}
	return len(p), nil
}

// unzip extracts src below dest and returns the number of files written. Entries that
// would escape dest are rejected.
func unzip(src, dest string) (int, error) {
	r, err := zip.OpenReader(src)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	if err := os.MkdirAll(dest, 0755); err != nil {
		return 0, err
	}
	out := fs.NewOsFileSystem(dest)

	count := 0
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name, err := core.CleanPath(f.Name)
		if err != nil {
			return count, err
		}
		rc, err := f.Open()
		if err != nil {
			return count, err
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return count, err
		}
		if err := out.WriteFile(name, string(content)); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}
