package sandbox

import (
	"context"
	"os"
	"testing"

	"github.com/chromedp/cdproto/runtime"
	"github.com/santiagomed/forge/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryPoint(t *testing.T) {
	entry, files, err := entryPoint(core.ArtifactSet{"index.html": "<p>", "app.js": ""})
	require.NoError(t, err)
	assert.Equal(t, "index.html", entry)
	assert.Len(t, files, 2)

	entry, _, err = entryPoint(core.ArtifactSet{"client/public/index.html": "", "public/index.html": "", "server.js": ""})
	require.NoError(t, err)
	assert.Equal(t, "public/index.html", entry)

	src := core.ArtifactSet{"App.js": "export default function App() { return null }"}
	entry, files, err = entryPoint(src)
	require.NoError(t, err)
	assert.Equal(t, harnessPath, entry)
	assert.Contains(t, files[harnessPath], `fetch("../App.js")`)
	assert.NotContains(t, src, harnessPath, "the caller's artifact is not modified")

	_, _, err = entryPoint(core.ArtifactSet{"main.go": "package main"})
	assert.ErrorIs(t, err, ErrNothingToRender)
}

func TestConsoleMessage(t *testing.T) {
	msg := consoleMessage("warning", []*runtime.RemoteObject{
		{Type: "string", Value: []byte(`"deprecated"`)},
		{Type: "number", Value: []byte(`42`)},
		{Type: "object", Description: "HTMLDivElement"},
	})
	assert.Equal(t, core.SeverityWarn, msg.Severity)
	assert.Equal(t, []string{"deprecated", "42", "HTMLDivElement"}, msg.Args)

	assert.Equal(t, core.SeverityError, severity("error"))
	assert.Equal(t, core.SeverityError, severity("assert"))
	assert.Equal(t, core.SeverityLog, severity("info"))
}

func TestExceptionText(t *testing.T) {
	assert.Equal(t, "uncaught exception", exceptionText(nil))
	assert.Equal(t, "Uncaught", exceptionText(&runtime.ExceptionDetails{Text: "Uncaught"}))
	assert.Equal(t, "ReferenceError: x is not defined", exceptionText(&runtime.ExceptionDetails{
		Text:      "Uncaught",
		Exception: &runtime.RemoteObject{Description: "ReferenceError: x is not defined"},
	}))
}

func TestInteraction(t *testing.T) {
	for _, a := range []string{"click", "type", "hover", "submit"} {
		act, err := interaction(core.TestProposal{TargetSelector: "#x", Action: a})
		require.NoError(t, err, a)
		assert.NotNil(t, act)
	}
	_, err := interaction(core.TestProposal{TargetSelector: "#x", Action: "drag"})
	assert.Error(t, err)
}

func TestServe(t *testing.T) {
	b := NewBrowser(Options{}, nil)
	defer b.Close()

	page, stop, err := b.serve(core.ArtifactSet{"App.js": "export default () => null"})
	require.NoError(t, err)
	defer stop()
	assert.Contains(t, page, "http://127.0.0.1:")
	assert.Contains(t, page, harnessPath)
}

// TestBrowser_Render needs a local Chrome; set FORGE_CHROME to its path to run it.
func TestBrowser_Render(t *testing.T) {
	chrome := os.Getenv("FORGE_CHROME")
	if chrome == "" {
		t.Skip("FORGE_CHROME not set")
	}
	b := NewBrowser(Options{ExecPath: chrome, Headless: true}, nil)
	defer b.Close()

	files := core.ArtifactSet{"index.html": `<html><body><button id="b" onclick="undefinedFn()">go</button><script>console.warn("careful")</script></body></html>`}
	var console []core.ConsoleMessage
	shot, err := b.Render(context.Background(), files, func(m core.ConsoleMessage) { console = append(console, m) })
	require.NoError(t, err)
	assert.Equal(t, "image/png", shot.MIMEType)
	assert.NotEmpty(t, shot.Data)
	assert.Contains(t, console, core.ConsoleMessage{Severity: core.SeverityWarn, Args: []string{"careful"}})

	report, err := b.Run(context.Background(), files, core.TestProposal{TargetSelector: "#b", Action: "click"})
	require.NoError(t, err)
	assert.False(t, report.Passed)
}
