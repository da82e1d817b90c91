package sandbox

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/santiagomed/forge/core"
	"github.com/santiagomed/forge/fs"
	"github.com/santiagomed/forge/llm"
	"github.com/santiagomed/forge/logger"
)

type Options struct {
	// RemoteURL attaches to a running browser's DevTools websocket instead of starting one.
	RemoteURL string        `mapstructure:"remote_url"`
	ExecPath  string        `mapstructure:"exec_path"`
	Headless  bool          `mapstructure:"headless"`
	Width     int64         `mapstructure:"width"`
	Height    int64         `mapstructure:"height"`
	Settle    time.Duration `mapstructure:"settle"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

func DefaultOptions() Options {
	return Options{
		Headless: true,
		Width:    1280,
		Height:   800,
		Settle:   1500 * time.Millisecond,
		Timeout:  45 * time.Second,
	}
}

// Browser renders artifacts in headless Chrome. It implements core.Renderer and
// core.TestRunner.
type Browser struct {
	opts     Options
	allocCtx context.Context
	cancel   context.CancelFunc
	logger   logger.Logger
}

func NewBrowser(opts Options, l logger.Logger) *Browser {
	if l == nil {
		l = logger.NewNullLogger()
	}
	def := DefaultOptions()
	if opts.Width == 0 || opts.Height == 0 {
		opts.Width, opts.Height = def.Width, def.Height
	}
	if opts.Settle == 0 {
		opts.Settle = def.Settle
	}
	if opts.Timeout == 0 {
		opts.Timeout = def.Timeout
	}

	var allocCtx context.Context
	var cancel context.CancelFunc
	if opts.RemoteURL != "" {
		allocCtx, cancel = chromedp.NewRemoteAllocator(context.Background(), opts.RemoteURL)
	} else {
		allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", opts.Headless),
			chromedp.WindowSize(int(opts.Width), int(opts.Height)),
		)
		if opts.ExecPath != "" {
			allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
		}
		allocCtx, cancel = chromedp.NewExecAllocator(context.Background(), allocOpts...)
	}
	return &Browser{opts: opts, allocCtx: allocCtx, cancel: cancel, logger: l.WithField("component", "sandbox")}
}

// Close shuts the browser down.
func (b *Browser) Close() {
	b.cancel()
}

// Render opens the artifact, forwards the console output emitted while it loads and
// returns a PNG screenshot of the settled page.
func (b *Browser) Render(ctx context.Context, files core.ArtifactSet, onConsole func(core.ConsoleMessage)) (llm.Image, error) {
	page, stop, err := b.serve(files)
	if err != nil {
		return llm.Image{}, err
	}
	defer stop()

	tabCtx, cancel := b.tab(ctx)
	defer cancel()
	listenConsole(tabCtx, onConsole)

	var shot []byte
	err = chromedp.Run(tabCtx,
		chromedp.EmulateViewport(b.opts.Width, b.opts.Height),
		chromedp.Navigate(page),
		chromedp.Sleep(b.opts.Settle),
		chromedp.CaptureScreenshot(&shot),
	)
	if err != nil {
		return llm.Image{}, fmt.Errorf("render %s: %w", page, err)
	}
	b.logger.Debug(fmt.Sprintf("Rendered %s (%d bytes)", page, len(shot)))
	return llm.Image{MIMEType: "image/png", Data: shot}, nil
}

// Run performs the proposed interaction. The test fails when the target is missing or
// the page throws while handling it.
func (b *Browser) Run(ctx context.Context, files core.ArtifactSet, p core.TestProposal) (core.TestReport, error) {
	action, err := interaction(p)
	if err != nil {
		return core.TestReport{}, err
	}
	page, stop, err := b.serve(files)
	if err != nil {
		return core.TestReport{}, err
	}
	defer stop()

	tabCtx, cancel := b.tab(ctx)
	defer cancel()

	var mu sync.Mutex
	var thrown []string
	acting := false
	listenConsole(tabCtx, func(m core.ConsoleMessage) {
		mu.Lock()
		defer mu.Unlock()
		if acting && m.Severity == core.SeverityError {
			thrown = append(thrown, strings.Join(m.Args, " "))
		}
	})

	err = chromedp.Run(tabCtx,
		chromedp.Navigate(page),
		chromedp.WaitVisible(p.TargetSelector, chromedp.ByQuery),
		chromedp.ActionFunc(func(context.Context) error {
			mu.Lock()
			acting = true
			mu.Unlock()
			return nil
		}),
		action,
		chromedp.Sleep(b.opts.Settle/2),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return core.TestReport{Passed: false, Note: fmt.Sprintf("%s never became visible", p.TargetSelector)}, nil
		}
		return core.TestReport{Passed: false, Note: err.Error()}, nil
	}

	mu.Lock()
	defer mu.Unlock()
	if len(thrown) > 0 {
		return core.TestReport{Passed: false, Note: "The page threw: " + strings.Join(thrown, "; ")}, nil
	}
	return core.TestReport{Passed: true, Note: fmt.Sprintf("%s on %s completed without errors.", p.Action, p.TargetSelector)}, nil
}

func interaction(p core.TestProposal) (chromedp.Action, error) {
	sel := p.TargetSelector
	switch p.Action {
	case "click":
		return chromedp.Click(sel, chromedp.ByQuery), nil
	case "type":
		return chromedp.SendKeys(sel, p.Value, chromedp.ByQuery), nil
	case "submit":
		return chromedp.Submit(sel, chromedp.ByQuery), nil
	case "hover":
		js := fmt.Sprintf(`document.querySelector(%s).dispatchEvent(new MouseEvent("mouseover", {bubbles: true}))`, strconv.Quote(sel))
		var dispatched bool
		return chromedp.Evaluate(js, &dispatched), nil
	default:
		return nil, fmt.Errorf("unknown test action %q", p.Action)
	}
}

func (b *Browser) tab(ctx context.Context) (context.Context, context.CancelFunc) {
	tabCtx, cancelTab := chromedp.NewContext(b.allocCtx)
	timeoutCtx, cancelTimeout := context.WithTimeout(tabCtx, b.opts.Timeout)
	stopOnParent := context.AfterFunc(ctx, cancelTab)
	return timeoutCtx, func() {
		stopOnParent()
		cancelTimeout()
		cancelTab()
	}
}

// serve exposes files on a loopback port and returns the URL of the entry page.
func (b *Browser) serve(files core.ArtifactSet) (string, func(), error) {
	entry, files, err := entryPoint(files)
	if err != nil {
		return "", nil, err
	}
	mem, err := fs.FromArtifact(files)
	if err != nil {
		return "", nil, err
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, fmt.Errorf("sandbox listen: %w", err)
	}
	srv := &http.Server{Handler: mem.HTTPHandler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.logger.Warn(fmt.Sprintf("Sandbox server stopped: %v", err))
		}
	}()

	page := "http://" + ln.Addr().String() + "/"
	if entry != "index.html" {
		page += entry
	}
	return page, func() { _ = srv.Close() }, nil
}

func listenConsole(ctx context.Context, onConsole func(core.ConsoleMessage)) {
	if onConsole == nil {
		return
	}
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *runtime.EventConsoleAPICalled:
			onConsole(consoleMessage(string(e.Type), e.Args))
		case *runtime.EventExceptionThrown:
			onConsole(core.ConsoleMessage{Severity: core.SeverityError, Args: []string{exceptionText(e.ExceptionDetails)}})
		}
	})
}

func consoleMessage(kind string, args []*runtime.RemoteObject) core.ConsoleMessage {
	msg := core.ConsoleMessage{Severity: severity(kind)}
	for _, a := range args {
		msg.Args = append(msg.Args, remoteText(a))
	}
	return msg
}

func severity(kind string) core.Severity {
	switch kind {
	case "error", "assert":
		return core.SeverityError
	case "warning":
		return core.SeverityWarn
	default:
		return core.SeverityLog
	}
}

func remoteText(o *runtime.RemoteObject) string {
	if o == nil {
		return ""
	}
	if len(o.Value) > 0 {
		raw := string(o.Value)
		if s, err := strconv.Unquote(raw); err == nil {
			return s
		}
		return raw
	}
	if o.Description != "" {
		return o.Description
	}
	return string(o.Type)
}

func exceptionText(d *runtime.ExceptionDetails) string {
	if d == nil {
		return "uncaught exception"
	}
	if d.Exception != nil && d.Exception.Description != "" {
		return d.Exception.Description
	}
	return d.Text
}
