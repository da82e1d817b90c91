package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/santiagomed/forge/core"
	"github.com/santiagomed/forge/deploy"
	"github.com/santiagomed/forge/fs"
	"github.com/santiagomed/forge/llm"
)

type createRequest struct {
	Mode          string `json:"mode"`
	Backend       string `json:"backend"`
	VisionBackend string `json:"vision_backend"`
	Agent         string `json:"agent"`
}

type promptRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

type confirmRequest struct {
	// Auto renders, reviews and tests on the server instead of waiting for a screenshot.
	Auto bool `json:"auto"`
}

type screenshotRequest struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data" binding:"required"`
}

type refineRequest struct {
	Request string `json:"request" binding:"required"`
}

type askRequest struct {
	Question string `json:"question" binding:"required"`
}

type revertRequest struct {
	VersionID string `json:"version_id" binding:"required"`
}

type deployRequest struct {
	Target      string `json:"target" binding:"required"`
	Destination string `json:"destination"`
	Token       string `json:"token"`
	Message     string `json:"message"`
}

type sessionView struct {
	ID          string                `json:"id"`
	Mode        core.Mode             `json:"mode"`
	Backend     string                `json:"backend"`
	Agent       string                `json:"agent,omitempty"`
	State       core.State            `json:"state"`
	Busy        bool                  `json:"busy"`
	Prompt      string                `json:"prompt,omitempty"`
	Plan        core.Plan             `json:"plan,omitempty"`
	Files       core.ArtifactSet      `json:"files,omitempty"`
	Messages    []core.Message        `json:"messages"`
	Console     []core.ConsoleMessage `json:"console,omitempty"`
	PendingTest *core.TestProposal    `json:"pending_test,omitempty"`
	Versions    int                   `json:"versions"`
	CreatedAt   time.Time             `json:"created_at"`
}

func view(s *core.Session) sessionView {
	v := sessionView{
		ID:          s.ID(),
		Mode:        s.Mode(),
		Backend:     s.Config().Backend,
		State:       s.State(),
		Busy:        s.Busy(),
		Prompt:      s.Prompt(),
		Plan:        s.Plan(),
		Files:       s.Artifact(),
		Messages:    s.Messages(),
		Console:     s.Console(),
		PendingTest: s.PendingTest(),
		Versions:    len(s.Versions()),
		CreatedAt:   s.CreatedAt(),
	}
	if a := s.Config().Agent; a != nil {
		v.Agent = a.ID
	}
	return v
}

func (s *Server) listModes(c *gin.Context) {
	type modeView struct {
		Mode  core.Mode `json:"mode"`
		Label string    `json:"label"`
		Shape string    `json:"shape"`
	}
	var out []modeView
	for _, m := range s.opts.Registry.Modes() {
		st, err := s.opts.Registry.Get(m)
		if err != nil {
			continue
		}
		out = append(out, modeView{Mode: m, Label: m.Label(), Shape: st.Shape().String()})
	}
	c.JSON(http.StatusOK, gin.H{"modes": out, "deploy_targets": s.opts.Deployers.Names()})
}

func (s *Server) createSession(c *gin.Context) {
	var req createRequest
	if c.Request.ContentLength != 0 && !bind(c, &req) {
		return
	}
	cfg, err := s.opts.Config.SessionConfig(req.Mode, req.Backend, req.VisionBackend, req.Agent)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h := newHub()
	sess, err := core.NewSession(cfg, core.Dependencies{
		Invoker:   s.opts.Invoker,
		Registry:  s.opts.Registry,
		Publisher: h,
		Logger:    s.opts.Logger,
		Metrics:   s.opts.Metrics,
	})
	if err != nil {
		s.writeError(c, cfg.Mode, err)
		return
	}
	h.session = sess
	s.sessions.Add(sess.ID(), &entry{session: sess, hub: h})
	s.opts.Metrics.SessionOpened()
	s.logger.Info(fmt.Sprintf("Session %s opened (%s, %s)", sess.ID(), cfg.Mode, cfg.Backend))
	c.JSON(http.StatusCreated, view(sess))
}

func (s *Server) getSession(c *gin.Context) {
	c.JSON(http.StatusOK, view(current(c).session))
}

func (s *Server) deleteSession(c *gin.Context) {
	s.sessions.Remove(current(c).session.ID())
	c.Status(http.StatusNoContent)
}

func (s *Server) listVersions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"versions": current(c).session.Versions()})
}

func (s *Server) plan(c *gin.Context) {
	var req promptRequest
	if !bind(c, &req) {
		return
	}
	sess := current(c).session
	ctx, cancel := s.callContext()
	defer cancel()
	if _, err := sess.Start(ctx, req.Prompt); err != nil {
		s.writeError(c, sess.Mode(), err)
		return
	}
	c.JSON(http.StatusOK, view(sess))
}

func (s *Server) confirm(c *gin.Context) {
	var req confirmRequest
	if c.Request.ContentLength != 0 && !bind(c, &req) {
		return
	}
	sess := current(c).session
	ctx, cancel := s.callContext()
	defer cancel()
	files, err := sess.Confirm(ctx)
	if err != nil {
		s.writeError(c, sess.Mode(), err)
		return
	}
	if req.Auto && s.opts.Pipeline != nil {
		if err := s.opts.Pipeline.Finish(ctx, sess, files); err != nil {
			s.writeError(c, sess.Mode(), err)
			return
		}
	}
	c.JSON(http.StatusOK, view(sess))
}

func (s *Server) screenshot(c *gin.Context) {
	var req screenshotRequest
	if !bind(c, &req) {
		return
	}
	if req.MIMEType == "" {
		req.MIMEType = "image/png"
	}
	sess := current(c).session
	ctx, cancel := s.callContext()
	defer cancel()
	outcome, err := sess.SubmitScreenshot(ctx, llm.Image{MIMEType: req.MIMEType, Data: req.Data})
	if err != nil {
		s.writeError(c, sess.Mode(), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"review": outcome.Review, "test": outcome.Test, "session": view(sess)})
}

func (s *Server) skipReview(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	if c.Request.ContentLength != 0 && !bind(c, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = "no screenshot available"
	}
	sess := current(c).session
	ctx, cancel := s.callContext()
	defer cancel()
	outcome, err := sess.SkipReview(ctx, req.Reason)
	if err != nil {
		s.writeError(c, sess.Mode(), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"test": outcome.Test, "session": view(sess)})
}

func (s *Server) testReport(c *gin.Context) {
	var req core.TestReport
	if !bind(c, &req) {
		return
	}
	sess := current(c).session
	ctx, cancel := s.callContext()
	defer cancel()
	if err := sess.ReportTest(ctx, req); err != nil {
		s.writeError(c, sess.Mode(), err)
		return
	}
	c.JSON(http.StatusOK, view(sess))
}

func (s *Server) refine(c *gin.Context) {
	var req refineRequest
	if !bind(c, &req) {
		return
	}
	sess := current(c).session
	ctx, cancel := s.callContext()
	defer cancel()
	res, err := sess.Refine(ctx, req.Request)
	if err != nil {
		s.writeError(c, sess.Mode(), err)
		return
	}
	s.refresh(sess)
	c.JSON(http.StatusOK, gin.H{"result": res, "session": view(sess)})
}

func (s *Server) debug(c *gin.Context) {
	sess := current(c).session
	ctx, cancel := s.callContext()
	defer cancel()
	res, err := sess.Debug(ctx)
	if err != nil {
		s.writeError(c, sess.Mode(), err)
		return
	}
	s.refresh(sess)
	c.JSON(http.StatusOK, gin.H{"result": res, "session": view(sess)})
}

func (s *Server) ask(c *gin.Context) {
	var req askRequest
	if !bind(c, &req) {
		return
	}
	sess := current(c).session
	ctx, cancel := s.callContext()
	defer cancel()
	answer, err := sess.Ask(ctx, req.Question)
	if err != nil {
		s.writeError(c, sess.Mode(), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"answer": answer})
}

func (s *Server) console(c *gin.Context) {
	var req core.ConsoleMessage
	if !bind(c, &req) {
		return
	}
	if req.Severity == "" {
		req.Severity = core.SeverityLog
	}
	current(c).session.RecordConsole(req)
	c.Status(http.StatusAccepted)
}

func (s *Server) revert(c *gin.Context) {
	var req revertRequest
	if !bind(c, &req) {
		return
	}
	sess := current(c).session
	ctx, cancel := s.callContext()
	defer cancel()
	if _, err := sess.Revert(ctx, req.VersionID); err != nil {
		s.writeError(c, sess.Mode(), err)
		return
	}
	s.refresh(sess)
	c.JSON(http.StatusOK, view(sess))
}

func (s *Server) deploy(c *gin.Context) {
	var req deployRequest
	if !bind(c, &req) {
		return
	}
	sess := current(c).session
	files := sess.Artifact()
	if req.Token == "" {
		req.Token = s.opts.Tokens(req.Target)
	}
	ctx, cancel := s.callContext()
	defer cancel()
	url, err := s.opts.Deployers.Deploy(ctx, req.Target, deploy.Target{
		Files:       files,
		Destination: req.Destination,
		Token:       req.Token,
		Message:     req.Message,
	})
	if err != nil {
		s.writeError(c, sess.Mode(), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (s *Server) export(c *gin.Context) {
	sess := current(c).session
	files := sess.Artifact()
	if len(files) == 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "nothing generated yet"})
		return
	}
	mfs, err := fs.FromArtifact(files)
	if err != nil {
		s.writeError(c, sess.Mode(), err)
		return
	}
	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", string(sess.Mode())+".zip"))
	if err := mfs.WriteToZip(c.Writer); err != nil {
		s.logger.Error(fmt.Sprintf("Export of %s failed: %v", sess.ID(), err))
	}
}

// refresh re-renders the artifact after a change so the console reflects it. Failures
// are logged only.
func (s *Server) refresh(sess *core.Session) {
	if s.opts.Pipeline == nil {
		return
	}
	ctx, cancel := s.callContext()
	defer cancel()
	if err := s.opts.Pipeline.Refresh(ctx, sess); err != nil {
		s.logger.Warn(fmt.Sprintf("Refresh of %s failed: %v", sess.ID(), err))
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) streamEvents(c *gin.Context) {
	e := current(c)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed: " + err.Error())
		return
	}
	defer conn.Close()

	events, unsubscribe := e.hub.subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := conn.WriteJSON(e.hub.snapshot()); err != nil {
		return
	}
	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}

func bind(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func (s *Server) writeError(c *gin.Context, mode core.Mode, err error) {
	c.JSON(statusFor(err), gin.H{"error": core.UserMessage(mode, err), "detail": err.Error()})
}

func statusFor(err error) int {
	var state *core.StateError
	var unsupported *core.UnsupportedModeError
	var provider *llm.ProviderError
	var planning *core.PlanningError
	var generation *core.GenerationError
	var refinement *core.RefinementError
	var deployErr *deploy.Error

	switch {
	case errors.Is(err, core.ErrBusy), errors.As(err, &state):
		return http.StatusConflict
	case errors.As(err, &unsupported), errors.Is(err, core.ErrEmptyPrompt),
		errors.Is(err, core.ErrNothingToDebug), errors.Is(err, deploy.ErrUnknownTarget),
		errors.Is(err, deploy.ErrNoFiles), errors.Is(err, deploy.ErrNoDestination):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrVersionNotFound):
		return http.StatusNotFound
	case errors.As(err, &provider):
		return http.StatusBadGateway
	case errors.As(err, &planning), errors.As(err, &generation), errors.As(err, &refinement):
		return http.StatusUnprocessableEntity
	case errors.As(err, &deployErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
