package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/santiagomed/forge/llm"
)

// NoChangesNeeded is the review summary meaning the artifact already satisfies the prompt.
const NoChangesNeeded = "no changes needed"

// RunPlanning turns a prompt into the plan of mode. Any failure other than an unknown
// mode is a PlanningError.
func RunPlanning(ctx context.Context, reg *Registry, c Call, prompt string, mode Mode) (Plan, error) {
	s, err := reg.Get(mode)
	if err != nil {
		return nil, err
	}
	plan, err := s.BuildPlan(ctx, c, prompt)
	if err != nil {
		return nil, &PlanningError{Mode: mode, Err: err}
	}
	if plan.Mode() != mode {
		return nil, &PlanningError{Mode: mode, Err: fmt.Errorf("planner returned a %s plan", plan.Mode())}
	}
	if err := plan.Validate(); err != nil {
		return nil, &PlanningError{Mode: mode, Err: err}
	}
	return plan, nil
}

// RunCodeGeneration builds the artifact of an accepted plan.
func RunCodeGeneration(ctx context.Context, reg *Registry, c Call, plan Plan) (ArtifactSet, error) {
	mode := plan.Mode()
	s, err := reg.Get(mode)
	if err != nil {
		return nil, err
	}
	files, err := s.BuildCode(ctx, c, plan)
	if err != nil {
		return nil, &GenerationError{Mode: mode, Err: err}
	}
	if len(files) == 0 {
		return nil, &GenerationError{Mode: mode, Err: errors.New("no files generated")}
	}
	return files, nil
}

type singleFileReview struct {
	Summary string `json:"summary"`
	Code    string `json:"code"`
}

type fileMapReview struct {
	Summary string   `json:"summary"`
	Files   fileList `json:"files"`
}

// RunReview asks a vision backend to judge a screenshot of the artifact and, when it
// finds a problem, returns the corrected artifact. It is never called on its own output.
func RunReview(ctx context.Context, s Strategy, c Call, prompt string, files ArtifactSet, shot llm.Image) (ReviewResult, error) {
	req := llm.Request{
		Task:   llm.TaskReview,
		System: c.system(getSystemPrompt()),
		User:   getReviewPrompt(prompt, files, s.Shape()),
		Image:  &shot,
	}

	if s.Shape() == SingleFile {
		req.Schema = singleFileReviewSchema
		ans, err := invokeJSON[singleFileReview](ctx, c, req, "review")
		if err != nil {
			return ReviewResult{}, err
		}
		if isNoChanges(ans.Summary) {
			return ReviewResult{Summary: NoChangesNeeded}, nil
		}
		entry := singleEntry(s, files)
		if err := checkContent(entry, ans.Code); err != nil {
			return ReviewResult{}, fmt.Errorf("review proposed a fix without a usable file: %w", err)
		}
		return ReviewResult{Changed: true, Files: ArtifactSet{entry: ans.Code}, Summary: ans.Summary}, nil
	}

	req.Schema = fileMapReviewSchema
	ans, err := invokeJSON[fileMapReview](ctx, c, req, "review")
	if err != nil {
		return ReviewResult{}, err
	}
	if isNoChanges(ans.Summary) {
		return ReviewResult{Summary: NoChangesNeeded}, nil
	}
	fixed, err := artifactFromWire(ans.Files)
	if err != nil {
		return ReviewResult{}, err
	}
	if missing := fixed.Missing(files); len(missing) > 0 {
		return ReviewResult{}, fmt.Errorf("review dropped files: %s", strings.Join(missing, ", "))
	}
	return ReviewResult{Changed: true, Files: fixed, Summary: ans.Summary}, nil
}

func isNoChanges(summary string) bool {
	s := strings.ToLower(strings.TrimSpace(summary))
	s = strings.TrimRight(s, ".!")
	return s == NoChangesNeeded
}

// ProposeTest asks for one interaction exercising the primary function of the artifact.
func ProposeTest(ctx context.Context, s Strategy, c Call, files ArtifactSet) (TestProposal, error) {
	p, err := invokeJSON[TestProposal](ctx, c, llm.Request{
		Task:   llm.TaskTest,
		System: c.system(getSystemPrompt()),
		User:   getTestPrompt(files, s.Shape()),
		Schema: testSchema,
	}, "test")
	if err != nil {
		return TestProposal{}, err
	}
	if strings.TrimSpace(p.TargetSelector) == "" {
		return TestProposal{}, errors.New("test proposal has no target selector")
	}
	p.Action = strings.ToLower(strings.TrimSpace(p.Action))
	for _, a := range testActions {
		if p.Action == a {
			return *p, nil
		}
	}
	return TestProposal{}, fmt.Errorf("test proposal has unknown action %q", p.Action)
}

type singleFileEdit struct {
	Code        string   `json:"code"`
	Summary     string   `json:"summary"`
	FilesEdited []string `json:"files_edited"`
}

type fileMapEdit struct {
	Files       fileList `json:"files"`
	Summary     string   `json:"summary"`
	FilesEdited []string `json:"files_edited"`
}

// RunRefinement applies a natural-language edit. Single-file modes exchange one file;
// file-map modes exchange the whole map and every original path must come back.
func RunRefinement(ctx context.Context, s Strategy, c Call, files ArtifactSet, request string) (RefinementResult, error) {
	res, err := edit(ctx, s, c, files, llm.TaskRefine, getRefinePrompt(request, files, s.Shape()))
	if err != nil {
		return RefinementResult{}, &RefinementError{Mode: s.Mode(), Err: err}
	}
	return res, nil
}

// RunDebug asks for a fix of the errors and warnings a rendered artifact logged.
func RunDebug(ctx context.Context, s Strategy, c Call, files ArtifactSet, console []ConsoleMessage) (RefinementResult, error) {
	res, err := edit(ctx, s, c, files, llm.TaskDebug, getDebugPrompt(console, files, s.Shape()))
	if err != nil {
		return RefinementResult{}, &RefinementError{Mode: s.Mode(), Err: err}
	}
	return res, nil
}

func edit(ctx context.Context, s Strategy, c Call, files ArtifactSet, task llm.Task, user string) (RefinementResult, error) {
	req := llm.Request{Task: task, System: c.system(getSystemPrompt()), User: user}

	if s.Shape() == SingleFile {
		req.Schema = singleFileEditSchema
		ans, err := invokeJSON[singleFileEdit](ctx, c, req, string(task))
		if err != nil {
			return RefinementResult{}, err
		}
		entry := singleEntry(s, files)
		if err := checkContent(entry, ans.Code); err != nil {
			return RefinementResult{}, err
		}
		return RefinementResult{Files: ArtifactSet{entry: ans.Code}, Summary: ans.Summary, FilesEdited: ans.FilesEdited}, nil
	}

	req.Schema = fileMapEditSchema
	ans, err := invokeJSON[fileMapEdit](ctx, c, req, string(task))
	if err != nil {
		return RefinementResult{}, err
	}
	updated, err := artifactFromWire(ans.Files)
	if err != nil {
		return RefinementResult{}, err
	}
	if missing := updated.Missing(files); len(missing) > 0 {
		return RefinementResult{}, fmt.Errorf("response dropped files: %s", strings.Join(missing, ", "))
	}
	return RefinementResult{Files: updated, Summary: ans.Summary, FilesEdited: ans.FilesEdited}, nil
}

// AskAboutCode answers a free-form question about the artifact without changing it.
func AskAboutCode(ctx context.Context, s Strategy, c Call, files ArtifactSet, question string) (string, error) {
	raw, err := c.Invoker.Invoke(ctx, c.Backend, llm.Request{
		Task:   llm.TaskAsk,
		System: c.system(getSystemPrompt()),
		User:   getAskPrompt(question, files, s.Shape()),
	})
	if err != nil {
		return "", err
	}
	answer := strings.TrimSpace(raw)
	if answer == "" {
		return "", errors.New("backend returned an empty answer")
	}
	return answer, nil
}

// singleEntry is the key of the file of a single-file artifact.
func singleEntry(s Strategy, files ArtifactSet) string {
	if _, ok := files[s.Entry()]; ok || len(files) != 1 {
		return s.Entry()
	}
	return files.Paths()[0]
}
