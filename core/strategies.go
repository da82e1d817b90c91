package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/santiagomed/forge/llm"
	"google.golang.org/genai"
)

// DefaultRegistry returns a registry with a strategy for every mode.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	Register(r, ModeWebApp, SingleFile, "index.html",
		planWith[WebAppPlan](ModeWebApp, webAppPlanSchema,
			"List the user facing features. Keep it to what fits in one self-contained HTML page."),
		singleFile(ModeWebApp, "index.html", func(p WebAppPlan) string {
			return "Implement every feature with a visible control: " + strings.Join(p.Features, ", ") + "."
		}),
	)

	Register(r, ModeNativeApp, SingleFile, "App.js",
		planWith[NativeAppPlan](ModeNativeApp, nativeAppPlanSchema,
			"Describe a React Native app: its screens and user facing features."),
		singleFile(ModeNativeApp, "App.js", func(p NativeAppPlan) string {
			return fmt.Sprintf("Write a single React Native App.js with a default export, using only react-native core components. Screens: %s. Features: %s.",
				strings.Join(p.Screens, ", "), strings.Join(p.Features, ", "))
		}),
	)

	Register(r, ModeComponent, SingleFile, "App.js",
		planWith[ComponentPlan](ModeComponent, componentPlanSchema,
			"Describe one reusable React component: its name and props."),
		singleFile(ModeComponent, "App.js", func(p ComponentPlan) string {
			props := make([]string, 0, len(p.Props))
			for _, pr := range p.Props {
				props = append(props, pr.Name+": "+pr.Type)
			}
			return fmt.Sprintf("Write App.js defining the %s component (props: %s) and a default exported App that renders it with example props.",
				p.Name, strings.Join(props, ", "))
		}),
	)

	Register(r, ModeForm, SingleFile, "index.html",
		planWith[FormPlan](ModeForm, formPlanSchema,
			"Describe the form fields, their input types and which are required."),
		singleFile(ModeForm, "index.html", func(p FormPlan) string {
			names := make([]string, 0, len(p.Fields))
			for _, f := range p.Fields {
				names = append(names, f.Name)
			}
			return fmt.Sprintf("Render a form with the fields %s and a submit button labelled %q. Validate required fields in the browser and show the submitted values as JSON below the form.",
				strings.Join(names, ", "), p.SubmitLabel)
		}),
	)

	Register(r, ModeDocument, SingleFile, "index.html",
		planWith[DocumentPlan](ModeDocument, documentPlanSchema,
			"Outline the document as a list of sections."),
		singleFile(ModeDocument, "index.html", func(p DocumentPlan) string {
			headings := make([]string, 0, len(p.Sections))
			for _, s := range p.Sections {
				headings = append(headings, s.Heading)
			}
			return "Write the full document as styled, printable HTML with these sections in order: " + strings.Join(headings, "; ") + "."
		}),
	)

	Register(r, ModeFlashcardDeck, SingleFile, "index.html",
		planWith[FlashcardPlan](ModeFlashcardDeck, flashcardPlanSchema,
			"Write the cards of the deck, each with a front and a back."),
		singleFile(ModeFlashcardDeck, "index.html", func(p FlashcardPlan) string {
			return fmt.Sprintf("Render an interactive deck of all %d cards: flip on click, next and previous buttons, and a progress indicator.", len(p.Cards))
		}),
	)

	Register(r, ModeScaffoldedProject, FileMap, "",
		planWith[ScaffoldPlan](ModeScaffoldedProject, projectPlanSchema,
			"Lay out a runnable starter project: its stack and every file including the manifest and a README."),
		fileMap(ModeScaffoldedProject, func(p ScaffoldPlan) []string { return p.paths() }),
	)

	Register(r, ModeMultiFileApp, FileMap, "",
		planWith[MultiFilePlan](ModeMultiFileApp, projectPlanSchema,
			"Lay out a static web app split across files. index.html is the entry point and loads the other files by relative path."),
		fileMap(ModeMultiFileApp, func(p MultiFilePlan) []string { return p.paths() }),
	)

	Register(r, ModeFullStackApp, FileMap, "",
		planWith[FullStackPlan](ModeFullStackApp, fullStackPlanSchema,
			"Lay out a full-stack app: frontend files, backend files and the HTTP endpoints connecting them."),
		fileMap(ModeFullStackApp, func(p FullStackPlan) []string { return p.paths() }),
	)

	return r
}

// planWith builds a planner decoding the answer straight into the plan type of the mode.
func planWith[P Plan](mode Mode, schema *genai.Schema, guidance string) PlanBuilder[P] {
	return func(ctx context.Context, c Call, prompt string) (P, error) {
		var zero P
		p, err := invokeJSON[P](ctx, c, llm.Request{
			Task:   llm.TaskPlan,
			System: c.system(getSystemPrompt()),
			User:   getPlanningPrompt(mode, guidance, prompt),
			Schema: schema,
		}, "plan")
		if err != nil {
			return zero, err
		}
		return *p, nil
	}
}

type singleFileAnswer struct {
	Code string `json:"code"`
}

type fileMapAnswer struct {
	Files fileList `json:"files"`
}

func singleFile[P Plan](mode Mode, entry string, guidance func(P) string) CodeBuilder[P] {
	return func(ctx context.Context, c Call, plan P) (ArtifactSet, error) {
		ans, err := invokeJSON[singleFileAnswer](ctx, c, llm.Request{
			Task:   llm.TaskCode,
			System: c.system(getSystemPrompt()),
			User:   getCodePrompt(mode, getSingleFileGuidance(entry)+"\n"+guidance(plan), plan),
			Schema: singleFileSchema,
		}, "code")
		if err != nil {
			return nil, err
		}
		if err := checkContent(entry, ans.Code); err != nil {
			return nil, err
		}
		return ArtifactSet{entry: ans.Code}, nil
	}
}

func fileMap[P Plan](mode Mode, paths func(P) []string) CodeBuilder[P] {
	return func(ctx context.Context, c Call, plan P) (ArtifactSet, error) {
		planned := make([]string, 0)
		for _, p := range paths(plan) {
			clean, err := CleanPath(p)
			if err != nil {
				return nil, err
			}
			planned = append(planned, clean)
		}

		ans, err := invokeJSON[fileMapAnswer](ctx, c, llm.Request{
			Task:   llm.TaskCode,
			System: c.system(getSystemPrompt()),
			User:   getCodePrompt(mode, getFileMapGuidance(planned), plan),
			Schema: fileMapSchema,
		}, "code")
		if err != nil {
			return nil, err
		}
		files, err := artifactFromWire(ans.Files)
		if err != nil {
			return nil, err
		}
		for _, p := range planned {
			if _, ok := files[p]; !ok {
				return nil, fmt.Errorf("backend omitted planned file %s", p)
			}
		}
		return files, nil
	}
}

// checkContent rejects blank files and HTML entries without markup.
func checkContent(entry, code string) error {
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("backend returned no content for %s", entry)
	}
	if strings.HasSuffix(entry, ".html") && !strings.Contains(code, "<") {
		return fmt.Errorf("%s does not contain HTML markup", entry)
	}
	return nil
}
