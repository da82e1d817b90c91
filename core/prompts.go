package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

func getSystemPrompt() string {
	return `You are an expert product engineer who turns short requests into polished, working software and content.

Follow the requested output format exactly. Never wrap JSON answers in markdown code fences and never add commentary around them.
Generated code must be complete: no placeholders, no "rest of the code here" elisions, no external build step unless the plan requires one.`
}

func getPlanningPrompt(mode Mode, guidance, prompt string) string {
	return fmt.Sprintf(`Plan a %s for this request: "%s"

%s

Answer with the plan as JSON. Do not write any code yet.`, mode.Label(), prompt, guidance)
}

func getCodePrompt(mode Mode, guidance string, plan Plan) string {
	return fmt.Sprintf(`Build the %s described by this plan:
%s

%s`, mode.Label(), toJSON(plan), guidance)
}

func getSingleFileGuidance(entry string) string {
	return fmt.Sprintf(`Produce the complete content of %s as the "code" field. Everything (markup, styles and scripts) lives in this single file.`, entry)
}

func getFileMapGuidance(paths []string) string {
	return fmt.Sprintf(`Produce every file of the plan in the "files" list with its complete content. The plan lists these paths, all of which must be present:
%s`, "- "+strings.Join(paths, "\n- "))
}

func getReviewPrompt(prompt string, files ArtifactSet, shape OutputShape) string {
	return fmt.Sprintf(`The user asked for: "%s"

The attached image is a screenshot of the rendered artifact. Its source is:
%s

Judge whether the artifact visibly satisfies the request and renders without obvious defects.
If it does, answer with the summary exactly "%s" and nothing else.
Otherwise fix it: answer with a short summary of the fix and %s.`, prompt, renderSource(files, shape), NoChangesNeeded, fullArtifactField(shape))
}

func getTestPrompt(files ArtifactSet, shape OutputShape) string {
	return fmt.Sprintf(`Propose exactly one UI interaction that exercises the primary function of this artifact, for an automated browser to execute.
Pick an element that exists in the markup and give a CSS selector that matches it.

%s`, renderSource(files, shape))
}

func getRefinePrompt(request string, files ArtifactSet, shape OutputShape) string {
	return fmt.Sprintf(`Apply this change request: "%s"

Current source:
%s

Answer with %s, a short summary of what changed, and "files_edited": the files you conceptually changed.
For a single HTML file, report style-only edits as "styles.css" and script-only edits as "script.js".
Keep every existing feature that the request does not ask to change.`, request, renderSource(files, shape), fullArtifactField(shape))
}

func getDebugPrompt(console []ConsoleMessage, files ArtifactSet, shape OutputShape) string {
	lines := make([]string, 0, len(console))
	for _, c := range console {
		lines = append(lines, c.String())
	}
	return fmt.Sprintf(`Running this artifact produced the following console output:
%s

Source:
%s

Fix the causes of these errors and warnings. Answer with %s, a short summary of the fix, and "files_edited": the files you changed.`, strings.Join(lines, "\n"), renderSource(files, shape), fullArtifactField(shape))
}

func getAskPrompt(question string, files ArtifactSet, shape OutputShape) string {
	return fmt.Sprintf(`Answer a question about the following source. Do not rewrite the code; explain, and quote short snippets where useful.

%s

Question: %s`, renderSource(files, shape), question)
}

func fullArtifactField(shape OutputShape) string {
	if shape == SingleFile {
		return `the complete updated file as "code"`
	}
	return `the complete "files" list containing every file, changed or not`
}

func renderSource(files ArtifactSet, shape OutputShape) string {
	if shape == SingleFile {
		for _, p := range files.Paths() {
			return fmt.Sprintf("%s:\n%s", p, files[p])
		}
		return ""
	}
	return `{"files": ` + toJSON(files) + `}`
}

func toJSON(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
