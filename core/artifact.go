package core

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
)

// ArtifactSet maps a relative file path to its content. It is always replaced as a whole.
type ArtifactSet map[string]string

func (a ArtifactSet) Clone() ArtifactSet {
	if a == nil {
		return nil
	}
	out := make(ArtifactSet, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Paths returns the file paths in lexical order.
func (a ArtifactSet) Paths() []string {
	paths := make([]string, 0, len(a))
	for p := range a {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Missing returns the paths of base that a does not contain.
func (a ArtifactSet) Missing(base ArtifactSet) []string {
	var missing []string
	for _, p := range base.Paths() {
		if _, ok := a[p]; !ok {
			missing = append(missing, p)
		}
	}
	return missing
}

func (a ArtifactSet) Equal(b ArtifactSet) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// CleanPath normalizes a generated file path and rejects absolute or escaping paths.
func CleanPath(p string) (string, error) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return "", fmt.Errorf("empty file path")
	}
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("absolute file path %q", p)
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("file path %q escapes the artifact root", p)
	}
	return clean, nil
}

// fileList is the wire form of an ArtifactSet. Backends answer either with a
// {"path": "content"} object or with a [{"path", "content"}] list.
type fileList ArtifactSet

type fileEntry struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (f *fileList) UnmarshalJSON(data []byte) error {
	var asMap map[string]string
	if err := json.Unmarshal(data, &asMap); err == nil {
		*f = fileList(asMap)
		return nil
	}
	var entries []fileEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("files must be an object of path to content or a list of {path, content}: %w", err)
	}
	out := make(fileList, len(entries))
	for _, e := range entries {
		out[e.Path] = e.Content
	}
	*f = out
	return nil
}

// artifactFromWire cleans every path of a decoded file list. Two paths naming the same
// file are rejected.
func artifactFromWire(f fileList) (ArtifactSet, error) {
	raw := make([]string, 0, len(f))
	for p := range f {
		raw = append(raw, p)
	}
	sort.Strings(raw)

	out := make(ArtifactSet, len(f))
	for _, p := range raw {
		clean, err := CleanPath(p)
		if err != nil {
			return nil, err
		}
		if _, dup := out[clean]; dup {
			return nil, fmt.Errorf("file %s is returned twice", clean)
		}
		out[clean] = f[p]
	}
	return out, nil
}

// Severity of a console message emitted by a rendered artifact.
type Severity string

const (
	SeverityLog   Severity = "log"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

type ConsoleMessage struct {
	Severity Severity `json:"severity"`
	Args     []string `json:"args"`
}

func (c ConsoleMessage) String() string {
	return fmt.Sprintf("[%s] %s", c.Severity, strings.Join(c.Args, " "))
}

// Agent is a persona whose instruction prefixes every system prompt of a session.
type Agent struct {
	ID          string `json:"id" mapstructure:"id"`
	Name        string `json:"name" mapstructure:"name"`
	Instruction string `json:"instruction" mapstructure:"instruction"`
	Avatar      string `json:"avatar,omitempty" mapstructure:"avatar"`
	Custom      bool   `json:"custom" mapstructure:"custom"`
}

// RefinementResult is the outcome of a refine or debug call.
type RefinementResult struct {
	Files       ArtifactSet `json:"files"`
	Summary     string      `json:"summary"`
	FilesEdited []string    `json:"files_edited"`
}

// ReviewResult is the outcome of the visual review. Files is set only when Changed.
type ReviewResult struct {
	Changed bool        `json:"changed"`
	Files   ArtifactSet `json:"files,omitempty"`
	Summary string      `json:"summary"`
}

// TestProposal is one UI interaction for an automation collaborator to execute.
type TestProposal struct {
	TargetSelector string `json:"target_selector"`
	Action         string `json:"action"`
	Value          string `json:"value,omitempty"`
	Justification  string `json:"justification"`
	Expected       string `json:"expected,omitempty"`
}

// TestReport is what the automation collaborator reports after running a TestProposal.
type TestReport struct {
	Passed bool   `json:"passed"`
	Note   string `json:"note"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type MessageKind string

const (
	MessagePrompt  MessageKind = "prompt"
	MessagePlan    MessageKind = "plan"
	MessageSummary MessageKind = "summary"
	MessageAnswer  MessageKind = "answer"
	MessageNote    MessageKind = "note"
	MessageError   MessageKind = "error"
)

// Message is one entry of the session conversation log.
type Message struct {
	Role    Role        `json:"role"`
	Kind    MessageKind `json:"kind"`
	Content string      `json:"content"`
	Time    time.Time   `json:"time"`
}
