package core

import (
	"errors"
	"fmt"
	"strings"
)

// Plan is the structured intermediate object of a session. Each mode has its own
// concrete type; a plan is never modified after the planning stage produced it.
type Plan interface {
	Mode() Mode
	Header() PlanHeader
	Validate() error
}

type PlanHeader struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (h PlanHeader) Header() PlanHeader { return h }

func (h PlanHeader) validate() error {
	if strings.TrimSpace(h.Title) == "" {
		return errors.New("plan has no title")
	}
	return nil
}

type WebAppPlan struct {
	PlanHeader
	Features []string `json:"features"`
}

func (WebAppPlan) Mode() Mode { return ModeWebApp }

func (p WebAppPlan) Validate() error {
	if err := p.validate(); err != nil {
		return err
	}
	return nonEmpty("features", p.Features)
}

type NativeAppPlan struct {
	PlanHeader
	Screens  []string `json:"screens"`
	Features []string `json:"features"`
}

func (NativeAppPlan) Mode() Mode { return ModeNativeApp }

func (p NativeAppPlan) Validate() error {
	if err := p.validate(); err != nil {
		return err
	}
	if err := nonEmpty("screens", p.Screens); err != nil {
		return err
	}
	return nonEmpty("features", p.Features)
}

type PropSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

type ComponentPlan struct {
	PlanHeader
	Name  string     `json:"name"`
	Props []PropSpec `json:"props"`
}

func (ComponentPlan) Mode() Mode { return ModeComponent }

func (p ComponentPlan) Validate() error {
	if err := p.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("component plan has no component name")
	}
	return nil
}

type FormField struct {
	Name     string   `json:"name"`
	Label    string   `json:"label"`
	Type     string   `json:"type"`
	Required bool     `json:"required"`
	Options  []string `json:"options,omitempty"`
}

type FormPlan struct {
	PlanHeader
	Fields      []FormField `json:"fields"`
	SubmitLabel string      `json:"submit_label"`
}

func (FormPlan) Mode() Mode { return ModeForm }

func (p FormPlan) Validate() error {
	if err := p.validate(); err != nil {
		return err
	}
	if len(p.Fields) == 0 {
		return errors.New("form plan has no fields")
	}
	for i, f := range p.Fields {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("form field %d has no name", i)
		}
	}
	return nil
}

type DocumentSection struct {
	Heading string `json:"heading"`
	Summary string `json:"summary"`
}

type DocumentPlan struct {
	PlanHeader
	Sections []DocumentSection `json:"sections"`
}

func (DocumentPlan) Mode() Mode { return ModeDocument }

func (p DocumentPlan) Validate() error {
	if err := p.validate(); err != nil {
		return err
	}
	if len(p.Sections) == 0 {
		return errors.New("document plan has no sections")
	}
	return nil
}

type Flashcard struct {
	Front string `json:"front"`
	Back  string `json:"back"`
}

type FlashcardPlan struct {
	PlanHeader
	Topic string      `json:"topic"`
	Cards []Flashcard `json:"cards"`
}

func (FlashcardPlan) Mode() Mode { return ModeFlashcardDeck }

func (p FlashcardPlan) Validate() error {
	if err := p.validate(); err != nil {
		return err
	}
	if len(p.Cards) == 0 {
		return errors.New("flashcard plan has no cards")
	}
	for i, c := range p.Cards {
		if strings.TrimSpace(c.Front) == "" || strings.TrimSpace(c.Back) == "" {
			return fmt.Errorf("flashcard %d is missing a side", i)
		}
	}
	return nil
}

type PlannedFile struct {
	Path    string `json:"path"`
	Purpose string `json:"purpose"`
}

// ProjectLayout is the file tree shared by the project-shaped plans.
type ProjectLayout struct {
	Stack []string      `json:"stack"`
	Files []PlannedFile `json:"files"`
}

func (l ProjectLayout) paths() []string {
	out := make([]string, 0, len(l.Files))
	for _, f := range l.Files {
		out = append(out, f.Path)
	}
	return out
}

type ScaffoldPlan struct {
	PlanHeader
	ProjectLayout
}

func (ScaffoldPlan) Mode() Mode { return ModeScaffoldedProject }

func (p ScaffoldPlan) Validate() error {
	if err := p.validate(); err != nil {
		return err
	}
	return validFiles(p.Files)
}

type MultiFilePlan struct {
	PlanHeader
	ProjectLayout
}

func (MultiFilePlan) Mode() Mode { return ModeMultiFileApp }

func (p MultiFilePlan) Validate() error {
	if err := p.validate(); err != nil {
		return err
	}
	if err := validFiles(p.Files); err != nil {
		return err
	}
	for _, f := range p.Files {
		if clean, _ := CleanPath(f.Path); clean == "index.html" {
			return nil
		}
	}
	return errors.New("multi-file plan has no index.html entry point")
}

type Endpoint struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

type FullStackPlan struct {
	PlanHeader
	Stack     []string      `json:"stack"`
	Frontend  []PlannedFile `json:"frontend"`
	Backend   []PlannedFile `json:"backend"`
	Endpoints []Endpoint    `json:"endpoints"`
}

func (FullStackPlan) Mode() Mode { return ModeFullStackApp }

func (p FullStackPlan) Validate() error {
	if err := p.validate(); err != nil {
		return err
	}
	if len(p.Frontend) == 0 || len(p.Backend) == 0 {
		return errors.New("full-stack plan needs both frontend and backend files")
	}
	return validFiles(append(append([]PlannedFile{}, p.Frontend...), p.Backend...))
}

func (p FullStackPlan) paths() []string {
	out := make([]string, 0, len(p.Frontend)+len(p.Backend))
	for _, f := range p.Frontend {
		out = append(out, f.Path)
	}
	for _, f := range p.Backend {
		out = append(out, f.Path)
	}
	return out
}

func nonEmpty(name string, items []string) error {
	for _, it := range items {
		if strings.TrimSpace(it) != "" {
			return nil
		}
	}
	return fmt.Errorf("plan has no %s", name)
}

func validFiles(files []PlannedFile) error {
	if len(files) == 0 {
		return errors.New("plan has no files")
	}
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		clean, err := CleanPath(f.Path)
		if err != nil {
			return err
		}
		if seen[clean] {
			return fmt.Errorf("file %s is planned twice", clean)
		}
		seen[clean] = true
	}
	return nil
}
