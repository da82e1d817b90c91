package core

import (
	"fmt"
	"strings"
)

// Mode selects the generation strategy of a session. It never changes during a session.
type Mode string

const (
	ModeWebApp            Mode = "web-app"
	ModeComponent         Mode = "component"
	ModeScaffoldedProject Mode = "scaffolded-project"
	ModeMultiFileApp      Mode = "multi-file-app"
	ModeFullStackApp      Mode = "full-stack-app"
	ModeNativeApp         Mode = "native-app"
	ModeForm              Mode = "form"
	ModeDocument          Mode = "document"
	ModeFlashcardDeck     Mode = "flashcard-deck"
)

// Modes lists every mode in display order.
func Modes() []Mode {
	return []Mode{
		ModeWebApp,
		ModeComponent,
		ModeScaffoldedProject,
		ModeMultiFileApp,
		ModeFullStackApp,
		ModeNativeApp,
		ModeForm,
		ModeDocument,
		ModeFlashcardDeck,
	}
}

// ParseMode accepts a mode name case-insensitively.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Modes() {
		if m == known {
			return m, nil
		}
	}
	return "", &UnsupportedModeError{Mode: m}
}

// Label is the human readable noun for the mode, used in messages.
func (m Mode) Label() string {
	switch m {
	case ModeWebApp:
		return "web app"
	case ModeComponent:
		return "component"
	case ModeScaffoldedProject:
		return "project"
	case ModeMultiFileApp:
		return "multi-file app"
	case ModeFullStackApp:
		return "full-stack app"
	case ModeNativeApp:
		return "native app"
	case ModeForm:
		return "form"
	case ModeDocument:
		return "document"
	case ModeFlashcardDeck:
		return "flashcard deck"
	default:
		return string(m)
	}
}

// OutputShape is the structure of the artifact a mode produces.
type OutputShape int

const (
	SingleFile OutputShape = iota
	FileMap
)

func (s OutputShape) String() string {
	switch s {
	case SingleFile:
		return "single-file"
	case FileMap:
		return "file-map"
	default:
		return fmt.Sprintf("OutputShape(%d)", int(s))
	}
}
