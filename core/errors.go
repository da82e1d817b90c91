package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/santiagomed/forge/llm"
)

var (
	ErrBusy            = errors.New("another operation is in progress for this session")
	ErrEmptyPrompt     = errors.New("prompt is empty")
	ErrVersionNotFound = errors.New("version not found")
	ErrNothingToDebug  = errors.New("no console errors or warnings captured")
	ErrPlanRejected    = errors.New("plan rejected")
)

// StateError is returned when an operation is not allowed in the current session state.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s while session is %s", e.Op, e.State)
}

// UnsupportedModeError means no strategy is registered for a mode. It is fatal for the session.
type UnsupportedModeError struct {
	Mode Mode
}

func (e *UnsupportedModeError) Error() string {
	return fmt.Sprintf("unsupported mode %q", e.Mode)
}

type PlanningError struct {
	Mode Mode
	Err  error
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("planning %s failed: %v", e.Mode, e.Err)
}

func (e *PlanningError) Unwrap() error { return e.Err }

type GenerationError struct {
	Mode Mode
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generating %s failed: %v", e.Mode, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// RefinementError covers failed refine and debug calls. The artifact is left unchanged.
type RefinementError struct {
	Mode Mode
	Err  error
}

func (e *RefinementError) Error() string {
	return fmt.Sprintf("refining %s failed: %v", e.Mode, e.Err)
}

func (e *RefinementError) Unwrap() error { return e.Err }

// UserMessage renders the single conversation message shown for a failed stage.
func UserMessage(mode Mode, err error) string {
	var unsupported *UnsupportedModeError
	var provider *llm.ProviderError
	var planning *PlanningError
	var generation *GenerationError
	var refinement *RefinementError
	var state *StateError

	switch {
	case errors.As(err, &unsupported):
		return fmt.Sprintf("%q is not a supported mode. Start a new session with one of: %s.", unsupported.Mode, modeList())
	case errors.Is(err, ErrBusy):
		return "Still working on the previous request. Wait for it to finish."
	case errors.As(err, &provider):
		if provider.Kind == llm.KindAuth {
			return "The model rejected the API key. Check your credentials and try again."
		}
		return "Couldn't reach the model, try again."
	case errors.As(err, &planning):
		return fmt.Sprintf("Couldn't build a plan for your %s. Try again or rephrase the request.", mode.Label())
	case errors.As(err, &generation):
		return fmt.Sprintf("Couldn't generate your %s from the plan. Try again.", mode.Label())
	case errors.As(err, &refinement):
		return fmt.Sprintf("Couldn't apply that change. Your %s is unchanged.", mode.Label())
	case errors.As(err, &state):
		return fmt.Sprintf("That isn't possible right now: the session is %s.", state.State)
	default:
		return fmt.Sprintf("Something went wrong: %v", err)
	}
}

func modeList() string {
	names := make([]string, 0, len(Modes()))
	for _, m := range Modes() {
		names = append(names, string(m))
	}
	return strings.Join(names, ", ")
}
