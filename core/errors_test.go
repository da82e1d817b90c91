package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/santiagomed/forge/llm"
	"github.com/stretchr/testify/assert"
)

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "auth",
			err:  &PlanningError{Mode: ModeWebApp, Err: &llm.ProviderError{Kind: llm.KindAuth}},
			want: "The model rejected the API key. Check your credentials and try again.",
		},
		{
			name: "network",
			err:  &GenerationError{Mode: ModeWebApp, Err: &llm.ProviderError{Kind: llm.KindNetwork}},
			want: "Couldn't reach the model, try again.",
		},
		{
			name: "planning",
			err:  &PlanningError{Mode: ModeForm, Err: errors.New("bad json")},
			want: "Couldn't build a plan for your form. Try again or rephrase the request.",
		},
		{
			name: "generation",
			err:  &GenerationError{Mode: ModeDocument, Err: errors.New("empty")},
			want: "Couldn't generate your document from the plan. Try again.",
		},
		{
			name: "refinement",
			err:  fmt.Errorf("wrapped: %w", &RefinementError{Mode: ModeComponent, Err: errors.New("x")}),
			want: "Couldn't apply that change. Your component is unchanged.",
		},
		{
			name: "busy",
			err:  ErrBusy,
			want: "Still working on the previous request. Wait for it to finish.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var mode Mode
			switch e := tt.err.(type) {
			case *PlanningError:
				mode = e.Mode
			case *GenerationError:
				mode = e.Mode
			default:
				mode = ModeComponent
			}
			assert.Equal(t, tt.want, UserMessage(mode, tt.err))
		})
	}
}

func TestUserMessage_UnsupportedMode(t *testing.T) {
	msg := UserMessage(Mode("spreadsheet"), &UnsupportedModeError{Mode: "spreadsheet"})
	assert.Contains(t, msg, `"spreadsheet" is not a supported mode`)
	assert.Contains(t, msg, string(ModeFlashcardDeck))
}

func TestErrorsUnwrap(t *testing.T) {
	cause := &llm.ProviderError{Kind: llm.KindRateLimit}
	err := &RefinementError{Mode: ModeWebApp, Err: cause}
	var pe *llm.ProviderError
	assert.True(t, errors.As(err, &pe))
	assert.Equal(t, llm.KindRateLimit, pe.Kind)
}
