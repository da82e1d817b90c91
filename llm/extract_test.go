package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON_Prose(t *testing.T) {
	assert.Equal(t, `{"a":1}`, ExtractJSON(`Here is your result: {"a":1} Thanks!`))
}

func TestExtractJSON_CleanInputUnchanged(t *testing.T) {
	inputs := []string{
		`{"a":1}`,
		`[1,2,3]`,
		`{"files":{"index.html":"<html></html>"},"summary":"ok"}`,
		`"a string with {braces}"`,
		`42`,
		`  {"padded": true}  `,
	}
	for _, in := range inputs {
		assert.Equal(t, in, ExtractJSON(in))
	}
}

func TestExtractJSON_CodeFence(t *testing.T) {
	raw := "```json\n{\"title\":\"Counter\",\"features\":[\"increment\"]}\n```"
	assert.Equal(t, `{"title":"Counter","features":["increment"]}`, ExtractJSON(raw))
}

func TestExtractJSON_ArrayOpensFirst(t *testing.T) {
	raw := `Result: [{"a":1},{"b":2}] done`
	assert.Equal(t, `[{"a":1},{"b":2}]`, ExtractJSON(raw))
}

func TestExtractJSON_NoBrackets(t *testing.T) {
	raw := "I could not produce an answer"
	assert.Equal(t, raw, ExtractJSON(raw))
}

func TestExtractJSON_UnclosedBracket(t *testing.T) {
	raw := `oops {"a": 1`
	assert.Equal(t, raw, ExtractJSON(raw))
}

func TestDecode(t *testing.T) {
	type plan struct {
		Title string `json:"title"`
	}

	p, err := Decode[plan](`Sure! {"title":"Counter"}`, false, "plan")
	require.NoError(t, err)
	assert.Equal(t, "Counter", p.Title)

	_, err = Decode[plan](`Sure! {"title":"Counter"}`, true, "plan")
	assert.Error(t, err)

	_, err = Decode[plan]("no json here", false, "plan")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse plan response")
	assert.Contains(t, err.Error(), "no json here")
}
