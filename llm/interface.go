package llm

import (
	"context"

	"google.golang.org/genai"
)

// Task names the pipeline stage a request belongs to.
type Task string

const (
	TaskPlan   Task = "plan"
	TaskCode   Task = "code"
	TaskReview Task = "review"
	TaskTest   Task = "test"
	TaskRefine Task = "refine"
	TaskAsk    Task = "ask"
	TaskDebug  Task = "debug"
)

// Image is an inline image part sent alongside the text of a request.
type Image struct {
	MIMEType string
	Data     []byte
}

// Request is one backend call. Schema is optional; backends that support structured
// output enforce it, the others receive it as part of the system instruction.
type Request struct {
	Task   Task
	System string
	User   string
	Schema *genai.Schema
	Image  *Image
}

// Capabilities describes what a backend guarantees.
type Capabilities struct {
	// Structured backends return text that parses as JSON matching the request schema.
	Structured bool
	Vision     bool
}

// Backend is a single provider/model combination.
type Backend interface {
	ID() string
	Capabilities() Capabilities
	Complete(ctx context.Context, req Request) (string, error)
}
