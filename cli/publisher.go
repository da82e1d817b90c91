package cli

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/santiagomed/forge/core"
	"github.com/santiagomed/forge/logger"
)

type stepMsg core.StepType

type stepErrMsg struct {
	step core.StepType
	err  error
}

// CliStepPublisher forwards session steps to the terminal interface. Events are dropped
// when the interface falls behind.
type CliStepPublisher struct {
	stepChan  chan core.StepType
	errorChan chan stepErrMsg
	logger    logger.Logger
}

func NewCliStepPublisher(logger logger.Logger) *CliStepPublisher {
	return &CliStepPublisher{
		stepChan:  make(chan core.StepType, 100),
		errorChan: make(chan stepErrMsg, 10),
		logger:    logger,
	}
}

func (p *CliStepPublisher) PublishStep(step core.StepType) {
	select {
	case p.stepChan <- step:
		p.logger.Debug(fmt.Sprintf("Successfully published step: %v", step))
	default:
		p.logger.Warn(fmt.Sprintf("Failed to publish step: %v. Channel full.", step))
	}
}

func (p *CliStepPublisher) Error(step core.StepType, err error) {
	select {
	case p.errorChan <- stepErrMsg{step: step, err: err}:
		p.logger.Debug(fmt.Sprintf("Successfully published error for step: %v", step))
	default:
		p.logger.Warn(fmt.Sprintf("Failed to publish error for step: %v. Channel full.", step))
	}
}

// next blocks until the next step or error.
func (p *CliStepPublisher) next() tea.Msg {
	select {
	case step := <-p.stepChan:
		return stepMsg(step)
	case e := <-p.errorChan:
		return e
	}
}
