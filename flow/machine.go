// Package flow owns the per-instance state machine: the current step
// pointer, step statuses, progress, and the transitions between them. It
// never interprets approval or form semantics itself; callers resolve steps
// and the machine sequences them.
package flow

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ispkit/stepflow/model"
)

var ErrInstanceTerminal = errors.New("instance is in a terminal state")
var ErrInstanceNotStarted = errors.New("instance has not been started")
var ErrStepResolved = errors.New("step is already resolved")
var ErrOutOfOrder = errors.New("step can not be resolved before the current step")

// Machine wraps one instance and applies transitions to it. It is the sole
// writer of currentStepId, status and progress; evaluators only propose the
// updates it applies.
type Machine struct {
	instance *model.WorkflowInstance
}

func NewMachine(instance *model.WorkflowInstance) *Machine {
	return &Machine{instance: instance}
}

func (m *Machine) Instance() *model.WorkflowInstance {
	return m.instance
}

// Instantiate stamps a new instance out of a template: steps are copied as
// pending snapshots and the caller's input lands under data.input so later
// steps can reference it.
func Instantiate(tpl *model.WorkflowTemplate, input map[string]any) *model.WorkflowInstance {
	now := time.Now()
	steps := make([]model.WorkflowStep, len(tpl.Steps))
	copy(steps, tpl.Steps)
	for i := range steps {
		steps[i].Status = model.STEP_PENDING
		steps[i].Output = nil
	}
	data := map[string]any{
		"input": input,
		"steps": map[string]any{},
	}
	return &model.WorkflowInstance{
		Id:                uuid.New().String(),
		TemplateId:        tpl.Id,
		Status:            model.INSTANCE_NOT_STARTED,
		Progress:          0,
		RequireSequential: tpl.RequireSequential,
		Steps:             steps,
		Approvals:         []model.ApprovalDecision{},
		Data:              data,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func (m *Machine) Start() error {
	in := m.instance
	if in.Status.Terminal() {
		return ErrInstanceTerminal
	}
	if in.Status != model.INSTANCE_NOT_STARTED {
		return fmt.Errorf("instance %s already started", in.Id)
	}
	if len(in.Steps) == 0 {
		return fmt.Errorf("instance %s has no steps", in.Id)
	}
	now := time.Now()
	in.Status = model.INSTANCE_IN_PROGRESS
	in.CurrentStepId = in.Steps[0].Id
	in.Steps[0].Status = model.STEP_IN_PROGRESS
	in.Steps[0].StartedAt = &now
	in.UpdatedAt = now
	return nil
}

func (m *Machine) Cancel() error {
	in := m.instance
	if in.Status.Terminal() {
		return ErrInstanceTerminal
	}
	in.Status = model.INSTANCE_CANCELLED
	in.UpdatedAt = time.Now()
	return nil
}

// ResolveStep marks one step terminal and moves the run forward: progress is
// recomputed, the current pointer advances to the next eligible step, and
// the instance itself goes terminal once nothing actionable remains. A
// failed step fails the whole run. When requireSequential is set only the
// current step may be resolved; otherwise any pending step is fair game.
func (m *Machine) ResolveStep(stepId string, status model.StepStatus, output map[string]any) error {
	in := m.instance
	if in.Status.Terminal() {
		return ErrInstanceTerminal
	}
	if in.Status == model.INSTANCE_NOT_STARTED {
		return ErrInstanceNotStarted
	}
	step, err := in.Step(stepId)
	if err != nil {
		return err
	}
	if step.Status.Terminal() {
		return ErrStepResolved
	}
	if in.RequireSequential && stepId != in.CurrentStepId {
		return ErrOutOfOrder
	}
	if !status.Terminal() {
		return fmt.Errorf("step %s can only be resolved to a terminal status, got %s", stepId, status)
	}
	step.Status = status
	if status == model.STEP_COMPLETED || status == model.STEP_SKIPPED {
		step.Output = output
		m.recordOutput(step.Id, output)
	}
	in.Progress = m.progress()
	in.UpdatedAt = time.Now()
	if status == model.STEP_FAILED {
		in.Status = model.INSTANCE_FAILED
		in.CurrentStepId = ""
		return nil
	}
	m.advance()
	return nil
}

// CurrentStep returns the step under the current pointer, nil when the
// instance is not running.
func (m *Machine) CurrentStep() *model.WorkflowStep {
	in := m.instance
	if in.CurrentStepId == "" {
		return nil
	}
	step, err := in.Step(in.CurrentStepId)
	if err != nil {
		return nil
	}
	return step
}

func (m *Machine) advance() {
	in := m.instance
	for i := range in.Steps {
		if !in.Steps[i].Status.Terminal() {
			in.CurrentStepId = in.Steps[i].Id
			if in.Steps[i].Status == model.STEP_PENDING {
				now := time.Now()
				in.Steps[i].Status = model.STEP_IN_PROGRESS
				in.Steps[i].StartedAt = &now
			}
			return
		}
	}
	in.CurrentStepId = ""
	in.Status = model.INSTANCE_COMPLETED
}

func (m *Machine) progress() int {
	in := m.instance
	if len(in.Steps) == 0 {
		return 0
	}
	resolved := 0
	for _, s := range in.Steps {
		if s.Status.Terminal() {
			resolved++
		}
	}
	return resolved * 100 / len(in.Steps)
}

// recordOutput mirrors a step's output under data.steps.<id>.output so that
// later steps can reference it through jsonpath tokens.
func (m *Machine) recordOutput(stepId string, output map[string]any) {
	in := m.instance
	if in.Data == nil {
		in.Data = map[string]any{}
	}
	steps, ok := in.Data["steps"].(map[string]any)
	if !ok {
		steps = map[string]any{}
		in.Data["steps"] = steps
	}
	steps[stepId] = map[string]any{"output": output}
}
