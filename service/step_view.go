package service

import (
	"github.com/ispkit/stepflow/approval"
	"github.com/ispkit/stepflow/form"
	"github.com/ispkit/stepflow/model"
)

// StepView is the read model a frontend renders one step from: the step
// snapshot plus whatever its evaluator derives — the approval roster and
// aggregate for approval steps, the sectioned field plan for form steps.
type StepView struct {
	Step      model.WorkflowStep    `json:"step"`
	Aggregate model.AggregateStatus `json:"aggregate,omitempty"`
	Approvals []model.Approval      `json:"approvals,omitempty"`
	Sections  []form.Section        `json:"sections,omitempty"`
}

func (s *ExecutionService) GetStepView(instanceId, stepId string) (*StepView, error) {
	instance, err := s.storage.GetInstance(instanceId)
	if err != nil {
		return nil, err
	}
	step, err := instance.Step(stepId)
	if err != nil {
		return nil, err
	}
	view := &StepView{Step: *step}
	cfg, err := step.ParseConfig()
	if err != nil {
		return nil, err
	}
	switch cfg := cfg.(type) {
	case *model.ApprovalConfig:
		decisions := instance.StepApprovals(stepId)
		view.Approvals = approval.Derive(cfg, decisions)
		view.Aggregate = approval.Evaluate(cfg, decisions)
	case *model.FormConfig:
		view.Sections = form.Plan(cfg, instance.Data)
	case *model.ScriptConfig:
	}
	return view, nil
}
