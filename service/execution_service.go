package service

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ispkit/stepflow/approval"
	"github.com/ispkit/stepflow/audit"
	"github.com/ispkit/stepflow/flow"
	"github.com/ispkit/stepflow/form"
	"github.com/ispkit/stepflow/logger"
	"github.com/ispkit/stepflow/metadata"
	"github.com/ispkit/stepflow/model"
	"github.com/ispkit/stepflow/persistence"
)

// ExecutionService drives workflow instances: it loads the instance, lets
// the evaluators judge the step, applies the result through the flow machine
// and persists the whole instance afterwards. Conflicts between concurrent
// writers resolve as last write wins at the storage layer.
type ExecutionService struct {
	storage  persistence.InstanceStorage
	metadata metadata.TemplateService
	recorder audit.Recorder
}

func NewExecutionService(storage persistence.InstanceStorage, metadataService metadata.TemplateService, recorder audit.Recorder) *ExecutionService {
	return &ExecutionService{
		storage:  storage,
		metadata: metadataService,
		recorder: recorder,
	}
}

// CreateInstance stamps a new instance out of a template. The instance is
// created not_started; a separate start call moves the pointer onto the
// first step.
func (s *ExecutionService) CreateInstance(templateId string, input map[string]any) (*model.WorkflowInstance, error) {
	tpl, err := s.metadata.GetTemplate(templateId)
	if err != nil {
		return nil, err
	}
	instance := flow.Instantiate(tpl, input)
	if err := s.storage.SaveInstance(instance); err != nil {
		return nil, err
	}
	logger.Info("created workflow instance", zap.String("template", templateId), zap.String("id", instance.Id))
	s.recorder.Record(audit.Event{InstanceId: instance.Id, Kind: "instance_created", Detail: map[string]any{"templateId": templateId}})
	return instance, nil
}

func (s *ExecutionService) GetInstance(id string) (*model.WorkflowInstance, error) {
	return s.storage.GetInstance(id)
}

func (s *ExecutionService) StartInstance(id string) (*model.WorkflowInstance, error) {
	instance, err := s.storage.GetInstance(id)
	if err != nil {
		return nil, err
	}
	machine := flow.NewMachine(instance)
	if err := machine.Start(); err != nil {
		return nil, err
	}
	s.runScriptSteps(machine)
	if err := s.storage.SaveInstance(instance); err != nil {
		return nil, err
	}
	logger.Info("started workflow instance", zap.String("id", id))
	s.recorder.Record(audit.Event{InstanceId: id, Kind: "instance_started"})
	return instance, nil
}

func (s *ExecutionService) CancelInstance(id string) error {
	instance, err := s.storage.GetInstance(id)
	if err != nil {
		return err
	}
	if err := flow.NewMachine(instance).Cancel(); err != nil {
		return err
	}
	if err := s.storage.SaveInstance(instance); err != nil {
		return err
	}
	logger.Info("cancelled workflow instance", zap.String("id", id))
	s.recorder.Record(audit.Event{InstanceId: id, Kind: "instance_cancelled"})
	return nil
}

// RecordDecision records one approver's decision on an approval step and, if
// the aggregate settles, resolves the step. A second identical call from the
// same approver returns the already-recorded decision instead of recording a
// duplicate.
func (s *ExecutionService) RecordDecision(instanceId, stepId string, req model.DecisionRequest) (*model.ApprovalDecision, error) {
	if err := approval.ValidateDecision(req); err != nil {
		return nil, err
	}
	instance, err := s.storage.GetInstance(instanceId)
	if err != nil {
		return nil, err
	}
	machine := flow.NewMachine(instance)
	step, cfg, err := s.actionableStep(instance, stepId, model.STEP_TYPE_APPROVAL)
	if err != nil {
		return nil, err
	}
	approvalCfg := cfg.(*model.ApprovalConfig)
	decisions := instance.StepApprovals(stepId)
	for _, d := range decisions {
		if d.Approver == req.Approver && d.Status != model.APPROVAL_PENDING {
			if d.Status == req.Decision {
				replay := d
				return &replay, nil
			}
			return nil, approval.ErrAlreadyActed
		}
	}
	identity := model.Identity{Identifier: req.Approver, Name: req.ApproverName, Roles: req.Roles, Groups: req.Groups}
	slot, err := approval.CanAct(approvalCfg, decisions, identity)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	comment := req.Comment
	if req.Decision == model.APPROVAL_REJECTED && comment == "" {
		comment = req.Reason
	}
	decision := model.ApprovalDecision{
		StepId:       stepId,
		Approver:     req.Approver,
		ApproverName: req.ApproverName,
		Slot:         slot,
		Status:       req.Decision,
		Timestamp:    &now,
		Comment:      comment,
	}
	instance.Approvals = append(instance.Approvals, decision)
	aggregate := approval.Evaluate(approvalCfg, instance.StepApprovals(stepId))
	switch aggregate {
	case model.AGGREGATE_APPROVED:
		err = machine.ResolveStep(stepId, model.STEP_COMPLETED, map[string]any{"aggregate": string(aggregate)})
	case model.AGGREGATE_REJECTED:
		if step.CanSkip {
			err = machine.ResolveStep(stepId, model.STEP_SKIPPED, map[string]any{"aggregate": string(aggregate)})
		} else {
			err = machine.ResolveStep(stepId, model.STEP_FAILED, nil)
		}
	default:
		instance.UpdatedAt = now
	}
	if err != nil {
		return nil, err
	}
	s.runScriptSteps(machine)
	if err := s.storage.SaveInstance(instance); err != nil {
		return nil, err
	}
	s.recorder.Record(audit.Event{
		InstanceId: instanceId,
		StepId:     stepId,
		Kind:       "decision_recorded",
		Actor:      req.Approver,
		Outcome:    string(req.Decision),
		Detail:     map[string]any{"aggregate": string(aggregate), "comment": comment},
	})
	return &decision, nil
}

// Delegate reassigns an approver slot to a new identifier. Recorded history
// stays untouched; only the roster inside the step configuration changes.
func (s *ExecutionService) Delegate(instanceId, stepId string, req model.DelegateRequest) error {
	instance, err := s.storage.GetInstance(instanceId)
	if err != nil {
		return err
	}
	step, cfg, err := s.actionableStep(instance, stepId, model.STEP_TYPE_APPROVAL)
	if err != nil {
		return err
	}
	updated, err := approval.Delegate(cfg.(*model.ApprovalConfig), req.From, req.To)
	if err != nil {
		return err
	}
	input, err := json.Marshal(updated)
	if err != nil {
		return err
	}
	step.Input = input
	instance.UpdatedAt = time.Now()
	if err := s.storage.SaveInstance(instance); err != nil {
		return err
	}
	s.recorder.Record(audit.Event{
		InstanceId: instanceId,
		StepId:     stepId,
		Kind:       "approver_delegated",
		Actor:      req.From,
		Detail:     map[string]any{"to": req.To, "comment": req.Comment},
	})
	return nil
}

// SubmitForm validates and records a form step's values, or skips the step
// when the request asks for it and the step allows skipping. Skipping
// bypasses validation entirely.
func (s *ExecutionService) SubmitForm(instanceId, stepId string, req model.SubmitRequest) (*model.WorkflowStep, error) {
	instance, err := s.storage.GetInstance(instanceId)
	if err != nil {
		return nil, err
	}
	machine := flow.NewMachine(instance)
	step, cfg, err := s.actionableStep(instance, stepId, model.STEP_TYPE_FORM)
	if err != nil {
		return nil, err
	}
	outcome := "submitted"
	if req.Skipped {
		if !step.CanSkip {
			return nil, fmt.Errorf("step %s can not be skipped", stepId)
		}
		err = machine.ResolveStep(stepId, model.STEP_SKIPPED, form.Skip())
		outcome = "skipped"
	} else {
		data, submitErr := form.Submit(cfg.(*model.FormConfig), req.Data)
		if submitErr != nil {
			return nil, submitErr
		}
		err = machine.ResolveStep(stepId, model.STEP_COMPLETED, data)
	}
	if err != nil {
		return nil, err
	}
	s.runScriptSteps(machine)
	if err := s.storage.SaveInstance(instance); err != nil {
		return nil, err
	}
	s.recorder.Record(audit.Event{
		InstanceId: instanceId,
		StepId:     stepId,
		Kind:       "form_resolved",
		Outcome:    outcome,
	})
	resolved := *step
	return &resolved, nil
}

// actionableStep loads a step and checks every local precondition short of
// the approver guard: the instance is running, the step has the expected
// kind, is unresolved, and respects declared order when the instance demands
// it.
func (s *ExecutionService) actionableStep(instance *model.WorkflowInstance, stepId string, wantType model.StepType) (*model.WorkflowStep, model.StepConfig, error) {
	if instance.Status.Terminal() {
		return nil, nil, flow.ErrInstanceTerminal
	}
	if instance.Status == model.INSTANCE_NOT_STARTED {
		return nil, nil, flow.ErrInstanceNotStarted
	}
	step, err := instance.Step(stepId)
	if err != nil {
		return nil, nil, err
	}
	if step.Type != wantType {
		return nil, nil, fmt.Errorf("step %s is a %s step, not a %s step", stepId, step.Type, wantType)
	}
	if step.Status.Terminal() {
		return nil, nil, flow.ErrStepResolved
	}
	if instance.RequireSequential && stepId != instance.CurrentStepId {
		return nil, nil, flow.ErrOutOfOrder
	}
	cfg, err := step.ParseConfig()
	if err != nil {
		return nil, nil, err
	}
	return step, cfg, nil
}

// runScriptSteps executes consecutive script steps sitting under the current
// pointer. A failing script fails the run unless the step can be skipped.
func (s *ExecutionService) runScriptSteps(machine *flow.Machine) {
	for {
		step := machine.CurrentStep()
		if step == nil || step.Type != model.STEP_TYPE_SCRIPT {
			return
		}
		instance := machine.Instance()
		cfg, err := step.ParseConfig()
		var output map[string]any
		if err == nil {
			output, err = flow.ExecuteScript(cfg.(*model.ScriptConfig), instance.Data)
		}
		if err != nil {
			logger.Error("script step failed", zap.String("id", instance.Id), zap.String("step", step.Id), zap.Error(err))
			status := model.STEP_FAILED
			if step.CanSkip {
				status = model.STEP_SKIPPED
			}
			machine.ResolveStep(step.Id, status, nil)
			s.recorder.Record(audit.Event{InstanceId: instance.Id, StepId: step.Id, Kind: "script_resolved", Outcome: string(status)})
			continue
		}
		machine.ResolveStep(step.Id, model.STEP_COMPLETED, output)
		s.recorder.Record(audit.Event{InstanceId: instance.Id, StepId: step.Id, Kind: "script_resolved", Outcome: string(model.STEP_COMPLETED)})
	}
}
