package service

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ispkit/stepflow/approval"
	"github.com/ispkit/stepflow/audit"
	"github.com/ispkit/stepflow/logger"
	"github.com/ispkit/stepflow/model"
	"github.com/ispkit/stepflow/util"
)

// EscalationWorker sweeps running instances and reassigns approval steps
// that configured an escalation and have sat unresolved past the configured
// delay. Once the escalation target is on the roster the step is considered
// escalated and left alone.
type EscalationWorker struct {
	service    *ExecutionService
	tickWorker *util.TickWorker
}

func NewEscalationWorker(service *ExecutionService, interval time.Duration, wg *sync.WaitGroup) *EscalationWorker {
	ew := &EscalationWorker{service: service}
	ew.tickWorker = util.NewTickWorker("escalation-sweeper", interval, make(chan struct{}), ew.sweep, wg)
	return ew
}

func (ew *EscalationWorker) Start() {
	ew.tickWorker.Start()
}

func (ew *EscalationWorker) Stop() {
	if ew.tickWorker.IsRunning() {
		ew.tickWorker.Stop()
	}
}

func (ew *EscalationWorker) sweep() {
	instances, err := ew.service.storage.ListInstances()
	if err != nil {
		logger.Error("escalation sweep failed to list instances", zap.Error(err))
		return
	}
	now := time.Now()
	for _, instance := range instances {
		if instance.Status != model.INSTANCE_IN_PROGRESS {
			continue
		}
		for i := range instance.Steps {
			step := instance.Steps[i]
			if step.Type != model.STEP_TYPE_APPROVAL || step.Status != model.STEP_IN_PROGRESS || step.StartedAt == nil {
				continue
			}
			cfg, err := step.ParseConfig()
			if err != nil {
				continue
			}
			approvalCfg := cfg.(*model.ApprovalConfig)
			if approvalCfg.Escalation == nil {
				continue
			}
			deadline := step.StartedAt.Add(time.Duration(approvalCfg.Escalation.DelaySeconds) * time.Second)
			if now.Before(deadline) {
				continue
			}
			ew.escalate(instance.Id, step.Id, approvalCfg, instance.StepApprovals(step.Id))
		}
	}
}

func (ew *EscalationWorker) escalate(instanceId, stepId string, cfg *model.ApprovalConfig, decisions []model.ApprovalDecision) {
	for _, ap := range cfg.Approvers {
		if ap.Identifier == cfg.Escalation.To {
			// already escalated
			return
		}
	}
	from := ""
	for _, a := range approval.Derive(cfg, decisions) {
		if a.Status == model.APPROVAL_PENDING {
			from = a.Approver
			break
		}
	}
	if from == "" {
		return
	}
	err := ew.service.Delegate(instanceId, stepId, model.DelegateRequest{
		From:    from,
		To:      cfg.Escalation.To,
		Comment: "escalated after timeout",
	})
	if err != nil {
		logger.Error("escalation failed", zap.String("id", instanceId), zap.String("step", stepId), zap.Error(err))
		return
	}
	logger.Info("escalated approval step", zap.String("id", instanceId), zap.String("step", stepId), zap.String("from", from), zap.String("to", cfg.Escalation.To))
	ew.service.recorder.Record(audit.Event{
		InstanceId: instanceId,
		StepId:     stepId,
		Kind:       "approver_escalated",
		Actor:      from,
		Detail:     map[string]any{"to": cfg.Escalation.To},
	})
}
