package service

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ispkit/stepflow/approval"
	"github.com/ispkit/stepflow/audit"
	"github.com/ispkit/stepflow/flow"
	"github.com/ispkit/stepflow/form"
	"github.com/ispkit/stepflow/metadata"
	"github.com/ispkit/stepflow/model"
	"github.com/ispkit/stepflow/persistence/inmem"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *ExecutionService {
	t.Helper()
	var wg sync.WaitGroup
	recorder, stop, err := audit.NewRecorder(audit.RecorderConfig{RecorderType: audit.NOOP_RECORDER}, &wg)
	require.NoError(t, err)
	t.Cleanup(stop)
	storage := inmem.NewStorage()
	return NewExecutionService(storage, metadata.NewTemplateService(storage), recorder)
}

func provisioningTemplate(sequential bool) model.WorkflowTemplate {
	return model.WorkflowTemplate{
		Id:                "provision-fiber",
		Name:              "Provision Fiber",
		RequireSequential: sequential,
		Steps: []model.WorkflowStep{
			{
				Id:   "survey",
				Type: model.STEP_TYPE_FORM,
				Name: "Site Survey",
				Input: json.RawMessage(`{"schema":{
					"properties":{
						"address":{"type":"string"},
						"seats":{"type":"integer","minimum":1}},
					"required":["address","seats"]}}`),
			},
			{
				Id:   "price",
				Type: model.STEP_TYPE_SCRIPT,
				Name: "Compute Price",
				Input: json.RawMessage(`{"expression":
					"$ = { total: $.steps.survey.output.seats * 25 };"}`),
			},
			{
				Id:   "approve",
				Type: model.STEP_TYPE_APPROVAL,
				Name: "Manager Approval",
				Input: json.RawMessage(`{"policy":"all","approvers":[
					{"identifier":"manager","type":"role","required":true,"order":0}]}`),
			},
			{
				Id:      "activate",
				Type:    model.STEP_TYPE_FORM,
				Name:    "Activate Service",
				CanSkip: true,
				Input: json.RawMessage(`{"schema":{
					"properties":{"circuitId":{"type":"string"}},
					"required":["circuitId"]}}`),
			},
		},
	}
}

func runningInstance(t *testing.T, svc *ExecutionService, tpl model.WorkflowTemplate, input map[string]any) *model.WorkflowInstance {
	t.Helper()
	require.NoError(t, svc.metadata.SaveTemplate(tpl))
	created, err := svc.CreateInstance(tpl.Id, input)
	require.NoError(t, err)
	started, err := svc.StartInstance(created.Id)
	require.NoError(t, err)
	return started
}

func TestExecutionService(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T, svc *ExecutionService){
		"test full run to completion":                 testFullRun,
		"test rejection fails the run":                testRejectionFails,
		"test rejection skips a skippable step":       testRejectionSkips,
		"test identical decisions replay":             testDecisionReplay,
		"test conflicting second decision is refused": testDecisionConflict,
		"test strangers can not decide":               testStrangerDecision,
		"test rejection without a reason is refused":  testRejectionNeedsReason,
		"test delegation hands the slot over":         testDelegation,
		"test invalid form values are refused":        testInvalidSubmit,
		"test skipping needs permission":              testSkipNeedsPermission,
		"test sequential instances gate step order":   testSequentialOrder,
		"test step views carry derived state":         testStepViews,
		"test escalation sweep reassigns stale steps": testEscalationSweep,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, newTestService(t))
		})
	}
}

func testFullRun(t *testing.T, svc *ExecutionService) {
	in := runningInstance(t, svc, provisioningTemplate(true), map[string]any{"customerId": "C-9"})
	require.Equal(t, model.INSTANCE_IN_PROGRESS, in.Status)
	require.Equal(t, "survey", in.CurrentStepId)

	step, err := svc.SubmitForm(in.Id, "survey", model.SubmitRequest{
		Data: map[string]any{"address": "1 Main St", "seats": float64(4)},
	})
	require.NoError(t, err)
	require.Equal(t, model.STEP_COMPLETED, step.Status)
	require.Equal(t, map[string]any{"address": "1 Main St", "seats": float64(4)}, step.Output)

	// the script step ran on its own off the survey output
	in, err = svc.GetInstance(in.Id)
	require.NoError(t, err)
	price, err := in.Step("price")
	require.NoError(t, err)
	require.Equal(t, model.STEP_COMPLETED, price.Status)
	require.Equal(t, float64(100), price.Output["total"])
	require.Equal(t, "approve", in.CurrentStepId)
	require.Equal(t, 50, in.Progress)

	decision, err := svc.RecordDecision(in.Id, "approve", model.DecisionRequest{
		Approver: "bob",
		Roles:    []string{"manager"},
		Decision: model.APPROVAL_APPROVED,
		Comment:  "looks good",
	})
	require.NoError(t, err)
	require.Equal(t, model.APPROVAL_APPROVED, decision.Status)

	in, err = svc.GetInstance(in.Id)
	require.NoError(t, err)
	require.Equal(t, "activate", in.CurrentStepId)
	require.Equal(t, 75, in.Progress)

	_, err = svc.SubmitForm(in.Id, "activate", model.SubmitRequest{
		Data: map[string]any{"circuitId": "CKT-100"},
	})
	require.NoError(t, err)

	in, err = svc.GetInstance(in.Id)
	require.NoError(t, err)
	require.Equal(t, model.INSTANCE_COMPLETED, in.Status)
	require.Equal(t, 100, in.Progress)
	require.Empty(t, in.CurrentStepId)
}

func advanceToApproval(t *testing.T, svc *ExecutionService, sequential bool) *model.WorkflowInstance {
	t.Helper()
	in := runningInstance(t, svc, provisioningTemplate(sequential), nil)
	_, err := svc.SubmitForm(in.Id, "survey", model.SubmitRequest{
		Data: map[string]any{"address": "1 Main St", "seats": float64(2)},
	})
	require.NoError(t, err)
	in, err = svc.GetInstance(in.Id)
	require.NoError(t, err)
	require.Equal(t, "approve", in.CurrentStepId)
	return in
}

func testRejectionFails(t *testing.T, svc *ExecutionService) {
	in := advanceToApproval(t, svc, true)
	_, err := svc.RecordDecision(in.Id, "approve", model.DecisionRequest{
		Approver: "bob",
		Roles:    []string{"manager"},
		Decision: model.APPROVAL_REJECTED,
		Reason:   "budget exceeded",
	})
	require.NoError(t, err)

	in, err = svc.GetInstance(in.Id)
	require.NoError(t, err)
	require.Equal(t, model.INSTANCE_FAILED, in.Status)
	step, err := in.Step("approve")
	require.NoError(t, err)
	require.Equal(t, model.STEP_FAILED, step.Status)
	require.Equal(t, "budget exceeded", in.Approvals[0].Comment)
}

func testRejectionSkips(t *testing.T, svc *ExecutionService) {
	tpl := provisioningTemplate(true)
	tpl.Steps[2].CanSkip = true
	in := runningInstance(t, svc, tpl, nil)
	_, err := svc.SubmitForm(in.Id, "survey", model.SubmitRequest{
		Data: map[string]any{"address": "1 Main St", "seats": float64(2)},
	})
	require.NoError(t, err)

	_, err = svc.RecordDecision(in.Id, "approve", model.DecisionRequest{
		Approver: "bob",
		Roles:    []string{"manager"},
		Decision: model.APPROVAL_REJECTED,
		Reason:   "not needed",
	})
	require.NoError(t, err)

	in, err = svc.GetInstance(in.Id)
	require.NoError(t, err)
	require.Equal(t, model.INSTANCE_IN_PROGRESS, in.Status, "a skippable rejection keeps the run alive")
	step, err := in.Step("approve")
	require.NoError(t, err)
	require.Equal(t, model.STEP_SKIPPED, step.Status)
	require.Equal(t, "activate", in.CurrentStepId)
}

func testDecisionReplay(t *testing.T, svc *ExecutionService) {
	tpl := provisioningTemplate(true)
	tpl.Steps[2].Input = json.RawMessage(`{"policy":"all","approvers":[
		{"identifier":"manager","type":"role","required":true,"order":0},
		{"identifier":"alice","type":"user","required":true,"order":1}]}`)
	in := runningInstance(t, svc, tpl, nil)
	_, err := svc.SubmitForm(in.Id, "survey", model.SubmitRequest{
		Data: map[string]any{"address": "1 Main St", "seats": float64(2)},
	})
	require.NoError(t, err)

	first, err := svc.RecordDecision(in.Id, "approve", model.DecisionRequest{
		Approver: "bob",
		Roles:    []string{"manager"},
		Decision: model.APPROVAL_APPROVED,
	})
	require.NoError(t, err)

	replay, err := svc.RecordDecision(in.Id, "approve", model.DecisionRequest{
		Approver: "bob",
		Roles:    []string{"manager"},
		Decision: model.APPROVAL_APPROVED,
	})
	require.NoError(t, err)
	require.NotNil(t, replay.Timestamp)
	require.True(t, first.Timestamp.Equal(*replay.Timestamp), "the recorded decision is returned, not a new one")

	in, err = svc.GetInstance(in.Id)
	require.NoError(t, err)
	require.Len(t, in.Approvals, 1)
}

func testDecisionConflict(t *testing.T, svc *ExecutionService) {
	tpl := provisioningTemplate(true)
	tpl.Steps[2].Input = json.RawMessage(`{"policy":"all","approvers":[
		{"identifier":"manager","type":"role","required":true,"order":0},
		{"identifier":"alice","type":"user","required":true,"order":1}]}`)
	in := runningInstance(t, svc, tpl, nil)
	_, err := svc.SubmitForm(in.Id, "survey", model.SubmitRequest{
		Data: map[string]any{"address": "1 Main St", "seats": float64(2)},
	})
	require.NoError(t, err)

	_, err = svc.RecordDecision(in.Id, "approve", model.DecisionRequest{
		Approver: "bob",
		Roles:    []string{"manager"},
		Decision: model.APPROVAL_APPROVED,
	})
	require.NoError(t, err)

	_, err = svc.RecordDecision(in.Id, "approve", model.DecisionRequest{
		Approver: "bob",
		Roles:    []string{"manager"},
		Decision: model.APPROVAL_REJECTED,
		Reason:   "changed my mind",
	})
	require.ErrorIs(t, err, approval.ErrAlreadyActed)
}

func testStrangerDecision(t *testing.T, svc *ExecutionService) {
	in := advanceToApproval(t, svc, true)
	_, err := svc.RecordDecision(in.Id, "approve", model.DecisionRequest{
		Approver: "mallory",
		Decision: model.APPROVAL_APPROVED,
	})
	require.ErrorIs(t, err, approval.ErrNotApprover)
}

func testRejectionNeedsReason(t *testing.T, svc *ExecutionService) {
	in := advanceToApproval(t, svc, true)
	_, err := svc.RecordDecision(in.Id, "approve", model.DecisionRequest{
		Approver: "bob",
		Roles:    []string{"manager"},
		Decision: model.APPROVAL_REJECTED,
	})
	require.ErrorIs(t, err, approval.ErrEmptyReason)
}

func testDelegation(t *testing.T, svc *ExecutionService) {
	tpl := provisioningTemplate(true)
	tpl.Steps[2].Input = json.RawMessage(`{"policy":"all","approvers":[
		{"identifier":"alice","type":"user","required":true,"order":0}]}`)
	in := runningInstance(t, svc, tpl, nil)
	_, err := svc.SubmitForm(in.Id, "survey", model.SubmitRequest{
		Data: map[string]any{"address": "1 Main St", "seats": float64(2)},
	})
	require.NoError(t, err)

	require.NoError(t, svc.Delegate(in.Id, "approve", model.DelegateRequest{
		From: "alice", To: "frank", Comment: "on leave",
	}))

	_, err = svc.RecordDecision(in.Id, "approve", model.DecisionRequest{
		Approver: "alice",
		Decision: model.APPROVAL_APPROVED,
	})
	require.ErrorIs(t, err, approval.ErrNotApprover, "the delegator lost the slot")

	_, err = svc.RecordDecision(in.Id, "approve", model.DecisionRequest{
		Approver: "frank",
		Decision: model.APPROVAL_APPROVED,
	})
	require.NoError(t, err)

	in, err = svc.GetInstance(in.Id)
	require.NoError(t, err)
	step, err := in.Step("approve")
	require.NoError(t, err)
	require.Equal(t, model.STEP_COMPLETED, step.Status)
}

func testInvalidSubmit(t *testing.T, svc *ExecutionService) {
	in := runningInstance(t, svc, provisioningTemplate(true), nil)
	_, err := svc.SubmitForm(in.Id, "survey", model.SubmitRequest{
		Data: map[string]any{"address": "1 Main St", "seats": float64(0)},
	})
	var errs form.ValidationErrors
	require.ErrorAs(t, err, &errs)
	require.Contains(t, errs, "seats")

	// nothing was resolved
	in, err = svc.GetInstance(in.Id)
	require.NoError(t, err)
	require.Equal(t, "survey", in.CurrentStepId)
	require.Equal(t, 0, in.Progress)
}

func testSkipNeedsPermission(t *testing.T, svc *ExecutionService) {
	in := runningInstance(t, svc, provisioningTemplate(true), nil)
	_, err := svc.SubmitForm(in.Id, "survey", model.SubmitRequest{Skipped: true})
	require.Error(t, err, "survey does not allow skipping")

	_, err = svc.SubmitForm(in.Id, "survey", model.SubmitRequest{
		Data: map[string]any{"address": "1 Main St", "seats": float64(2)},
	})
	require.NoError(t, err)
	_, err = svc.RecordDecision(in.Id, "approve", model.DecisionRequest{
		Approver: "bob", Roles: []string{"manager"}, Decision: model.APPROVAL_APPROVED,
	})
	require.NoError(t, err)

	step, err := svc.SubmitForm(in.Id, "activate", model.SubmitRequest{Skipped: true})
	require.NoError(t, err)
	require.Equal(t, model.STEP_SKIPPED, step.Status)
	require.Equal(t, map[string]any{"skipped": true}, step.Output)
}

func testSequentialOrder(t *testing.T, svc *ExecutionService) {
	in := runningInstance(t, svc, provisioningTemplate(true), nil)
	_, err := svc.SubmitForm(in.Id, "activate", model.SubmitRequest{
		Data: map[string]any{"circuitId": "CKT-100"},
	})
	require.ErrorIs(t, err, flow.ErrOutOfOrder)

	loose := provisioningTemplate(false)
	loose.Id = "provision-loose"
	in = runningInstance(t, svc, loose, nil)
	step, err := svc.SubmitForm(in.Id, "activate", model.SubmitRequest{
		Data: map[string]any{"circuitId": "CKT-100"},
	})
	require.NoError(t, err)
	require.Equal(t, model.STEP_COMPLETED, step.Status)
}

func testStepViews(t *testing.T, svc *ExecutionService) {
	in := advanceToApproval(t, svc, true)

	view, err := svc.GetStepView(in.Id, "approve")
	require.NoError(t, err)
	require.Equal(t, model.AGGREGATE_PENDING, view.Aggregate)
	require.Len(t, view.Approvals, 1)
	require.Equal(t, "manager", view.Approvals[0].Approver)
	require.Equal(t, model.APPROVAL_PENDING, view.Approvals[0].Status)

	view, err = svc.GetStepView(in.Id, "activate")
	require.NoError(t, err)
	require.Len(t, view.Sections, 1)
	require.Equal(t, "circuitId", view.Sections[0].Fields[0].Name)
}

func testEscalationSweep(t *testing.T, svc *ExecutionService) {
	tpl := provisioningTemplate(true)
	tpl.Steps[2].Input = json.RawMessage(`{"policy":"all","approvers":[
		{"identifier":"alice","type":"user","required":true,"order":0}],
		"escalation":{"to":"cto","delaySeconds":1}}`)
	in := runningInstance(t, svc, tpl, nil)
	_, err := svc.SubmitForm(in.Id, "survey", model.SubmitRequest{
		Data: map[string]any{"address": "1 Main St", "seats": float64(2)},
	})
	require.NoError(t, err)

	// backdate the step start past the escalation delay
	in, err = svc.GetInstance(in.Id)
	require.NoError(t, err)
	step, err := in.Step("approve")
	require.NoError(t, err)
	stale := time.Now().Add(-time.Minute)
	step.StartedAt = &stale
	require.NoError(t, svc.storage.SaveInstance(in))

	var wg sync.WaitGroup
	ew := NewEscalationWorker(svc, time.Minute, &wg)
	ew.sweep()

	_, err = svc.RecordDecision(in.Id, "approve", model.DecisionRequest{
		Approver: "cto",
		Decision: model.APPROVAL_APPROVED,
	})
	require.NoError(t, err, "the escalation target took over the slot")

	// a second sweep finds the target already on the roster and stays quiet
	ew.sweep()
	in, err = svc.GetInstance(in.Id)
	require.NoError(t, err)
	step, err = in.Step("approve")
	require.NoError(t, err)
	require.Equal(t, model.STEP_COMPLETED, step.Status)
}
