package model

import (
	"fmt"
	"time"
)

type InstanceStatus string

const INSTANCE_NOT_STARTED InstanceStatus = "not_started"
const INSTANCE_IN_PROGRESS InstanceStatus = "in_progress"
const INSTANCE_COMPLETED InstanceStatus = "completed"
const INSTANCE_CANCELLED InstanceStatus = "cancelled"
const INSTANCE_FAILED InstanceStatus = "failed"

func (s InstanceStatus) Terminal() bool {
	return s == INSTANCE_COMPLETED || s == INSTANCE_CANCELLED || s == INSTANCE_FAILED
}

// WorkflowInstance is one run of a template. Steps are copied from the
// template at instantiation and mutated in place as the run progresses.
// Approvals is the flat decision list across all steps.
type WorkflowInstance struct {
	Id                string             `json:"id"`
	TemplateId        string             `json:"templateId"`
	CurrentStepId     string             `json:"currentStepId,omitempty"`
	Status            InstanceStatus     `json:"status"`
	Progress          int                `json:"progress"`
	RequireSequential bool               `json:"requireSequential"`
	Steps             []WorkflowStep     `json:"steps"`
	Approvals         []ApprovalDecision `json:"approvals"`
	Data              map[string]any     `json:"data,omitempty"`
	CreatedAt         time.Time          `json:"createdAt"`
	UpdatedAt         time.Time          `json:"updatedAt"`
}

func (in *WorkflowInstance) Step(stepId string) (*WorkflowStep, error) {
	for i := range in.Steps {
		if in.Steps[i].Id == stepId {
			return &in.Steps[i], nil
		}
	}
	return nil, fmt.Errorf("step %s not found in instance %s", stepId, in.Id)
}

// StepApprovals returns the recorded decisions for one step, in recording
// order.
func (in *WorkflowInstance) StepApprovals(stepId string) []ApprovalDecision {
	var out []ApprovalDecision
	for _, a := range in.Approvals {
		if a.StepId == stepId {
			out = append(out, a)
		}
	}
	return out
}

// WorkflowTemplate is the reusable step sequence an instance is stamped out
// of. Templates are stored and served by this engine but owned by whoever
// authors them.
type WorkflowTemplate struct {
	Id                string         `json:"id"`
	Name              string         `json:"name"`
	Description       string         `json:"description,omitempty"`
	RequireSequential bool           `json:"requireSequential"`
	Steps             []WorkflowStep `json:"steps"`
}

type InstanceRunRequest struct {
	TemplateId string         `json:"templateId"`
	Input      map[string]any `json:"input,omitempty"`
}

type DecisionRequest struct {
	Approver     string         `json:"approver"`
	ApproverName string         `json:"approverName,omitempty"`
	Roles        []string       `json:"roles,omitempty"`
	Groups       []string       `json:"groups,omitempty"`
	Decision     ApprovalStatus `json:"decision"`
	Comment      string         `json:"comment,omitempty"`
	Reason       string         `json:"reason,omitempty"`
}

type DelegateRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Comment string `json:"comment,omitempty"`
}

type SubmitRequest struct {
	Data    map[string]any `json:"data,omitempty"`
	Skipped bool           `json:"skipped,omitempty"`
}
