package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type StepType string

const STEP_TYPE_FORM StepType = "form"
const STEP_TYPE_APPROVAL StepType = "approval"
const STEP_TYPE_SCRIPT StepType = "script"

func ToStepType(st string) (StepType, error) {
	switch {
	case strings.EqualFold(st, "form"):
		return STEP_TYPE_FORM, nil
	case strings.EqualFold(st, "approval"):
		return STEP_TYPE_APPROVAL, nil
	case strings.EqualFold(st, "script"):
		return STEP_TYPE_SCRIPT, nil
	}
	return "", fmt.Errorf("invalid step type %s", st)
}

type StepStatus string

const STEP_PENDING StepStatus = "pending"
const STEP_IN_PROGRESS StepStatus = "in_progress"
const STEP_COMPLETED StepStatus = "completed"
const STEP_SKIPPED StepStatus = "skipped"
const STEP_FAILED StepStatus = "failed"

func (s StepStatus) Terminal() bool {
	return s == STEP_COMPLETED || s == STEP_SKIPPED || s == STEP_FAILED
}

// WorkflowStep is one unit of work inside an instance. Input carries the
// type-specific configuration payload; Output is only meaningful once the
// step status is completed or skipped.
// Input stays raw so that form schemas keep their property declaration order
// across decode/encode round trips.
type WorkflowStep struct {
	Id          string          `json:"id"`
	Type        StepType        `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Input       json.RawMessage `json:"input"`
	Output      map[string]any  `json:"output,omitempty"`
	Status      StepStatus      `json:"status"`
	CanSkip     bool            `json:"canSkip"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
}

// StepConfig is the closed set of parsed step configurations. The coordinator
// switches over the concrete types exhaustively; adding a new step kind means
// adding a type here plus a case in every switch.
type StepConfig interface {
	stepConfig()
}

var _ StepConfig = (*ApprovalConfig)(nil)
var _ StepConfig = (*FormConfig)(nil)
var _ StepConfig = (*ScriptConfig)(nil)

type ApproverType string

const APPROVER_TYPE_USER ApproverType = "user"
const APPROVER_TYPE_ROLE ApproverType = "role"
const APPROVER_TYPE_GROUP ApproverType = "group"

type ApprovalPolicy string

const POLICY_ANY ApprovalPolicy = "any"
const POLICY_ALL ApprovalPolicy = "all"
const POLICY_MAJORITY ApprovalPolicy = "majority"
const POLICY_SEQUENTIAL ApprovalPolicy = "sequential"

func ValidateApprovalPolicy(p string) error {
	switch ApprovalPolicy(p) {
	case POLICY_ANY, POLICY_ALL, POLICY_MAJORITY, POLICY_SEQUENTIAL:
		return nil
	}
	return fmt.Errorf("invalid approval policy %s", p)
}

type ApproverDef struct {
	Identifier string       `json:"identifier"`
	Name       string       `json:"name,omitempty"`
	Type       ApproverType `json:"type"`
	Required   bool         `json:"required"`
	Order      int          `json:"order"`
}

// Escalation names the fallback approver a step delegates to when it sits
// untouched past the delay. The escalation sweeper interprets it; the
// evaluator never does.
type Escalation struct {
	To           string `json:"to"`
	DelaySeconds int    `json:"delaySeconds"`
}

type ApprovalConfig struct {
	Approvers  []ApproverDef  `json:"approvers"`
	Policy     ApprovalPolicy `json:"policy"`
	Escalation *Escalation    `json:"escalation,omitempty"`
}

func (*ApprovalConfig) stepConfig() {}

type FormConfig struct {
	Schema   Schema        `json:"schema"`
	Sections []FormSection `json:"sections,omitempty"`
	Layout   string        `json:"layout,omitempty"`
}

func (*FormConfig) stepConfig() {}

type FormSection struct {
	Title       string   `json:"title"`
	Fields      []string `json:"fields"`
	Collapsible bool     `json:"collapsible,omitempty"`
}

type ScriptConfig struct {
	Expression string `json:"expression"`
}

func (*ScriptConfig) stepConfig() {}

// ParseConfig decodes the step's opaque input payload into the typed
// configuration matching its discriminator.
func (s WorkflowStep) ParseConfig() (StepConfig, error) {
	data := s.Input
	if len(data) == 0 {
		data = []byte("{}")
	}
	switch s.Type {
	case STEP_TYPE_APPROVAL:
		var cfg ApprovalConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("stepId=%s, invalid approval config: %w", s.Id, err)
		}
		return &cfg, nil
	case STEP_TYPE_FORM:
		var cfg FormConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("stepId=%s, invalid form config: %w", s.Id, err)
		}
		return &cfg, nil
	case STEP_TYPE_SCRIPT:
		var cfg ScriptConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("stepId=%s, invalid script config: %w", s.Id, err)
		}
		return &cfg, nil
	}
	return nil, fmt.Errorf("stepId=%s, unknown step type %s", s.Id, s.Type)
}

type ApprovalStatus string

const APPROVAL_PENDING ApprovalStatus = "pending"
const APPROVAL_APPROVED ApprovalStatus = "approved"
const APPROVAL_REJECTED ApprovalStatus = "rejected"

// ApprovalDecision is one recorded decision, tagged with the step it belongs
// to. The instance keeps a flat list across all steps. Slot names the roster
// entry the decision fulfills; for role and group entries it differs from
// the acting user's identifier.
type ApprovalDecision struct {
	StepId       string         `json:"stepId"`
	Approver     string         `json:"approver"`
	ApproverName string         `json:"approverName,omitempty"`
	Slot         string         `json:"slot,omitempty"`
	Status       ApprovalStatus `json:"status"`
	Timestamp    *time.Time     `json:"timestamp,omitempty"`
	Comment      string         `json:"comment,omitempty"`
}

// Approval is the derived, per-approver view for one step: the configured
// roster joined against recorded decisions. Never stored. ActedBy is set
// when the acting user differs from the roster identifier, as with role and
// group entries.
type Approval struct {
	Approver     string         `json:"approver"`
	ApproverName string         `json:"approverName,omitempty"`
	ActedBy      string         `json:"actedBy,omitempty"`
	Status       ApprovalStatus `json:"status"`
	Timestamp    *time.Time     `json:"timestamp,omitempty"`
	Comment      string         `json:"comment,omitempty"`
	Required     bool           `json:"required"`
	Order        int            `json:"order"`
}

// AggregateStatus is the step-level approval outcome computed from the
// derived roster under the configured policy.
type AggregateStatus string

const AGGREGATE_PENDING AggregateStatus = "pending"
const AGGREGATE_APPROVED AggregateStatus = "approved"
const AGGREGATE_REJECTED AggregateStatus = "rejected"
const AGGREGATE_WAITING AggregateStatus = "waiting"

// Identity is the acting caller, resolved by whatever authentication sits in
// front of the engine.
type Identity struct {
	Identifier string   `json:"identifier"`
	Name       string   `json:"name,omitempty"`
	Roles      []string `json:"roles,omitempty"`
	Groups     []string `json:"groups,omitempty"`
}
