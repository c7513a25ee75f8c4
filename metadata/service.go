package metadata

import (
	"fmt"
	"strings"
	"time"

	c "github.com/patrickmn/go-cache"

	"github.com/ispkit/stepflow/model"
)

// TemplateService fronts template storage with validation on write and a
// short-lived read cache. Instances are stamped out of templates often enough
// that re-reading storage on every run is wasteful.
type TemplateService interface {
	GetTemplate(id string) (*model.WorkflowTemplate, error)
	SaveTemplate(tpl model.WorkflowTemplate) error
	DeleteTemplate(id string) error
	ValidateTemplate(tpl model.WorkflowTemplate) error
	GetTemplateStorage() TemplateStorage
}

type templateService struct {
	storage TemplateStorage
	cache   *c.Cache
}

func NewTemplateService(storage TemplateStorage) TemplateService {
	return &templateService{
		storage: storage,
		cache:   c.New(5*time.Minute, 10*time.Minute),
	}
}

func (s *templateService) GetTemplate(id string) (*model.WorkflowTemplate, error) {
	if cached, found := s.cache.Get(id); found {
		return cached.(*model.WorkflowTemplate), nil
	}
	tpl, err := s.storage.GetTemplate(id)
	if err != nil {
		return nil, err
	}
	s.cache.SetDefault(id, tpl)
	return tpl, nil
}

func (s *templateService) SaveTemplate(tpl model.WorkflowTemplate) error {
	if err := s.ValidateTemplate(tpl); err != nil {
		return err
	}
	if err := s.storage.SaveTemplate(tpl); err != nil {
		return err
	}
	s.cache.Delete(tpl.Id)
	return nil
}

func (s *templateService) DeleteTemplate(id string) error {
	if err := s.storage.DeleteTemplate(id); err != nil {
		return err
	}
	s.cache.Delete(id)
	return nil
}

func (s *templateService) GetTemplateStorage() TemplateStorage {
	return s.storage
}

// ValidateTemplate rejects malformed templates at load time, before an
// instance can ever be stamped out of them. Duplicate approver identifiers
// are rejected here because their evaluation semantics are undefined.
func (s *templateService) ValidateTemplate(tpl model.WorkflowTemplate) error {
	if strings.TrimSpace(tpl.Id) == "" {
		return fmt.Errorf("template id can not be empty")
	}
	if strings.TrimSpace(tpl.Name) == "" {
		return fmt.Errorf("template name can not be empty")
	}
	if len(tpl.Steps) == 0 {
		return fmt.Errorf("template %s has no steps", tpl.Id)
	}
	stepIds := make(map[string]bool)
	for _, step := range tpl.Steps {
		if strings.TrimSpace(step.Id) == "" {
			return fmt.Errorf("template %s has a step without an id", tpl.Id)
		}
		if stepIds[step.Id] {
			return fmt.Errorf("step id %s is duplicate", step.Id)
		}
		stepIds[step.Id] = true
		if _, err := model.ToStepType(string(step.Type)); err != nil {
			return fmt.Errorf("stepId=%s, %w", step.Id, err)
		}
		cfg, err := step.ParseConfig()
		if err != nil {
			return err
		}
		switch cfg := cfg.(type) {
		case *model.ApprovalConfig:
			if err := validateApprovalConfig(step.Id, cfg); err != nil {
				return err
			}
		case *model.FormConfig:
			if err := validateFormConfig(step.Id, cfg); err != nil {
				return err
			}
		case *model.ScriptConfig:
			if len(strings.TrimSpace(cfg.Expression)) == 0 {
				return fmt.Errorf("stepId=%s, script expression can not be empty", step.Id)
			}
		}
	}
	return nil
}

func validateApprovalConfig(stepId string, cfg *model.ApprovalConfig) error {
	if len(cfg.Approvers) == 0 {
		return fmt.Errorf("stepId=%s, approval step needs at least one approver", stepId)
	}
	if err := model.ValidateApprovalPolicy(string(cfg.Policy)); err != nil {
		return fmt.Errorf("stepId=%s, %w", stepId, err)
	}
	seen := make(map[string]bool)
	hasRequired := false
	for _, ap := range cfg.Approvers {
		if strings.TrimSpace(ap.Identifier) == "" {
			return fmt.Errorf("stepId=%s, approver identifier can not be empty", stepId)
		}
		if seen[ap.Identifier] {
			return fmt.Errorf("stepId=%s, approver %s is listed twice", stepId, ap.Identifier)
		}
		seen[ap.Identifier] = true
		switch ap.Type {
		case model.APPROVER_TYPE_USER, model.APPROVER_TYPE_ROLE, model.APPROVER_TYPE_GROUP:
		default:
			return fmt.Errorf("stepId=%s, invalid approver type %s", stepId, ap.Type)
		}
		if ap.Required {
			hasRequired = true
		}
	}
	if !hasRequired && (cfg.Policy == model.POLICY_ALL || cfg.Policy == model.POLICY_SEQUENTIAL) {
		return fmt.Errorf("stepId=%s, %s policy needs at least one required approver", stepId, cfg.Policy)
	}
	if cfg.Escalation != nil && strings.TrimSpace(cfg.Escalation.To) == "" {
		return fmt.Errorf("stepId=%s, escalation target can not be empty", stepId)
	}
	return nil
}

var supportedPropertyTypes = map[string]bool{
	"string":  true,
	"number":  true,
	"integer": true,
	"boolean": true,
	"array":   true,
}

func validateFormConfig(stepId string, cfg *model.FormConfig) error {
	if len(cfg.Schema.Properties) == 0 {
		return fmt.Errorf("stepId=%s, form schema has no properties", stepId)
	}
	for name, prop := range cfg.Schema.Properties {
		if !supportedPropertyTypes[prop.Type] {
			return fmt.Errorf("stepId=%s, property %s has unsupported type %s", stepId, name, prop.Type)
		}
		if prop.Type == "array" && (prop.Items == nil || len(prop.Items.Enum) == 0) {
			return fmt.Errorf("stepId=%s, array property %s needs items with an enum", stepId, name)
		}
	}
	for _, req := range cfg.Schema.Required {
		if _, ok := cfg.Schema.Properties[req]; !ok {
			return fmt.Errorf("stepId=%s, required field %s is not a schema property", stepId, req)
		}
	}
	for _, sec := range cfg.Sections {
		for _, field := range sec.Fields {
			if _, ok := cfg.Schema.Properties[field]; !ok {
				return fmt.Errorf("stepId=%s, section %s references unknown field %s", stepId, sec.Title, field)
			}
		}
	}
	return nil
}
