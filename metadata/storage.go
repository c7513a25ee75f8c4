package metadata

import (
	"fmt"

	"github.com/ispkit/stepflow/model"
)

type TemplateNotFoundError struct {
	Id string
}

func (e TemplateNotFoundError) Error() string {
	return fmt.Sprintf("workflow template %s not found", e.Id)
}

type TemplateStorage interface {
	SaveTemplate(tpl model.WorkflowTemplate) error
	DeleteTemplate(id string) error
	GetTemplate(id string) (*model.WorkflowTemplate, error)
	ListTemplates() ([]*model.WorkflowTemplate, error)
}
