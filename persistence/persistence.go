// Package persistence defines the instance backend of record. Implementations
// own conflict resolution between concurrent writers; callers get last write
// wins and nothing stronger.
package persistence

import (
	"fmt"

	"github.com/ispkit/stepflow/model"
)

type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) Error() string {
	return fmt.Sprintf("storage layer error: %s", e.Message)
}

type InstanceNotFoundError struct {
	Id string
}

func (e InstanceNotFoundError) Error() string {
	return fmt.Sprintf("workflow instance %s not found", e.Id)
}

type InstanceStorage interface {
	SaveInstance(instance *model.WorkflowInstance) error
	GetInstance(id string) (*model.WorkflowInstance, error)
	DeleteInstance(id string) error
	ListInstances() ([]*model.WorkflowInstance, error)
}
