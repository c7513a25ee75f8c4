// Package inmem keeps instances and templates in process memory. Used by
// tests and single-node deployments that can afford to lose state on restart.
package inmem

import (
	"sync"

	"github.com/ispkit/stepflow/metadata"
	"github.com/ispkit/stepflow/model"
	"github.com/ispkit/stepflow/persistence"
	"github.com/ispkit/stepflow/util"
)

var _ persistence.InstanceStorage = new(Storage)
var _ metadata.TemplateStorage = new(Storage)

// Storage stores encoded snapshots rather than live pointers so that readers
// and writers never share instance memory, mirroring how the redis
// implementation behaves.
type Storage struct {
	mu             sync.RWMutex
	instances      map[string][]byte
	templates      map[string][]byte
	instanceOrder  []string
	instanceEncDec util.EncoderDecoder[model.WorkflowInstance]
	templateEncDec util.EncoderDecoder[model.WorkflowTemplate]
}

func NewStorage() *Storage {
	return &Storage{
		instances:      make(map[string][]byte),
		templates:      make(map[string][]byte),
		instanceEncDec: util.NewJsonEncoderDecoder[model.WorkflowInstance](),
		templateEncDec: util.NewJsonEncoderDecoder[model.WorkflowTemplate](),
	}
}

func (s *Storage) SaveInstance(instance *model.WorkflowInstance) error {
	data, err := s.instanceEncDec.Encode(*instance)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[instance.Id]; !ok {
		s.instanceOrder = append(s.instanceOrder, instance.Id)
	}
	s.instances[instance.Id] = data
	return nil
}

func (s *Storage) GetInstance(id string) (*model.WorkflowInstance, error) {
	s.mu.RLock()
	data, ok := s.instances[id]
	s.mu.RUnlock()
	if !ok {
		return nil, persistence.InstanceNotFoundError{Id: id}
	}
	instance, err := s.instanceEncDec.Decode(data)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return instance, nil
}

func (s *Storage) DeleteInstance(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[id]; !ok {
		return persistence.InstanceNotFoundError{Id: id}
	}
	delete(s.instances, id)
	for i, existing := range s.instanceOrder {
		if existing == id {
			s.instanceOrder = append(s.instanceOrder[:i], s.instanceOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Storage) ListInstances() ([]*model.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.WorkflowInstance, 0, len(s.instances))
	for _, id := range s.instanceOrder {
		data, ok := s.instances[id]
		if !ok {
			continue
		}
		instance, err := s.instanceEncDec.Decode(data)
		if err != nil {
			return nil, persistence.StorageLayerError{Message: err.Error()}
		}
		out = append(out, instance)
	}
	return out, nil
}

func (s *Storage) SaveTemplate(tpl model.WorkflowTemplate) error {
	data, err := s.templateEncDec.Encode(tpl)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[tpl.Id] = data
	return nil
}

func (s *Storage) GetTemplate(id string) (*model.WorkflowTemplate, error) {
	s.mu.RLock()
	data, ok := s.templates[id]
	s.mu.RUnlock()
	if !ok {
		return nil, metadata.TemplateNotFoundError{Id: id}
	}
	tpl, err := s.templateEncDec.Decode(data)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return tpl, nil
}

func (s *Storage) DeleteTemplate(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[id]; !ok {
		return metadata.TemplateNotFoundError{Id: id}
	}
	delete(s.templates, id)
	return nil
}

func (s *Storage) ListTemplates() ([]*model.WorkflowTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.WorkflowTemplate, 0, len(s.templates))
	for _, data := range s.templates {
		tpl, err := s.templateEncDec.Decode(data)
		if err != nil {
			return nil, persistence.StorageLayerError{Message: err.Error()}
		}
		out = append(out, tpl)
	}
	return out, nil
}
