// Package redis backs instance and template storage with redis hashes, one
// hash per record kind keyed under the configured namespace.
package redis

import (
	"context"
	"errors"

	rd "github.com/go-redis/redis/v9"

	"github.com/ispkit/stepflow/metadata"
	"github.com/ispkit/stepflow/model"
	"github.com/ispkit/stepflow/persistence"
	"github.com/ispkit/stepflow/util"
)

const INSTANCE_KEY string = "INSTANCE"
const TEMPLATE_KEY string = "TEMPLATE"

var _ persistence.InstanceStorage = new(Storage)
var _ metadata.TemplateStorage = new(Storage)

type Storage struct {
	*baseDao
	instanceEncDec util.EncoderDecoder[model.WorkflowInstance]
	templateEncDec util.EncoderDecoder[model.WorkflowTemplate]
}

func NewStorage(conf Config) *Storage {
	return &Storage{
		baseDao:        newBaseDao(conf),
		instanceEncDec: util.NewJsonEncoderDecoder[model.WorkflowInstance](),
		templateEncDec: util.NewJsonEncoderDecoder[model.WorkflowTemplate](),
	}
}

func (s *Storage) SaveInstance(instance *model.WorkflowInstance) error {
	key := s.getNamespaceKey(INSTANCE_KEY)
	ctx := context.Background()
	data, err := s.instanceEncDec.Encode(*instance)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if err := s.redisClient.HSet(ctx, key, []string{instance.Id, string(data)}).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *Storage) GetInstance(id string) (*model.WorkflowInstance, error) {
	key := s.getNamespaceKey(INSTANCE_KEY)
	ctx := context.Background()
	str, err := s.redisClient.HGet(ctx, key, id).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, persistence.InstanceNotFoundError{Id: id}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	instance, err := s.instanceEncDec.Decode([]byte(str))
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return instance, nil
}

func (s *Storage) DeleteInstance(id string) error {
	key := s.getNamespaceKey(INSTANCE_KEY)
	ctx := context.Background()
	if err := s.redisClient.HDel(ctx, key, id).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *Storage) ListInstances() ([]*model.WorkflowInstance, error) {
	key := s.getNamespaceKey(INSTANCE_KEY)
	ctx := context.Background()
	values, err := s.redisClient.HVals(ctx, key).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	out := make([]*model.WorkflowInstance, 0, len(values))
	for _, v := range values {
		instance, err := s.instanceEncDec.Decode([]byte(v))
		if err != nil {
			return nil, persistence.StorageLayerError{Message: err.Error()}
		}
		out = append(out, instance)
	}
	return out, nil
}

func (s *Storage) SaveTemplate(tpl model.WorkflowTemplate) error {
	key := s.getNamespaceKey(TEMPLATE_KEY)
	ctx := context.Background()
	data, err := s.templateEncDec.Encode(tpl)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if err := s.redisClient.HSet(ctx, key, []string{tpl.Id, string(data)}).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *Storage) GetTemplate(id string) (*model.WorkflowTemplate, error) {
	key := s.getNamespaceKey(TEMPLATE_KEY)
	ctx := context.Background()
	str, err := s.redisClient.HGet(ctx, key, id).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, metadata.TemplateNotFoundError{Id: id}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	tpl, err := s.templateEncDec.Decode([]byte(str))
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return tpl, nil
}

func (s *Storage) DeleteTemplate(id string) error {
	key := s.getNamespaceKey(TEMPLATE_KEY)
	ctx := context.Background()
	if err := s.redisClient.HDel(ctx, key, id).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *Storage) ListTemplates() ([]*model.WorkflowTemplate, error) {
	key := s.getNamespaceKey(TEMPLATE_KEY)
	ctx := context.Background()
	values, err := s.redisClient.HVals(ctx, key).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	out := make([]*model.WorkflowTemplate, 0, len(values))
	for _, v := range values {
		tpl, err := s.templateEncDec.Decode([]byte(v))
		if err != nil {
			return nil, persistence.StorageLayerError{Message: err.Error()}
		}
		out = append(out, tpl)
	}
	return out, nil
}
