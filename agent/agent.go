// Package agent wires storage, services and the http server into one
// runnable node.
package agent

import (
	"sync"
	"time"

	"github.com/ispkit/stepflow/audit"
	"github.com/ispkit/stepflow/config"
	"github.com/ispkit/stepflow/metadata"
	"github.com/ispkit/stepflow/persistence"
	"github.com/ispkit/stepflow/persistence/inmem"
	rds "github.com/ispkit/stepflow/persistence/redis"
	"github.com/ispkit/stepflow/rest"
	"github.com/ispkit/stepflow/service"
)

type Agent struct {
	Config           config.Config
	templateService  metadata.TemplateService
	executionService *service.ExecutionService
	escalationWorker *service.EscalationWorker
	httpServer       *rest.Server
	recorder         audit.Recorder
	stopRecorder     func()
	instanceStorage  persistence.InstanceStorage
	templateStorage  metadata.TemplateStorage
	shutdown         bool
	shutdownLock     sync.Mutex
	wg               sync.WaitGroup
}

func New(conf config.Config) (*Agent, error) {
	a := &Agent{
		Config: conf,
	}
	setup := []func() error{
		a.setupStorage,
		a.setupRecorder,
		a.setupServices,
		a.setupHttpServer,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Agent) setupStorage() error {
	switch a.Config.StorageType {
	case config.STORAGE_TYPE_REDIS:
		storage := rds.NewStorage(rds.Config{
			Addrs:     a.Config.RedisConfig.Addrs,
			Namespace: a.Config.RedisConfig.Namespace,
		})
		a.instanceStorage = storage
		a.templateStorage = storage
	default:
		storage := inmem.NewStorage()
		a.instanceStorage = storage
		a.templateStorage = storage
	}
	return nil
}

func (a *Agent) setupRecorder() error {
	recorder, stop, err := audit.NewRecorder(a.Config.AuditConfig, &a.wg)
	if err != nil {
		return err
	}
	a.recorder = recorder
	a.stopRecorder = stop
	return nil
}

func (a *Agent) setupServices() error {
	a.templateService = metadata.NewTemplateService(a.templateStorage)
	a.executionService = service.NewExecutionService(a.instanceStorage, a.templateService, a.recorder)
	sweepSeconds := a.Config.EscalationSweepSeconds
	if sweepSeconds <= 0 {
		sweepSeconds = 60
	}
	a.escalationWorker = service.NewEscalationWorker(a.executionService, time.Duration(sweepSeconds)*time.Second, &a.wg)
	return nil
}

func (a *Agent) setupHttpServer() error {
	var err error
	a.httpServer, err = rest.NewServer(a.Config.HttpPort, a.templateService, a.executionService)
	if err != nil {
		return err
	}
	return nil
}

func (a *Agent) Start() error {
	a.escalationWorker.Start()
	go func() {
		err := a.httpServer.Start()
		if err != nil {
			_ = a.Shutdown()
		}
	}()
	return nil
}

func (a *Agent) Shutdown() error {
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true
	a.escalationWorker.Stop()
	if a.stopRecorder != nil {
		a.stopRecorder()
	}
	if err := a.httpServer.Stop(); err != nil {
		return err
	}
	a.wg.Wait()
	return nil
}
