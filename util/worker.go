package util

import (
	"sync"

	"github.com/ispkit/stepflow/logger"
	"go.uber.org/zap"
)

type Task any

// Worker drains a buffered channel of tasks on a single goroutine. Used for
// work that must not block a request handler, like audit recording.
type Worker struct {
	name     string
	stop     chan struct{}
	wg       *sync.WaitGroup
	handler  func(Task) error
	taskChan chan Task
}

func (w *Worker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		for {
			select {
			case task := <-w.taskChan:
				err := w.handler(task)
				if err != nil {
					logger.Error("error handling task in worker", zap.String("worker", w.name), zap.Any("task", task), zap.Error(err))
				}
			case <-w.stop:
				logger.Info("stopping worker", zap.String("worker", w.name))
				return
			}
		}
	}()
}

func (w *Worker) Sender() chan<- Task {
	return w.taskChan
}

func (w *Worker) Stop() {
	w.stop <- struct{}{}
}

func NewWorker(name string, wg *sync.WaitGroup, handler func(Task) error, capacity int) *Worker {
	ch := make(chan Task, capacity)
	stop := make(chan struct{})
	return &Worker{
		taskChan: ch,
		name:     name,
		wg:       wg,
		stop:     stop,
		handler:  handler,
	}
}
