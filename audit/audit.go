// Package audit records every step resolution and approval decision to a
// trail outside the instance store. Recording is asynchronous so a slow sink
// never blocks a request handler.
package audit

import (
	"sync"

	"github.com/ispkit/stepflow/util"
)

type RecorderConfig struct {
	FileName     string
	RecorderType RecorderType
	Capacity     int
}

type RecorderType string

const LOG_FILE_RECORDER RecorderType = "LOG_FILE_RECORDER"
const NOOP_RECORDER RecorderType = "NOOP_RECORDER"

type Event struct {
	InstanceId string         `json:"instanceId"`
	StepId     string         `json:"stepId,omitempty"`
	Kind       string         `json:"kind"`
	Actor      string         `json:"actor,omitempty"`
	Outcome    string         `json:"outcome,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
}

type Recorder interface {
	Record(ev Event)
}

type sink interface {
	write(ev Event)
}

type asyncRecorder struct {
	worker *util.Worker
}

// NewRecorder builds the configured recorder. The log-file recorder hands
// events to a single worker goroutine that appends them to the audit file.
func NewRecorder(config RecorderConfig, wg *sync.WaitGroup) (Recorder, func(), error) {
	if config.RecorderType != LOG_FILE_RECORDER {
		return noopRecorder{}, func() {}, nil
	}
	fileSink, err := newLogFileSink(config.FileName)
	if err != nil {
		return nil, nil, err
	}
	capacity := config.Capacity
	if capacity == 0 {
		capacity = 256
	}
	worker := util.NewWorker("audit", wg, func(task util.Task) error {
		fileSink.write(task.(Event))
		return nil
	}, capacity)
	worker.Start()
	r := &asyncRecorder{worker: worker}
	return r, worker.Stop, nil
}

func (r *asyncRecorder) Record(ev Event) {
	select {
	case r.worker.Sender() <- ev:
	default:
		// full buffer drops the event rather than stalling the caller
	}
}

type noopRecorder struct{}

func (noopRecorder) Record(ev Event) {}
