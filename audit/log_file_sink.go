package audit

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type logFileSink struct {
	fileName string
	logger   *zap.Logger
}

func newLogFileSink(fileName string) (*logFileSink, error) {
	enccoderConfig := zap.NewProductionEncoderConfig()
	enccoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	enccoderConfig.StacktraceKey = ""
	fileEncoder := zapcore.NewJSONEncoder(enccoderConfig)
	logFile, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	writer := zapcore.AddSync(logFile)
	core := zapcore.NewTee(zapcore.NewCore(fileEncoder, writer, zapcore.InfoLevel))
	logger := zap.New(core)
	return &logFileSink{
		fileName: fileName,
		logger:   logger,
	}, nil
}

func (s *logFileSink) write(ev Event) {
	s.logger.Info(ev.Kind,
		zap.String("instanceId", ev.InstanceId),
		zap.String("stepId", ev.StepId),
		zap.String("actor", ev.Actor),
		zap.String("outcome", ev.Outcome),
		zap.Any("detail", ev.Detail))
}
