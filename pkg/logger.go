package pkg

import "go.uber.org/zap"

// Logger is the subset of *zap.Logger the ledger services depend on.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	Sync() error
}

func NewZapLogger(l *zap.Logger) Logger {
	return l
}

func NewNopLogger() Logger {
	return zap.NewNop()
}
