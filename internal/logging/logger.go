package logging

import (
	"github.com/go-logr/logr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	crzap "sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// New returns a logr.Logger whose level tracks the --verbose count:
// 0 emits warnings and errors only, 1 adds info, 2 and above add debug.
func New(verbosity int) logr.Logger {
	opts := crzap.Options{}
	var zapLevel zapcore.Level
	switch {
	case verbosity <= 0:
		zapLevel = zapcore.WarnLevel
	case verbosity == 1:
		zapLevel = zapcore.InfoLevel
	default:
		opts.Development = true
		zapLevel = zapcore.DebugLevel
	}
	atomic := zap.NewAtomicLevelAt(zapLevel)
	opts.Level = &atomic
	return crzap.New(crzap.UseFlagOptions(&opts))
}
