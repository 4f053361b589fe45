package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Run log file names inside the log directory.
const (
	SuccessLogFile = "success.log"
	FailLogFile    = "fail.log"
)

// RunLogs are the two append-only per-run audit logs: success.log receives
// info and above, fail.log receives errors only.
type RunLogs struct {
	Success *zap.Logger
	Fail    *zap.Logger
	files   []*os.File
}

// NewRunLogs opens (creating if needed) the run logs under dir.
func NewRunLogs(dir string) (*RunLogs, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	success, successFile, err := openRunLog(filepath.Join(dir, SuccessLogFile), zapcore.InfoLevel)
	if err != nil {
		return nil, err
	}
	fail, failFile, err := openRunLog(filepath.Join(dir, FailLogFile), zapcore.ErrorLevel)
	if err != nil {
		_ = successFile.Close()
		return nil, err
	}
	return &RunLogs{Success: success, Fail: fail, files: []*os.File{successFile, failFile}}, nil
}

// NopRunLogs discards everything.
func NopRunLogs() *RunLogs {
	return &RunLogs{Success: zap.NewNop(), Fail: zap.NewNop()}
}

func openRunLog(path string, level zapcore.Level) (*zap.Logger, *os.File, error) {
	// #nosec G302 -- audit logs are meant to be readable by operators.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open run log %s: %w", path, err)
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(f), level)
	return zap.New(core), f, nil
}

// Close flushes and closes both files.
func (l *RunLogs) Close() error {
	if l == nil {
		return nil
	}
	var errs []error
	for _, logger := range []*zap.Logger{l.Success, l.Fail} {
		if logger != nil {
			_ = logger.Sync()
		}
	}
	for _, f := range l.files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	l.files = nil
	return errors.Join(errs...)
}
