package mstbake

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

var (
	logOnce sync.Once
	logger  atomic.Pointer[log.Logger]
)

func defaultLogger() *log.Logger {
	l := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Prefix:          "mstbake",
	})
	l.SetLevel(log.InfoLevel)
	return l
}

// Logger 包级日志，首次调用时创建
func Logger() *log.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	logOnce.Do(func() {
		logger.CompareAndSwap(nil, defaultLogger())
	})
	return logger.Load()
}

// SetLogger 替换包级日志，传 nil 恢复默认
func SetLogger(l *log.Logger) {
	if l == nil {
		l = defaultLogger()
	}
	logger.Store(l)
}

// SetLogLevel 按名称设置日志级别：debug, info, warn, error
func SetLogLevel(level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	Logger().SetLevel(lvl)
	return nil
}
