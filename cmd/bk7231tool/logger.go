package main

import (
	"fmt"

	"github.com/golang/glog"
	"github.com/pion/logging"
)

// glogFactory routes library logs into glog. Trace output needs -v=2 and
// debug output -v=1.
type glogFactory struct{}

func (glogFactory) NewLogger(scope string) logging.LeveledLogger {
	return &glogLogger{prefix: "[" + scope + "] "}
}

type glogLogger struct {
	prefix string
}

func (l *glogLogger) Trace(msg string) {
	if glog.V(2) {
		glog.InfoDepth(1, l.prefix+msg)
	}
}

func (l *glogLogger) Tracef(format string, args ...interface{}) {
	if glog.V(2) {
		glog.InfoDepth(1, l.prefix+fmt.Sprintf(format, args...))
	}
}

func (l *glogLogger) Debug(msg string) {
	if glog.V(1) {
		glog.InfoDepth(1, l.prefix+msg)
	}
}

func (l *glogLogger) Debugf(format string, args ...interface{}) {
	if glog.V(1) {
		glog.InfoDepth(1, l.prefix+fmt.Sprintf(format, args...))
	}
}

func (l *glogLogger) Info(msg string) {
	glog.InfoDepth(1, l.prefix+msg)
}

func (l *glogLogger) Infof(format string, args ...interface{}) {
	glog.InfoDepth(1, l.prefix+fmt.Sprintf(format, args...))
}

func (l *glogLogger) Warn(msg string) {
	glog.WarningDepth(1, l.prefix+msg)
}

func (l *glogLogger) Warnf(format string, args ...interface{}) {
	glog.WarningDepth(1, l.prefix+fmt.Sprintf(format, args...))
}

func (l *glogLogger) Error(msg string) {
	glog.ErrorDepth(1, l.prefix+msg)
}

func (l *glogLogger) Errorf(format string, args ...interface{}) {
	glog.ErrorDepth(1, l.prefix+fmt.Sprintf(format, args...))
}
