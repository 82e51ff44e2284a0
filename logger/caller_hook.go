package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// loggingPackages are skipped when resolving the reported caller.
var loggingPackages = []string{
	"sirupsen/logrus",
	"cryptodash/logger",
}

// callerHook points the reported caller at the first frame outside of
// logrus and this package.
type callerHook struct{}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	pcs := make([]uintptr, 16)
	// runtime.Callers, Fire and the logrus hook dispatch
	n := runtime.Callers(6, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !isLoggingFrame(frame.Function) {
			entry.Caller = &frame
			return nil
		}
		if !more {
			return nil
		}
	}
}

func isLoggingFrame(fn string) bool {
	for _, pkg := range loggingPackages {
		if strings.Contains(fn, pkg) {
			return true
		}
	}
	return false
}
