package testutil

import (
	"fmt"
	"sync"
)

// RecordingLogger captures log messages per level so tests can assert on
// emitted warnings. Safe for concurrent use.
type RecordingLogger struct {
	mu       sync.Mutex
	Debugs   []string
	Infos    []string
	Warnings []string
	Errors   []string
}

func NewRecordingLogger() *RecordingLogger { return &RecordingLogger{} }

func (l *RecordingLogger) record(dst *[]string, msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	*dst = append(*dst, fmt.Sprint(append([]any{msg}, args...)...))
}

func (l *RecordingLogger) Debug(msg string, args ...any) { l.record(&l.Debugs, msg, args...) }
func (l *RecordingLogger) Info(msg string, args ...any)  { l.record(&l.Infos, msg, args...) }
func (l *RecordingLogger) Warn(msg string, args ...any)  { l.record(&l.Warnings, msg, args...) }
func (l *RecordingLogger) Error(msg string, args ...any) { l.record(&l.Errors, msg, args...) }
