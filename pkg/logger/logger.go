package logger

import (
	"os"
	"sync/atomic"
)

// LoggerInstance defines the interface for logging backends.
type LoggerInstance interface {
	Log(message string, keyvals ...any)
	Debug(message string, keyvals ...any)
	Info(message string, keyvals ...any)
	Warn(message string, keyvals ...any)
	Error(message string, keyvals ...any)
	Fatal(message string, keyvals ...any)
}

// Logger holds multiple logging backends and dispatches log calls to all of them.
type Logger struct {
	instances []LoggerInstance
}

// singleton is read by every goroutine that logs.
var singleton atomic.Pointer[Logger]

// exit is replaced in tests.
var exit = os.Exit

// Init installs the backends every package-level function writes to,
// replacing earlier ones. Until Init is called logging is a no-op.
func Init(instances ...LoggerInstance) {
	singleton.Store(&Logger{instances: instances})
}

func each(fn func(LoggerInstance)) {
	l := singleton.Load()
	if l == nil {
		return
	}
	for _, instance := range l.instances {
		fn(instance)
	}
}

// Log writes a message without a level.
func Log(message string, keyvals ...any) {
	each(func(i LoggerInstance) { i.Log(message, keyvals...) })
}

// Debug writes a message at DEBUG level.
func Debug(message string, keyvals ...any) {
	each(func(i LoggerInstance) { i.Debug(message, keyvals...) })
}

// Info writes a message at INFO level.
func Info(message string, keyvals ...any) {
	each(func(i LoggerInstance) { i.Info(message, keyvals...) })
}

// Warn writes a message at WARN level.
func Warn(message string, keyvals ...any) {
	each(func(i LoggerInstance) { i.Warn(message, keyvals...) })
}

// Error writes a message at ERROR level.
func Error(message string, keyvals ...any) {
	each(func(i LoggerInstance) { i.Error(message, keyvals...) })
}

// Fatal writes a message and exits with status 1, also before Init.
//
// A backend's Fatal exits the process itself, so only the last backend gets
// Fatal and the others receive the message at ERROR level first.
func Fatal(message string, keyvals ...any) {
	l := singleton.Load()
	if l == nil || len(l.instances) == 0 {
		exit(1)
		return
	}
	last := len(l.instances) - 1
	for _, instance := range l.instances[:last] {
		instance.Error(message, keyvals...)
	}
	l.instances[last].Fatal(message, keyvals...)
	// Backends that do not exit on Fatal.
	exit(1)
}
