// Package debug routes the internal trace output of the scheduler and
// reactive packages to a logging function.
package debug

import (
	"fmt"

	"github.com/recera/flipview/pkg/reactive"
	"github.com/recera/flipview/pkg/scheduler"
)

// EnableLogging sends scheduler and reactive traces to logFn
func EnableLogging(logFn func(args ...interface{})) {
	scheduler.SetDebugLog(logFn)
	reactive.SetDebugLog(logFn)
}

// DisableLogging turns the traces off again
func DisableLogging() {
	scheduler.SetDebugLog(nil)
	reactive.SetDebugLog(nil)
}

// Line joins trace arguments the way fmt.Sprintln does, without the newline
func Line(args ...interface{}) string {
	s := fmt.Sprintln(args...)
	return s[:len(s)-1]
}
