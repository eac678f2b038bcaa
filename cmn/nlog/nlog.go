// Package nlog is the orchestrator's leveled logger: a thin wrapper over the
// standard logger, kept hand-rolled the way aistore's own cmn/nlog is --
// timestamped lines, a package-wide verbosity knob, no external dependency.
package nlog

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

var std = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lmicroseconds)

// verbosity is the level V reports against. Set via SetVerbosity at startup
// from cmn/config. Infoln/Infof do not consult it and always log.
var verbosity int32

func SetVerbosity(v int) { atomic.StoreInt32(&verbosity, int32(v)) }

func V(level int) bool { return int(atomic.LoadInt32(&verbosity)) >= level }

func Infoln(v ...any) {
	std.Output(2, "I "+sprintln(v...))
}

func Infof(format string, v ...any) {
	std.Output(2, "I "+sprintfln(format, v...))
}

func Warningln(v ...any) {
	std.Output(2, "W "+sprintln(v...))
}

func Warningf(format string, v ...any) {
	std.Output(2, "W "+sprintfln(format, v...))
}

func Errorln(v ...any) {
	std.Output(2, "E "+sprintln(v...))
}

func Errorf(format string, v ...any) {
	std.Output(2, "E "+sprintfln(format, v...))
}

func sprintln(v ...any) string {
	return strings.TrimSuffix(fmt.Sprintln(v...), "\n")
}

func sprintfln(format string, v ...any) string {
	return fmt.Sprintf(format, v...)
}
