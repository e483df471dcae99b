// Package builtin registers every adapter class shipped with Buddy. The main
// package calls Register once; configuration then instantiates adapters by
// class name.
package builtin

import (
	"github.com/buddy-assistant/buddy/internal/adapter"
	"github.com/buddy-assistant/buddy/internal/adapter/input/envsensor"
	"github.com/buddy-assistant/buddy/internal/adapter/input/pipein"
	"github.com/buddy-assistant/buddy/internal/adapter/input/radar"
	"github.com/buddy-assistant/buddy/internal/adapter/input/scheduler"
	"github.com/buddy-assistant/buddy/internal/adapter/input/speechin"
	"github.com/buddy-assistant/buddy/internal/adapter/input/wakeword"
	"github.com/buddy-assistant/buddy/internal/adapter/output/archivist"
	"github.com/buddy-assistant/buddy/internal/adapter/output/bulb"
	"github.com/buddy-assistant/buddy/internal/adapter/output/led"
	"github.com/buddy-assistant/buddy/internal/adapter/output/persist"
	"github.com/buddy-assistant/buddy/internal/adapter/output/pipeout"
	"github.com/buddy-assistant/buddy/internal/adapter/output/speech"
)

// Register wires all builtin adapter classes into reg.
func Register(reg *adapter.Registry) {
	reg.RegisterInput("wakeword", wakeword.New)
	reg.RegisterInput("speechin", speechin.New)
	reg.RegisterInput("radar", radar.New)
	reg.RegisterInput("envsensor", envsensor.New)
	reg.RegisterInput("scheduler", scheduler.New)
	reg.RegisterInput("pipein", pipein.New)

	reg.RegisterOutput("speech", speech.New)
	reg.RegisterOutput("led", led.New)
	reg.RegisterOutput("persist", persist.New)
	reg.RegisterOutput("archivist", archivist.New)
	reg.RegisterOutput("bulb", bulb.New)
	reg.RegisterOutput("pipeout", pipeout.New)
}
