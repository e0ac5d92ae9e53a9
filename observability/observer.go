// Package observability defines the metric events emitted by a generation
// run. Implementations must be safe for concurrent use: schema pipelines
// report from their own goroutines.
package observability

import "time"

type ModuleResult string

const (
	ModuleResultOK       ModuleResult = "ok"
	ModuleResultFail     ModuleResult = "fail"
	ModuleResultCanceled ModuleResult = "canceled"
)

type FileResult string

const (
	FileResultWritten   FileResult = "written"
	FileResultUnchanged FileResult = "unchanged"
	FileResultDrift     FileResult = "drift"
	FileResultMissing   FileResult = "missing"
)

type RunResult string

const (
	RunResultOK   RunResult = "ok"
	RunResultFail RunResult = "fail"
)

// GenObserver receives generator metric events.
type GenObserver interface {
	// Module reports the outcome of one schema pipeline. stage is empty on success.
	Module(module string, result ModuleResult, stage string, d time.Duration)
	Variants(module string, n int)
	Methods(module string, n int)
	MappingGaps(module string, n int)
	File(result FileResult)
	Conflicts(n int)
	Run(result RunResult, d time.Duration)
}

type noopGenObserver struct{}

func (noopGenObserver) Module(string, ModuleResult, string, time.Duration) {}
func (noopGenObserver) Variants(string, int)                               {}
func (noopGenObserver) Methods(string, int)                                {}
func (noopGenObserver) MappingGaps(string, int)                            {}
func (noopGenObserver) File(FileResult)                                    {}
func (noopGenObserver) Conflicts(int)                                      {}
func (noopGenObserver) Run(RunResult, time.Duration)                       {}

// NoopGenObserver is a zero-cost observer used when metrics are disabled.
var NoopGenObserver GenObserver = noopGenObserver{}

// OrNoop returns obs, or NoopGenObserver when obs is nil.
func OrNoop(obs GenObserver) GenObserver {
	if obs == nil {
		return NoopGenObserver
	}
	return obs
}
