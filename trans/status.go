package trans

// Status is the lifecycle state of a step.
type Status int32

const (
	StatusIdle Status = iota
	StatusRunning
	StatusFinished
	StatusErrored
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusFinished:
		return "finished"
	case StatusErrored:
		return "errored"
	case StatusStopped:
		return "stopped"
	}
	return "unknown"
}

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusErrored || s == StatusStopped
}

// FailurePolicy decides how far a step failure propagates.
type FailurePolicy string

const (
	// FailGlobal stops every step of the graph when one step errors.
	FailGlobal FailurePolicy = "global"
	// FailIsolated stops only the steps connected to the failed one; unrelated
	// branches run to completion. The graph still reports failure.
	FailIsolated FailurePolicy = "isolated"
)

// ParseFailurePolicy accepts "global", "isolated", or empty for global.
func ParseFailurePolicy(s string) (FailurePolicy, bool) {
	switch FailurePolicy(s) {
	case "", FailGlobal:
		return FailGlobal, true
	case FailIsolated:
		return FailIsolated, true
	}
	return "", false
}
