// Package lifecycle describes the states a plugin record moves through.
package lifecycle

// State is the position of a plugin record in the load pipeline. Records
// only move forward; a failing record leaves the catalog instead of
// entering a failed state.
type State int

const (
	Discovered State = iota
	Validated
	Registered
	Loaded
	Running
)

var stateNames = [...]string{
	Discovered: "discovered",
	Validated:  "validated",
	Registered: "registered",
	Loaded:     "loaded",
	Running:    "running",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Next returns the state that follows s, or s itself for Running.
func (s State) Next() State {
	if s >= Running {
		return Running
	}
	return s + 1
}
