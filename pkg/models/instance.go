package models

// InstanceState is the lifecycle state of one emulator instance.
type InstanceState string

const (
	StateCreated         InstanceState = "created"
	StateStarting        InstanceState = "starting"
	StateEmulatorUp      InstanceState = "emulator_up"
	StateConsoleAttached InstanceState = "console_attached"
	StateLoggingIn       InstanceState = "logging_in"
	StateBootstrapping   InstanceState = "bootstrapping"
	StateReady           InstanceState = "ready"
	StateFailed          InstanceState = "failed"
	StateStopping        InstanceState = "stopping"
	StateStopped         InstanceState = "stopped"
)

var stateOrder = map[InstanceState]int{
	StateCreated:         0,
	StateStarting:        1,
	StateEmulatorUp:      2,
	StateConsoleAttached: 3,
	StateLoggingIn:       4,
	StateBootstrapping:   5,
	StateReady:           6,
	StateFailed:          7,
	StateStopping:        8,
	StateStopped:         9,
}

// CanTransition reports whether moving from s to next is allowed. States only
// move forward, except a failed instance may start again.
func (s InstanceState) CanTransition(next InstanceState) bool {
	if s == StateFailed && next == StateStarting {
		return true
	}

	from, ok := stateOrder[s]
	if !ok {
		return false
	}

	to, ok := stateOrder[next]
	if !ok {
		return false
	}

	return to > from
}

// Index returns the position of the state in the lifecycle, for metrics.
func (s InstanceState) Index() int {
	if i, ok := stateOrder[s]; ok {
		return i
	}

	return -1
}

// Role distinguishes the two halves of split-plane devices.
type Role string

const (
	RoleControl    Role = "control"
	RoleForwarding Role = "forwarding"
)
