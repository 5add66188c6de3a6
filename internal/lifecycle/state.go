package lifecycle

// State is the controller's position in the instance lifecycle.
type State int

const (
	StateAbsent State = iota
	StateCreating
	StateTagged
	StateProviderRunning
	StateNetworkReady
	StateAwaitingGuestReady
	StateStarted
	StateNetworkTornDown
	StateTerminating
	StateTerminated
)

var stateNames = [...]string{
	StateAbsent:             "absent",
	StateCreating:           "creating",
	StateTagged:             "tagged",
	StateProviderRunning:    "provider_running",
	StateNetworkReady:       "network_ready",
	StateAwaitingGuestReady: "awaiting_guest_ready",
	StateStarted:            "started",
	StateNetworkTornDown:    "network_torn_down",
	StateTerminating:        "terminating",
	StateTerminated:         "terminated",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
