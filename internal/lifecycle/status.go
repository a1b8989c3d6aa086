package lifecycle

// Status is the lifecycle state of a managed service.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusSleeping Status = "sleeping"
	StatusWaking   Status = "waking"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// legalEdges lists every permitted transition. Anything not listed returns
// IllegalTransitionError; the error state is additionally reachable from
// anywhere on an unrecoverable runtime failure.
var legalEdges = map[Status][]Status{
	StatusStopped:  {StatusStarting},
	StatusStarting: {StatusRunning, StatusError},
	StatusRunning:  {StatusSleeping, StatusStopping},
	StatusSleeping: {StatusWaking},
	StatusWaking:   {StatusRunning, StatusError},
	StatusStopping: {StatusStopped},
	StatusError:    {StatusStopped},
}

// canTransition reports whether from -> to is a legal edge.
func canTransition(from, to Status) bool {
	if to == StatusError {
		return true
	}
	for _, next := range legalEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}
