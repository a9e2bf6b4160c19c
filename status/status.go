package status

type Status string

const (
	Pending   Status = "PENDING"
	Running   Status = "RUNNING"
	Cancelled Status = "CANCELLED"
	Completed Status = "COMPLETED"
	Failed    Status = "FAILED"
	Timeout   Status = "TIMEOUT"
)

// All lists the canonical statuses in lifecycle order.
var All = []Status{Pending, Running, Cancelled, Completed, Failed, Timeout}

// Terminal reports whether a block in this status will never run again.
func (s Status) Terminal() bool {
	switch s {
	case Cancelled, Completed, Failed, Timeout:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the canonical statuses.
func (s Status) Valid() bool {
	for _, status := range All {
		if s == status {
			return true
		}
	}
	return false
}

func (s Status) String() string {
	return string(s)
}
