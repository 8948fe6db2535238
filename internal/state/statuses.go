package state

type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "running"
	StatusSucceeded ExecutionStatus = "succeeded"
	StatusFailed    ExecutionStatus = "failed"
	StatusRetrying  ExecutionStatus = "retrying"
)

func (s ExecutionStatus) String() string {
	return string(s)
}

// Terminal reports whether no further transition may leave this status.
// A retrying execution is closed for its own record; the retry opens a
// fresh execution with an incremented attempt.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusRetrying
}

var AllStatuses = []ExecutionStatus{
	StatusRunning,
	StatusSucceeded,
	StatusFailed,
	StatusRetrying,
}

type Transition struct {
	From ExecutionStatus
	To   ExecutionStatus
}

var ValidTransitions = []Transition{
	{From: StatusRunning, To: StatusSucceeded},
	{From: StatusRunning, To: StatusFailed},
	{From: StatusRunning, To: StatusRetrying},
}

func IsValidTransition(from, to ExecutionStatus) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}
