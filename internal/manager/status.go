package manager

import "time"

// RequestState is the position of one access request in its flow.
type RequestState int

const (
	Idle RequestState = iota
	AwaitingCertificate
	Registered
	GeneratingKeys
)

func (s RequestState) String() string {
	switch s {
	case AwaitingCertificate:
		return "awaiting-certificate"
	case Registered:
		return "registered"
	case GeneratingKeys:
		return "generating-keys"
	default:
		return "idle"
	}
}

func (s RequestState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Request is the tracked state of one access request.
type Request struct {
	ID          uint64       `json:"id"`
	Name        string       `json:"name"`
	Certificate string       `json:"certificate"`
	State       RequestState `json:"state"`
	Member      string       `json:"member,omitempty"`
	Replied     bool         `json:"replied"`
	Task        uint64       `json:"task,omitempty"`
	Error       string       `json:"error,omitempty"`
	Received    time.Time    `json:"received"`
}

type TaskState int

const (
	TaskQueued TaskState = iota
	TaskRunning
	TaskDone
	TaskCancelled
)

func (s TaskState) String() string {
	switch s {
	case TaskRunning:
		return "running"
	case TaskDone:
		return "done"
	case TaskCancelled:
		return "cancelled"
	default:
		return "queued"
	}
}

func (s TaskState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// TaskStatus reports the progress of one key-generation task.
type TaskStatus struct {
	ID      uint64    `json:"id"`
	Request uint64    `json:"request,omitempty"`
	Reason  string    `json:"reason"`
	Start   time.Time `json:"start"`
	Step    int       `json:"step"`
	Steps   int       `json:"steps"`
	Pushes  int       `json:"pushes"`
	Errors  int       `json:"errors"`
	State   TaskState `json:"state"`
}
