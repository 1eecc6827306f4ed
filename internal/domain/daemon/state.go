package daemon

type State int32

const (
	StateStarting State = iota
	StatePolling
	StateWaiting
	StateProcessing
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "STARTING"
	case StatePolling:
		return "POLLING"
	case StateWaiting:
		return "WAITING"
	case StateProcessing:
		return "PROCESSING"
	case StateShuttingDown:
		return "SHUTTING_DOWN"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// WakeReason tells why a listener wait returned
type WakeReason string

const (
	WakeSignal   WakeReason = "signal"
	WakePeriodic WakeReason = "periodic"
	WakeDue      WakeReason = "due"
)

// Outcome of processing a single item
type Outcome string

const (
	OutcomeProcessed   Outcome = "processed"
	OutcomeGameMissing Outcome = "game_missing"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeDiscarded   Outcome = "discarded"
	OutcomeFailed      Outcome = "failed"
)
