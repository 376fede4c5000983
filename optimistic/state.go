package optimistic

// Kind names a mutation flavor. It is passed to the invalidator on commit
// so downstream logging can tell what caused a refresh.
type Kind string

const (
	KindCreate      Kind = "create"
	KindUpdate      Kind = "update"
	KindDelete      Kind = "delete"
	KindBatchDelete Kind = "batch_delete"
)

// State is one step of a mutation's lifecycle. Every Do call walks
// Idle → Cancelling → OptimisticApplied → InFlight and ends in exactly one
// of Committed or RolledBack; OptimisticApplied is skipped when the
// mutation has no optimistic transform.
type State int

const (
	StateIdle State = iota
	StateCancelling
	StateOptimisticApplied
	StateInFlight
	StateCommitted
	StateRolledBack
)

// String returns the state name for logs and test output.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCancelling:
		return "cancelling"
	case StateOptimisticApplied:
		return "optimistic_applied"
	case StateInFlight:
		return "in_flight"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}
